package silo

import (
	"fmt"
	"sort"
	"time"

	"github.com/silo-vc/silo/internal/config"
	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/merkle"
	"github.com/silo-vc/silo/pkg/types"
)

// MergeResult reports the outcome of Merge: either a new merge commit, a
// fast-forward to an existing commit, or a set of conflicting paths the
// caller must resolve before retrying. Merging is path-level: file
// content is never textually merged.
type MergeResult struct {
	Commit      *types.Commit
	FastForward bool
	Conflicts   []string
}

// ErrMergeConflict is returned, alongside the conflicting paths in
// MergeResult.Conflicts, when the same path was changed differently on
// both sides of a merge.
var ErrMergeConflict = fmt.Errorf("silo: merge has conflicting paths")

// Merge merges other into the current branch. If the current HEAD is an
// ancestor of other's commit, it fast-forwards (advances the branch
// pointer without a merge commit). Otherwise it computes path-level
// changes on each side since their merge base and, finding no path
// changed differently by the two sides, builds a merge commit whose tree applies both sides'
// changes on top of the base. A path edited differently on both sides is
// reported as a conflict and no commit is written.
func (r *Repository) Merge(other string, identity config.Identity) (*MergeResult, error) {
	if identity.Name == "" || identity.Email == "" {
		identity = config.Identity{Name: r.Config.Identity.Name, Email: r.Config.Identity.Email}
	}
	head, err := r.Head.GetHead()
	if err != nil {
		return nil, err
	}
	if head.Branch == "" {
		return nil, errs.At(errs.Invalid, other, fmt.Errorf("silo: cannot merge with a detached HEAD"))
	}
	if locked, holder, err := r.Refs.IsLocked(head.Branch); err != nil {
		return nil, err
	} else if locked {
		return nil, errs.At(errs.Conflict, head.Branch, fmt.Errorf("silo: branch locked by %s", holder))
	}

	ours := head.CommitID
	theirs, err := r.resolveCommit(other)
	if err != nil {
		return nil, err
	}
	if theirs.IsZero() {
		return nil, errs.At(errs.NotFound, other, fmt.Errorf("silo: nothing to merge"))
	}
	if ours.IsZero() {
		if err := r.advanceBranch(head.Branch, theirs); err != nil {
			return nil, err
		}
		c, err := r.Commits.Get(theirs)
		if err != nil {
			return nil, err
		}
		if err := r.CheckoutEngine.Apply(types.Hash{}, c.RootTreeHash); err != nil {
			return nil, err
		}
		return &MergeResult{Commit: c, FastForward: true}, nil
	}

	if isAnc, err := r.Commits.IsAncestor(theirs, ours); err != nil {
		return nil, err
	} else if isAnc {
		c, err := r.Commits.Get(ours)
		if err != nil {
			return nil, err
		}
		return &MergeResult{Commit: c}, nil
	}
	if isAnc, err := r.Commits.IsAncestor(ours, theirs); err != nil {
		return nil, err
	} else if isAnc {
		ourC, err := r.Commits.Get(ours)
		if err != nil {
			return nil, err
		}
		if err := r.advanceBranch(head.Branch, theirs); err != nil {
			return nil, err
		}
		c, err := r.Commits.Get(theirs)
		if err != nil {
			return nil, err
		}
		if err := r.CheckoutEngine.Apply(ourC.RootTreeHash, c.RootTreeHash); err != nil {
			return nil, err
		}
		return &MergeResult{Commit: c, FastForward: true}, nil
	}

	base, err := r.Commits.MergeBase(ours, theirs)
	if err != nil {
		return nil, err
	}
	baseC, err := r.Commits.Get(base)
	if err != nil {
		return nil, err
	}
	ourC, err := r.Commits.Get(ours)
	if err != nil {
		return nil, err
	}
	theirC, err := r.Commits.Get(theirs)
	if err != nil {
		return nil, err
	}

	ourChanges, err := merkle.DiffTrees(r.Trees, baseC.RootTreeHash, ourC.RootTreeHash)
	if err != nil {
		return nil, err
	}
	theirChanges, err := merkle.DiffTrees(r.Trees, baseC.RootTreeHash, theirC.RootTreeHash)
	if err != nil {
		return nil, err
	}

	ourByPath := make(map[string]merkle.Change, len(ourChanges))
	for _, c := range ourChanges {
		ourByPath[c.Path] = c
	}

	var conflicts []string
	var updates []merkle.Update
	for _, c := range ourChanges {
		updates = append(updates, changeToUpdate(c))
	}
	for _, tc := range theirChanges {
		oc, ok := ourByPath[tc.Path]
		if !ok {
			updates = append(updates, changeToUpdate(tc))
			continue
		}
		if oc.After.Hash == tc.After.Hash && oc.Status == tc.Status {
			continue
		}
		conflicts = append(conflicts, tc.Path)
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return &MergeResult{Conflicts: conflicts}, ErrMergeConflict
	}

	newRoot, err := merkle.RebuildTree(r.Trees, baseC.RootTreeHash, updates)
	if err != nil {
		return nil, err
	}

	c := &types.Commit{
		ParentIDs:    []types.Hash{ours, theirs},
		Message:      fmt.Sprintf("Merge %s into %s", other, head.Branch),
		Author:       identity.Name,
		Email:        identity.Email,
		Timestamp:    time.Now().Unix(),
		RootTreeHash: newRoot,
	}
	c.ID = c.ComputeID()
	if err := r.Commits.Put(c); err != nil {
		return nil, err
	}
	if err := r.advanceBranch(head.Branch, c.ID); err != nil {
		return nil, err
	}
	if err := r.CheckoutEngine.Apply(ourC.RootTreeHash, newRoot); err != nil {
		return nil, err
	}
	if err := r.refreshCacheStats(c); err != nil {
		r.logger.Warn("cache refresh failed after merge", "commit", c.ID.String(), "err", err)
	}
	return &MergeResult{Commit: c}, nil
}

func (r *Repository) advanceBranch(branch string, commit types.Hash) error {
	if r.Refs.BranchExists(branch) {
		return r.Refs.UpdateBranch(branch, commit)
	}
	return r.Refs.CreateBranch(branch, commit)
}

func changeToUpdate(c merkle.Change) merkle.Update {
	if c.Status == types.DiffRemoved {
		return merkle.Update{Path: c.Path, Delete: true}
	}
	return merkle.Update{Path: c.Path, Child: c.After}
}
