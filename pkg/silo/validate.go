package silo

import (
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/types"
)

// ValidationIssue reports one version file that failed the content check:
// either absent from the version store or present with bytes that no
// longer hash to the FileEntry's recorded hash.
type ValidationIssue struct {
	CommitID types.Hash
	Path     string
	Hash     types.Hash
	Missing  bool // false means present but hash-mismatched
}

// ValidateCommit checks every FileEntry reachable from commit's tree
// against the version store, recording issues rather than stopping at the
// first. A shallow repository waives missing files (they are
// unmaterialized, never wrong) but still flags mismatched bytes. If any
// issue is found, the commit's cached stats are flagged content-invalid.
func (r *Repository) ValidateCommit(commitID types.Hash) ([]ValidationIssue, error) {
	c, err := r.Commits.Get(commitID)
	if err != nil {
		return nil, err
	}
	var issues []ValidationIssue
	if err := r.validateTree(c.RootTreeHash, commitID, &issues); err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		if err := r.Cache.MarkCorrupt(commitID); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

func (r *Repository) validateTree(dirHash, commitID types.Hash, issues *[]ValidationIssue) error {
	if dirHash.IsZero() {
		return nil
	}
	d, err := r.Trees.GetDir(dirHash)
	if err != nil {
		return err
	}
	for _, bucket := range d.Children {
		v, err := r.Trees.GetVNode(bucket.Hash)
		if err != nil {
			return err
		}
		for _, child := range v.Children {
			switch child.Kind {
			case types.KindDir:
				if err := r.validateTree(child.Hash, commitID, issues); err != nil {
					return err
				}
			case types.KindFile:
				f, err := r.Trees.GetFile(child.Hash)
				if err != nil {
					return err
				}
				data, err := r.Versions.ReadBytes(f.Hash)
				if err != nil {
					if err == objects.ErrHashNotFound {
						if !r.Config.Shallow {
							*issues = append(*issues, ValidationIssue{CommitID: commitID, Path: f.Path, Hash: f.Hash, Missing: true})
						}
						continue
					}
					return err
				}
				if types.HashBytes(data) != f.Hash {
					*issues = append(*issues, ValidationIssue{CommitID: commitID, Path: f.Path, Hash: f.Hash})
				}
			}
		}
	}
	return nil
}

// Validate runs ValidateCommit over every commit reachable from every
// branch, returning the union of issues. Only commits whose trees
// actually reference a bad version file are flagged; structural sharing
// means one corrupt file can implicate several commits, each reported
// with its own id.
func (r *Repository) Validate() ([]ValidationIssue, error) {
	branches, err := r.Refs.ListBranches()
	if err != nil {
		return nil, err
	}
	seen := map[types.Hash]bool{}
	var all []ValidationIssue
	for _, b := range branches {
		tip, err := r.Refs.GetBranch(b)
		if err != nil {
			return nil, err
		}
		if tip.IsZero() {
			continue
		}
		ancestors, err := r.Commits.Ancestors(tip)
		if err != nil {
			return nil, err
		}
		for id := range ancestors {
			if seen[id] {
				continue
			}
			seen[id] = true
			issues, err := r.ValidateCommit(id)
			if err != nil {
				return nil, err
			}
			all = append(all, issues...)
		}
	}
	return all, nil
}
