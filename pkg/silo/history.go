package silo

import (
	"errors"
	"fmt"

	"github.com/silo-vc/silo/pkg/checkout"
	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/merkle"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/types"
)

// Checkout implements `checkout <rev|-b name>`, refusing
// up front if the current branch is held by another writer's commit lock
// (the same lock Commit checks, since checkout materializes files the
// lock holder's in-flight commit may still be writing).
func (r *Repository) Checkout(ref string, force bool) error {
	if head, err := r.Head.GetHead(); err == nil && head.Branch != "" {
		if locked, holder, lerr := r.Refs.IsLocked(head.Branch); lerr == nil && locked {
			return errs.At(errs.Conflict, head.Branch, fmt.Errorf("silo: branch locked by %s", holder))
		}
	}
	return r.CheckoutEngine.Checkout(ref, force)
}

// Restore implements `restore <path> [--source rev] [--staged]`.
func (r *Repository) Restore(path string, opts checkout.RestoreOptions) error {
	return r.CheckoutEngine.Restore(path, opts)
}

// Log implements `log [rev]`: the commit and its ancestry, newest first.
// An empty ref resolves to HEAD.
func (r *Repository) Log(ref string) ([]*types.Commit, error) {
	commit, err := r.resolveCommit(ref)
	if err != nil {
		return nil, err
	}
	if commit.IsZero() {
		return nil, nil
	}
	return r.Commits.Log(commit)
}

// resolveCommit resolves ref (a branch name, a commit id, or "" or "HEAD"
// for HEAD) to a commit hash, the zero hash for an unborn HEAD.
func (r *Repository) resolveCommit(ref string) (types.Hash, error) {
	if ref == "" || ref == "HEAD" {
		head, err := r.Head.GetHead()
		if err != nil {
			return types.Hash{}, err
		}
		return head.CommitID, nil
	}
	target, err := r.CheckoutEngine.Resolve(ref)
	if err != nil {
		return types.Hash{}, err
	}
	return target.Commit, nil
}

// ResolveTree resolves ref to its root tree hash, for callers (tabular
// diff, the transfer layer's version-hash walk) that need the tree
// directly rather than the commit.
func (r *Repository) ResolveTree(ref string) (types.Hash, error) {
	commit, err := r.resolveCommit(ref)
	if err != nil {
		return types.Hash{}, err
	}
	if commit.IsZero() {
		return types.Hash{}, nil
	}
	c, err := r.Commits.Get(commit)
	if err != nil {
		return types.Hash{}, err
	}
	return c.RootTreeHash, nil
}

// resolveFileEntry resolves path's FileEntry as of ref.
func (r *Repository) resolveFileEntry(ref, path string) (*types.FileEntry, error) {
	root, err := r.ResolveTree(ref)
	if err != nil {
		return nil, err
	}
	resolved, err := merkle.Resolve(r.Trees, root, path)
	if err != nil {
		if err == merkle.ErrNotFound {
			return nil, errs.At(errs.NotFound, path, err)
		}
		return nil, err
	}
	if resolved.Kind != types.KindFile {
		return nil, errs.At(errs.Invalid, path, errors.New("silo: path is not a file"))
	}
	return resolved.File, nil
}

// ReadFileAt reads path's content as of ref (branch, commit id, or ""
// for HEAD).
func (r *Repository) ReadFileAt(ref, path string) ([]byte, error) {
	f, err := r.resolveFileEntry(ref, path)
	if err != nil {
		return nil, err
	}
	return r.Versions.ReadBytes(f.Hash)
}

// DiffRefs implements the file-level half of `diff <r1> [r2]`: every path
// whose content differs between the two revisions' trees. r2 == ""
// compares r1 against HEAD.
func (r *Repository) DiffRefs(r1, r2 string) ([]merkle.Change, error) {
	baseRoot, err := r.ResolveTree(r1)
	if err != nil {
		return nil, err
	}
	headRoot, err := r.ResolveTree(r2)
	if err != nil {
		return nil, err
	}
	return merkle.DiffTrees(r.Trees, baseRoot, headRoot)
}

// VersionHashesFor walks commit's root tree and returns every version
// file hash its FileEntry leaves reference. This supplies pkg/transfer's
// Session.HashesFor hook: only the repository root has both the tree
// store and a commit wired together, per that package's design note.
func (r *Repository) VersionHashesFor(commit types.Hash) ([]types.Hash, error) {
	c, err := r.Commits.Get(commit)
	if err != nil {
		return nil, err
	}
	var hashes []types.Hash
	if err := walkFileContentHashes(r.Trees, c.RootTreeHash, &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// walkFileContentHashes recurses a Dir's VNode buckets collecting the
// content Hash (not TreeHash) of every FileEntry leaf reachable below it.
func walkFileContentHashes(store *objects.TreeStore, dirHash types.Hash, out *[]types.Hash) error {
	if dirHash.IsZero() {
		return nil
	}
	d, err := store.GetDir(dirHash)
	if err != nil {
		return err
	}
	for _, bucket := range d.Children {
		v, err := store.GetVNode(bucket.Hash)
		if err != nil {
			return err
		}
		for _, child := range v.Children {
			switch child.Kind {
			case types.KindDir:
				if err := walkFileContentHashes(store, child.Hash, out); err != nil {
					return err
				}
			case types.KindFile:
				f, err := store.GetFile(child.Hash)
				if err != nil {
					return err
				}
				*out = append(*out, f.Hash)
			}
		}
	}
	return nil
}
