// Package checkout materializes a commit's tree into the working
// directory and restores single paths from a revision or from staging.
// Materialization is diff-driven: merkle.DiffTrees compares the current
// and target trees, and only paths that differ are written or removed.
package checkout

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/kv"
	"github.com/silo-vc/silo/pkg/merkle"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/refs"
	"github.com/silo-vc/silo/pkg/types"
)

// ErrAmbiguousTarget is returned when target resolves as neither a known
// branch nor a parseable commit hash.
var ErrAmbiguousTarget = errors.New("checkout: target is neither a branch nor a commit id")

// CommitGetter is the subset of commitstore.Store checkout depends on.
type CommitGetter interface {
	Get(id types.Hash) (*types.Commit, error)
	Exists(id types.Hash) bool
}

// Engine materializes working-tree state from the object store and tracks
// each file's last-known mtime so status() can skip re-hashing unchanged
// files.
type Engine struct {
	WorkDir  string
	Trees    merkle.Store
	Versions *objects.VersionStore
	Commits  CommitGetter
	Refs     *refs.Manager
	Head     *refs.HeadManager
	Times    *TimestampCache
}

// Target resolves a checkout argument to a commit, recording whether it
// names a branch (so HEAD attaches to it) or is a raw commit id (detached).
type Target struct {
	Commit types.Hash
	Branch string // empty if detached
}

// Resolve interprets ref as a branch name first, falling back to a commit
// hash.
func (e *Engine) Resolve(ref string) (Target, error) {
	if e.Refs.BranchExists(ref) {
		commit, err := e.Refs.GetBranch(ref)
		if err != nil {
			return Target{}, err
		}
		return Target{Commit: commit, Branch: ref}, nil
	}
	hash, ok := types.ParseHash(ref)
	if !ok || !e.Commits.Exists(hash) {
		return Target{}, errs.At(errs.NotFound, ref, ErrAmbiguousTarget)
	}
	return Target{Commit: hash}, nil
}

func (e *Engine) rootOf(commit types.Hash) (types.Hash, error) {
	if commit.IsZero() {
		return types.Hash{}, nil
	}
	c, err := e.Commits.Get(commit)
	if err != nil {
		return types.Hash{}, err
	}
	return c.RootTreeHash, nil
}

// Checkout resolves ref, refuses on dirty divergent files unless force,
// diffs the current HEAD tree against the target tree, materializes the
// difference, and updates HEAD and the timestamp cache.
func (e *Engine) Checkout(ref string, force bool) error {
	target, err := e.Resolve(ref)
	if err != nil {
		return err
	}

	head, err := e.Head.GetHead()
	if err != nil {
		return err
	}
	currentRoot, err := e.rootOf(head.CommitID)
	if err != nil {
		return err
	}
	targetRoot, err := e.rootOf(target.Commit)
	if err != nil {
		return err
	}

	changes, err := merkle.DiffTrees(e.Trees, currentRoot, targetRoot)
	if err != nil {
		return err
	}

	if !force {
		if err := e.refuseIfDirty(changes); err != nil {
			return err
		}
	}

	if err := e.materialize(changes); err != nil {
		return err
	}

	if target.Branch != "" {
		if err := e.Head.SetHeadToBranch(target.Branch); err != nil {
			return err
		}
	} else {
		if err := e.Head.SetHeadToCommit(target.Commit); err != nil {
			return err
		}
	}
	return nil
}

// refuseIfDirty implements step 2: a path that differs between current and
// target is refused if the working tree's copy has itself diverged from
// the current HEAD's recorded content (an uncommitted edit checkout would
// silently clobber).
func (e *Engine) refuseIfDirty(changes []merkle.Change) error {
	for _, ch := range changes {
		if ch.Before.Kind != types.KindFile {
			continue
		}
		full := filepath.Join(e.WorkDir, ch.Path)
		data, err := os.ReadFile(full)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		f, err := e.Trees.GetFile(ch.Before.Hash)
		if err != nil {
			return err
		}
		if types.HashBytes(data) != f.Hash {
			return errs.At(errs.Conflict, ch.Path, errors.New("checkout: working tree has uncommitted changes"))
		}
	}
	return nil
}

// materialize applies one Change at a time, in the order DiffTrees
// produced them. A failure partway through leaves every prior change
// applied and surfaces the first failure; nothing is rolled back.
func (e *Engine) materialize(changes []merkle.Change) error {
	for _, ch := range changes {
		switch ch.Status {
		case types.DiffRemoved:
			if err := e.removeWorkingFile(ch.Path); err != nil {
				return errs.At(errs.Transient, ch.Path, err)
			}
		case types.DiffAdded, types.DiffModified:
			if ch.After.Kind != types.KindFile {
				continue
			}
			if err := e.writeWorkingFile(ch.Path, ch.After.Hash); err != nil {
				return errs.At(errs.Transient, ch.Path, err)
			}
		}
	}
	return nil
}

// Apply materializes the difference between two tree roots into the
// working tree without touching HEAD. Merge uses it after moving the
// branch pointer: HEAD already names the branch, so only the tree delta
// needs writing.
func (e *Engine) Apply(currentRoot, targetRoot types.Hash) error {
	changes, err := merkle.DiffTrees(e.Trees, currentRoot, targetRoot)
	if err != nil {
		return err
	}
	return e.materialize(changes)
}

// Materialize writes every file reachable from root into the working
// tree, as if checking out root's commit over an empty directory. Used
// when a repository's internal stores exist but its working tree does not
// yet (a fresh clone, an unpacked archive).
func (e *Engine) Materialize(root types.Hash) error {
	changes, err := merkle.DiffTrees(e.Trees, types.Hash{}, root)
	if err != nil {
		return err
	}
	return e.materialize(changes)
}

func (e *Engine) writeWorkingFile(path string, treeHash types.Hash) error {
	f, err := e.Trees.GetFile(treeHash)
	if err != nil {
		return err
	}
	data, err := e.Versions.ReadBytes(f.Hash)
	if err != nil {
		return err
	}
	full := filepath.Join(e.WorkDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if e.Times != nil {
		return e.Times.Put(path, info.ModTime().UnixNano(), info.Size(), f.Hash)
	}
	return nil
}

func (e *Engine) removeWorkingFile(path string) error {
	full := filepath.Join(e.WorkDir, path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	if e.Times != nil {
		if err := e.Times.Delete(path); err != nil {
			return err
		}
	}
	return removeEmptyAncestors(e.WorkDir, filepath.Dir(full))
}

func removeEmptyAncestors(root, dir string) error {
	for dir != root && dir != "." && dir != string(filepath.Separator) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// RestoreOptions controls Restore's behavior.
type RestoreOptions struct {
	// Source is a branch name or commit id; empty means HEAD.
	Source string
	// Staged, if set, restore acts on the staging area instead of the
	// working tree: it reverts path's staged entry to HEAD's state.
	Staged bool
}

// Restore implements `restore <path> [--source rev] [--staged]`.
// The Staged=true case is handled by the caller via staging.Area.Remove
// with its own Staged option, since that is where the staged_files bucket
// lives; this method only covers materializing path into the working tree
// from a revision.
func (e *Engine) Restore(path string, opts RestoreOptions) error {
	ref := opts.Source
	if ref == "" {
		head, err := e.Head.GetHead()
		if err != nil {
			return err
		}
		if head.CommitID.IsZero() {
			return errs.At(errs.NotFound, path, errors.New("checkout: HEAD has no commits yet"))
		}
		return e.restoreFromCommit(path, head.CommitID)
	}
	target, err := e.Resolve(ref)
	if err != nil {
		return err
	}
	return e.restoreFromCommit(path, target.Commit)
}

func (e *Engine) restoreFromCommit(path string, commit types.Hash) error {
	root, err := e.rootOf(commit)
	if err != nil {
		return err
	}
	resolved, err := merkle.Resolve(e.Trees, root, path)
	if err != nil {
		if err == merkle.ErrNotFound {
			return errs.At(errs.NotFound, path, err)
		}
		return err
	}
	if resolved.Kind != types.KindFile {
		return errs.At(errs.Invalid, path, errors.New("checkout: restore target is not a file"))
	}
	data, err := e.Versions.ReadBytes(resolved.File.Hash)
	if err != nil {
		return err
	}
	full := filepath.Join(e.WorkDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return err
	}
	if e.Times == nil {
		return nil
	}
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	return e.Times.Put(path, info.ModTime().UnixNano(), info.Size(), resolved.File.Hash)
}

const bucketTimes = "mtimes"

// cachedMTime is one timestamp-cache entry: the working-tree mtime and
// size observed the last time path's content was known to equal hash.
type cachedMTime struct {
	ModTimeNano int64      `json:"mtime_ns"`
	Size        int64      `json:"size"`
	Hash        types.Hash `json:"hash"`
}

// TimestampCache records, per path, the working-tree mtime/size last seen
// for a known content hash, so status() can skip re-hashing a file whose
// mtime and size have not moved since its last checkout or commit.
// Grounded on pkg/cache's derived, losslessly-rebuildable data pattern: if
// this table is lost, status() simply re-hashes everything once more.
type TimestampCache struct {
	db *kv.DB
}

// OpenTimestampCache opens (creating if necessary) timestamps.db under
// repoDir.
func OpenTimestampCache(repoDir string) (*TimestampCache, error) {
	db, err := kv.Open(filepath.Join(repoDir, "timestamps.db"), bucketTimes)
	if err != nil {
		return nil, err
	}
	return &TimestampCache{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (c *TimestampCache) Close() error { return c.db.Close() }

// Put records path's current mtime/size as corresponding to hash.
func (c *TimestampCache) Put(path string, modTimeNano, size int64, hash types.Hash) error {
	data, err := json.Marshal(cachedMTime{ModTimeNano: modTimeNano, Size: size, Hash: hash})
	if err != nil {
		return err
	}
	return c.db.Bucket(bucketTimes).Put([]byte(path), data)
}

// Delete removes any cached entry for path.
func (c *TimestampCache) Delete(path string) error {
	return c.db.Bucket(bucketTimes).Delete([]byte(path))
}

// Unchanged reports whether path's on-disk mtime and size still match the
// cached entry recorded for hash, meaning status() may skip re-hashing it.
func (c *TimestampCache) Unchanged(path string, modTimeNano, size int64, hash types.Hash) (bool, error) {
	data, err := c.db.Bucket(bucketTimes).Get([]byte(path))
	if err != nil {
		if err == kv.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	var cached cachedMTime
	if err := json.Unmarshal(data, &cached); err != nil {
		return false, err
	}
	return cached.ModTimeNano == modTimeNano && cached.Size == size && cached.Hash == hash, nil
}
