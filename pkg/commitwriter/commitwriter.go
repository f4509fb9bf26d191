// Package commitwriter turns a staging area's pending changes plus a
// parent commit into a new commit, new or reused tree nodes, and moved
// version files, in a crash-safe order — version bytes before tree
// nodes, tree nodes before the commit record, commit before the branch
// update. The branch update itself is the caller's job (see the root
// silo package), since it alone knows whether HEAD is attached to the
// branch being advanced.
package commitwriter

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/silo-vc/silo/pkg/merkle"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/staging"
	"github.com/silo-vc/silo/pkg/types"
)

// ErrNothingToCommit is returned when the staging area has no pending
// changes and the caller did not request an empty commit.
var ErrNothingToCommit = errors.New("commitwriter: nothing staged to commit")

// Request describes one commit to construct.
type Request struct {
	WorkDir     string
	ParentIDs   []types.Hash
	ParentRoots map[types.Hash]types.Hash // parent id -> its RootTreeHash
	Message     string
	Author      string
	Email       string
	Timestamp   int64
	AllowEmpty  bool
	// SchemaHashes optionally maps a staged tabular file's path to its
	// inferred Schema hash (populated by pkg/tabular before Write is
	// called); files absent from this map are committed as plain
	// FileEntry leaves with a zero SchemaHash.
	SchemaHashes map[string]types.Hash
}

// Writer constructs commits against a tree store, version store, and
// commit store.
type Writer struct {
	Trees    merkle.Store
	Versions *objects.VersionStore
	Commits  CommitPutter
}

// CommitPutter is the subset of commitstore.Store the writer depends on.
type CommitPutter interface {
	Put(c *types.Commit) error
}

// rootOfFirstParent returns the first parent's RootTreeHash, or an empty
// Dir's hash if there are no parents (a root commit).
func (w *Writer) rootOfFirstParent(req Request) (types.Hash, error) {
	if len(req.ParentIDs) == 0 {
		return merkle.EmptyDir(w.Trees)
	}
	root, ok := req.ParentRoots[req.ParentIDs[0]]
	if !ok {
		return types.Hash{}, errors.New("commitwriter: missing root tree hash for first parent")
	}
	return root, nil
}

// Write runs the full commit-construction algorithm over area's
// currently staged entries and returns the new Commit. area.Clear
// is NOT called here — the caller clears staging only after the branch
// pointer update that follows Write has itself succeeded, so a crash
// between Write and the branch update leaves the commit addressable by id
// (harmless garbage) rather than silently losing staged state.
func (w *Writer) Write(area *staging.Area, req Request) (*types.Commit, error) {
	entries, err := area.Entries()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 && !req.AllowEmpty {
		return nil, ErrNothingToCommit
	}

	parentRoot, err := w.rootOfFirstParent(req)
	if err != nil {
		return nil, err
	}

	newRoot := parentRoot
	if len(entries) > 0 {
		if err := w.materializeVersions(req.WorkDir, entries); err != nil {
			return nil, err
		}
		updates, err := w.updatesFor(entries, req.SchemaHashes, req.Timestamp)
		if err != nil {
			return nil, err
		}
		newRoot, err = merkle.RebuildTree(w.Trees, parentRoot, updates)
		if err != nil {
			return nil, err
		}
	}

	c := &types.Commit{
		ParentIDs:    req.ParentIDs,
		Message:      req.Message,
		Author:       req.Author,
		Email:        req.Email,
		Timestamp:    req.Timestamp,
		RootTreeHash: newRoot,
	}
	c.ID = c.ComputeID()

	// Second pass: now that the commit id is known, stamp it as the
	// IntroducedIn provenance of every newly added/modified FileEntry.
	// FileEntry.TreeHash() does not depend on IntroducedIn (see
	// pkg/types/tree.go), so this rewrites the same tree-store keys in
	// place without touching the already-computed root hash.
	if len(entries) > 0 {
		if err := w.stampIntroducedIn(entries, req.SchemaHashes, c.ID, req.Timestamp); err != nil {
			return nil, err
		}
	}

	if err := w.Commits.Put(c); err != nil {
		return nil, err
	}
	return c, nil
}

// materializeVersions ensures every Added/Modified staged file's bytes are
// present in the version store, copying from the working tree. This must
// complete, for every entry, before any tree node referencing those
// hashes is written.
func (w *Writer) materializeVersions(workDir string, entries []types.StagedEntry) error {
	for _, e := range entries {
		if e.Status == types.StatusRemoved {
			continue
		}
		full := filepath.Join(workDir, e.Path)
		data, err := os.ReadFile(full)
		if err != nil {
			return err
		}
		hash, err := w.Versions.PutBytes(data)
		if err != nil {
			return err
		}
		if hash != e.HashAfter {
			return errors.New("commitwriter: staged hash does not match working-tree content for " + e.Path)
		}
	}
	return nil
}

// updatesFor turns staged entries into merkle-level updates, writing each
// new/modified path's FileEntry into the tree store along the way. The
// FileEntry carries the schema hash schemaHashes names for that path (zero
// if none), so a differing schema yields a different leaf; no separate
// SchemaNode leaf is written here.
func (w *Writer) updatesFor(entries []types.StagedEntry, schemaHashes map[string]types.Hash, timestamp int64) ([]merkle.Update, error) {
	updates := make([]merkle.Update, 0, len(entries))
	for _, e := range entries {
		if e.Status == types.StatusRemoved {
			updates = append(updates, merkle.Update{Path: e.Path, Delete: true})
			continue
		}
		schemaHash := schemaHashes[e.Path]
		f := &types.FileEntry{Path: e.Path, Hash: e.HashAfter, NumBytes: e.NumBytes, SchemaHash: schemaHash, LastModified: timestamp}
		if err := w.Trees.PutFile(f); err != nil {
			return nil, err
		}
		updates = append(updates, merkle.Update{
			Path: e.Path,
			Child: types.ChildDescriptor{
				Kind: types.KindFile,
				Hash: f.TreeHash(),
				Path: e.Path,
			},
		})
	}
	return updates, nil
}

func (w *Writer) stampIntroducedIn(entries []types.StagedEntry, schemaHashes map[string]types.Hash, commitID types.Hash, timestamp int64) error {
	for _, e := range entries {
		if e.Status == types.StatusRemoved {
			continue
		}
		f := &types.FileEntry{
			Path: e.Path, Hash: e.HashAfter, NumBytes: e.NumBytes,
			SchemaHash: schemaHashes[e.Path], IntroducedIn: commitID, LastModified: timestamp,
		}
		if err := w.Trees.PutFile(f); err != nil {
			return err
		}
	}
	return nil
}
