// Package commitstore is the commit store: durable commit records keyed
// by commit id, plus parent-graph traversal — first-parent log, full
// ancestry, and merge-base discovery over multi-parent merge commits.
package commitstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/silo-vc/silo/pkg/kv"
	"github.com/silo-vc/silo/pkg/types"
)

const bucketCommits = "commits"

// ErrCommitNotFound is returned when a commit id has no stored record.
var ErrCommitNotFound = errors.New("commitstore: commit not found")

// ErrCycle is returned by Log if a parent chain loops back on itself, which
// should never happen for honestly constructed commits but is checked
// defensively against corrupt or adversarial transfer input. Ancestors and
// IsAncestor do not report it: they skip commits already visited.
var ErrCycle = errors.New("commitstore: cycle detected in commit history")

// Store persists commit records in a single bbolt bucket, keyed by
// Commit.ID.
type Store struct {
	db *kv.DB
}

// commitJSON is the wire/disk representation of a Commit; hash fields are
// hex strings for readability when inspected outside the tool.
type commitJSON struct {
	ID           string   `json:"id"`
	ParentIDs    []string `json:"parent_ids"`
	Message      string   `json:"message"`
	Author       string   `json:"author"`
	Email        string   `json:"email"`
	Timestamp    int64    `json:"timestamp"`
	RootTreeHash string   `json:"root_tree_hash"`
}

// NewStore opens (creating if necessary) commits.db under repoDir.
func NewStore(repoDir string) (*Store, error) {
	db, err := kv.Open(filepath.Join(repoDir, "commits.db"), bucketCommits)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (s *Store) Close() error { return s.db.Close() }

// MarshalCommit serializes a Commit to its JSON wire form.
func MarshalCommit(c *types.Commit) ([]byte, error) {
	parents := make([]string, len(c.ParentIDs))
	for i, p := range c.ParentIDs {
		parents[i] = p.String()
	}
	return json.Marshal(commitJSON{
		ID:           c.ID.String(),
		ParentIDs:    parents,
		Message:      c.Message,
		Author:       c.Author,
		Email:        c.Email,
		Timestamp:    c.Timestamp,
		RootTreeHash: c.RootTreeHash.String(),
	})
}

// UnmarshalCommit parses a Commit from its JSON wire form.
func UnmarshalCommit(data []byte) (*types.Commit, error) {
	var cj commitJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("commitstore: unmarshal commit: %w", err)
	}
	id, ok := types.ParseHash(cj.ID)
	if !ok {
		return nil, fmt.Errorf("commitstore: invalid commit id %q", cj.ID)
	}
	root, ok := types.ParseHash(cj.RootTreeHash)
	if !ok {
		return nil, fmt.Errorf("commitstore: invalid root tree hash %q", cj.RootTreeHash)
	}
	parents := make([]types.Hash, len(cj.ParentIDs))
	for i, p := range cj.ParentIDs {
		h, ok := types.ParseHash(p)
		if !ok {
			return nil, fmt.Errorf("commitstore: invalid parent id %q", p)
		}
		parents[i] = h
	}
	return &types.Commit{
		ID:           id,
		ParentIDs:    parents,
		Message:      cj.Message,
		Author:       cj.Author,
		Email:        cj.Email,
		Timestamp:    cj.Timestamp,
		RootTreeHash: root,
	}, nil
}

// Put stores a commit, keyed by its own computed id. It does not
// recompute or verify c.ID against CanonicalFields — callers (the commit
// writer) are responsible for calling ComputeID before Put.
func (s *Store) Put(c *types.Commit) error {
	data, err := MarshalCommit(c)
	if err != nil {
		return err
	}
	return s.db.Bucket(bucketCommits).Put(c.ID[:], data)
}

// Get retrieves a commit by id.
func (s *Store) Get(id types.Hash) (*types.Commit, error) {
	data, err := s.db.Bucket(bucketCommits).Get(id[:])
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, ErrCommitNotFound
		}
		return nil, err
	}
	return UnmarshalCommit(data)
}

// Exists reports whether a commit id has a stored record.
func (s *Store) Exists(id types.Hash) bool {
	return s.db.Bucket(bucketCommits).Exists(id[:])
}

// Log walks first-parent history from id back to the root commit, newest
// first. For a merge commit, only ParentIDs[0] is followed — the
// single-line history view; full ancestry is available via Ancestors.
func (s *Store) Log(id types.Hash) ([]*types.Commit, error) {
	var commits []*types.Commit
	cur := id
	seen := map[types.Hash]bool{}
	for !cur.IsZero() {
		if seen[cur] {
			return nil, ErrCycle
		}
		seen[cur] = true
		c, err := s.Get(cur)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
		if len(c.ParentIDs) == 0 {
			break
		}
		cur = c.ParentIDs[0]
	}
	return commits, nil
}

// Ancestors returns the full set of commit ids reachable from id by
// following every parent edge (a merge commit's full history, not just
// first-parent), used by the transfer protocol to compute what a remote
// is missing and by merge-base discovery.
func (s *Store) Ancestors(id types.Hash) (map[types.Hash]bool, error) {
	visited := map[types.Hash]bool{}
	queue := []types.Hash{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.IsZero() || visited[cur] {
			continue
		}
		visited[cur] = true
		c, err := s.Get(cur)
		if err != nil {
			return nil, err
		}
		queue = append(queue, c.ParentIDs...)
	}
	return visited, nil
}

// IsAncestor reports whether ancestor is reachable from descendant by
// following parent edges (ancestor == descendant counts as true), the
// fast-forward test checkout and push/pull both need.
func (s *Store) IsAncestor(ancestor, descendant types.Hash) (bool, error) {
	all, err := s.Ancestors(descendant)
	if err != nil {
		return false, err
	}
	return all[ancestor], nil
}

// MergeBase finds the most recent commit reachable from both a and b,
// used to compute a three-way merge's common ancestor and to short-circuit
// a push that the remote has already fully seen.
func (s *Store) MergeBase(a, b types.Hash) (types.Hash, error) {
	aAncestors, err := s.Ancestors(a)
	if err != nil {
		return types.Hash{}, err
	}
	// Walk b's full ancestry (every parent) breadth-first, nearest
	// commits first, looking for the first commit a also contains.
	cur := b
	seen := map[types.Hash]bool{}
	queue := []types.Hash{cur}
	for len(queue) > 0 {
		cur = queue[0]
		queue = queue[1:]
		if cur.IsZero() || seen[cur] {
			continue
		}
		seen[cur] = true
		if aAncestors[cur] {
			return cur, nil
		}
		c, err := s.Get(cur)
		if err != nil {
			return types.Hash{}, err
		}
		queue = append(queue, c.ParentIDs...)
	}
	return types.Hash{}, nil
}
