// Package cache holds per-commit derived data that is expensive to
// recompute but cheap to invalidate — a commit's total byte size,
// tabular metadata (row counts, inferred schema hash) for each dataframe
// it contains, and content-validity flags from the last validation pass.
// None of this data is authoritative: losing the cache loses only time,
// never correctness, since every value here is a pure function of objects
// already durable in pkg/objects/pkg/commitstore.
package cache

import (
	"encoding/json"
	"path/filepath"

	"github.com/silo-vc/silo/pkg/kv"
	"github.com/silo-vc/silo/pkg/types"
)

const bucketCache = "cache"

// CommitStats is the cached derived data for one commit.
type CommitStats struct {
	TotalBytes   int64             `json:"total_bytes"`
	FileCount    int64             `json:"file_count"`
	DataFrames   map[string]DFMeta `json:"dataframes,omitempty"` // path -> metadata
	ContentValid bool              `json:"content_valid"`
}

// DFMeta is cached metadata about one tabular file as of a commit.
type DFMeta struct {
	SchemaHash string `json:"schema_hash"`
	RowCount   int64  `json:"row_count"`
}

// Store persists CommitStats keyed by commit id in cache.db.
type Store struct {
	db *kv.DB
}

// NewStore opens (creating if necessary) cache.db under repoDir.
func NewStore(repoDir string) (*Store, error) {
	db, err := kv.Open(filepath.Join(repoDir, "cache.db"), bucketCache)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (s *Store) Close() error { return s.db.Close() }

// Put stores stats for commit, overwriting any previous value.
func (s *Store) Put(commit types.Hash, stats CommitStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.db.Bucket(bucketCache).Put(commit[:], data)
}

// Get retrieves cached stats for commit, and whether an entry existed.
func (s *Store) Get(commit types.Hash) (CommitStats, bool, error) {
	data, err := s.db.Bucket(bucketCache).Get(commit[:])
	if err != nil {
		if err == kv.ErrNotFound {
			return CommitStats{}, false, nil
		}
		return CommitStats{}, false, err
	}
	var stats CommitStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return CommitStats{}, false, err
	}
	return stats, true, nil
}

// Invalidate removes any cached stats for commit, used when a future GC
// or migration changes a commit's underlying objects (neither of which is
// in scope today, but the hook matters: a cache that cannot be
// invalidated is not a cache).
func (s *Store) Invalidate(commit types.Hash) error {
	return s.db.Bucket(bucketCache).Delete(commit[:])
}

// MarkCorrupt flags a commit's content as invalid (its bytes failed the
// version-file hash check), so validation marks the owning commit as
// incomplete without any other commit being affected.
func (s *Store) MarkCorrupt(commit types.Hash) error {
	stats, _, err := s.Get(commit)
	if err != nil {
		return err
	}
	stats.ContentValid = false
	return s.Put(commit, stats)
}
