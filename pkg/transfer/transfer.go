// Package transfer is the wire-level transfer protocol: chunked
// upload/download of commit bundles between a repository and a remote,
// missing-commit discovery by walking the parent graph, and integrity
// checking of received content. It specifies the wire-level
// object/commit protocol only — no HTTP transport or router is
// implemented; RemoteClient is the interface a real HTTP (or any other
// transport) client implements.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/silo-vc/silo/pkg/chunker"
	"github.com/silo-vc/silo/pkg/commitstore"
	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/types"
)

// ChunkEnvelope is the wire envelope one chunk of a version file's
// content stream is sent in: chunk_num/total_chunks/total_size/
// content_hash/is_compressed in the query string, raw bytes in the body.
// ContentHash identifies the whole version file being transferred (not
// the chunk), so the remote can group chunks, resume by (content_hash,
// chunk_index), and verify the reassembled artifact against the sender's
// pre-send hash. Filename is an optional hint for logging/debugging;
// uploadVersion leaves it empty.
type ChunkEnvelope struct {
	CommitID     string `json:"commit_id"`
	ChunkIndex   int    `json:"chunk_index"`
	TotalChunks  int    `json:"total_chunks"`
	TotalSize    int64  `json:"total_size"`
	ContentHash  string `json:"content_hash"`
	IsCompressed bool   `json:"is_compressed"`
	Filename     string `json:"filename,omitempty"`
	Data         []byte `json:"-"`
}

// RemoteClient is the set of wire operations a transport (HTTP or
// otherwise) implements against a remote repository. Every method is
// network I/O and therefore context-cancellable.
type RemoteClient interface {
	HasCommit(ctx context.Context, id types.Hash) (bool, error)
	UploadCommitMetadata(ctx context.Context, c *types.Commit, dirHashesTarball []byte) error
	UploadChunk(ctx context.Context, env ChunkEnvelope) error
	HasVersions(ctx context.Context, hashes []types.Hash) (map[types.Hash]bool, error)
	UpdateBranch(ctx context.Context, branch string, commit types.Hash) error

	DownloadCommit(ctx context.Context, id types.Hash) (*types.Commit, []byte, error)
	DownloadChunk(ctx context.Context, hash types.Hash, chunkIndex int) (ChunkEnvelope, error)
	GetBranch(ctx context.Context, branch string) (types.Hash, error)
}

// RetryConfig bounds the exponential backoff applied to transient
// network failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry is the default bounded-exponential-backoff policy.
var DefaultRetry = RetryConfig{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second}

func (rc RetryConfig) delay(attempt int) time.Duration {
	d := rc.BaseDelay << attempt
	if d > rc.MaxDelay || d <= 0 {
		return rc.MaxDelay
	}
	return d
}

// withRetry runs fn up to rc.MaxAttempts times, sleeping with exponential
// backoff between attempts, returning the last error if every attempt
// fails. It stops immediately if ctx is cancelled.
func withRetry(ctx context.Context, rc RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == rc.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rc.delay(attempt)):
		}
	}
	return errs.New(errs.Transient, lastErr)
}

// Session bundles the local stores a Push/Pull needs.
type Session struct {
	Commits  *commitstore.Store
	Trees    *objects.TreeStore
	Versions *objects.VersionStore
	Chunker  *chunker.Chunker
	Retry    RetryConfig
	// Known tracks, during one negotiation, which version-file hashes are
	// already confirmed present on the remote, via a RoaringBitmap keyed
	// by a 32-bit fold of the hash (collision-tolerant: a false "known"
	// entry only costs an extra HasVersions query, never data loss, since
	// the final membership check before skipping a hash always
	// double-checks against the remote's authoritative HasVersions response).
	Known *roaring.Bitmap
	// HashesFor resolves a commit id to the version-file hashes its tree
	// references, the Pull-side counterpart of Push's hashesIn parameter.
	// Left nil by NewSession: the concrete tree walk needs pkg/merkle's
	// path resolution wired against a specific tree store instance, which
	// only the caller holding both the tree store and the commit (the
	// repository root) can supply.
	HashesFor func(types.Hash) ([]types.Hash, error)
}

// NewSession constructs a transfer Session with the default 4 MiB content-
// defined chunker and retry policy.
func NewSession(commits *commitstore.Store, trees *objects.TreeStore, versions *objects.VersionStore) *Session {
	return &Session{
		Commits:  commits,
		Trees:    trees,
		Versions: versions,
		Chunker:  chunker.Default4MiB(),
		Retry:    DefaultRetry,
		Known:    roaring.New(),
	}
}

// MissingAncestors walks the first-parent ancestors of local (the commit
// being pushed) newest-first, stopping at the first one the remote
// already has, and returns the missing ones oldest-first.
func (s *Session) MissingAncestors(ctx context.Context, remote RemoteClient, local types.Hash) ([]types.Hash, error) {
	ancestors, err := s.Commits.Log(local)
	if err != nil {
		return nil, err
	}
	var missing []types.Hash
	for _, c := range ancestors {
		has, err := remote.HasCommit(ctx, c.ID)
		if err != nil {
			return nil, errs.New(errs.Protocol, err)
		}
		if has {
			break
		}
		missing = append(missing, c.ID)
	}
	// reverse to oldest-first
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing, nil
}

func hashFold(h types.Hash) uint32 {
	var v uint32
	for i, b := range h[:4] {
		v |= uint32(b) << (8 * i)
	}
	return v
}

func (s *Session) markKnown(h types.Hash)    { s.Known.Add(hashFold(h)) }
func (s *Session) isKnown(h types.Hash) bool { return s.Known.Contains(hashFold(h)) }

// Push implements the push sequence: discover missing ancestors, upload
// each one's commit record and tree bundle, then the content chunks the
// remote lacks across all of them, then update the remote branch.
func (s *Session) Push(ctx context.Context, remote RemoteClient, branch string, local types.Hash, hashesIn func(types.Hash) ([]types.Hash, error)) error {
	missing, err := s.MissingAncestors(ctx, remote, local)
	if err != nil {
		return err
	}

	var allHashes []types.Hash
	for _, id := range missing {
		c, err := s.Commits.Get(id)
		if err != nil {
			return err
		}
		bundle, err := s.BundleTree(c.RootTreeHash)
		if err != nil {
			return err
		}
		if err := withRetry(ctx, s.Retry, func() error {
			return remote.UploadCommitMetadata(ctx, c, bundle)
		}); err != nil {
			return err
		}
		hs, err := hashesIn(id)
		if err != nil {
			return err
		}
		allHashes = append(allHashes, hs...)
	}

	known, err := remote.HasVersions(ctx, allHashes)
	if err != nil {
		return errs.New(errs.Protocol, err)
	}
	for _, h := range allHashes {
		if known[h] {
			s.markKnown(h)
			continue
		}
		if err := s.uploadVersion(ctx, remote, missing, h); err != nil {
			return err
		}
	}

	return withRetry(ctx, s.Retry, func() error {
		return remote.UpdateBranch(ctx, branch, local)
	})
}

func (s *Session) uploadVersion(ctx context.Context, remote RemoteClient, commits []types.Hash, hash types.Hash) error {
	if s.isKnown(hash) {
		// A bitmap hit may be a fold collision; skip only on the remote's word.
		if has, err := remote.HasVersions(ctx, []types.Hash{hash}); err == nil && has[hash] {
			return nil
		}
	}
	f, err := s.Versions.Open(hash)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	var total int
	var chunks []chunker.Chunk
	if err := s.Chunker.SplitReader(f, func(c chunker.Chunk) error {
		chunks = append(chunks, c)
		return nil
	}); err != nil {
		return err
	}
	total = len(chunks)

	var commitID string
	if len(commits) > 0 {
		commitID = commits[len(commits)-1].String()
	}
	for _, c := range chunks {
		env := ChunkEnvelope{
			CommitID:    commitID,
			ChunkIndex:  c.Index,
			TotalChunks: total,
			TotalSize:   info.Size(),
			ContentHash: hash.String(),
			Data:        c.Data,
		}
		if err := withRetry(ctx, s.Retry, func() error {
			return remote.UploadChunk(ctx, env)
		}); err != nil {
			return err
		}
	}
	s.markKnown(hash)
	return nil
}

// Pull is Push's symmetric inverse: resolve branch, fetch ancestors the
// local side lacks, fetch version files it lacks, and return the remote
// head. It writes no refs; Repository.Pull advances the branch afterward.
func (s *Session) Pull(ctx context.Context, remote RemoteClient, branch string, shallow bool) (types.Hash, error) {
	head, err := remote.GetBranch(ctx, branch)
	if err != nil {
		return types.Hash{}, errs.New(errs.Protocol, err)
	}

	// Walk every parent edge, not just the first: a merge commit's side
	// branch must land too, or its parent links would dangle locally.
	type fetched struct {
		commit *types.Commit
		bundle []byte
	}
	var walked []fetched
	queue := []types.Hash{head}
	seen := map[types.Hash]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.IsZero() || seen[cur] || s.Commits.Exists(cur) {
			continue
		}
		seen[cur] = true
		c, bundle, err := remote.DownloadCommit(ctx, cur)
		if err != nil {
			return types.Hash{}, errs.New(errs.Protocol, err)
		}
		walked = append(walked, fetched{commit: c, bundle: bundle})
		queue = append(queue, c.ParentIDs...)
	}

	// Store parents-first so an interrupted pull never leaves a commit
	// whose parents are absent. Tree nodes land before the commit record
	// that references them, the same happens-before order a local commit
	// write uses.
	byID := make(map[types.Hash]fetched, len(walked))
	for _, f := range walked {
		byID[f.commit.ID] = f
	}
	toFetch := make([]types.Hash, 0, len(walked))
	var store func(id types.Hash) error
	store = func(id types.Hash) error {
		f, ok := byID[id]
		if !ok {
			return nil // already local, or outside this pull
		}
		delete(byID, id)
		for _, p := range f.commit.ParentIDs {
			if err := store(p); err != nil {
				return err
			}
		}
		if err := s.ImportBundle(f.bundle); err != nil {
			return err
		}
		if err := s.Commits.Put(f.commit); err != nil {
			return err
		}
		toFetch = append(toFetch, f.commit.ID)
		return nil
	}
	for _, f := range walked {
		if err := store(f.commit.ID); err != nil {
			return types.Hash{}, err
		}
	}

	if !shallow {
		for _, id := range toFetch {
			if err := s.fetchVersionsFor(ctx, remote, id); err != nil {
				return types.Hash{}, err
			}
		}
	}

	return head, nil
}

// fetchVersionsFor downloads every version file a commit's tree
// references that the local version store does not already have. The
// concrete tree walk comes from s.HashesFor, supplied by the caller (the
// repository root) since it alone has the tree store wired against a
// specific commit; this keeps pkg/transfer free of a dependency on
// pkg/merkle's path-resolution concerns. A nil HashesFor is a deliberate
// no-op, matching a shallow pull that defers content entirely.
func (s *Session) fetchVersionsFor(ctx context.Context, remote RemoteClient, id types.Hash) error {
	if s.HashesFor == nil {
		return nil
	}
	hashes, err := s.HashesFor(id)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if s.Versions.Exists(h) {
			continue
		}
		if err := s.downloadVersion(ctx, remote, h); err != nil {
			return err
		}
	}
	return nil
}

// downloadVersion fetches every chunk of hash from remote by chunk index,
// resuming idempotently since each call starts from
// chunk 0 and the remote's DownloadChunk is itself idempotent per index.
func (s *Session) downloadVersion(ctx context.Context, remote RemoteClient, hash types.Hash) error {
	var data []byte
	total := 1
	for idx := 0; idx < total; idx++ {
		var env ChunkEnvelope
		if err := withRetry(ctx, s.Retry, func() error {
			var err error
			env, err = remote.DownloadChunk(ctx, hash, idx)
			return err
		}); err != nil {
			return err
		}
		total = env.TotalChunks
		if total <= 0 {
			total = 1
		}
		data = append(data, env.Data...)
	}
	if got := types.HashBytes(data); got != hash {
		return errs.At(errs.Corruption, hash.String(), errors.New("transfer: downloaded content does not match requested hash"))
	}
	_, err := s.Versions.PutBytes(data)
	return err
}
