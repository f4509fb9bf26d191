// Package silo is the repository root: it wires the object store,
// reference store, commit store, merkle index, staging area, commit
// writer, and checkout engine into the single Repository type a
// command-line front-end or HTTP server would embed. Each durable store
// (objects.db, commits.db, refs/, staged.db, cache.db) is opened and
// owned by exactly one Repository, honoring the single-writer discipline
// every store requires.
package silo

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/silo-vc/silo/internal/config"
	"github.com/silo-vc/silo/internal/ignore"
	"github.com/silo-vc/silo/internal/xlog"
	"github.com/silo-vc/silo/pkg/cache"
	"github.com/silo-vc/silo/pkg/checkout"
	"github.com/silo-vc/silo/pkg/commitstore"
	"github.com/silo-vc/silo/pkg/commitwriter"
	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/refs"
	"github.com/silo-vc/silo/pkg/staging"
	"github.com/silo-vc/silo/pkg/types"
)

// DataDirName is the hidden subdirectory of a working tree that holds the
// repository's durable state.
const DataDirName = ".silo"

// Repository is the engine root: one open handle on every durable store a
// repository needs, plus the working tree it materializes into.
type Repository struct {
	WorkDir string
	DataDir string

	Config *config.Config

	Trees    *objects.TreeStore
	Versions *objects.VersionStore
	Commits  *commitstore.Store
	Refs     *refs.Manager
	Head     *refs.HeadManager
	Staging  *staging.Area
	Cache    *cache.Store
	Times    *checkout.TimestampCache

	Writer         *commitwriter.Writer
	CheckoutEngine *checkout.Engine
	Ignore         ignore.Matcher

	logger *slog.Logger
}

// ErrNotARepository is returned by Open when dataDir has no recognizable
// repository layout.
var ErrNotARepository = fmt.Errorf("silo: not a repository (no %s directory)", DataDirName)

// Init creates a new repository rooted at workDir, writing its config,
// HEAD, and every durable store's initial (empty) layout. defaultBranch
// names the branch HEAD attaches to before any commit exists (the
// "unborn branch" state).
func Init(workDir, defaultBranch string) (*Repository, error) {
	dataDir := filepath.Join(workDir, DataDirName)
	if _, err := os.Stat(dataDir); err == nil {
		return nil, errs.At(errs.Invalid, dataDir, fmt.Errorf("silo: repository already initialized"))
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	cfg := config.Default()
	if err := config.Save(config.LoadPath(dataDir), cfg); err != nil {
		return nil, err
	}
	r, err := open(workDir, dataDir, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.Head.InitializeHead(defaultBranch); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens an existing repository rooted at workDir.
func Open(workDir string) (*Repository, error) {
	dataDir := filepath.Join(workDir, DataDirName)
	if _, err := os.Stat(dataDir); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotARepository
		}
		return nil, err
	}
	cfg, err := config.Load(config.LoadPath(dataDir))
	if err != nil {
		return nil, err
	}
	return open(workDir, dataDir, cfg)
}

func open(workDir, dataDir string, cfg *config.Config) (*Repository, error) {
	trees, err := objects.NewTreeStore(dataDir)
	if err != nil {
		return nil, err
	}
	versions, err := objects.NewVersionStore(dataDir)
	if err != nil {
		return nil, err
	}
	commits, err := commitstore.NewStore(dataDir)
	if err != nil {
		return nil, err
	}
	refMgr, err := refs.NewManager(dataDir)
	if err != nil {
		return nil, err
	}
	head := refs.NewHeadManager(dataDir, refMgr)
	stagingArea, err := staging.Open(dataDir, workDir)
	if err != nil {
		return nil, err
	}
	cacheStore, err := cache.NewStore(dataDir)
	if err != nil {
		return nil, err
	}
	times, err := checkout.OpenTimestampCache(dataDir)
	if err != nil {
		return nil, err
	}
	ignoreMatcher, err := ignore.Load(filepath.Join(dataDir, ".ignore"))
	if err != nil {
		return nil, err
	}

	r := &Repository{
		WorkDir:  workDir,
		DataDir:  dataDir,
		Config:   cfg,
		Trees:    trees,
		Versions: versions,
		Commits:  commits,
		Refs:     refMgr,
		Head:     head,
		Staging:  stagingArea,
		Cache:    cacheStore,
		Times:    times,
		Writer:   &commitwriter.Writer{Trees: trees, Versions: versions, Commits: commits},
		Ignore:   ignoreMatcher,
		logger:   xlog.WithRepo(xlog.Discard(), workDir),
	}
	r.CheckoutEngine = &checkout.Engine{
		WorkDir:  workDir,
		Trees:    trees,
		Versions: versions,
		Commits:  commits,
		Refs:     refMgr,
		Head:     head,
		Times:    times,
	}
	return r, nil
}

// SetLogger replaces the discard logger Open installs by default:
// callers embedding Repository (a CLI, a server) decide where log lines
// go.
func (r *Repository) SetLogger(l *slog.Logger) {
	r.logger = xlog.WithRepo(l, r.WorkDir)
}

// Close releases every durable store's underlying handle.
func (r *Repository) Close() error {
	var first error
	for _, closer := range []func() error{
		r.Trees.Close, r.Commits.Close, r.Staging.Close, r.Cache.Close, r.Times.Close,
	} {
		if err := closer(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// headTree returns the merkle.Store/root pair HeadTree-consuming calls
// (staging.Add/Remove/Status) resolve paths against.
func (r *Repository) headTree() (staging.HeadTree, error) {
	head, err := r.Head.GetHead()
	if err != nil {
		return staging.HeadTree{}, err
	}
	if head.CommitID.IsZero() {
		return staging.HeadTree{Store: r.Trees}, nil
	}
	c, err := r.Commits.Get(head.CommitID)
	if err != nil {
		return staging.HeadTree{}, err
	}
	return staging.HeadTree{Store: r.Trees, Root: c.RootTreeHash}, nil
}

// Add stages path (file or directory) relative to the working tree.
func (r *Repository) Add(path string) error {
	ht, err := r.headTree()
	if err != nil {
		return err
	}
	op := xlog.Op(nil, r.logger, "add")
	op.Debug("staging path", "path", path)
	return r.Staging.Add(ht, path)
}

// Remove implements `rm <path> [--recursive] [--staged]`.
func (r *Repository) Remove(path string, opts staging.RemoveOptions) error {
	ht, err := r.headTree()
	if err != nil {
		return err
	}
	if err := r.Staging.Remove(ht, path, opts); err != nil {
		return err
	}
	if opts.Staged {
		return nil
	}
	full := filepath.Join(r.WorkDir, path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return r.Times.Delete(path)
}

// Status implements `status`: staged entries plus untracked working-tree
// files.
func (r *Repository) Status() (staging.StagedData, error) {
	ht, err := r.headTree()
	if err != nil {
		return staging.StagedData{}, err
	}
	return r.Staging.Status(ht, r.Ignore)
}

// CommitOptions controls Commit's behavior.
type CommitOptions struct {
	AllowEmpty bool
	// SchemaHashes optionally carries pre-inferred tabular schema hashes
	// for staged paths, normally populated by (*Repository).stageSchemas
	// before Commit is called with the tabular engine wired in; a caller
	// that never touches tabular files may leave this nil.
	SchemaHashes map[string]types.Hash
}

// Commit builds the commit via commitwriter.Writer, then advances either
// the attached branch or (if HEAD is detached) HEAD itself — the sole
// externally observable transition, updated last — and finally clears
// staging. A crash between Writer.Write succeeding and the branch update
// leaves the commit addressable by id but unreferenced: harmless garbage
// until a future GC.
func (r *Repository) Commit(identity config.Identity, message string, opts CommitOptions) (*types.Commit, error) {
	if identity.Name == "" || identity.Email == "" {
		identity = config.Identity{Name: r.Config.Identity.Name, Email: r.Config.Identity.Email}
	}
	head, err := r.Head.GetHead()
	if err != nil {
		return nil, err
	}

	var parentIDs []types.Hash
	parentRoots := map[types.Hash]types.Hash{}
	if !head.CommitID.IsZero() {
		parentIDs = []types.Hash{head.CommitID}
		pc, err := r.Commits.Get(head.CommitID)
		if err != nil {
			return nil, err
		}
		parentRoots[head.CommitID] = pc.RootTreeHash
	}

	if head.Branch != "" {
		locked, holder, err := r.Refs.IsLocked(head.Branch)
		if err != nil {
			return nil, err
		}
		if locked {
			return nil, errs.At(errs.Conflict, head.Branch, fmt.Errorf("silo: branch locked by %s", holder))
		}
	}

	req := commitwriter.Request{
		WorkDir:      r.WorkDir,
		ParentIDs:    parentIDs,
		ParentRoots:  parentRoots,
		Message:      message,
		Author:       identity.Name,
		Email:        identity.Email,
		Timestamp:    time.Now().Unix(),
		AllowEmpty:   opts.AllowEmpty,
		SchemaHashes: opts.SchemaHashes,
	}
	commit, err := r.Writer.Write(r.Staging, req)
	if err != nil {
		return nil, err
	}

	if head.Branch != "" {
		if err := r.advanceBranch(head.Branch, commit.ID); err != nil {
			return nil, err
		}
	} else {
		if err := r.Head.SetHeadToCommit(commit.ID); err != nil {
			return nil, err
		}
	}

	if err := r.Staging.Clear(); err != nil {
		return nil, err
	}
	if err := r.refreshCacheStats(commit); err != nil {
		r.logger.Warn("cache refresh failed after commit", "commit", commit.ID.String(), "err", err)
	}
	return commit, nil
}

// refreshCacheStats recomputes and persists C14's derived per-commit
// metadata (total bytes, file count, per-dataframe schema/row metadata)
// by walking c's root tree. Losing this update costs only a future
// re-derivation, never correctness, so its error is logged rather than
// propagated (see pkg/cache's doc comment on derived-not-authoritative
// data).
func (r *Repository) refreshCacheStats(c *types.Commit) error {
	stats := cache.CommitStats{ContentValid: true, DataFrames: map[string]cache.DFMeta{}}
	if err := walkTreeStats(r.Trees, c.RootTreeHash, &stats); err != nil {
		return err
	}
	return r.Cache.Put(c.ID, stats)
}

func walkTreeStats(store *objects.TreeStore, dirHash types.Hash, stats *cache.CommitStats) error {
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
				if err := walkTreeStats(store, child.Hash, stats); err != nil {
					return err
				}
			case types.KindFile:
				f, err := store.GetFile(child.Hash)
				if err != nil {
					return err
				}
				stats.TotalBytes += f.NumBytes
				stats.FileCount++
				if !f.SchemaHash.IsZero() {
					stats.DataFrames[f.Path] = cache.DFMeta{SchemaHash: f.SchemaHash.String()}
				}
			case types.KindSchema:
				// schema attachment leaves carry no byte weight of their own
			}
		}
	}
	return nil
}
