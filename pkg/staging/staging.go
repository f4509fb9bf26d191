// Package staging is the staging area: pending file additions, removals,
// and modifications relative to HEAD, plus the per-(branch, user)
// row-level tabular operation log that backs pkg/tabular's indexed
// dataframes. Staging lives in a durable bbolt table rather than process
// memory: Status must read a consistent snapshot, and staged state must
// survive a restart.
package staging

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/silo-vc/silo/internal/ignore"
	"github.com/silo-vc/silo/pkg/kv"
	"github.com/silo-vc/silo/pkg/merkle"
	"github.com/silo-vc/silo/pkg/types"
)

const (
	bucketFiles = "staged_files"
	bucketDirs  = "staged_dirs"
	bucketMods  = "staged_mods"
)

var errNotRecursive = &notRecursiveError{}

type notRecursiveError struct{}

func (*notRecursiveError) Error() string {
	return "staging: path is a directory; pass Recursive to remove it"
}

// DirStats is the aggregated summary of a directory's staged children,
// recomputed whenever a file beneath that directory is staged or
// unstaged.
type DirStats struct {
	Added      int   `json:"added"`
	Modified   int   `json:"modified"`
	Removed    int   `json:"removed"`
	TotalBytes int64 `json:"total_bytes"`
}

// Area owns the staged.db bbolt file: the staged_files, staged_dirs, and
// staged_mods tables.
type Area struct {
	db      *kv.DB
	workDir string
}

// Open opens (creating if necessary) staged.db under repoDir. workDir is
// the working tree root Add/Remove resolve paths against.
func Open(repoDir, workDir string) (*Area, error) {
	db, err := kv.Open(filepath.Join(repoDir, "staged.db"), bucketFiles, bucketDirs, bucketMods)
	if err != nil {
		return nil, err
	}
	return &Area{db: db, workDir: workDir}, nil
}

// Close releases the underlying bbolt handle.
func (a *Area) Close() error { return a.db.Close() }

// HeadTree is what Add/Remove need from the committed tree to classify a
// path: the merkle store plus HEAD's root Dir hash (zero for an unborn
// branch).
type HeadTree struct {
	Store merkle.Store
	Root  types.Hash
}

func (h HeadTree) resolve(path string) (merkle.Resolved, bool, error) {
	if h.Root.IsZero() {
		return merkle.Resolved{}, false, nil
	}
	res, err := merkle.Resolve(h.Store, h.Root, path)
	if err != nil {
		if err == merkle.ErrNotFound {
			return merkle.Resolved{}, false, nil
		}
		return merkle.Resolved{}, false, err
	}
	return res, true, nil
}

// Add stages path (a file or, recursively, a directory) relative to
// workDir. Adding a file whose content is byte-identical to HEAD's entry
// at that path is a no-op (and clears any stale staged entry for it);
// adding a directory recurses in parallel over its files via a
// sourcegraph/conc worker pool, since hashing is the dominant cost on
// wide dataset directories.
func (a *Area) Add(head HeadTree, path string) error {
	full := filepath.Join(a.workDir, path)
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return a.addFile(head, path)
	}

	var files []string
	err = filepath.Walk(full, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.workDir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return err
	}

	p := pool.New().WithErrors()
	for _, rel := range files {
		rel := rel
		p.Go(func() error { return a.addFile(head, rel) })
	}
	return p.Wait()
}

func (a *Area) addFile(head HeadTree, path string) error {
	data, err := os.ReadFile(filepath.Join(a.workDir, path))
	if err != nil {
		return err
	}
	hash := types.HashBytes(data)

	existing, found, err := head.resolve(path)
	if err != nil {
		return err
	}

	var entry types.StagedEntry
	switch {
	case !found:
		entry = types.StagedEntry{Path: path, Status: types.StatusAdded, HashAfter: hash, NumBytes: int64(len(data))}
	case existing.Kind == types.KindFile && existing.File.Hash == hash:
		// Identical to HEAD: nothing to stage; clear any stale entry.
		return a.db.Bucket(bucketFiles).Delete([]byte(path))
	case existing.Kind == types.KindFile:
		entry = types.StagedEntry{
			Path: path, Status: types.StatusModified,
			HashBefore: existing.File.Hash, HashAfter: hash, NumBytes: int64(len(data)),
		}
	default:
		// HEAD has a non-file (e.g. was a directory) at this path: treat
		// the file as newly added at this path.
		entry = types.StagedEntry{Path: path, Status: types.StatusAdded, HashAfter: hash, NumBytes: int64(len(data))}
	}

	if err := a.putEntry(entry); err != nil {
		return err
	}
	return a.recomputeDirStats(path)
}

func (a *Area) putEntry(e types.StagedEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return a.db.Bucket(bucketFiles).Put([]byte(e.Path), data)
}

// RemoveOptions controls remove's behavior.
type RemoveOptions struct {
	// Staged unstages path instead of removing it from the working tree.
	Staged bool
	// Recursive applies to directory paths.
	Recursive bool
}

// Remove implements `rm <path> [--recursive] [--staged]`. With Staged, it
// unstages path (reverting it to HEAD's state in staging, i.e. simply
// deleting the staged entry). Otherwise it records a Removed staged entry
// against HEAD's content at that path.
func (a *Area) Remove(head HeadTree, path string, opts RemoveOptions) error {
	if opts.Staged {
		if opts.Recursive {
			return a.db.Bucket(bucketFiles).DeletePrefix([]byte(path))
		}
		return a.db.Bucket(bucketFiles).Delete([]byte(path))
	}

	existing, found, err := head.resolve(path)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if existing.Kind == types.KindDir {
		if !opts.Recursive {
			return errNotRecursive
		}
		entries, err := merkle.ListDir(head.Store, existing.Dir.Hash)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := a.Remove(head, joinPath(path, e.Path), RemoveOptions{Recursive: true}); err != nil {
				return err
			}
		}
		return nil
	}
	var before types.Hash
	if existing.Kind == types.KindFile {
		before = existing.File.Hash
	}
	if err := a.putEntry(types.StagedEntry{Path: path, Status: types.StatusRemoved, HashBefore: before}); err != nil {
		return err
	}
	return a.recomputeDirStats(path)
}

func joinPath(dir, base string) string {
	if dir == "" {
		return base
	}
	return dir + "/" + base
}

// StagedData is the result of Status(): every staged entry plus untracked
// working-tree files reachable from root.
type StagedData struct {
	Entries   []types.StagedEntry
	Untracked []string
}

// Status enumerates staged entries plus untracked files reachable from
// the working tree, excluding paths the ignore matcher excludes. It reads
// a consistent snapshot of staged_files (a single bbolt read transaction)
// so it never observes a partial write from a concurrent Add.
func (a *Area) Status(head HeadTree, ignoreMatcher ignore.Matcher) (StagedData, error) {
	var data StagedData
	staged := map[string]bool{}
	err := a.db.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
		var e types.StagedEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		data.Entries = append(data.Entries, e)
		staged[e.Path] = true
		return nil
	})
	if err != nil {
		return StagedData{}, err
	}
	sort.Slice(data.Entries, func(i, j int) bool { return data.Entries[i].Path < data.Entries[j].Path })

	err = filepath.Walk(a.workDir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.workDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, ".") {
			return nil
		}
		if ignoreMatcher != nil && ignoreMatcher.Ignore(rel) {
			return nil
		}
		if staged[rel] {
			return nil
		}
		if _, found, err := head.resolve(rel); err != nil {
			return err
		} else if found {
			return nil
		}
		data.Untracked = append(data.Untracked, rel)
		return nil
	})
	if err != nil {
		return StagedData{}, err
	}
	sort.Strings(data.Untracked)
	return data, nil
}

// Clear truncates the staged_files and staged_dirs tables (one write
// transaction each), called after a successful commit. staged_mods (row-level edits) are
// scoped per (branch, user) and are cleared independently by the tabular
// engine once their edits are materialized into a commit.
func (a *Area) Clear() error {
	if err := a.db.Bucket(bucketFiles).Truncate(); err != nil {
		return err
	}
	return a.db.Bucket(bucketDirs).Truncate()
}

// Entries returns every currently staged file-level entry.
func (a *Area) Entries() ([]types.StagedEntry, error) {
	var out []types.StagedEntry
	err := a.db.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
		var e types.StagedEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// DirStats returns the aggregated staged-change summary for dir, or the
// zero value if nothing under it is staged.
func (a *Area) DirStats(dir string) (DirStats, error) {
	data, err := a.db.Bucket(bucketDirs).Get([]byte(dir))
	if err != nil {
		if err == kv.ErrNotFound {
			return DirStats{}, nil
		}
		return DirStats{}, err
	}
	var stats DirStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return DirStats{}, err
	}
	return stats, nil
}

// recomputeDirStats recomputes and persists the DirStats for path's
// ancestor directories by rescanning the current staged_files table. It
// is simple rather than incremental: correctness matters far more than
// shaving an O(entries) rescan off a single staged add/remove.
func (a *Area) recomputeDirStats(path string) error {
	dirs := ancestorDirs(path)
	totals := make(map[string]*DirStats, len(dirs))
	for _, d := range dirs {
		totals[d] = &DirStats{}
	}
	err := a.db.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
		var e types.StagedEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		for _, d := range ancestorDirs(e.Path) {
			t, ok := totals[d]
			if !ok {
				continue
			}
			switch e.Status {
			case types.StatusAdded:
				t.Added++
			case types.StatusModified:
				t.Modified++
			case types.StatusRemoved:
				t.Removed++
			}
			t.TotalBytes += e.NumBytes
		}
		return nil
	})
	if err != nil {
		return err
	}
	for d, stats := range totals {
		if stats.Added == 0 && stats.Modified == 0 && stats.Removed == 0 {
			if err := a.db.Bucket(bucketDirs).Delete([]byte(d)); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		if err := a.db.Bucket(bucketDirs).Put([]byte(d), data); err != nil {
			return err
		}
	}
	return nil
}

func ancestorDirs(path string) []string {
	parts := strings.Split(path, "/")
	if len(parts) <= 1 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[:i], "/"))
	}
	return out
}

// --- staged row mods (per branch/user tabular edit log) ---

func modKey(branch, user, targetPath string, rowID uint64) []byte {
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], rowID)
	key := branch + "\x00" + user + "\x00" + targetPath + "\x00"
	return append([]byte(key), idBuf[:]...)
}

func modPrefix(branch, user, targetPath string) []byte {
	return []byte(branch + "\x00" + user + "\x00" + targetPath + "\x00")
}

// PutRowMod persists one staged row-level operation, keyed by
// (branch, user, target path, row id).
func (a *Area) PutRowMod(branch, user string, mod types.StagedRowMod) error {
	data, err := json.Marshal(mod)
	if err != nil {
		return err
	}
	return a.db.Bucket(bucketMods).Put(modKey(branch, user, mod.TargetFilePath, mod.RowID), data)
}

// ListRowMods returns every staged row mod for (branch, user, targetPath),
// in row-id order (bbolt's byte-sorted key order, since row ids are
// encoded big-endian).
func (a *Area) ListRowMods(branch, user, targetPath string) ([]types.StagedRowMod, error) {
	var out []types.StagedRowMod
	err := a.db.Bucket(bucketMods).PrefixScan(modPrefix(branch, user, targetPath), func(_, v []byte) (bool, error) {
		var m types.StagedRowMod
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		out = append(out, m)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRowMod removes a single staged row mod.
func (a *Area) DeleteRowMod(branch, user, targetPath string, rowID uint64) error {
	return a.db.Bucket(bucketMods).Delete(modKey(branch, user, targetPath, rowID))
}

// ClearRowMods removes every staged row mod for (branch, user,
// targetPath), called once their edits are materialized into a commit.
func (a *Area) ClearRowMods(branch, user, targetPath string) error {
	return a.db.Bucket(bucketMods).DeletePrefix(modPrefix(branch, user, targetPath))
}
