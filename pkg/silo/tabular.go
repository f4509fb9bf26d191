package silo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/silo-vc/silo/internal/config"
	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/tabular"
	"github.com/silo-vc/silo/pkg/types"
)

// tabularDelimiter reports the field delimiter for path's extension, and
// whether the engine's delimited-text codec (pkg/tabular/csv.go) can
// parse it.
func tabularDelimiter(path string) (rune, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ',', true
	case ".tsv":
		return '\t', true
	default:
		return 0, false
	}
}

// stageSchemas infers a Schema for every staged tabular file and persists
// it to the tree store, returning the path->hash map CommitOptions.
// SchemaHashes expects. A file that fails to parse under its extension's
// delimiter (most likely not actually delimited data) is skipped rather
// than failing the commit.
func (r *Repository) stageSchemas(entries []types.StagedEntry) (map[string]types.Hash, error) {
	out := map[string]types.Hash{}
	for _, e := range entries {
		if e.Status == types.StatusRemoved {
			continue
		}
		delim, ok := tabularDelimiter(e.Path)
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.WorkDir, e.Path))
		if err != nil {
			return nil, err
		}
		rows, err := tabular.ReadCSV(data, delim)
		if err != nil || len(rows) == 0 {
			continue
		}
		schema := tabular.InferSchema(rows)
		schema.Name = e.Path
		schema.Hash = schema.ComputeHash()
		if err := r.Trees.PutSchema(&schema); err != nil {
			return nil, err
		}
		out[e.Path] = schema.Hash
	}
	return out, nil
}

// CommitStaged implements `commit -m <msg>`: infers schemas for any
// staged tabular files before delegating to Commit.
func (r *Repository) CommitStaged(identity config.Identity, message string, allowEmpty bool) (*types.Commit, error) {
	entries, err := r.Staging.Entries()
	if err != nil {
		return nil, err
	}
	schemaHashes, err := r.stageSchemas(entries)
	if err != nil {
		return nil, err
	}
	return r.Commit(identity, message, CommitOptions{AllowEmpty: allowEmpty, SchemaHashes: schemaHashes})
}

// ReadRows reads and parses path's rows as of ref, for callers (diff, the
// indexed-edit session opener) that need decoded rows rather than raw
// bytes.
func (r *Repository) ReadRows(ref, path string) ([]tabular.Row, error) {
	delim, ok := tabularDelimiter(path)
	if !ok {
		return nil, errs.At(errs.Invalid, path, fmt.Errorf("silo: %s has no recognized tabular extension", path))
	}
	data, err := r.ReadFileAt(ref, path)
	if err != nil {
		return nil, err
	}
	return tabular.ReadCSV(data, delim)
}

// schemaAt resolves path's stored Schema as of ref, inferring one fresh
// from its current rows if the FileEntry carries no SchemaHash yet.
func (r *Repository) schemaAt(ref, path string, rows []tabular.Row) (types.Schema, error) {
	f, err := r.resolveFileEntry(ref, path)
	if err != nil {
		return types.Schema{}, err
	}
	if f.SchemaHash.IsZero() {
		return tabular.InferSchema(rows), nil
	}
	s, err := r.Trees.GetSchema(f.SchemaHash)
	if err != nil {
		return types.Schema{}, err
	}
	return *s, nil
}

// DiffTabular implements `diff <r1> [r2] --keys k,... --compares c,...`
// for a single tabular path: the outer-join row diff plus schema diff
// between path's content at r1 and r2.
func (r *Repository) DiffTabular(r1, r2, path string, keys, targets []string) (tabular.RowDiffResult, error) {
	leftRows, err := r.ReadRows(r1, path)
	if err != nil {
		return tabular.RowDiffResult{}, err
	}
	rightRows, err := r.ReadRows(r2, path)
	if err != nil {
		return tabular.RowDiffResult{}, err
	}
	leftSchema, err := r.schemaAt(r1, path, leftRows)
	if err != nil {
		return tabular.RowDiffResult{}, err
	}
	rightSchema, err := r.schemaAt(r2, path, rightRows)
	if err != nil {
		return tabular.RowDiffResult{}, err
	}
	return tabular.Diff(leftRows, rightRows, keys, targets, leftSchema, rightSchema), nil
}

// SchemaEntry pairs a tabular file's path with its committed Schema, the
// `schemas [ref] list` view.
type SchemaEntry struct {
	Path   string
	Schema types.Schema
}

// ListSchemas walks ref's tree and returns the schema of every tabular
// file committed with one, sorted by path.
func (r *Repository) ListSchemas(ref string) ([]SchemaEntry, error) {
	root, err := r.ResolveTree(ref)
	if err != nil {
		return nil, err
	}
	var out []SchemaEntry
	if err := r.collectSchemas(root, &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (r *Repository) collectSchemas(dirHash types.Hash, out *[]SchemaEntry) error {
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
				if err := r.collectSchemas(child.Hash, out); err != nil {
					return err
				}
			case types.KindFile:
				f, err := r.Trees.GetFile(child.Hash)
				if err != nil {
					return err
				}
				if f.SchemaHash.IsZero() {
					continue
				}
				s, err := r.Trees.GetSchema(f.SchemaHash)
				if err != nil {
					return err
				}
				*out = append(*out, SchemaEntry{Path: f.Path, Schema: *s})
			}
		}
	}
	return nil
}

// SchemaFor resolves the committed Schema of a single tabular path as of
// ref, the `schemas <ref> <path>` lookup.
func (r *Repository) SchemaFor(ref, path string) (types.Schema, error) {
	f, err := r.resolveFileEntry(ref, path)
	if err != nil {
		return types.Schema{}, err
	}
	if f.SchemaHash.IsZero() {
		return types.Schema{}, errs.At(errs.NotFound, path, fmt.Errorf("silo: %s has no committed schema", path))
	}
	s, err := r.Trees.GetSchema(f.SchemaHash)
	if err != nil {
		return types.Schema{}, err
	}
	return *s, nil
}

// NameSchema attaches a display name to the schema committed for path at
// HEAD. The name is a label outside the schema's identity hash, so
// renaming rewrites the stored schema in place without producing a new
// node or a new commit.
func (r *Repository) NameSchema(path, name string) error {
	s, err := r.SchemaFor("HEAD", path)
	if err != nil {
		return err
	}
	s.Name = name
	return r.Trees.PutSchema(&s)
}

// IndexedSession is one (branch, user, path) edit session over an indexed
// dataframe (append/modify/delete/restore/diff), backed by
// the repository's staging area so edits survive a process restart.
type IndexedSession struct {
	repo   *Repository
	Branch string
	User   string
	Path   string
	delim  rune
	Table  *tabular.IndexedTable
}

// IndexDataframe opens (or resumes) an edit session on path as committed
// on branch, scoped to user. If staged row mods already exist for this
// (branch, user, path) — from an earlier session in this or a prior
// process — the table is rehydrated from them instead of re-reading
// branch's committed file, so in-flight edits are never lost; otherwise
// it is freshly indexed from the committed content.
func (r *Repository) IndexDataframe(branch, user, path string, keyCols, targetCols []string) (*IndexedSession, error) {
	delim, ok := tabularDelimiter(path)
	if !ok {
		return nil, errs.At(errs.Invalid, path, fmt.Errorf("silo: %s has no recognized tabular extension", path))
	}
	commit, err := r.resolveCommit(branch)
	if err != nil {
		return nil, err
	}
	baseRows, err := r.ReadRows(branch, path)
	if err != nil {
		return nil, err
	}
	schema, err := r.schemaAt(branch, path, baseRows)
	if err != nil {
		return nil, err
	}

	existing, err := r.Staging.ListRowMods(branch, user, path)
	if err != nil {
		return nil, err
	}

	var table *tabular.IndexedTable
	if len(existing) > 0 {
		table = tabular.RehydrateIndexedTable(commit, schema, keyCols, targetCols, existing, len(baseRows))
	} else {
		table = tabular.NewIndexedTable(commit, schema, keyCols, targetCols, baseRows)
	}
	return &IndexedSession{repo: r, Branch: branch, User: user, Path: path, delim: delim, Table: table}, nil
}

// checkStale refuses the edit if branch has moved past the commit this
// session was indexed from.
func (s *IndexedSession) checkStale() error {
	head, err := s.repo.resolveCommit(s.Branch)
	if err != nil {
		return err
	}
	return s.Table.CheckBase(head)
}

// persist flushes the session's current row state to the staging area's
// row-mod log, so an edit survives a process restart before it is
// committed.
func (s *IndexedSession) persist() error {
	mods, err := s.Table.MarshalRowMods(s.Path)
	if err != nil {
		return err
	}
	for _, m := range mods {
		if err := s.repo.Staging.PutRowMod(s.Branch, s.User, m); err != nil {
			return err
		}
	}
	return nil
}

// Append implements `append(json_row)`.
func (s *IndexedSession) Append(row tabular.Row) (rowID uint64, oxenID string, err error) {
	if err := s.checkStale(); err != nil {
		return 0, "", err
	}
	rowID, oxenID = s.Table.Append(row)
	if err := s.persist(); err != nil {
		return 0, "", err
	}
	return rowID, oxenID, nil
}

// Modify implements `modify(row_id, json_patch)`.
func (s *IndexedSession) Modify(rowID uint64, patch map[string]any) error {
	if err := s.checkStale(); err != nil {
		return err
	}
	if err := s.Table.Modify(rowID, patch); err != nil {
		return errs.At(errs.NotFound, s.Path, err)
	}
	return s.persist()
}

// Delete implements `delete(row_id)`.
func (s *IndexedSession) Delete(rowID uint64) error {
	if err := s.checkStale(); err != nil {
		return err
	}
	if err := s.Table.Delete(rowID); err != nil {
		return errs.At(errs.NotFound, s.Path, err)
	}
	return s.persist()
}

// Restore implements `restore(row_id)`.
func (s *IndexedSession) Restore(rowID uint64) error {
	if err := s.checkStale(); err != nil {
		return err
	}
	if err := s.Table.Restore(rowID); err != nil {
		return errs.At(errs.NotFound, s.Path, err)
	}
	return s.persist()
}

// Diff implements `diff()`: the staged edits against the committed
// dataframe this session was indexed from.
func (s *IndexedSession) Diff() (tabular.RowDiffResult, error) {
	baseRows, err := s.repo.ReadRows(s.Branch, s.Path)
	if err != nil {
		return tabular.RowDiffResult{}, err
	}
	return s.Table.Diff(baseRows), nil
}

// Commit materializes the session's staged edits: writes a new tabular
// file reflecting them, stages and commits it via the commit writer, and
// clears this session's row-mod log.
func (s *IndexedSession) Commit(identity config.Identity, message string) (*types.Commit, error) {
	if err := s.checkStale(); err != nil {
		return nil, err
	}
	data, err := tabular.WriteCSV(s.Table.Rows(), s.Table.Schema, s.delim)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(s.repo.WorkDir, s.Path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, err
	}
	if err := s.repo.Add(s.Path); err != nil {
		return nil, err
	}
	commit, err := s.repo.CommitStaged(identity, message, false)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Staging.ClearRowMods(s.Branch, s.User, s.Path); err != nil {
		return nil, err
	}
	return commit, nil
}
