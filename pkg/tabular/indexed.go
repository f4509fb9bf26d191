package tabular

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/silo-vc/silo/pkg/types"
)

// ErrStaleBase is returned when a commit lands on the branch an indexed
// table was built from while edits are still in flight against it: the
// engine surfaces this rather than silently applying edits against a
// moved head.
var ErrStaleBase = errors.New("tabular: indexed table's base commit is stale; re-index")

// IndexedTable is one committed dataframe copied into an in-process
// analytical store for row-granular staged editing by a single
// (branch, user) — an indexed dataframe. Every staged row carries two
// ids: an internal sequential row id, stable for the life of the edit
// session, and an oxen_id (UUID) assigned when a row is appended.
type IndexedTable struct {
	// BaseCommit is the commit this table was indexed from; CheckBase
	// reports ErrStaleBase once the branch has moved past it.
	BaseCommit types.Hash
	Schema     types.Schema
	KeyCols    []string
	TargetCols []string

	rows    map[uint64]Row // row id -> row, including staged appends
	order   []uint64       // insertion order of base rows, for stable iteration
	deleted *roaring.Bitmap
	nextID  uint64
}

// NewIndexedTable builds an indexed table from a committed dataframe's
// rows as of baseCommit. Row ids are assigned sequentially in the order
// rows are given, starting at 0.
func NewIndexedTable(baseCommit types.Hash, schema types.Schema, keyCols, targetCols []string, baseRows []Row) *IndexedTable {
	t := &IndexedTable{
		BaseCommit: baseCommit,
		Schema:     schema,
		KeyCols:    keyCols,
		TargetCols: targetCols,
		rows:       make(map[uint64]Row, len(baseRows)),
		deleted:    roaring.New(),
	}
	for _, r := range baseRows {
		id := t.nextID
		t.nextID++
		t.rows[id] = copyRow(r)
		t.order = append(t.order, id)
	}
	return t
}

// copyRow shallow-copies a row map so staged mutations never alias the
// caller's (or the base snapshot's) rows.
func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RehydrateIndexedTable rebuilds an IndexedTable purely from its
// persisted per-row snapshots, the durable counterpart to
// NewIndexedTable for resuming an edit session across a process
// restart: pkg/staging's staged_mods bucket holds one StagedRowMod per
// row id, each carrying that row's full current payload (MarshalRowMods'
// output), rather than an incremental operation log. baseRowCount is the
// number of rows the table was originally indexed from, needed to tell
// base rows (tracked in order, for MarshalRowMods' append/modify split)
// apart from appended ones.
func RehydrateIndexedTable(baseCommit types.Hash, schema types.Schema, keyCols, targetCols []string, mods []types.StagedRowMod, baseRowCount int) *IndexedTable {
	t := &IndexedTable{
		BaseCommit: baseCommit,
		Schema:     schema,
		KeyCols:    keyCols,
		TargetCols: targetCols,
		rows:       make(map[uint64]Row, len(mods)),
		deleted:    roaring.New(),
	}
	for _, m := range mods {
		var row Row
		if err := json.Unmarshal(m.PayloadJSON, &row); err != nil {
			continue
		}
		t.rows[m.RowID] = row
		if int(m.RowID) < baseRowCount {
			t.order = append(t.order, m.RowID)
		}
		if m.Operation == types.RowDelete {
			t.deleted.Add(uint32(m.RowID))
		}
		if m.RowID >= t.nextID {
			t.nextID = m.RowID + 1
		}
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
	return t
}

// Append inserts a new row, assigning it a fresh internal row id (stable
// per edit session) and a fresh oxen_id (UUID v4), returning both.
func (t *IndexedTable) Append(row Row) (rowID uint64, oxenID string) {
	oxenID = uuid.NewString()
	r := copyRow(row)
	r["oxen_id"] = oxenID
	id := t.nextID
	t.nextID++
	t.rows[id] = r
	return id, oxenID
}

// Modify updates named columns of an existing row via a JSON patch
// (column name -> new value).
func (t *IndexedTable) Modify(rowID uint64, patch map[string]any) error {
	row, ok := t.rows[rowID]
	if !ok {
		return errors.New("tabular: row id not found")
	}
	for k, v := range patch {
		row[k] = v
	}
	return nil
}

// Delete logically deletes rowID: it remains in the row set (so Restore
// can undo the delete) but is flagged in the RoaringBitmap, an O(1) flip
// rather than a copy of the row set.
func (t *IndexedTable) Delete(rowID uint64) error {
	if _, ok := t.rows[rowID]; !ok {
		return errors.New("tabular: row id not found")
	}
	t.deleted.Add(uint32(rowID))
	return nil
}

// Restore undoes a staged delete by clearing rowID's deleted flag. It does
// not revert a staged modification: a modified row keeps its modified
// values, and neither the table nor the row-mod log keeps the original.
func (t *IndexedTable) Restore(rowID uint64) error {
	if _, ok := t.rows[rowID]; !ok {
		return errors.New("tabular: row id not found")
	}
	t.deleted.Remove(uint32(rowID))
	return nil
}

// IsDeleted reports whether rowID is currently flagged deleted.
func (t *IndexedTable) IsDeleted(rowID uint64) bool {
	return t.deleted.Contains(uint32(rowID))
}

// Rows returns every live (non-deleted) row, in row-id order.
func (t *IndexedTable) Rows() []Row {
	ids := make([]uint64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Row, 0, len(ids))
	for _, id := range ids {
		if t.deleted.Contains(uint32(id)) {
			continue
		}
		out = append(out, t.rows[id])
	}
	return out
}

// Diff returns the Added/Modified/Removed projection of this table's
// staged state against the original base rows it was indexed from.
func (t *IndexedTable) Diff(baseRows []Row) RowDiffResult {
	return Diff(baseRows, t.Rows(), t.KeyCols, t.TargetCols, t.Schema, t.Schema)
}

// CheckBase returns ErrStaleBase if currentHead no longer matches the
// commit this table was indexed from, per the stale-base error the
// concurrency model requires rather than a silent rebase.
func (t *IndexedTable) CheckBase(currentHead types.Hash) error {
	if t.BaseCommit != currentHead {
		return ErrStaleBase
	}
	return nil
}

// MarshalRowMods serializes this table's current rows into the
// StagedRowMod entries pkg/staging persists, each keyed by its row id and
// carrying the row's full current payload: one RowModify (RowDelete if
// flagged deleted) per base row, and one RowAppend, with its oxen_id, per
// appended row.
func (t *IndexedTable) MarshalRowMods(targetPath string) ([]types.StagedRowMod, error) {
	var out []types.StagedRowMod
	for _, id := range t.order {
		// Base rows are logged whether or not they changed (never as
		// "append"); a Modify shows up as the mutated payload.
		row := t.rows[id]
		op := types.RowModify
		if t.deleted.Contains(uint32(id)) {
			op = types.RowDelete
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		out = append(out, types.StagedRowMod{TargetFilePath: targetPath, RowID: id, Operation: op, PayloadJSON: payload})
	}
	baseIDs := make(map[uint64]bool, len(t.order))
	for _, id := range t.order {
		baseIDs[id] = true
	}
	for id, row := range t.rows {
		if baseIDs[id] {
			continue
		}
		oxenID, _ := row["oxen_id"].(string)
		payload, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		out = append(out, types.StagedRowMod{TargetFilePath: targetPath, RowID: id, OxenID: oxenID, Operation: types.RowAppend, PayloadJSON: payload})
	}
	return out, nil
}
