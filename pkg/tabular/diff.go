package tabular

import (
	"fmt"
	"sort"

	"github.com/silo-vc/silo/pkg/types"
)

// SchemaDiff classifies the columns that differ between two schemas —
// added, removed, unchanged by name — used both to drive Diff's
// output-column selection and exposed as a first-class return value of
// its own.
type SchemaDiff struct {
	AddedCols     []string
	RemovedCols   []string
	UnchangedCols []string
}

// DiffSchemas compares two schemas by column name (not position): a
// column present in both with the same dtype is unchanged; present in
// both with different dtypes counts as both added and removed (a dtype
// change looks like a column swap to the join).
func DiffSchemas(left, right types.Schema) SchemaDiff {
	leftFields := map[string]types.DType{}
	for _, f := range left.Fields {
		leftFields[f.Name] = f.DType
	}
	rightFields := map[string]types.DType{}
	for _, f := range right.Fields {
		rightFields[f.Name] = f.DType
	}

	var diff SchemaDiff
	for name, lt := range leftFields {
		rt, ok := rightFields[name]
		switch {
		case !ok:
			diff.RemovedCols = append(diff.RemovedCols, name)
		case rt != lt:
			diff.RemovedCols = append(diff.RemovedCols, name)
			diff.AddedCols = append(diff.AddedCols, name)
		default:
			diff.UnchangedCols = append(diff.UnchangedCols, name)
		}
	}
	for name := range rightFields {
		if _, ok := leftFields[name]; !ok {
			diff.AddedCols = append(diff.AddedCols, name)
		}
	}
	sort.Strings(diff.AddedCols)
	sort.Strings(diff.RemovedCols)
	sort.Strings(diff.UnchangedCols)
	return diff
}

// RowDiffEntry is one row of a tabular diff's result: the coalesced key
// columns, the row's data from whichever side(s) it appears on, and its
// classification.
type RowDiffEntry struct {
	Keys   Row
	Left   Row // nil if Status == Added
	Right  Row // nil if Status == Removed
	Status types.DiffStatus
}

// RowDiffResult is the full output of Diff: the row-level projection plus
// the parallel schema-diff view.
type RowDiffResult struct {
	Rows       []RowDiffEntry
	SchemaDiff SchemaDiff
}

// Diff computes the tabular diff: a full outer join of left and right on
// the key columns' KeyHash, classifying each joined row as
// Added/Removed/Modified (unchanged rows are dropped). If keys is empty,
// every column of both sides is used as the target set and rows are
// compared by full-row target hash instead of a join key.
func Diff(left, right []Row, keys, targets []string, leftSchema, rightSchema types.Schema) RowDiffResult {
	if len(keys) == 0 {
		targets = nonKeyColumns(append(append([]Row{}, left...), right...), nil)
	} else if len(targets) == 0 {
		targets = nonKeyColumns(append(append([]Row{}, left...), right...), keys)
	}

	leftByKey := indexByKey(left, keys)
	rightByKey := indexByKey(right, keys)

	var entries []RowDiffEntry
	seen := map[uint64]bool{}

	order := make([]uint64, 0, len(leftByKey)+len(rightByKey))
	for k := range leftByKey {
		order = append(order, k)
	}
	for k := range rightByKey {
		if _, ok := leftByKey[k]; !ok {
			order = append(order, k)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, k := range order {
		if seen[k] {
			continue
		}
		seen[k] = true
		l, hasLeft := leftByKey[k]
		r, hasRight := rightByKey[k]
		switch {
		case hasLeft && !hasRight:
			entries = append(entries, RowDiffEntry{Keys: keyRow(l, keys), Left: l, Status: types.DiffRemoved})
		case !hasLeft && hasRight:
			entries = append(entries, RowDiffEntry{Keys: keyRow(r, keys), Right: r, Status: types.DiffAdded})
		default:
			if TargetHash(l, targets) != TargetHash(r, targets) {
				entries = append(entries, RowDiffEntry{Keys: keyRow(r, keys), Left: l, Right: r, Status: types.DiffModified})
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return lessKeyRow(entries[i].Keys, entries[j].Keys, keys) })

	return RowDiffResult{
		Rows:       entries,
		SchemaDiff: DiffSchemas(leftSchema, rightSchema),
	}
}

func indexByKey(rows []Row, keys []string) map[uint64]Row {
	m := make(map[uint64]Row, len(rows))
	for _, r := range rows {
		if len(keys) == 0 {
			m[rowIdentityHash(r)] = r
			continue
		}
		m[KeyHash(r, keys)] = r
	}
	return m
}

func keyRow(r Row, keys []string) Row {
	out := make(Row, len(keys))
	for _, k := range keys {
		out[k] = r[k]
	}
	return out
}

func lessKeyRow(a, b Row, keys []string) bool {
	for _, k := range keys {
		av := fmtVal(a[k])
		bv := fmtVal(b[k])
		if av != bv {
			return av < bv
		}
	}
	return false
}

func fmtVal(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
