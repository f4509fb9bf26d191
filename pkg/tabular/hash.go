package tabular

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// KeyHash computes a stable xxhash over row's key columns, iterating in
// declared schema order (not map order) so the hash is stable regardless
// of how the row's map happened to be built. Used as the outer-join key in
// Diff and as the row's identity for indexed-table lookups.
func KeyHash(row Row, keyCols []string) uint64 {
	return fieldHash(row, keyCols)
}

// TargetHash computes a stable xxhash over row's target (non-key,
// compared) columns, in declared order.
func TargetHash(row Row, targetCols []string) uint64 {
	return fieldHash(row, targetCols)
}

func fieldHash(row Row, cols []string) uint64 {
	h := xxhash.New()
	for _, c := range cols {
		fmt.Fprintf(h, "%s=%v;", c, row[c])
	}
	return h.Sum64()
}

// rowIdentityHash hashes every column of row in sorted name order, the
// join key used when no key columns are supplied: each row's full
// content is its identity.
func rowIdentityHash(row Row) uint64 {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return fieldHash(row, cols)
}

// nonKeyColumns returns every column name present across rows that is not
// in keys, sorted, used as the fallback target-column set when the caller
// supplies no explicit targets.
func nonKeyColumns(rows []Row, keys []string) []string {
	isKey := map[string]bool{}
	for _, k := range keys {
		isKey[k] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, row := range rows {
		for col := range row {
			if isKey[col] || seen[col] {
				continue
			}
			seen[col] = true
			out = append(out, col)
		}
	}
	sort.Strings(out)
	return out
}
