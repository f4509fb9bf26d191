// Package tabular is the tabular engine: schema inference over sampled
// rows, row/key/target hashing for diff and join, the outer-join tabular
// diff algorithm, and per-(branch, user) indexed dataframes for staged
// row edits.
package tabular

import (
	"sort"

	"github.com/silo-vc/silo/pkg/types"
)

// Row is one decoded JSON record, column name to Go value (string,
// float64, bool, nil, []any, or a nested map for structured columns).
type Row map[string]any

// SampleLimit caps how many rows InferSchema examines.
const SampleLimit = 1000

// InferSchema infers column names and dtypes from a sample of rows. Column
// order is the order names are first seen across the sampled rows, which
// keeps inference deterministic for a given row order. Rows beyond
// SampleLimit are not examined.
func InferSchema(rows []Row) types.Schema {
	limit := len(rows)
	if limit > SampleLimit {
		limit = SampleLimit
	}

	order := []string{}
	seen := map[string]bool{}
	dtypes := map[string]types.DType{}

	for _, row := range rows[:limit] {
		names := make([]string, 0, len(row))
		for name := range row {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
				dtypes[name] = types.DTypeNull
			}
			dtypes[name] = widen(dtypes[name], inferValueType(row[name]))
		}
	}

	fields := make([]types.Field, 0, len(order))
	for _, name := range order {
		fields = append(fields, types.Field{Name: name, DType: dtypes[name]})
	}
	schema := types.Schema{Fields: fields}
	schema.Hash = schema.ComputeHash()
	return schema
}

// inferValueType classifies a single decoded JSON value against the
// closed dtype lattice. encoding/json decodes all JSON numbers as
// float64, so integer-vs-float distinction is made on the value itself
// (whole numbers are reported as i64, matching the common case of
// integer-typed columns read from CSV/JSON-lines); a caller that knows a
// narrower width from the source format may override this afterward.
func inferValueType(v any) types.DType {
	switch val := v.(type) {
	case nil:
		return types.DTypeNull
	case bool:
		return types.DTypeBool
	case string:
		return types.DTypeString
	case float64:
		if val == float64(int64(val)) {
			return types.DTypeI64
		}
		return types.DTypeF64
	case []any:
		if len(val) == 0 {
			return types.ListType(types.DTypeUnknown)
		}
		return types.ListType(inferValueType(val[0]))
	default:
		return types.DTypeUnknown
	}
}

// widen combines two observed dtypes for the same column across rows. A
// column that never resolves (e.g. every value seen so far was null) stays
// DTypeNull until the first non-null is found; two different numeric
// types widen to DTypeF64, and any other conflict widens to DTypeUnknown
// rather than guessing.
func widen(a, b types.DType) types.DType {
	switch {
	case a == types.DTypeNull:
		return b
	case b == types.DTypeNull:
		return a
	case a == b:
		return a
	case isNumeric(a) && isNumeric(b):
		return types.DTypeF64
	default:
		return types.DTypeUnknown
	}
}

func isNumeric(d types.DType) bool {
	switch d {
	case types.DTypeU8, types.DTypeU16, types.DTypeU32, types.DTypeU64,
		types.DTypeI8, types.DTypeI16, types.DTypeI32, types.DTypeI64,
		types.DTypeF32, types.DTypeF64:
		return true
	default:
		return false
	}
}
