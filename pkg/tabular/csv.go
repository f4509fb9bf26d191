package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/silo-vc/silo/pkg/types"
)

// ReadCSV parses delimiter-separated bytes (comma for CSV, tab for TSV)
// into Rows, using the first record as the header. Numeric fields are
// widened to float64 the same way InferSchema/inferValueType already
// assume JSON-decoded numbers arrive, so dtype inference behaves
// identically regardless of source format.
func ReadCSV(data []byte, delimiter rune) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("tabular: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			if i >= len(rec) {
				continue
			}
			row[col] = parseCSVValue(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseCSVValue widens a raw CSV field into the same {float64, bool,
// string} shape encoding/json would have decoded it to, so InferSchema's
// dtype inference behaves identically regardless of source format.
func parseCSVValue(s string) any {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// WriteCSV serializes rows back to delimiter-separated bytes, using
// schema's field order for deterministic column ordering, materializing a
// committed dataframe or a staged-edit result.
func WriteCSV(rows []Row, schema types.Schema, delimiter rune) ([]byte, error) {
	header := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		header[i] = f.Name
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		rec := make([]string, len(header))
		for i, col := range header {
			rec[i] = formatCSVValue(row[col])
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCSVValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ColumnOrder returns schema's field names in declaration order.
func ColumnOrder(schema types.Schema) []string {
	cols := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		cols[i] = f.Name
	}
	return cols
}
