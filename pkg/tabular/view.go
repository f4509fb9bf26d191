package tabular

import "github.com/silo-vc/silo/pkg/types"

// View is the JSON-marshalable wire shape of a tabular diff or a staged
// row set, kept stable so a future HTTP layer has a fixed shape to
// serialize even though that layer lives outside this module.
type View struct {
	Rows       []RowView  `json:"rows"`
	SchemaDiff SchemaView `json:"schema_diff"`
	Added      int        `json:"added"`
	Removed    int        `json:"removed"`
	Modified   int        `json:"modified"`
}

// RowView is one row of View's wire form.
type RowView struct {
	Status types.DiffStatus `json:"status"`
	Row    map[string]any   `json:"row"`
}

// SchemaView is the wire form of SchemaDiff.
type SchemaView struct {
	Added     []string `json:"added_cols"`
	Removed   []string `json:"removed_cols"`
	Unchanged []string `json:"unchanged_cols"`
}

// ToView renders a RowDiffResult into its wire shape, flattening each
// entry into one merged row: coalesced keys, plain values for one-sided
// rows, and .left/.right column pairs for modified rows.
func (r RowDiffResult) ToView() View {
	v := View{
		SchemaDiff: SchemaView{
			Added:     r.SchemaDiff.AddedCols,
			Removed:   r.SchemaDiff.RemovedCols,
			Unchanged: r.SchemaDiff.UnchangedCols,
		},
	}
	for _, e := range r.Rows {
		merged := map[string]any{}
		for k, val := range e.Keys {
			merged[k] = val
		}
		switch e.Status {
		case types.DiffAdded:
			v.Added++
			for k, val := range e.Right {
				merged[k] = val
			}
		case types.DiffRemoved:
			v.Removed++
			for k, val := range e.Left {
				merged[k] = val
			}
		case types.DiffModified:
			v.Modified++
			for k, val := range e.Left {
				merged[k+".left"] = val
			}
			for k, val := range e.Right {
				merged[k+".right"] = val
			}
		}
		v.Rows = append(v.Rows, RowView{Status: e.Status, Row: merged})
	}
	return v
}
