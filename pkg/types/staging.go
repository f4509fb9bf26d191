package types

// StagedStatus classifies how a staged path relates to HEAD.
type StagedStatus string

const (
	StatusAdded    StagedStatus = "added"
	StatusModified StagedStatus = "modified"
	StatusRemoved  StagedStatus = "removed"
)

// StagedEntry is a pending file-level change relative to HEAD.
type StagedEntry struct {
	Path       string
	Status     StagedStatus
	HashAfter  Hash // zero for Removed
	HashBefore Hash // zero for Added
	NumBytes   int64
}

// RowOperation is the kind of edit a StagedRowMod applies to an indexed
// dataframe.
type RowOperation string

const (
	RowAppend  RowOperation = "append"
	RowModify  RowOperation = "modify"
	RowDelete  RowOperation = "delete"
	RowRestore RowOperation = "restore"
)

// StagedRowMod is a pending row-level tabular operation, scoped to a
// branch and a user identity.
type StagedRowMod struct {
	TargetFilePath string
	RowID          uint64 // internal, stable per edit session
	OxenID         string // UUID, assigned on Append
	Operation      RowOperation
	PayloadJSON    []byte
}

// DiffStatus classifies one row or column in a tabular/staged diff.
type DiffStatus string

const (
	DiffAdded    DiffStatus = "added"
	DiffRemoved  DiffStatus = "removed"
	DiffModified DiffStatus = "modified"
)
