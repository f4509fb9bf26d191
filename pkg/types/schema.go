package types

// DType is a column's data type, drawn from a closed lattice so that
// schema hashes and compatibility checks are stable across implementations.
type DType string

// The closed dtype lattice. ListOf(dtype) values use the
// "list<T>" textual form produced by ListType.
const (
	DTypeBool    DType = "bool"
	DTypeU8      DType = "u8"
	DTypeU16     DType = "u16"
	DTypeU32     DType = "u32"
	DTypeU64     DType = "u64"
	DTypeI8      DType = "i8"
	DTypeI16     DType = "i16"
	DTypeI32     DType = "i32"
	DTypeI64     DType = "i64"
	DTypeF32     DType = "f32"
	DTypeF64     DType = "f64"
	DTypeString  DType = "string"
	DTypeDate    DType = "date"
	DTypeTime    DType = "time"
	DTypeNull    DType = "null"
	DTypeUnknown DType = "unknown"
)

// ListType returns the "list<T>" dtype string for element type t.
func ListType(t DType) DType {
	return DType("list<" + string(t) + ">")
}

// Field is one column of a Schema.
type Field struct {
	Name  string
	DType DType
}

// Schema describes the columns of a committed tabular file. Hash is a
// stable content hash over the ordered Fields list; a differing schema
// forces a new Schema node with a new hash.
type Schema struct {
	Name   string
	Hash   Hash
	Fields []Field
}

// ComputeHash returns the content hash of the schema's fields, in
// declaration order (order is part of identity: reordering columns is a
// schema change).
func (s Schema) ComputeHash() Hash {
	fields := make([]string, 0, len(s.Fields)*2)
	for _, f := range s.Fields {
		fields = append(fields, f.Name, string(f.DType))
	}
	return HashFields(fields...)
}
