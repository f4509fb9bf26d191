package types

// NodeKind tags the four TreeNode variants that make up the merkle
// directory index (see pkg/merkle).
type NodeKind uint8

const (
	// KindDir is a directory: its children are always VNodes.
	KindDir NodeKind = iota + 1
	// KindVNode is a fan-out bucket under a Dir, keyed by the two-char
	// prefix of hash(child.path). Its children are Files, sub-Dirs, or
	// Schemas.
	KindVNode
	// KindFile is a committed leaf file entry.
	KindFile
	// KindSchema is a schema node attached to a tabular file's path.
	KindSchema
)

func (k NodeKind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindVNode:
		return "vnode"
	case KindFile:
		return "file"
	case KindSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// ChildDescriptor is the minimal reference to a child node: kind, hash,
// and (when the parent is a VNode) the child's path. Children lists store
// descriptors, never inlined payloads, so that unchanged subtrees can be
// adopted by reference across commits (structural sharing).
type ChildDescriptor struct {
	Kind NodeKind
	Hash Hash
	// Path is set for VNode children (Files, sub-Dirs, Schemas) and for
	// Dir children that are VNodes it is instead the VNode's bucket
	// prefix (see VNodePrefixKey).
	Path string
}

// Dir is a fan-out shard: every directory, regardless of population,
// routes children through VNodes keyed by the two-char prefix of the
// hashed child path.
type Dir struct {
	Hash     Hash
	Children []ChildDescriptor // always KindVNode
}

// VNode is the bucket layer between a Dir and its entries. Children are
// sorted by hash(child.path) for binary search.
type VNode struct {
	Hash   Hash
	Prefix string // two-char hex prefix this bucket owns
	// Children are Files, sub-Dirs, or Schemas, sorted by hash(Path).
	Children []ChildDescriptor
}

// FileEntry is a committed leaf. Identity = Hash + Path.
type FileEntry struct {
	Hash         Hash
	Path         string
	NumBytes     int64
	LastModified int64 // unix seconds
	IntroducedIn Hash  // commit id that first introduced this content at this path
	SchemaHash   Hash  // zero if not tabular
}

// TreeHash returns the hash identifying this FileEntry as a tree node
// (distinct from Hash, which identifies the file's byte content).
func (f FileEntry) TreeHash() Hash {
	return HashFields("file", f.Path, f.Hash.String(), f.SchemaHash.String())
}

// SchemaNode attaches a Schema to a path within a directory tree.
type SchemaNode struct {
	Path       string
	SchemaHash Hash
}

func (s SchemaNode) TreeHash() Hash {
	return HashFields("schema", s.Path, s.SchemaHash.String())
}
