package objects

import (
	"fmt"
	"path/filepath"

	"github.com/silo-vc/silo/pkg/kv"
	"github.com/silo-vc/silo/pkg/types"
)

const (
	bucketDirs      = "dirs"
	bucketVNodes    = "vnodes"
	bucketFiles     = "files"
	bucketSchemas   = "schemas"
	bucketSchemaDef = "schema_defs"
)

// TreeStore is the tree-node half of the object store: one ordered KV
// bucket per node kind (dirs, vnodes, files, schemas), mapping node hash
// to its serialized bytes. Backed by a single bbolt file, objects.db,
// under the repository directory.
type TreeStore struct {
	db *kv.DB
}

// NewTreeStore opens (creating if necessary) objects.db under repoDir.
func NewTreeStore(repoDir string) (*TreeStore, error) {
	db, err := kv.Open(filepath.Join(repoDir, "objects.db"), bucketDirs, bucketVNodes, bucketFiles, bucketSchemas, bucketSchemaDef)
	if err != nil {
		return nil, err
	}
	return &TreeStore{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (t *TreeStore) Close() error { return t.db.Close() }

// PutDir stores a Dir node, asserting its Hash matches its serialization.
func (t *TreeStore) PutDir(d *types.Dir) error {
	data := SerializeDir(d)
	if got := types.HashBytes(data); got != d.Hash {
		return fmt.Errorf("objects: dir hash mismatch: declared %s, computed %s", d.Hash, got)
	}
	return t.db.Bucket(bucketDirs).Put(d.Hash[:], data)
}

// GetDir retrieves a Dir node by hash.
func (t *TreeStore) GetDir(hash types.Hash) (*types.Dir, error) {
	data, err := t.db.Bucket(bucketDirs).Get(hash[:])
	if err != nil {
		return nil, translateNotFound(err)
	}
	d, err := DeserializeDir(data)
	if err != nil {
		return nil, err
	}
	d.Hash = hash
	return d, nil
}

// PutVNode stores a VNode, asserting its Hash matches its serialization.
func (t *TreeStore) PutVNode(v *types.VNode) error {
	data := SerializeVNode(v)
	if got := types.HashBytes(data); got != v.Hash {
		return fmt.Errorf("objects: vnode hash mismatch: declared %s, computed %s", v.Hash, got)
	}
	return t.db.Bucket(bucketVNodes).Put(v.Hash[:], data)
}

// GetVNode retrieves a VNode by hash.
func (t *TreeStore) GetVNode(hash types.Hash) (*types.VNode, error) {
	data, err := t.db.Bucket(bucketVNodes).Get(hash[:])
	if err != nil {
		return nil, translateNotFound(err)
	}
	v, err := DeserializeVNode(data)
	if err != nil {
		return nil, err
	}
	v.Hash = hash
	return v, nil
}

// PutFile stores a FileEntry tree leaf, keyed by its TreeHash (not its
// content Hash — a file's content may be shared across many paths, but
// each path/content pairing is a distinct tree leaf).
func (t *TreeStore) PutFile(f *types.FileEntry) error {
	data := SerializeFile(f)
	h := f.TreeHash()
	return t.db.Bucket(bucketFiles).Put(h[:], data)
}

// GetFile retrieves a FileEntry tree leaf by its TreeHash.
func (t *TreeStore) GetFile(treeHash types.Hash) (*types.FileEntry, error) {
	data, err := t.db.Bucket(bucketFiles).Get(treeHash[:])
	if err != nil {
		return nil, translateNotFound(err)
	}
	return DeserializeFile(data)
}

// PutSchemaNode stores a Schema attachment leaf, keyed by its TreeHash.
func (t *TreeStore) PutSchemaNode(s *types.SchemaNode) error {
	data := SerializeSchemaNode(s)
	h := s.TreeHash()
	return t.db.Bucket(bucketSchemas).Put(h[:], data)
}

// GetSchemaNode retrieves a Schema attachment leaf by its TreeHash.
func (t *TreeStore) GetSchemaNode(treeHash types.Hash) (*types.SchemaNode, error) {
	data, err := t.db.Bucket(bucketSchemas).Get(treeHash[:])
	if err != nil {
		return nil, translateNotFound(err)
	}
	return DeserializeSchemaNode(data)
}

// PutSchema stores a Schema's content keyed by its own Hash, asserting
// the hash matches. Multiple SchemaNode leaves (one per path that uses
// this schema) may point at the same stored Schema; invariant 7's
// "differing schema forces a new Schema node with a new hash" is enforced
// by the caller computing Schema.ComputeHash before calling PutSchema.
func (t *TreeStore) PutSchema(s *types.Schema) error {
	// A schema's identity is its ordered fields list alone (Name is a
	// display label), so the assertion runs against ComputeHash, not the
	// serialization bytes.
	if got := s.ComputeHash(); got != s.Hash {
		return fmt.Errorf("objects: schema hash mismatch: declared %s, computed %s", s.Hash, got)
	}
	return t.db.Bucket(bucketSchemaDef).Put(s.Hash[:], SerializeSchema(s))
}

// GetSchema retrieves a Schema's content by its own hash.
func (t *TreeStore) GetSchema(hash types.Hash) (*types.Schema, error) {
	data, err := t.db.Bucket(bucketSchemaDef).Get(hash[:])
	if err != nil {
		return nil, translateNotFound(err)
	}
	s, err := DeserializeSchema(data)
	if err != nil {
		return nil, err
	}
	s.Hash = hash
	return s, nil
}

// GetChild resolves a ChildDescriptor to its underlying node, dispatching
// on its Kind tag.
func (t *TreeStore) GetChild(c types.ChildDescriptor) (any, error) {
	switch c.Kind {
	case types.KindDir:
		return t.GetDir(c.Hash)
	case types.KindVNode:
		return t.GetVNode(c.Hash)
	case types.KindFile:
		return t.GetFile(c.Hash)
	case types.KindSchema:
		return t.GetSchemaNode(c.Hash)
	default:
		return nil, fmt.Errorf("objects: unknown child kind %v", c.Kind)
	}
}

func translateNotFound(err error) error {
	if err == kv.ErrNotFound {
		return ErrHashNotFound
	}
	return err
}
