package objects

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/silo-vc/silo/pkg/types"
)

// ErrCorruptNode is returned when deserializing a tree node fails because
// its bytes are truncated, malformed, or tagged with an unknown kind.
var ErrCorruptNode = errors.New("objects: corrupt tree node")

// Serialization format: a one-byte kind tag followed by a deterministic
// binary encoding of the node's fields (big-endian length-prefixed byte
// strings). Each node's hash is a pure function of this fixed layout,
// which is why the encoding is hand-controlled rather than delegated to
// a codec library.

// SerializeDir serializes a Dir node. Its children are always VNodes.
func SerializeDir(d *types.Dir) []byte {
	buf := []byte{byte(types.KindDir)}
	buf = appendUint32(buf, uint32(len(d.Children)))
	for _, c := range d.Children {
		buf = appendChild(buf, c)
	}
	return buf
}

// SerializeVNode serializes a VNode and its prefix.
func SerializeVNode(v *types.VNode) []byte {
	buf := []byte{byte(types.KindVNode)}
	buf = appendString(buf, v.Prefix)
	buf = appendUint32(buf, uint32(len(v.Children)))
	for _, c := range v.Children {
		buf = appendChild(buf, c)
	}
	return buf
}

// SerializeFile serializes a FileEntry leaf.
func SerializeFile(f *types.FileEntry) []byte {
	buf := []byte{byte(types.KindFile)}
	buf = appendString(buf, f.Path)
	buf = append(buf, f.Hash[:]...)
	buf = appendUint64(buf, uint64(f.NumBytes))
	buf = appendUint64(buf, uint64(f.LastModified))
	buf = append(buf, f.IntroducedIn[:]...)
	buf = append(buf, f.SchemaHash[:]...)
	return buf
}

// SerializeSchemaNode serializes a Schema attachment leaf.
func SerializeSchemaNode(s *types.SchemaNode) []byte {
	buf := []byte{byte(types.KindSchema)}
	buf = appendString(buf, s.Path)
	buf = append(buf, s.SchemaHash[:]...)
	return buf
}

func appendChild(buf []byte, c types.ChildDescriptor) []byte {
	buf = append(buf, byte(c.Kind))
	buf = append(buf, c.Hash[:]...)
	buf = appendString(buf, c.Path)
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// reader is a small cursor over a byte slice used by the Deserialize*
// functions below; it returns ErrCorruptNode rather than panicking on
// truncated input.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, ErrCorruptNode
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, ErrCorruptNode
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrCorruptNode
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) hash() (types.Hash, error) {
	b, err := r.bytes(types.HashSize)
	if err != nil {
		return types.Hash{}, err
	}
	var h types.Hash
	copy(h[:], b)
	return h, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) child() (types.ChildDescriptor, error) {
	if r.pos+1 > len(r.buf) {
		return types.ChildDescriptor{}, ErrCorruptNode
	}
	kind := types.NodeKind(r.buf[r.pos])
	r.pos++
	h, err := r.hash()
	if err != nil {
		return types.ChildDescriptor{}, err
	}
	p, err := r.str()
	if err != nil {
		return types.ChildDescriptor{}, err
	}
	return types.ChildDescriptor{Kind: kind, Hash: h, Path: p}, nil
}

func (r *reader) done() error {
	if r.pos != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptNode, len(r.buf)-r.pos)
	}
	return nil
}

// DeserializeDir parses a Dir node.
func DeserializeDir(data []byte) (*types.Dir, error) {
	r := &reader{buf: data, pos: 1}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	children := make([]types.ChildDescriptor, 0, n)
	for i := uint32(0); i < n; i++ {
		c, err := r.child()
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return &types.Dir{Children: children}, nil
}

// DeserializeVNode parses a VNode.
func DeserializeVNode(data []byte) (*types.VNode, error) {
	r := &reader{buf: data, pos: 1}
	prefix, err := r.str()
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	children := make([]types.ChildDescriptor, 0, n)
	for i := uint32(0); i < n; i++ {
		c, err := r.child()
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return &types.VNode{Prefix: prefix, Children: children}, nil
}

// DeserializeFile parses a FileEntry leaf.
func DeserializeFile(data []byte) (*types.FileEntry, error) {
	r := &reader{buf: data, pos: 1}
	path, err := r.str()
	if err != nil {
		return nil, err
	}
	hash, err := r.hash()
	if err != nil {
		return nil, err
	}
	numBytes, err := r.u64()
	if err != nil {
		return nil, err
	}
	lastMod, err := r.u64()
	if err != nil {
		return nil, err
	}
	introduced, err := r.hash()
	if err != nil {
		return nil, err
	}
	schemaHash, err := r.hash()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return &types.FileEntry{
		Path:         path,
		Hash:         hash,
		NumBytes:     int64(numBytes),
		LastModified: int64(lastMod),
		IntroducedIn: introduced,
		SchemaHash:   schemaHash,
	}, nil
}

// DeserializeSchemaNode parses a Schema attachment leaf.
func DeserializeSchemaNode(data []byte) (*types.SchemaNode, error) {
	r := &reader{buf: data, pos: 1}
	path, err := r.str()
	if err != nil {
		return nil, err
	}
	schemaHash, err := r.hash()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return &types.SchemaNode{Path: path, SchemaHash: schemaHash}, nil
}

// SerializeSchema serializes a full Schema (name + ordered fields), the
// content a SchemaNode leaf's hash points at. Kept distinct from
// SerializeSchemaNode: a SchemaNode is a tree leaf (path -> schema hash),
// while this is the schema's own content, addressed by Schema.Hash like
// any other object.
func SerializeSchema(s *types.Schema) []byte {
	buf := appendString(nil, s.Name)
	buf = appendUint32(buf, uint32(len(s.Fields)))
	for _, f := range s.Fields {
		buf = appendString(buf, f.Name)
		buf = appendString(buf, string(f.DType))
	}
	return buf
}

// DeserializeSchema parses a Schema's content.
func DeserializeSchema(data []byte) (*types.Schema, error) {
	r := &reader{buf: data}
	name, err := r.str()
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	fields := make([]types.Field, 0, n)
	for i := uint32(0); i < n; i++ {
		fname, err := r.str()
		if err != nil {
			return nil, err
		}
		dtype, err := r.str()
		if err != nil {
			return nil, err
		}
		fields = append(fields, types.Field{Name: fname, DType: types.DType(dtype)})
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return &types.Schema{Name: name, Fields: fields}, nil
}

// KindOf peeks at the tag byte of a serialized node without fully parsing
// it.
func KindOf(data []byte) (types.NodeKind, error) {
	if len(data) < 1 {
		return 0, ErrCorruptNode
	}
	return types.NodeKind(data[0]), nil
}
