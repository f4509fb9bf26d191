package objects

import (
	"bytes"
	"reflect"
	"testing"

	"pgregory.net/rapid"

	"github.com/silo-vc/silo/pkg/types"
)

func genHash() *rapid.Generator[types.Hash] {
	return rapid.Custom(func(t *rapid.T) types.Hash {
		var h types.Hash
		b := rapid.SliceOfN(rapid.Byte(), types.HashSize, types.HashSize).Draw(t, "hash_bytes")
		copy(h[:], b)
		return h
	})
}

func genPath() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z0-9_./-]{1,40}`)
}

func genChild() *rapid.Generator[types.ChildDescriptor] {
	return rapid.Custom(func(t *rapid.T) types.ChildDescriptor {
		kind := rapid.SampledFrom([]types.NodeKind{
			types.KindDir, types.KindVNode, types.KindFile, types.KindSchema,
		}).Draw(t, "kind")
		return types.ChildDescriptor{
			Kind: kind,
			Hash: genHash().Draw(t, "hash"),
			Path: genPath().Draw(t, "path"),
		}
	})
}

func genDir() *rapid.Generator[*types.Dir] {
	return rapid.Custom(func(t *rapid.T) *types.Dir {
		return &types.Dir{Children: rapid.SliceOfN(genChild(), 1, 16).Draw(t, "children")}
	})
}

func genVNode() *rapid.Generator[*types.VNode] {
	return rapid.Custom(func(t *rapid.T) *types.VNode {
		return &types.VNode{
			Prefix:   rapid.StringMatching(`[0-9a-f]{2}`).Draw(t, "prefix"),
			Children: rapid.SliceOfN(genChild(), 1, 16).Draw(t, "children"),
		}
	})
}

func genFileEntry() *rapid.Generator[*types.FileEntry] {
	return rapid.Custom(func(t *rapid.T) *types.FileEntry {
		return &types.FileEntry{
			Path:         genPath().Draw(t, "path"),
			Hash:         genHash().Draw(t, "hash"),
			NumBytes:     rapid.Int64Range(0, 1<<40).Draw(t, "num_bytes"),
			LastModified: rapid.Int64Range(0, 1<<33).Draw(t, "last_modified"),
			IntroducedIn: genHash().Draw(t, "introduced_in"),
			SchemaHash:   genHash().Draw(t, "schema_hash"),
		}
	})
}

func TestSerializationDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genDir().Draw(t, "dir")
		if !bytes.Equal(SerializeDir(d), SerializeDir(d)) {
			t.Fatalf("serializing the same Dir twice produced different bytes")
		}
	})
}

func TestDirRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genDir().Draw(t, "dir")
		got, err := DeserializeDir(SerializeDir(d))
		if err != nil {
			t.Fatalf("DeserializeDir: %v", err)
		}
		if !reflect.DeepEqual(got.Children, d.Children) {
			t.Fatalf("round-trip mismatch:\n got %+v\nwant %+v", got.Children, d.Children)
		}
	})
}

func TestVNodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := genVNode().Draw(t, "vnode")
		got, err := DeserializeVNode(SerializeVNode(v))
		if err != nil {
			t.Fatalf("DeserializeVNode: %v", err)
		}
		if got.Prefix != v.Prefix || !reflect.DeepEqual(got.Children, v.Children) {
			t.Fatalf("round-trip mismatch:\n got %+v\nwant %+v", got, v)
		}
	})
}

func TestFileEntryRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := genFileEntry().Draw(t, "file")
		got, err := DeserializeFile(SerializeFile(f))
		if err != nil {
			t.Fatalf("DeserializeFile: %v", err)
		}
		if !reflect.DeepEqual(got, f) {
			t.Fatalf("round-trip mismatch:\n got %+v\nwant %+v", got, f)
		}
	})
}

func TestSchemaRoundTrip(t *testing.T) {
	s := &types.Schema{
		Name: "t.csv",
		Fields: []types.Field{
			{Name: "id", DType: types.DTypeI64},
			{Name: "name", DType: types.DTypeString},
			{Name: "tags", DType: types.ListType(types.DTypeString)},
		},
	}
	got, err := DeserializeSchema(SerializeSchema(s))
	if err != nil {
		t.Fatalf("DeserializeSchema: %v", err)
	}
	if got.Name != s.Name || !reflect.DeepEqual(got.Fields, s.Fields) {
		t.Fatalf("round-trip mismatch:\n got %+v\nwant %+v", got, s)
	}
}

func TestDeserializeTruncatedInput(t *testing.T) {
	d := &types.Dir{Children: []types.ChildDescriptor{{Kind: types.KindVNode, Hash: types.HashBytes([]byte("x")), Path: "ab"}}}
	data := SerializeDir(d)
	for i := 1; i < len(data); i++ {
		if _, err := DeserializeDir(data[:i]); err == nil {
			t.Fatalf("expected truncated input of length %d to fail", i)
		}
	}
}
