// Package merkle implements the directory index: the Dir -> VNode ->
// {File | Dir | Schema} tree that represents a commit's complete
// working-set state, with each directory's children fanned out across
// VNode buckets keyed by the two-hex-char prefix of the hashed child
// path.
//
// A Dir node is never rewritten wholesale: RebuildDir loads only the VNode
// buckets whose membership actually changed, reusing every other bucket by
// reference. This is what gives commits their structural sharing and bounds
// a single commit's write amplification to O(changed paths), not O(tree
// size).
package merkle

import (
	"errors"
	"strings"

	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/types"
)

// ErrNotFound is returned when a path has no entry in a tree.
var ErrNotFound = errors.New("merkle: path not found")

// ErrNotADirectory is returned when a path component that should resolve to
// a Dir resolves to a File or Schema instead.
var ErrNotADirectory = errors.New("merkle: path component is not a directory")

// Store is the subset of objects.TreeStore the merkle package depends on.
type Store interface {
	GetDir(hash types.Hash) (*types.Dir, error)
	PutDir(d *types.Dir) error
	GetVNode(hash types.Hash) (*types.VNode, error)
	PutVNode(v *types.VNode) error
	GetFile(treeHash types.Hash) (*types.FileEntry, error)
	PutFile(f *types.FileEntry) error
	GetSchemaNode(treeHash types.Hash) (*types.SchemaNode, error)
	PutSchemaNode(s *types.SchemaNode) error
}

var _ Store = (*objects.TreeStore)(nil)

func vnodePrefix(path string) string {
	return types.HashBytes([]byte(path)).Prefix(2)
}

func pathKey(path string) string {
	return types.HashBytes([]byte(path)).String()
}

func splitParent(path string) (dir, base string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func parentChain(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	chain := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		chain = append(chain, strings.Join(parts[:i], "/"))
	}
	return chain
}
