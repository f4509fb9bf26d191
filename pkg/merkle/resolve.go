package merkle

import (
	"sort"

	"github.com/silo-vc/silo/pkg/types"
)

// lookupInDir performs the one-hop lookup: compute h = hash(path),
// binary-search d's VNode children for the bucket covering h[0:2], then
// binary-search that VNode's children for path.
func lookupInDir(store Store, d *types.Dir, path string) (types.ChildDescriptor, error) {
	prefix := vnodePrefix(path)
	i := sort.Search(len(d.Children), func(i int) bool { return d.Children[i].Path >= prefix })
	if i >= len(d.Children) || d.Children[i].Path != prefix {
		return types.ChildDescriptor{}, ErrNotFound
	}
	v, err := store.GetVNode(d.Children[i].Hash)
	if err != nil {
		return types.ChildDescriptor{}, err
	}
	key := pathKey(path)
	j := sort.Search(len(v.Children), func(j int) bool { return pathKey(v.Children[j].Path) >= key })
	if j >= len(v.Children) || v.Children[j].Path != path {
		return types.ChildDescriptor{}, ErrNotFound
	}
	return v.Children[j], nil
}

// Resolved is the outcome of resolving a path: exactly one of Dir, File, or
// Schema is non-nil, matching the ChildDescriptor's Kind.
type Resolved struct {
	Kind   types.NodeKind
	Dir    *types.Dir
	File   *types.FileEntry
	Schema *types.SchemaNode
}

// Resolve walks from rootDir down to path, returning its current node.
// path == "" resolves to the root directory itself.
func Resolve(store Store, rootDir types.Hash, path string) (Resolved, error) {
	if path == "" {
		d, err := store.GetDir(rootDir)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Kind: types.KindDir, Dir: d}, nil
	}
	parent, base := splitParent(path)
	parentHash, err := resolveDirHash(store, rootDir, parent)
	if err != nil {
		return Resolved{}, err
	}
	d, err := store.GetDir(parentHash)
	if err != nil {
		return Resolved{}, err
	}
	entry, err := lookupInDir(store, d, joinFull(parent, base))
	if err != nil {
		return Resolved{}, err
	}
	return hydrate(store, entry)
}

func joinFull(parent, base string) string {
	if parent == "" {
		return base
	}
	return parent + "/" + base
}

func hydrate(store Store, entry types.ChildDescriptor) (Resolved, error) {
	switch entry.Kind {
	case types.KindDir:
		d, err := store.GetDir(entry.Hash)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Kind: types.KindDir, Dir: d}, nil
	case types.KindFile:
		f, err := store.GetFile(entry.Hash)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Kind: types.KindFile, File: f}, nil
	case types.KindSchema:
		s, err := store.GetSchemaNode(entry.Hash)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Kind: types.KindSchema, Schema: s}, nil
	default:
		return Resolved{}, ErrNotADirectory
	}
}

// ListDir returns the immediate children of dirHash, decoded across all of
// its VNode buckets and sorted by full path.
func ListDir(store Store, dirHash types.Hash) ([]types.ChildDescriptor, error) {
	d, err := store.GetDir(dirHash)
	if err != nil {
		return nil, err
	}
	var out []types.ChildDescriptor
	for _, bucket := range d.Children {
		v, err := store.GetVNode(bucket.Hash)
		if err != nil {
			return nil, err
		}
		out = append(out, v.Children...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
