package merkle

import "github.com/silo-vc/silo/pkg/types"

// Change describes one path that differs between two trees.
type Change struct {
	Path   string
	Status types.DiffStatus
	Before types.ChildDescriptor // zero value if Status == Added
	After  types.ChildDescriptor // zero value if Status == Removed
}

// DiffTrees compares two root Dir hashes and returns every path whose
// content differs. Subtrees whose hash is identical on both sides are
// skipped entirely without being read from store — the structural-sharing
// property that keeps diff and checkout proportional to the size of the
// change, not the size of the tree.
func DiffTrees(store Store, base, head types.Hash) ([]Change, error) {
	var out []Change
	if err := diffDirs(store, "", base, head, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func diffDirs(store Store, prefix string, base, head types.Hash, out *[]Change) error {
	if base == head {
		return nil
	}
	baseEntries, err := flatEntries(store, base)
	if err != nil {
		return err
	}
	headEntries, err := flatEntries(store, head)
	if err != nil {
		return err
	}

	for path, h := range headEntries {
		b, existed := baseEntries[path]
		switch {
		case !existed:
			if h.Kind == types.KindDir {
				if err := diffDirs(store, path, types.Hash{}, h.Hash, out); err != nil {
					return err
				}
				continue
			}
			*out = append(*out, Change{Path: path, Status: types.DiffAdded, After: h})
		case b.Hash == h.Hash:
			// unchanged, including identical sub-Dirs: skip recursing
		case b.Kind == types.KindDir && h.Kind == types.KindDir:
			if err := diffDirs(store, path, b.Hash, h.Hash, out); err != nil {
				return err
			}
		default:
			*out = append(*out, Change{Path: path, Status: types.DiffModified, Before: b, After: h})
		}
	}
	for path, b := range baseEntries {
		if _, ok := headEntries[path]; ok {
			continue
		}
		if b.Kind == types.KindDir {
			if err := diffDirs(store, path, b.Hash, types.Hash{}, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, Change{Path: path, Status: types.DiffRemoved, Before: b})
	}
	return nil
}

// flatEntries returns dirHash's immediate children keyed by path, or an
// empty map if dirHash is the zero hash (a directory that does not exist
// on one side of the comparison).
func flatEntries(store Store, dirHash types.Hash) (map[string]types.ChildDescriptor, error) {
	if dirHash.IsZero() {
		return map[string]types.ChildDescriptor{}, nil
	}
	entries, err := ListDir(store, dirHash)
	if err != nil {
		return nil, err
	}
	m := make(map[string]types.ChildDescriptor, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m, nil
}
