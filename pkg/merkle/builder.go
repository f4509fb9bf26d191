package merkle

import (
	"sort"

	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/types"
)

// Update describes one changed leaf within a single directory: either an
// upsert (Delete == false, Child set) or a deletion (Delete == true, only
// Path meaningful).
type Update struct {
	Path   string
	Delete bool
	Child  types.ChildDescriptor // ignored when Delete is true
}

// RebuildDir applies a set of leaf-level updates to a single directory
// level and returns the new Dir hash, rewriting only the VNode buckets
// whose membership changed. oldDir may be types.ZeroHash for an empty
// starting directory. Every touched node is persisted to store before
// RebuildDir returns; on error, nodes already written stay in the store,
// unreferenced by any Dir.
func RebuildDir(store Store, oldDir types.Hash, updates []Update) (types.Hash, error) {
	bucketOf := map[string]types.ChildDescriptor{}
	if !oldDir.IsZero() {
		d, err := store.GetDir(oldDir)
		if err != nil {
			return types.Hash{}, err
		}
		for _, c := range d.Children {
			bucketOf[c.Path] = c // Path holds the VNode's prefix here
		}
	}

	byPrefix := map[string][]Update{}
	for _, u := range updates {
		p := vnodePrefix(u.Path)
		byPrefix[p] = append(byPrefix[p], u)
	}

	for prefix, ups := range byPrefix {
		entries := map[string]types.ChildDescriptor{}
		if existing, ok := bucketOf[prefix]; ok {
			v, err := store.GetVNode(existing.Hash)
			if err != nil {
				return types.Hash{}, err
			}
			for _, c := range v.Children {
				entries[c.Path] = c
			}
		}
		for _, u := range ups {
			if u.Delete {
				delete(entries, u.Path)
				continue
			}
			entries[u.Path] = u.Child
		}
		if len(entries) == 0 {
			delete(bucketOf, prefix)
			continue
		}
		children := make([]types.ChildDescriptor, 0, len(entries))
		for _, c := range entries {
			children = append(children, c)
		}
		sort.Slice(children, func(i, j int) bool {
			return pathKey(children[i].Path) < pathKey(children[j].Path)
		})
		v := &types.VNode{Prefix: prefix, Children: children}
		v.Hash = types.HashBytes(objects.SerializeVNode(v))
		if err := store.PutVNode(v); err != nil {
			return types.Hash{}, err
		}
		bucketOf[prefix] = types.ChildDescriptor{Kind: types.KindVNode, Hash: v.Hash, Path: prefix}
	}

	dirChildren := make([]types.ChildDescriptor, 0, len(bucketOf))
	for _, c := range bucketOf {
		dirChildren = append(dirChildren, c)
	}
	sort.Slice(dirChildren, func(i, j int) bool { return dirChildren[i].Path < dirChildren[j].Path })

	d := &types.Dir{Children: dirChildren}
	d.Hash = types.HashBytes(objects.SerializeDir(d))
	if err := store.PutDir(d); err != nil {
		return types.Hash{}, err
	}
	return d.Hash, nil
}

// EmptyDir is the hash of a Dir with no children, the initial tree of a
// fresh repository.
func EmptyDir(store Store) (types.Hash, error) {
	d := &types.Dir{Children: nil}
	d.Hash = types.HashBytes(objects.SerializeDir(d))
	if err := store.PutDir(d); err != nil {
		return types.Hash{}, err
	}
	return d.Hash, nil
}

// RebuildTree applies a flat set of file/schema-level changes to a whole
// multi-directory tree rooted at rootDir, walking bottom-up: the deepest
// affected directories are rebuilt first, then each directory's own Dir
// hash change is folded into its parent as a KindDir update, up to the
// root. Nested directories that acquire no children as a result of this
// rebuild (every entry under them deleted) disappear from their parent.
func RebuildTree(store Store, rootDir types.Hash, leaves []Update) (types.Hash, error) {
	byDir := map[string][]Update{}
	affectedDirs := map[string]bool{"": true}
	for _, u := range leaves {
		dir, _ := splitParent(u.Path)
		byDir[dir] = append(byDir[dir], u)
		affectedDirs[dir] = true
		for _, anc := range parentChain(dir) {
			affectedDirs[anc] = true
		}
	}

	depths := make([]string, 0, len(affectedDirs))
	for d := range affectedDirs {
		depths = append(depths, d)
	}
	sort.Slice(depths, func(i, j int) bool {
		return depth(depths[i]) > depth(depths[j])
	})

	dirHashes := map[string]types.Hash{}
	currentHash := func(path string) (types.Hash, error) {
		if h, ok := dirHashes[path]; ok {
			return h, nil
		}
		if rootDir.IsZero() {
			return types.Hash{}, nil
		}
		// Resolve path's existing Dir hash by walking from the root.
		h, err := resolveDirHash(store, rootDir, path)
		if err != nil && err != ErrNotFound {
			return types.Hash{}, err
		}
		return h, nil
	}

	for _, dirPath := range depths {
		oldHash, err := currentHash(dirPath)
		if err != nil {
			return types.Hash{}, err
		}
		ups := byDir[dirPath]
		// Fold in child-directory hash changes as updates on this level.
		for child := range affectedDirs {
			if child == "" {
				continue
			}
			childParent, _ := splitParent(child)
			if childParent != dirPath {
				continue
			}
			newChildHash, ok := dirHashes[child]
			if !ok {
				continue
			}
			if newChildHash.IsZero() {
				ups = append(ups, Update{Path: child, Delete: true})
			} else {
				ups = append(ups, Update{Path: child, Child: types.ChildDescriptor{
					Kind: types.KindDir, Hash: newChildHash, Path: child,
				}})
			}
		}
		newHash, err := RebuildDir(store, oldHash, ups)
		if err != nil {
			return types.Hash{}, err
		}
		if dirPath == "" {
			return newHash, nil
		}
		// A nested directory left with no children disappears from its
		// parent instead of lingering as an empty Dir entry.
		rebuilt, err := store.GetDir(newHash)
		if err != nil {
			return types.Hash{}, err
		}
		if len(rebuilt.Children) == 0 {
			dirHashes[dirPath] = types.Hash{}
		} else {
			dirHashes[dirPath] = newHash
		}
	}
	if h, ok := dirHashes[""]; ok {
		return h, nil
	}
	return rootDir, nil
}

func depth(path string) int {
	if path == "" {
		return 0
	}
	n := 1
	for _, r := range path {
		if r == '/' {
			n++
		}
	}
	return n
}

// resolveDirHash looks up the Dir hash of a nested directory path by
// walking from rootDir, returning ErrNotFound if the directory does not
// exist yet (e.g. it is being created fresh by this rebuild).
func resolveDirHash(store Store, rootDir types.Hash, path string) (types.Hash, error) {
	if path == "" {
		return rootDir, nil
	}
	cur := rootDir
	for _, component := range splitAll(path) {
		d, err := store.GetDir(cur)
		if err != nil {
			return types.Hash{}, err
		}
		entry, err := lookupInDir(store, d, component)
		if err != nil {
			return types.Hash{}, err
		}
		if entry.Kind != types.KindDir {
			return types.Hash{}, ErrNotADirectory
		}
		cur = entry.Hash
	}
	return cur, nil
}

func splitAll(path string) []string {
	var out []string
	for _, p := range sortSplit(path) {
		out = append(out, p)
	}
	return out
}

// sortSplit yields the cumulative path prefixes of path ("a", "a/b",
// "a/b/c"), matching the full-path keys used by VNode bucketing at every
// level.
func sortSplit(path string) []string {
	var out []string
	parts := splitPath(path)
	for i := 1; i <= len(parts); i++ {
		out = append(out, joinPath(parts[:i]))
	}
	return out
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return splitSlash(path)
}

func splitSlash(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
