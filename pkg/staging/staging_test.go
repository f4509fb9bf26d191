package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silo-vc/silo/pkg/merkle"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/types"
)

func newArea(t *testing.T) (*Area, *objects.TreeStore, string) {
	t.Helper()
	repoDir := t.TempDir()
	workDir := t.TempDir()
	trees, err := objects.NewTreeStore(repoDir)
	require.NoError(t, err)
	t.Cleanup(func() { trees.Close() })
	area, err := Open(repoDir, workDir)
	require.NoError(t, err)
	t.Cleanup(func() { area.Close() })
	return area, trees, workDir
}

func writeFile(t *testing.T, workDir, path, content string) {
	t.Helper()
	full := filepath.Join(workDir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// commitTree builds a committed tree directly through the merkle layer,
// standing in for HEAD without needing the full commit writer.
func commitTree(t *testing.T, trees *objects.TreeStore, files map[string]string) types.Hash {
	t.Helper()
	root, err := merkle.EmptyDir(trees)
	require.NoError(t, err)
	var updates []merkle.Update
	for path, content := range files {
		h := types.HashBytes([]byte(content))
		f := &types.FileEntry{Path: path, Hash: h, NumBytes: int64(len(content))}
		require.NoError(t, trees.PutFile(f))
		updates = append(updates, merkle.Update{
			Path:  path,
			Child: types.ChildDescriptor{Kind: types.KindFile, Hash: f.TreeHash(), Path: path},
		})
	}
	root, err = merkle.RebuildTree(trees, root, updates)
	require.NoError(t, err)
	return root
}

func TestAddClassifiesAgainstHead(t *testing.T) {
	area, trees, workDir := newArea(t)
	head := HeadTree{Store: trees, Root: commitTree(t, trees, map[string]string{
		"unchanged.txt": "same",
		"edited.txt":    "old",
	})}

	writeFile(t, workDir, "unchanged.txt", "same")
	writeFile(t, workDir, "edited.txt", "new")
	writeFile(t, workDir, "fresh.txt", "brand new")

	require.NoError(t, area.Add(head, "unchanged.txt"))
	require.NoError(t, area.Add(head, "edited.txt"))
	require.NoError(t, area.Add(head, "fresh.txt"))

	entries, err := area.Entries()
	require.NoError(t, err)
	byPath := map[string]types.StagedEntry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}
	require.Len(t, entries, 2, "identical content must not stage")
	require.Equal(t, types.StatusModified, byPath["edited.txt"].Status)
	require.Equal(t, types.StatusAdded, byPath["fresh.txt"].Status)
	require.Equal(t, types.HashBytes([]byte("old")), byPath["edited.txt"].HashBefore)
}

func TestAddDirectoryRecursesInParallel(t *testing.T) {
	area, trees, workDir := newArea(t)
	head := HeadTree{Store: trees}

	for _, p := range []string{"data/a.csv", "data/b.csv", "data/sub/c.csv"} {
		writeFile(t, workDir, p, "content of "+p)
	}
	require.NoError(t, area.Add(head, "data"))

	entries, err := area.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	stats, err := area.DirStats("data")
	require.NoError(t, err)
	require.Equal(t, 3, stats.Added)
}

func TestRemoveStagesRemoval(t *testing.T) {
	area, trees, _ := newArea(t)
	head := HeadTree{Store: trees, Root: commitTree(t, trees, map[string]string{
		"doomed.txt": "bye",
	})}

	require.NoError(t, area.Remove(head, "doomed.txt", RemoveOptions{}))
	entries, err := area.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, types.StatusRemoved, entries[0].Status)
	require.Equal(t, types.HashBytes([]byte("bye")), entries[0].HashBefore)
}

func TestRemoveStagedUnstages(t *testing.T) {
	area, trees, workDir := newArea(t)
	head := HeadTree{Store: trees}
	writeFile(t, workDir, "oops.txt", "staged by mistake")
	require.NoError(t, area.Add(head, "oops.txt"))

	require.NoError(t, area.Remove(head, "oops.txt", RemoveOptions{Staged: true}))
	entries, err := area.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStatusListsUntracked(t *testing.T) {
	area, trees, workDir := newArea(t)
	head := HeadTree{Store: trees, Root: commitTree(t, trees, map[string]string{
		"tracked.txt": "known",
	})}
	writeFile(t, workDir, "tracked.txt", "known")
	writeFile(t, workDir, "stray.txt", "untracked")

	data, err := area.Status(head, nil)
	require.NoError(t, err)
	require.Empty(t, data.Entries)
	require.Equal(t, []string{"stray.txt"}, data.Untracked)
}

func TestClearTruncatesStagingOnly(t *testing.T) {
	area, trees, workDir := newArea(t)
	head := HeadTree{Store: trees}
	writeFile(t, workDir, "a.txt", "a")
	require.NoError(t, area.Add(head, "a.txt"))

	require.NoError(t, area.PutRowMod("main", "alice", types.StagedRowMod{
		TargetFilePath: "t.csv", RowID: 0, Operation: types.RowAppend, PayloadJSON: []byte(`{"id":1}`),
	}))

	require.NoError(t, area.Clear())

	entries, err := area.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)

	mods, err := area.ListRowMods("main", "alice", "t.csv")
	require.NoError(t, err)
	require.Len(t, mods, 1, "row mods are scoped per branch/user and survive Clear")
}

func TestRowModsScopedByBranchAndUser(t *testing.T) {
	area, _, _ := newArea(t)
	put := func(branch, user string, id uint64) {
		require.NoError(t, area.PutRowMod(branch, user, types.StagedRowMod{
			TargetFilePath: "t.csv", RowID: id, Operation: types.RowModify, PayloadJSON: []byte(`{}`),
		}))
	}
	put("main", "alice", 0)
	put("main", "alice", 1)
	put("main", "bob", 0)
	put("dev", "alice", 0)

	mods, err := area.ListRowMods("main", "alice", "t.csv")
	require.NoError(t, err)
	require.Len(t, mods, 2)
	require.Equal(t, uint64(0), mods[0].RowID)
	require.Equal(t, uint64(1), mods[1].RowID)

	require.NoError(t, area.ClearRowMods("main", "alice", "t.csv"))
	mods, err = area.ListRowMods("main", "alice", "t.csv")
	require.NoError(t, err)
	require.Empty(t, mods)

	mods, err = area.ListRowMods("main", "bob", "t.csv")
	require.NoError(t, err)
	require.Len(t, mods, 1, "other sessions are isolated")
}
