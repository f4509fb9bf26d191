package silo

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silo-vc/silo/internal/config"
	"github.com/silo-vc/silo/pkg/types"
)

var testIdentity = config.Identity{Name: "Test User", Email: "test@example.com"}

func initRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Init(t.TempDir(), "main")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func writeWorkFile(t *testing.T, r *Repository, path, content string) {
	t.Helper()
	full := filepath.Join(r.WorkDir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func readWorkFile(t *testing.T, r *Repository, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.WorkDir, path))
	require.NoError(t, err)
	return string(data)
}

func addAndCommit(t *testing.T, r *Repository, path, msg string) *types.Commit {
	t.Helper()
	require.NoError(t, r.Add(path))
	c, err := r.CommitStaged(testIdentity, msg, false)
	require.NoError(t, err)
	return c
}

// Init, write "Hello", add, commit: one commit, branch main, clean
// status, and a version file on disk holding the exact bytes.
func TestInitialCommit(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "hello.txt", "Hello")
	c := addAndCommit(t, r, "hello.txt", "c1")

	log, err := r.Log("")
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, "c1", log[0].Message)

	branches, err := r.ListBranches()
	require.NoError(t, err)
	require.Equal(t, []string{"main"}, branches)

	status, err := r.Status()
	require.NoError(t, err)
	require.Empty(t, status.Entries)
	require.Empty(t, status.Untracked)

	hash := types.HashBytes([]byte("Hello"))
	hex := hash.String()
	onDisk := filepath.Join(r.DataDir, "versions", hex[:2], hex[2:], "data")
	data, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	require.Equal(t, "Hello", string(data))

	require.False(t, c.ID.IsZero())
	got, err := r.ReadFileAt("", "hello.txt")
	require.NoError(t, err)
	require.Equal(t, "Hello", string(got))
}

// Two branches with diverged content: checkout flips the working tree
// between them.
func TestBranchDivergence(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "hello.txt", "Hello")
	addAndCommit(t, r, "hello.txt", "c1")

	require.NoError(t, r.CreateBranch("b1", ""))
	require.NoError(t, r.Checkout("b1", false))

	writeWorkFile(t, r, "hello.txt", "World")
	addAndCommit(t, r, "hello.txt", "c2")

	require.NoError(t, r.Checkout("main", false))
	require.Equal(t, "Hello", readWorkFile(t, r, "hello.txt"))

	require.NoError(t, r.Checkout("b1", false))
	require.Equal(t, "World", readWorkFile(t, r, "hello.txt"))

	b1Log, err := r.Log("b1")
	require.NoError(t, err)
	require.Len(t, b1Log, 2)

	mainLog, err := r.Log("main")
	require.NoError(t, err)
	require.Len(t, mainLog, 1)
}

func TestCheckoutRefusesDirtyDivergentFile(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "hello.txt", "Hello")
	c1 := addAndCommit(t, r, "hello.txt", "c1")
	writeWorkFile(t, r, "hello.txt", "World")
	addAndCommit(t, r, "hello.txt", "c2")

	writeWorkFile(t, r, "hello.txt", "uncommitted edit")
	err := r.Checkout(c1.ID.String(), false)
	require.Error(t, err)

	require.NoError(t, r.Checkout(c1.ID.String(), true))
	require.Equal(t, "Hello", readWorkFile(t, r, "hello.txt"))
}

func TestCommitRefusedOnLockedBranch(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "a.txt", "a")
	addAndCommit(t, r, "a.txt", "c1")

	require.NoError(t, r.LockBranch("main", "other-session"))
	writeWorkFile(t, r, "a.txt", "a2")
	require.NoError(t, r.Add("a.txt"))
	_, err := r.CommitStaged(testIdentity, "blocked", false)
	require.Error(t, err)

	require.NoError(t, r.UnlockBranch("main"))
	_, err = r.CommitStaged(testIdentity, "unblocked", false)
	require.NoError(t, err)
}

func TestMergeFastForward(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "a.txt", "a")
	addAndCommit(t, r, "a.txt", "c1")

	require.NoError(t, r.CreateBranch("feature", ""))
	require.NoError(t, r.Checkout("feature", false))
	writeWorkFile(t, r, "b.txt", "b")
	c2 := addAndCommit(t, r, "b.txt", "c2")

	require.NoError(t, r.Checkout("main", false))
	res, err := r.Merge("feature", testIdentity)
	require.NoError(t, err)
	require.True(t, res.FastForward)
	require.Equal(t, c2.ID, res.Commit.ID)
	require.Equal(t, "b", readWorkFile(t, r, "b.txt"))
}

func TestMergeDisjointPathsProducesMergeCommit(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "base.txt", "base")
	addAndCommit(t, r, "base.txt", "c1")

	require.NoError(t, r.CreateBranch("feature", ""))
	require.NoError(t, r.Checkout("feature", false))
	writeWorkFile(t, r, "theirs.txt", "t")
	addAndCommit(t, r, "theirs.txt", "on feature")

	require.NoError(t, r.Checkout("main", false))
	writeWorkFile(t, r, "ours.txt", "o")
	addAndCommit(t, r, "ours.txt", "on main")

	res, err := r.Merge("feature", testIdentity)
	require.NoError(t, err)
	require.False(t, res.FastForward)
	require.True(t, res.Commit.IsMerge())

	// Both sides' files are reachable from the merge commit's tree and
	// materialized into the working tree.
	for _, p := range []string{"base.txt", "ours.txt", "theirs.txt"} {
		_, err := r.ReadFileAt(res.Commit.ID.String(), p)
		require.NoError(t, err, "path %s should be in the merged tree", p)
	}
	require.Equal(t, "t", readWorkFile(t, r, "theirs.txt"))
}

func TestMergeConflictingPathReported(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "shared.txt", "base")
	addAndCommit(t, r, "shared.txt", "c1")

	require.NoError(t, r.CreateBranch("feature", ""))
	require.NoError(t, r.Checkout("feature", false))
	writeWorkFile(t, r, "shared.txt", "theirs")
	addAndCommit(t, r, "shared.txt", "on feature")

	require.NoError(t, r.Checkout("main", false))
	writeWorkFile(t, r, "shared.txt", "ours")
	addAndCommit(t, r, "shared.txt", "on main")

	res, err := r.Merge("feature", testIdentity)
	require.ErrorIs(t, err, ErrMergeConflict)
	require.Equal(t, []string{"shared.txt"}, res.Conflicts)
}

// A loaded archive restores the repository and its working tree.
func TestSaveLoadRoundTrip(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "hello.txt", "Hello")
	writeWorkFile(t, r, "data/t.csv", "id,name\n1,a\n")
	require.NoError(t, r.Add("hello.txt"))
	c := addAndCommit(t, r, "data/t.csv", "c1")

	var archive bytes.Buffer
	require.NoError(t, r.Save(&archive))

	dest := t.TempDir()
	loaded, err := Load(bytes.NewReader(archive.Bytes()), dest, false)
	require.NoError(t, err)
	defer loaded.Close()

	require.Equal(t, "Hello", readWorkFile(t, loaded, "hello.txt"))
	require.Equal(t, "id,name\n1,a\n", readWorkFile(t, loaded, "data/t.csv"))

	log, err := loaded.Log("")
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, c.ID, log[0].ID)
}

func TestLoadNoWorkingDirSkipsMaterialization(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "hello.txt", "Hello")
	addAndCommit(t, r, "hello.txt", "c1")

	var archive bytes.Buffer
	require.NoError(t, r.Save(&archive))

	dest := t.TempDir()
	loaded, err := Load(bytes.NewReader(archive.Bytes()), dest, true)
	require.NoError(t, err)
	defer loaded.Close()

	_, err = os.Stat(filepath.Join(dest, "hello.txt"))
	require.True(t, os.IsNotExist(err), "working tree must stay empty with NoWorkingDir")

	// The content is still fully addressable through the object store.
	data, err := loaded.ReadFileAt("", "hello.txt")
	require.NoError(t, err)
	require.Equal(t, "Hello", string(data))
}

// Corrupting one version file flags exactly the owning commit, nothing
// else.
func TestValidateDetectsCorruptVersionFile(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "good.txt", "intact")
	c1 := addAndCommit(t, r, "good.txt", "c1")

	require.NoError(t, r.CreateBranch("other", ""))
	require.NoError(t, r.Checkout("other", false))
	writeWorkFile(t, r, "victim.txt", "will be truncated")
	c2 := addAndCommit(t, r, "victim.txt", "c2")

	// Truncate victim.txt's version file on disk.
	victimHash := types.HashBytes([]byte("will be truncated"))
	hex := victimHash.String()
	versionPath := filepath.Join(r.DataDir, "versions", hex[:2], hex[2:], "data")
	require.NoError(t, os.WriteFile(versionPath, []byte("will be"), 0o644))

	issues, err := r.Validate()
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, c2.ID, issues[0].CommitID)
	require.Equal(t, "victim.txt", issues[0].Path)
	require.Equal(t, victimHash, issues[0].Hash)
	require.False(t, issues[0].Missing)

	stats, ok, err := r.Cache.Get(c2.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, stats.ContentValid)

	stats, ok, err = r.Cache.Get(c1.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stats.ContentValid, "c1 must not be flagged")
}

func TestEmptyRepositoryBoundaries(t *testing.T) {
	r := initRepo(t)

	status, err := r.Status()
	require.NoError(t, err)
	require.Empty(t, status.Entries)

	log, err := r.Log("")
	require.NoError(t, err)
	require.Empty(t, log)

	_, err = r.CommitStaged(testIdentity, "nothing", false)
	require.Error(t, err, "empty staging without allow-empty must not commit")

	c, err := r.CommitStaged(testIdentity, "empty on purpose", true)
	require.NoError(t, err)
	require.True(t, c.IsRoot())
}
