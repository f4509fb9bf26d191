package checkout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/silo-vc/silo/pkg/commitstore"
	"github.com/silo-vc/silo/pkg/commitwriter"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/refs"
	"github.com/silo-vc/silo/pkg/staging"
	"github.com/silo-vc/silo/pkg/types"
)

type harness struct {
	engine  *Engine
	writer  *commitwriter.Writer
	area    *staging.Area
	workDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repoDir := t.TempDir()
	workDir := t.TempDir()

	trees, err := objects.NewTreeStore(repoDir)
	if err != nil {
		t.Fatalf("NewTreeStore: %v", err)
	}
	t.Cleanup(func() { trees.Close() })

	versions, err := objects.NewVersionStore(repoDir)
	if err != nil {
		t.Fatalf("NewVersionStore: %v", err)
	}

	commits, err := commitstore.NewStore(repoDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { commits.Close() })

	area, err := staging.Open(repoDir, workDir)
	if err != nil {
		t.Fatalf("staging.Open: %v", err)
	}
	t.Cleanup(func() { area.Close() })

	branches, err := refs.NewManager(repoDir)
	if err != nil {
		t.Fatalf("refs.NewManager: %v", err)
	}
	if err := branches.CreateBranch("main", types.Hash{}); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	headMgr := refs.NewHeadManager(repoDir, branches)
	if err := headMgr.InitializeHead("main"); err != nil {
		t.Fatalf("InitializeHead: %v", err)
	}

	times, err := OpenTimestampCache(repoDir)
	if err != nil {
		t.Fatalf("OpenTimestampCache: %v", err)
	}
	t.Cleanup(func() { times.Close() })

	w := &commitwriter.Writer{Trees: trees, Versions: versions, Commits: commits}
	e := &Engine{
		WorkDir: workDir, Trees: trees, Versions: versions, Commits: commits,
		Refs: branches, Head: headMgr, Times: times,
	}
	return &harness{engine: e, writer: w, area: area, workDir: workDir}
}

func writeWorkFile(t *testing.T, workDir, path, content string) {
	t.Helper()
	full := filepath.Join(workDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func readWorkFile(t *testing.T, workDir, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(workDir, path))
	if err != nil {
		t.Fatalf("ReadFile %s: %v", path, err)
	}
	return string(data)
}

// commitCurrent stages path, writes a commit on top of HEAD, advances the
// main branch, and clears staging - the minimal version of what the root
// silo package's Commit() verb orchestrates.
func (h *harness) commitCurrent(t *testing.T, path, msg string, ts int64) *types.Commit {
	t.Helper()
	head, err := h.engine.Head.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	var parents []types.Hash
	parentRoots := map[types.Hash]types.Hash{}
	headTree := staging.HeadTree{Store: h.engine.Trees}
	if !head.CommitID.IsZero() {
		parents = []types.Hash{head.CommitID}
		c, err := h.engine.Commits.Get(head.CommitID)
		if err != nil {
			t.Fatalf("Commits.Get: %v", err)
		}
		parentRoots[head.CommitID] = c.RootTreeHash
		headTree.Root = c.RootTreeHash
	}
	if err := h.area.Add(headTree, path); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c, err := h.writer.Write(h.area, commitwriter.Request{
		WorkDir: h.workDir, ParentIDs: parents, ParentRoots: parentRoots,
		Message: msg, Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.engine.Refs.UpdateBranch("main", c.ID); err != nil {
		t.Fatalf("UpdateBranch: %v", err)
	}
	if err := h.area.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	return c
}

func TestCheckoutRestoresPriorContent(t *testing.T) {
	h := newHarness(t)
	writeWorkFile(t, h.workDir, "hello.txt", "Hello")
	c1 := h.commitCurrent(t, "hello.txt", "first", 1)

	writeWorkFile(t, h.workDir, "hello.txt", "World")
	c2 := h.commitCurrent(t, "hello.txt", "second", 2)
	if c2.RootTreeHash == c1.RootTreeHash {
		t.Fatalf("expected root to change between commits")
	}

	if err := h.engine.Checkout(c1.ID.String(), false); err != nil {
		t.Fatalf("Checkout c1: %v", err)
	}
	if got := readWorkFile(t, h.workDir, "hello.txt"); got != "Hello" {
		t.Fatalf("expected Hello after checkout, got %q", got)
	}

	if err := h.engine.Checkout("main", false); err != nil {
		t.Fatalf("Checkout main: %v", err)
	}
	if got := readWorkFile(t, h.workDir, "hello.txt"); got != "World" {
		t.Fatalf("expected World after checkout main, got %q", got)
	}
	head, err := h.engine.Head.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if head.Branch != "main" || head.IsDetached {
		t.Fatalf("expected attached HEAD on main, got %+v", head)
	}
}

func TestCheckoutRefusesDirtyFile(t *testing.T) {
	h := newHarness(t)
	writeWorkFile(t, h.workDir, "hello.txt", "Hello")
	c1 := h.commitCurrent(t, "hello.txt", "first", 1)
	writeWorkFile(t, h.workDir, "hello.txt", "World")
	h.commitCurrent(t, "hello.txt", "second", 2)

	// Dirty the working tree relative to current HEAD (main, at "World").
	writeWorkFile(t, h.workDir, "hello.txt", "dirty-uncommitted")

	if err := h.engine.Checkout(c1.ID.String(), false); err == nil {
		t.Fatalf("expected checkout to refuse a dirty divergent file")
	}
	if err := h.engine.Checkout(c1.ID.String(), true); err != nil {
		t.Fatalf("expected force checkout to succeed, got %v", err)
	}
	if got := readWorkFile(t, h.workDir, "hello.txt"); got != "Hello" {
		t.Fatalf("expected Hello after forced checkout, got %q", got)
	}
}

func TestRestoreFromHead(t *testing.T) {
	h := newHarness(t)
	writeWorkFile(t, h.workDir, "hello.txt", "Hello")
	h.commitCurrent(t, "hello.txt", "first", 1)

	writeWorkFile(t, h.workDir, "hello.txt", "scratch-edit")
	if err := h.engine.Restore("hello.txt", RestoreOptions{}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := readWorkFile(t, h.workDir, "hello.txt"); got != "Hello" {
		t.Fatalf("expected Hello after restore, got %q", got)
	}
}
