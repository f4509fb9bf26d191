package commitwriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/silo-vc/silo/pkg/commitstore"
	"github.com/silo-vc/silo/pkg/merkle"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/staging"
	"github.com/silo-vc/silo/pkg/types"
)

func newHarness(t *testing.T) (*Writer, *staging.Area, string) {
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

	w := &Writer{Trees: trees, Versions: versions, Commits: commits}
	return w, area, workDir
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

func TestWriteRootCommit(t *testing.T) {
	w, area, workDir := newHarness(t)
	writeWorkFile(t, workDir, "hello.txt", "Hello")

	head := staging.HeadTree{Store: w.Trees}
	if err := area.Add(head, "hello.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	c, err := w.Write(area, Request{
		WorkDir: workDir, Message: "first", Author: "a", Email: "a@example.com", Timestamp: 1,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if c.ID.IsZero() {
		t.Fatalf("expected non-zero commit id")
	}
	if !c.IsRoot() {
		t.Fatalf("expected root commit")
	}

	res, err := merkle.Resolve(w.Trees, c.RootTreeHash, "hello.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Kind != types.KindFile {
		t.Fatalf("expected file, got %v", res.Kind)
	}
	if res.File.IntroducedIn != c.ID {
		t.Fatalf("IntroducedIn not stamped: got %s want %s", res.File.IntroducedIn, c.ID)
	}
}

func TestWriteNothingStagedFails(t *testing.T) {
	w, area, _ := newHarness(t)
	_, err := w.Write(area, Request{Message: "empty"})
	if err != ErrNothingToCommit {
		t.Fatalf("expected ErrNothingToCommit, got %v", err)
	}
}

func TestWriteAllowEmpty(t *testing.T) {
	w, area, _ := newHarness(t)
	c, err := w.Write(area, Request{Message: "empty", AllowEmpty: true})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	root, err := merkle.EmptyDir(w.Trees)
	if err != nil {
		t.Fatalf("EmptyDir: %v", err)
	}
	if c.RootTreeHash != root {
		t.Fatalf("expected empty-dir root for allow-empty commit")
	}
}

func TestWriteSecondCommitReusesUnchangedSubtree(t *testing.T) {
	w, area, workDir := newHarness(t)
	writeWorkFile(t, workDir, "a.txt", "A")
	writeWorkFile(t, workDir, "dir/b.txt", "B")

	head := staging.HeadTree{Store: w.Trees}
	if err := area.Add(head, "a.txt"); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := area.Add(head, "dir/b.txt"); err != nil {
		t.Fatalf("Add b: %v", err)
	}
	c1, err := w.Write(area, Request{WorkDir: workDir, Message: "one", Timestamp: 1})
	if err != nil {
		t.Fatalf("Write c1: %v", err)
	}
	if err := area.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	writeWorkFile(t, workDir, "a.txt", "A2")
	head2 := staging.HeadTree{Store: w.Trees, Root: c1.RootTreeHash}
	if err := area.Add(head2, "a.txt"); err != nil {
		t.Fatalf("Add a2: %v", err)
	}
	c2, err := w.Write(area, Request{
		WorkDir: workDir, ParentIDs: []types.Hash{c1.ID},
		ParentRoots: map[types.Hash]types.Hash{c1.ID: c1.RootTreeHash},
		Message:     "two", Timestamp: 2,
	})
	if err != nil {
		t.Fatalf("Write c2: %v", err)
	}

	res, err := merkle.Resolve(w.Trees, c2.RootTreeHash, "dir/b.txt")
	if err != nil {
		t.Fatalf("Resolve dir/b.txt in c2: %v", err)
	}
	if res.File.IntroducedIn != c1.ID {
		t.Fatalf("expected dir/b.txt to still carry c1's provenance, got %s", res.File.IntroducedIn)
	}

	changes, err := merkle.DiffTrees(w.Trees, c1.RootTreeHash, c2.RootTreeHash)
	if err != nil {
		t.Fatalf("DiffTrees: %v", err)
	}
	if len(changes) != 1 || changes[0].Path != "a.txt" {
		t.Fatalf("expected exactly one change (a.txt), got %+v", changes)
	}
}
