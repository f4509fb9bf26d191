package commitstore

import (
	"testing"

	"github.com/silo-vc/silo/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkCommit(t *testing.T, s *Store, msg string, parents ...types.Hash) *types.Commit {
	t.Helper()
	c := &types.Commit{
		ParentIDs:    parents,
		Message:      msg,
		Author:       "tester",
		Email:        "tester@example.com",
		Timestamp:    1700000000,
		RootTreeHash: types.HashBytes([]byte(msg)),
	}
	c.ID = c.ComputeID()
	if err := s.Put(c); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	c := mkCommit(t, s, "initial commit")

	got, err := s.Get(c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Message != c.Message || got.RootTreeHash != c.RootTreeHash {
		t.Fatalf("round-trip mismatch: %+v vs %+v", got, c)
	}
	if !s.Exists(c.ID) {
		t.Fatalf("expected Exists true")
	}
}

func TestLogLinearHistory(t *testing.T) {
	s := newTestStore(t)
	c1 := mkCommit(t, s, "one")
	c2 := mkCommit(t, s, "two", c1.ID)
	c3 := mkCommit(t, s, "three", c2.ID)

	log, err := s.Log(c3.ID)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(log) != 3 || log[0].ID != c3.ID || log[2].ID != c1.ID {
		t.Fatalf("unexpected log order: %+v", log)
	}
}

func TestAncestorsAndMergeBase(t *testing.T) {
	s := newTestStore(t)
	base := mkCommit(t, s, "base")
	left := mkCommit(t, s, "left", base.ID)
	right := mkCommit(t, s, "right", base.ID)
	merge := mkCommit(t, s, "merge", left.ID, right.ID)

	if !merge.IsMerge() {
		t.Fatalf("expected merge commit to report IsMerge")
	}

	ancestors, err := s.Ancestors(merge.ID)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	for _, want := range []types.Hash{base.ID, left.ID, right.ID, merge.ID} {
		if !ancestors[want] {
			t.Fatalf("expected %s in ancestor set", want)
		}
	}

	ok, err := s.IsAncestor(base.ID, merge.ID)
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if !ok {
		t.Fatalf("expected base to be an ancestor of merge")
	}

	mb, err := s.MergeBase(left.ID, right.ID)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	if mb != base.ID {
		t.Fatalf("expected merge base %s, got %s", base.ID, mb)
	}
}

func TestGetMissingCommit(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(types.HashBytes([]byte("nope")))
	if err != ErrCommitNotFound {
		t.Fatalf("expected ErrCommitNotFound, got %v", err)
	}
}
