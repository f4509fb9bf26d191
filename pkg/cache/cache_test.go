package cache

import (
	"testing"

	"github.com/silo-vc/silo/pkg/types"
)

func TestPutGetInvalidate(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	commit := types.HashBytes([]byte("c1"))
	stats := CommitStats{
		TotalBytes:   42,
		FileCount:    2,
		DataFrames:   map[string]DFMeta{"t.csv": {SchemaHash: "abc", RowCount: 3}},
		ContentValid: true,
	}
	if err := s.Put(commit, stats); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(commit)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a cached entry")
	}
	if got.TotalBytes != 42 || got.FileCount != 2 || !got.ContentValid {
		t.Fatalf("unexpected stats %+v", got)
	}
	if got.DataFrames["t.csv"].RowCount != 3 {
		t.Fatalf("unexpected dataframe meta %+v", got.DataFrames)
	}

	if err := s.Invalidate(commit); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := s.Get(commit); ok {
		t.Fatal("expected entry to be gone after Invalidate")
	}
}

func TestGetMissingIsNotAnError(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	_, ok, err := s.Get(types.HashBytes([]byte("absent")))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected no entry")
	}
}

func TestMarkCorrupt(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	commit := types.HashBytes([]byte("c2"))
	if err := s.Put(commit, CommitStats{ContentValid: true}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.MarkCorrupt(commit); err != nil {
		t.Fatalf("MarkCorrupt: %v", err)
	}
	got, ok, err := s.Get(commit)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.ContentValid {
		t.Fatal("expected ContentValid to be cleared")
	}
}
