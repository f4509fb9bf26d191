package silo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silo-vc/silo/pkg/tabular"
	"github.com/silo-vc/silo/pkg/types"
)

// Diffing t.csv between two branches on key "id" yields one modified,
// one removed, and one added row.
func TestTabularDiffAcrossBranches(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "t.csv", "id,name,age\n1,a,10\n2,b,20\n")
	addAndCommit(t, r, "t.csv", "base table")

	require.NoError(t, r.CreateBranch("b2", ""))
	require.NoError(t, r.Checkout("b2", false))
	writeWorkFile(t, r, "t.csv", "id,name,age\n1,a,11\n3,c,30\n")
	addAndCommit(t, r, "t.csv", "edited table")

	result, err := r.DiffTabular("main", "b2", "t.csv", []string{"id"}, []string{"age"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)

	byID := map[float64]tabular.RowDiffEntry{}
	for _, row := range result.Rows {
		byID[row.Keys["id"].(float64)] = row
	}

	require.Equal(t, types.DiffModified, byID[1].Status)
	require.Equal(t, 10.0, byID[1].Left["age"])
	require.Equal(t, 11.0, byID[1].Right["age"])

	require.Equal(t, types.DiffRemoved, byID[2].Status)
	require.Equal(t, 20.0, byID[2].Left["age"])

	require.Equal(t, types.DiffAdded, byID[3].Status)
	require.Equal(t, 30.0, byID[3].Right["age"])

	// Rows come back sorted by the key columns ascending.
	require.Equal(t, 1.0, result.Rows[0].Keys["id"])
	require.Equal(t, 2.0, result.Rows[1].Keys["id"])
	require.Equal(t, 3.0, result.Rows[2].Keys["id"])
}

// Index t.csv, append a row, modify one, delete one; diff reports all
// three; committing materializes the edited file.
func TestStagedTabularEditsCommit(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "t.csv", "id,name,age\n1,a,10\n2,b,20\n3,c,30\n")
	addAndCommit(t, r, "t.csv", "base table")

	session, err := r.IndexDataframe("main", "alice", "t.csv", []string{"id"}, []string{"age", "name"})
	require.NoError(t, err)

	_, oxenID, err := session.Append(tabular.Row{"id": 4.0, "name": "d", "age": 40.0})
	require.NoError(t, err)
	require.NotEmpty(t, oxenID)

	require.NoError(t, session.Modify(0, map[string]any{"age": 12.0}))
	require.NoError(t, session.Delete(1))

	diff, err := session.Diff()
	require.NoError(t, err)
	require.Len(t, diff.Rows, 3)
	counts := map[types.DiffStatus]int{}
	for _, row := range diff.Rows {
		counts[row.Status]++
	}
	require.Equal(t, 1, counts[types.DiffAdded])
	require.Equal(t, 1, counts[types.DiffModified])
	require.Equal(t, 1, counts[types.DiffRemoved])

	commit, err := session.Commit(testIdentity, "apply staged edits")
	require.NoError(t, err)

	rows, err := r.ReadRows(commit.ID.String(), "t.csv")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	byID := map[float64]tabular.Row{}
	for _, row := range rows {
		byID[row["id"].(float64)] = row
	}
	require.Equal(t, 12.0, byID[1]["age"])
	require.Equal(t, "a", byID[1]["name"])
	require.NotContains(t, byID, 2.0, "deleted row must not be materialized")
	require.Equal(t, 30.0, byID[3]["age"])
	require.Equal(t, 40.0, byID[4]["age"])
	require.Equal(t, "d", byID[4]["name"])

	// The per-session row-mod log is cleared after materialization.
	mods, err := r.Staging.ListRowMods("main", "alice", "t.csv")
	require.NoError(t, err)
	require.Empty(t, mods)
}

func TestIndexedSessionStaleBase(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "t.csv", "id,name\n1,a\n")
	addAndCommit(t, r, "t.csv", "base table")

	session, err := r.IndexDataframe("main", "alice", "t.csv", []string{"id"}, nil)
	require.NoError(t, err)

	// A foreign commit lands on the same branch while edits are in
	// flight: the session must surface stale-base, not apply silently.
	writeWorkFile(t, r, "other.txt", "unrelated")
	addAndCommit(t, r, "other.txt", "foreign commit")

	_, _, err = session.Append(tabular.Row{"id": 2.0, "name": "b"})
	require.ErrorIs(t, err, tabular.ErrStaleBase)
}

func TestListSchemas(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "t.csv", "id,name\n1,a\n")
	writeWorkFile(t, r, "notes.txt", "not tabular")
	require.NoError(t, r.Add("t.csv"))
	addAndCommit(t, r, "notes.txt", "mixed commit")

	schemas, err := r.ListSchemas("")
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	require.Equal(t, "t.csv", schemas[0].Path)

	names := map[string]types.DType{}
	for _, f := range schemas[0].Schema.Fields {
		names[f.Name] = f.DType
	}
	require.Equal(t, types.DTypeI64, names["id"])
	require.Equal(t, types.DTypeString, names["name"])
}

func TestNameSchema(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "t.csv", "id,name\n1,a\n")
	addAndCommit(t, r, "t.csv", "base table")

	before, err := r.SchemaFor("HEAD", "t.csv")
	require.NoError(t, err)
	require.NoError(t, r.NameSchema("t.csv", "people"))

	after, err := r.SchemaFor("HEAD", "t.csv")
	require.NoError(t, err)
	require.Equal(t, "people", after.Name)
	// Naming is a label change only; the schema's identity is untouched.
	require.Equal(t, before.Hash, after.Hash)

	_, err = r.SchemaFor("HEAD", "missing.csv")
	require.Error(t, err)
}

// TestSchemaChangeForcesNewSchemaNode covers invariant 7: committing the
// same path with a different column set yields a different schema hash.
func TestSchemaChangeForcesNewSchemaNode(t *testing.T) {
	r := initRepo(t)
	writeWorkFile(t, r, "t.csv", "id,name\n1,a\n")
	c1 := addAndCommit(t, r, "t.csv", "two columns")

	writeWorkFile(t, r, "t.csv", "id,name,age\n1,a,10\n")
	c2 := addAndCommit(t, r, "t.csv", "three columns")

	s1, err := r.ListSchemas(c1.ID.String())
	require.NoError(t, err)
	s2, err := r.ListSchemas(c2.ID.String())
	require.NoError(t, err)
	require.Len(t, s1, 1)
	require.Len(t, s2, 1)
	require.NotEqual(t, s1[0].Schema.Hash, s2[0].Schema.Hash)
}
