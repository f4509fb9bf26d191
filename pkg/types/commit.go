package types

import (
	"sort"
	"strconv"
)

// Commit is a snapshot of the repository: a root tree plus provenance.
// Root commits have an empty ParentIDs; a merge commit has two or more.
type Commit struct {
	ID           Hash
	ParentIDs    []Hash
	Message      string
	Author       string
	Email        string
	Timestamp    int64 // unix seconds
	RootTreeHash Hash
}

// CanonicalFields returns the field values that are hashed to produce the
// commit's ID. Parent ids are sorted so that the id does not depend on the
// order parents were supplied in (merges are unordered sets of parents).
func (c Commit) CanonicalFields() []string {
	parents := make([]string, len(c.ParentIDs))
	for i, p := range c.ParentIDs {
		parents[i] = p.String()
	}
	sort.Strings(parents)

	fields := make([]string, 0, len(parents)+5)
	for _, p := range parents {
		fields = append(fields, p)
	}
	fields = append(fields,
		c.Message,
		c.Author,
		c.Email,
		c.RootTreeHash.String(),
	)
	return fields
}

// ComputeID returns the content hash over the commit's canonical fields
// plus its timestamp. Call after all other fields are set.
func (c Commit) ComputeID() Hash {
	fields := c.CanonicalFields()
	fields = append(fields, strconv.FormatInt(c.Timestamp, 10))
	return HashFields(fields...)
}

// IsRoot reports whether this commit has no parents.
func (c Commit) IsRoot() bool {
	return len(c.ParentIDs) == 0
}

// IsMerge reports whether this commit has two or more parents.
func (c Commit) IsMerge() bool {
	return len(c.ParentIDs) >= 2
}
