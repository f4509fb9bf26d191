// Package ignore matches working-tree paths against a repository's
// .ignore file (gitignore-style patterns), used by the staging area's
// Status to exclude untracked files that should not be surfaced.
package ignore

import (
	"os"

	gitignore "github.com/denormal/go-gitignore"
)

// Matcher reports whether a repository-relative path should be excluded
// from staging and status.
type Matcher interface {
	Ignore(path string) bool
}

// noopMatcher is used when a repository has no .ignore file: nothing is
// excluded.
type noopMatcher struct{}

func (noopMatcher) Ignore(string) bool { return false }

// Load parses the .ignore file at path. A missing file is not an error:
// it returns a Matcher that excludes nothing.
func Load(path string) (Matcher, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return noopMatcher{}, nil
		}
		return nil, err
	}
	gi, err := gitignore.NewFromFile(path)
	if err != nil {
		return nil, err
	}
	return gitignoreMatcher{gi: gi}, nil
}

type gitignoreMatcher struct {
	gi gitignore.GitIgnore
}

// Ignore matches a repository-relative path. Relative (not Match) is used
// so paths never have to be resolved against the process working
// directory.
func (m gitignoreMatcher) Ignore(path string) bool {
	match := m.gi.Relative(path, false)
	return match != nil && match.Ignore()
}
