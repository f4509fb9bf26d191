// Package errs classifies engine errors into the six kinds a front-end
// translation layer (CLI exit codes, HTTP status codes) needs, without
// implementing that translation layer itself.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the six error categories the engine surfaces.
type Kind string

const (
	// NotFound: path, commit, branch, remote, or object not present.
	NotFound Kind = "not_found"
	// Corruption: a stored node's hash doesn't match its bytes, a
	// referenced object is missing, or a commit's parent chain is broken.
	Corruption Kind = "corruption"
	// Conflict: checkout would overwrite a dirty file, merge leaves
	// unresolved paths, push target is locked or has diverged.
	Conflict Kind = "conflict"
	// Protocol: remote returned an unparseable or unexpected response.
	Protocol Kind = "protocol"
	// Invalid: caller supplied a bad path, unknown dtype, empty required
	// field.
	Invalid Kind = "invalid"
	// Transient: network or disk I/O that may succeed on retry.
	Transient Kind = "transient"
)

// Error wraps an underlying error with a Kind and the object path (if
// any) that first failed, so failures surface as the first failing
// object plus its kind.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and an empty path.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// At wraps err with kind and the object path that failed.
func At(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// Is reports whether err (or anything it wraps) is a *Error of the given
// kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
