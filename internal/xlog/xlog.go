// Package xlog is the structured logging façade every other package logs
// through: a thin wrapper over the standard library's slog, annotating
// log lines with the repository path and operation name.
package xlog

import (
	"context"
	"log/slog"
	"os"
)

// New creates a logger writing leveled, field-structured text to
// os.Stderr.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything, used by tests and by
// callers (library embedders) that want silence by default.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// WithRepo returns a logger annotated with the repository path, the field
// every engine-level log line in this repository carries.
func WithRepo(l *slog.Logger, repoPath string) *slog.Logger {
	return l.With(slog.String("repo", repoPath))
}

// Op returns a logger annotated with the operation name (commit, push,
// checkout, ...), used at the start of every Repository method so its
// sub-calls' log lines are traceable to the outer call.
func Op(ctx context.Context, l *slog.Logger, op string) *slog.Logger {
	return l.With(slog.String("op", op))
}
