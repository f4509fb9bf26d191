// Package migrate is the repository layout migration framework: an
// ordered list of reversible steps, each rebuilding the repository under
// a scratch directory and atomically swapping it in, so a crash mid-
// migration never leaves the repository in a half-migrated state. The
// write-then-rename discipline internal/atomicfile applies to single
// files is generalized here to an entire directory tree.
package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/silo-vc/silo/internal/atomicfile"
	"github.com/silo-vc/silo/pkg/errs"
)

// Migration is one reversible repository layout change. ID orders
// migrations and is persisted in last_migration.txt once applied. Up and
// Down receive the path of a shadow copy of the repository directory,
// made by the registry, and mutate that copy's layout in place; the
// registry swaps the copy over the original only if the call succeeds, so
// the shadow-and-swap safety net lives in the Registry, not in the
// migration itself.
type Migration struct {
	ID   string
	Up   func(repoPath string) error
	Down func(repoPath string) error
}

// Registry is an ordered, ID-sorted set of migrations.
type Registry struct {
	migrations []Migration
}

// NewRegistry builds a Registry from an unordered list, sorting by ID.
func NewRegistry(migrations ...Migration) *Registry {
	r := &Registry{migrations: append([]Migration{}, migrations...)}
	sort.Slice(r.migrations, func(i, j int) bool { return r.migrations[i].ID < r.migrations[j].ID })
	return r
}

const markerFile = "last_migration.txt"

// LastApplied reads the highest migration ID applied to repoPath, or ""
// if none has run yet.
func LastApplied(repoPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, markerFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errs.At(errs.Corruption, markerFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Pending returns the migrations with ID greater than repoPath's last
// applied marker, in ascending order.
func (r *Registry) Pending(repoPath string) ([]Migration, error) {
	last, err := LastApplied(repoPath)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, m := range r.migrations {
		if m.ID > last {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Apply runs every pending migration against repoPath in order. Each step
// is shadow-and-swap: Up runs against a fresh copy of repoPath at the
// sibling path <repoPath>.migrate-tmp-<id>, and only once Up returns
// successfully is the scratch directory renamed over repoPath (after the
// original is moved aside as <repoPath>.migrate-backup-<id>, removed only
// once the swap commits). last_migration.txt is written inside the new
// layout before the swap, so a crash between rename and marker-write
// cannot happen — the marker is part of the atomically-swapped content.
func (r *Registry) Apply(repoPath string) error {
	pending, err := r.Pending(repoPath)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := r.applyOne(repoPath, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.ID, err)
		}
	}
	return nil
}

func (r *Registry) applyOne(repoPath string, m Migration) error {
	// Scratch and backup live next to repoPath, never inside it: the swap
	// renames repoPath itself, which cannot move into its own subtree.
	scratch := filepath.Clean(repoPath) + ".migrate-tmp-" + m.ID
	backup := filepath.Clean(repoPath) + ".migrate-backup-" + m.ID

	if err := os.RemoveAll(scratch); err != nil {
		return errs.At(errs.Transient, scratch, err)
	}
	if err := copyTree(repoPath, scratch, m.ID); err != nil {
		return err
	}

	if err := m.Up(scratch); err != nil {
		os.RemoveAll(scratch)
		return errs.At(errs.Invalid, m.ID, err)
	}

	if err := atomicfile.WriteString(scratch, filepath.Join(scratch, markerFile), m.ID); err != nil {
		os.RemoveAll(scratch)
		return err
	}

	if err := os.RemoveAll(backup); err != nil {
		return errs.At(errs.Transient, backup, err)
	}
	if err := os.Rename(repoPath, backup); err != nil {
		return errs.At(errs.Transient, repoPath, err)
	}
	if err := os.Rename(scratch, repoPath); err != nil {
		// best-effort recovery: put the original back
		_ = os.Rename(backup, repoPath)
		return errs.At(errs.Corruption, repoPath, err)
	}
	return os.RemoveAll(backup)
}

// Rollback undoes the most recently applied migration by running its Down
// function against a fresh shadow copy, symmetric to Apply.
func (r *Registry) Rollback(repoPath string) error {
	last, err := LastApplied(repoPath)
	if err != nil {
		return err
	}
	if last == "" {
		return errs.New(errs.Invalid, fmt.Errorf("migrate: no migration to roll back"))
	}
	var target *Migration
	var prevID string
	for i, m := range r.migrations {
		if m.ID == last {
			target = &r.migrations[i]
			if i > 0 {
				prevID = r.migrations[i-1].ID
			}
			break
		}
	}
	if target == nil {
		return errs.At(errs.NotFound, last, fmt.Errorf("migrate: unknown migration id"))
	}

	scratch := filepath.Clean(repoPath) + ".migrate-tmp-rollback-" + target.ID
	backup := filepath.Clean(repoPath) + ".migrate-backup-rollback-" + target.ID
	if err := os.RemoveAll(scratch); err != nil {
		return errs.At(errs.Transient, scratch, err)
	}
	if err := copyTree(repoPath, scratch, target.ID); err != nil {
		return err
	}
	if err := target.Down(scratch); err != nil {
		os.RemoveAll(scratch)
		return errs.At(errs.Invalid, target.ID, err)
	}
	if err := atomicfile.WriteString(scratch, filepath.Join(scratch, markerFile), prevID); err != nil {
		os.RemoveAll(scratch)
		return err
	}
	if err := os.RemoveAll(backup); err != nil {
		return errs.At(errs.Transient, backup, err)
	}
	if err := os.Rename(repoPath, backup); err != nil {
		return errs.At(errs.Transient, repoPath, err)
	}
	if err := os.Rename(scratch, repoPath); err != nil {
		_ = os.Rename(backup, repoPath)
		return errs.At(errs.Corruption, repoPath, err)
	}
	return os.RemoveAll(backup)
}

// copyTree recursively copies src into dst, skipping any existing
// .migrate-tmp-*/.migrate-backup-* scratch directories from prior
// (aborted) attempts so they are never copied into a new attempt.
func copyTree(src, dst, migrationID string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if strings.HasPrefix(rel, ".migrate-tmp-") || strings.HasPrefix(rel, ".migrate-backup-") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
