package silo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/migrate"
	"github.com/silo-vc/silo/pkg/pack"
)

// Save implements `save <path> -o <archive>`: writes the repository's
// durable state (everything under the data directory) as a deterministic
// archive stream. The working tree itself is not archived — Load rebuilds
// it from the object store.
func (r *Repository) Save(w io.Writer) error {
	return pack.Pack(r.DataDir, w)
}

// Load implements `load <archive> <dest> [--no-working-dir]`: unpacks an
// archive produced by Save into a fresh repository at destWorkDir and,
// unless noWorkingDir is set, materializes HEAD's tree into the working
// directory.
func Load(src io.Reader, destWorkDir string, noWorkingDir bool) (*Repository, error) {
	dataDir := filepath.Join(destWorkDir, DataDirName)
	if _, err := os.Stat(dataDir); err == nil {
		return nil, errs.At(errs.Invalid, dataDir, fmt.Errorf("silo: destination already holds a repository"))
	}
	if err := pack.Unpack(src, dataDir); err != nil {
		return nil, err
	}
	r, err := Open(destWorkDir)
	if err != nil {
		return nil, err
	}
	if noWorkingDir {
		return r, nil
	}
	head, err := r.Head.GetHead()
	if err != nil {
		return nil, err
	}
	if !head.CommitID.IsZero() {
		root, err := r.ResolveTree(head.CommitID.String())
		if err != nil {
			return nil, err
		}
		if err := r.CheckoutEngine.Materialize(root); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Migrate implements `migrate up <name> <path>` for this repository:
// applies every pending migration in reg against the data directory. The
// repository's store handles must be closed by the caller first — a
// migration rewrites the on-disk layout wholesale.
func Migrate(reg *migrate.Registry, dataDir string) error {
	return reg.Apply(dataDir)
}

// MigrateDown rolls back the most recently applied migration.
func MigrateDown(reg *migrate.Registry, dataDir string) error {
	return reg.Rollback(dataDir)
}

// MigrateAll applies reg to every repository found under root, the
// `--all` flag's all-repos-under-path mode: any directory containing a
// DataDirName subdirectory counts as a repository.
func MigrateAll(reg *migrate.Registry, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || info.Name() != DataDirName {
			return nil
		}
		if err := reg.Apply(path); err != nil {
			return err
		}
		return filepath.SkipDir
	})
}
