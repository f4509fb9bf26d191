// Package objects is the content-addressed object store: the version
// store for raw file bytes, and the tree-node stores for Dir/VNode/File/
// Schema nodes. Version payloads live at versions/<hh>/<rest>/data — a
// directory per hash holding a single data file — and every write goes
// through a temp file in the same directory followed by a rename, so a
// crash never exposes a half-written payload.
package objects

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/silo-vc/silo/internal/atomicfile"
	"github.com/silo-vc/silo/pkg/types"
)

// ErrHashNotFound is returned when a hash has no corresponding version
// file on disk.
var ErrHashNotFound = errors.New("objects: hash not found in version store")

// VersionStore is the content-addressed store for file payloads, laid out
// as versions/<hash[0:2]>/<hash[2:]>/data.
type VersionStore struct {
	baseDir string
}

// NewVersionStore opens (creating if necessary) the version store rooted
// at <repoDir>/versions.
func NewVersionStore(repoDir string) (*VersionStore, error) {
	dir := filepath.Join(repoDir, "versions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &VersionStore{baseDir: dir}, nil
}

func (v *VersionStore) dataPath(hash types.Hash) string {
	hex := hash.String()
	return filepath.Join(v.baseDir, hex[:2], hex[2:], "data")
}

// Exists reports whether hash's bytes are already present.
func (v *VersionStore) Exists(hash types.Hash) bool {
	_, err := os.Stat(v.dataPath(hash))
	return err == nil
}

// PutBytes stores data under its content hash, no-op if the hash already
// exists. Writes are atomic: write to a temp file in the same directory,
// fsync, then rename.
func (v *VersionStore) PutBytes(data []byte) (types.Hash, error) {
	hash := types.HashBytes(data)
	if v.Exists(hash) {
		return hash, nil
	}
	dst := v.dataPath(hash)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Hash{}, err
	}
	if err := atomicfile.Write(dir, dst, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return types.Hash{}, err
	}
	return hash, nil
}

// PutFile copies the file at sourcePath into the version store, computing
// its hash along the way. It is a no-op (beyond hashing) if a version file
// for that hash already exists — content-level deduplication.
func (v *VersionStore) PutFile(sourcePath string) (types.Hash, int64, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return types.Hash{}, 0, err
	}
	hash, err := v.PutBytes(data)
	if err != nil {
		return types.Hash{}, 0, err
	}
	return hash, int64(len(data)), nil
}

// ReadBytes retrieves the bytes stored under hash.
func (v *VersionStore) ReadBytes(hash types.Hash) ([]byte, error) {
	data, err := os.ReadFile(v.dataPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrHashNotFound
		}
		return nil, err
	}
	return data, nil
}

// Open returns a reader over the bytes stored under hash, for streaming
// large files without loading them fully into memory (used by the
// transfer protocol's chunker).
func (v *VersionStore) Open(hash types.Hash) (*os.File, error) {
	f, err := os.Open(v.dataPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrHashNotFound
		}
		return nil, err
	}
	return f, nil
}
