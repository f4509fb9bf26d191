// Package refs is the reference store: branches, remotes, HEAD, and
// per-branch commit locks. Branches are plain files under
// refs/heads/<name>, written atomically, with nested branch names checked
// for path conflicts against existing refs.
package refs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/silo-vc/silo/internal/atomicfile"
	"github.com/silo-vc/silo/pkg/types"
)

var (
	// ErrBranchExists is returned when attempting to create a branch that already exists.
	ErrBranchExists = errors.New("refs: branch already exists")
	// ErrBranchNotFound is returned when a branch does not exist.
	ErrBranchNotFound = errors.New("refs: branch not found")
	// ErrBranchPathConflict is returned when a branch name conflicts with an existing path.
	ErrBranchPathConflict = errors.New("refs: branch name conflicts with existing branch path")
)

// Manager owns the on-disk refs/heads/, refs/remotes/ and locks/
// directories under a repository's data directory.
type Manager struct {
	refsDir   string // refs/heads/
	remoteDir string // refs/remotes/
	locksDir  string // locks/
}

// NewManager creates a Manager rooted at dataDir, creating its
// subdirectories if they do not yet exist.
func NewManager(dataDir string) (*Manager, error) {
	refsDir := filepath.Join(dataDir, "refs", "heads")
	remoteDir := filepath.Join(dataDir, "refs", "remotes")
	locksDir := filepath.Join(dataDir, "locks")
	for _, d := range []string{refsDir, remoteDir, locksDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}
	return &Manager{refsDir: refsDir, remoteDir: remoteDir, locksDir: locksDir}, nil
}

func (m *Manager) branchFilePath(name string) string {
	return filepath.Join(m.refsDir, name)
}

// CreateBranch creates a new branch pointing to commit.
func (m *Manager) CreateBranch(name string, commit types.Hash) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if m.BranchExists(name) {
		return ErrBranchExists
	}
	if err := m.checkPathConflict(name); err != nil {
		return err
	}
	return m.writeBranchRef(name, commit)
}

// checkPathConflict reports whether creating or looking up name would
// collide with an existing branch at a different depth: "foo/bar" cannot
// be created if "foo" exists as a branch, nor can "foo" if "foo/bar" does.
func (m *Manager) checkPathConflict(name string) error {
	parts := strings.Split(name, "/")
	for i := 1; i < len(parts); i++ {
		parentPath := m.branchFilePath(strings.Join(parts[:i], "/"))
		if info, err := os.Stat(parentPath); err == nil && !info.IsDir() {
			return ErrBranchPathConflict
		}
	}
	if info, err := os.Stat(m.branchFilePath(name)); err == nil && info.IsDir() {
		return ErrBranchPathConflict
	}
	return nil
}

// GetBranch returns the commit a branch currently points to.
func (m *Manager) GetBranch(name string) (types.Hash, error) {
	data, err := os.ReadFile(m.branchFilePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Hash{}, ErrBranchNotFound
		}
		return types.Hash{}, err
	}
	hash, ok := types.ParseHash(strings.TrimSpace(string(data)))
	if !ok {
		return types.Hash{}, errors.New("refs: corrupt branch ref file")
	}
	return hash, nil
}

// BranchExists reports whether a branch file exists.
func (m *Manager) BranchExists(name string) bool {
	_, err := os.Stat(m.branchFilePath(name))
	return err == nil
}

func (m *Manager) writeBranchRef(name string, commit types.Hash) error {
	path := m.branchFilePath(name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicfile.WriteString(dir, path, commit.String()+"\n")
}

// ListBranches returns every branch name, sorted lexically by the
// filesystem walk order.
func (m *Manager) ListBranches() ([]string, error) {
	var branches []string
	err := filepath.Walk(m.refsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(m.refsDir, path)
		if err != nil {
			return err
		}
		branches = append(branches, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return branches, nil
}

// DeleteBranch removes a branch reference, cleaning up any now-empty
// nested parent directories.
func (m *Manager) DeleteBranch(name string) error {
	if !m.BranchExists(name) {
		return ErrBranchNotFound
	}
	path := m.branchFilePath(name)
	if err := os.Remove(path); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	for dir != m.refsDir {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// UpdateBranch moves an existing branch to point to a new commit: the
// single externally observable transition of a commit, and its last
// write.
func (m *Manager) UpdateBranch(name string, commit types.Hash) error {
	if !m.BranchExists(name) {
		return ErrBranchNotFound
	}
	return m.writeBranchRef(name, commit)
}
