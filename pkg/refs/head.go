package refs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/silo-vc/silo/internal/atomicfile"
	"github.com/silo-vc/silo/pkg/types"
)

const headRefPrefix = "ref: refs/heads/"

// ErrInvalidHeadFormat is returned when the HEAD file's content cannot be
// parsed as either an attached-branch reference or a detached commit hash.
var ErrInvalidHeadFormat = errors.New("refs: invalid HEAD file format")

// HeadManager reads and writes the repository's HEAD file.
type HeadManager struct {
	headFile string
	branches *Manager
}

// NewHeadManager creates a HeadManager over dataDir/HEAD.
func NewHeadManager(dataDir string, branches *Manager) *HeadManager {
	return &HeadManager{headFile: filepath.Join(dataDir, "HEAD"), branches: branches}
}

func parseHeadFile(content string, branches *Manager) (*types.HeadState, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrInvalidHeadFormat
	}

	if strings.HasPrefix(content, headRefPrefix) {
		name := strings.TrimPrefix(content, headRefPrefix)
		if name == "" {
			return nil, ErrInvalidHeadFormat
		}
		commit, err := branches.GetBranch(name)
		if err != nil {
			if err == ErrBranchNotFound {
				return &types.HeadState{Branch: name}, nil
			}
			return nil, err
		}
		return &types.HeadState{Branch: name, CommitID: commit}, nil
	}

	hash, ok := types.ParseHash(content)
	if !ok {
		return nil, ErrInvalidHeadFormat
	}
	return &types.HeadState{CommitID: hash, IsDetached: true}, nil
}

func formatHeadAttached(branch string) string { return headRefPrefix + branch + "\n" }

func formatHeadDetached(commit types.Hash) string { return commit.String() + "\n" }

// GetHead returns the current HEAD state. A fresh repository with no HEAD
// file yet resolves to the attached, unborn "main" branch.
func (hm *HeadManager) GetHead() (*types.HeadState, error) {
	content, err := os.ReadFile(hm.headFile)
	if err != nil {
		if os.IsNotExist(err) {
			return &types.HeadState{Branch: "main"}, nil
		}
		return nil, err
	}
	return parseHeadFile(string(content), hm.branches)
}

// GetHeadCommit resolves HEAD down to a commit hash.
func (hm *HeadManager) GetHeadCommit() (types.Hash, error) {
	state, err := hm.GetHead()
	if err != nil {
		return types.Hash{}, err
	}
	return state.CommitID, nil
}

// SetHeadToBranch attaches HEAD to an existing branch.
func (hm *HeadManager) SetHeadToBranch(name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if !hm.branches.BranchExists(name) {
		return ErrBranchNotFound
	}
	return hm.writeHeadFile(formatHeadAttached(name))
}

// SetHeadToCommit detaches HEAD, pointing it directly at a commit.
func (hm *HeadManager) SetHeadToCommit(commit types.Hash) error {
	return hm.writeHeadFile(formatHeadDetached(commit))
}

func (hm *HeadManager) writeHeadFile(content string) error {
	dir := filepath.Dir(hm.headFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicfile.WriteString(dir, hm.headFile, content)
}

// InitializeHead creates HEAD pointing at defaultBranch if it does not
// already exist, called once when a repository is created.
func (hm *HeadManager) InitializeHead(defaultBranch string) error {
	if _, err := os.Stat(hm.headFile); err == nil {
		return nil
	}
	return hm.writeHeadFile(formatHeadAttached(defaultBranch))
}
