package refs

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/silo-vc/silo/internal/atomicfile"
	"github.com/silo-vc/silo/pkg/types"
)

// ErrRemoteNotFound is returned when a named remote does not exist.
var ErrRemoteNotFound = errors.New("refs: remote not found")

// ErrRemoteExists is returned when attempting to add a remote name that is
// already registered.
var ErrRemoteExists = errors.New("refs: remote already exists")

func (m *Manager) remoteFilePath(name string) string {
	return filepath.Join(m.remoteDir, name)
}

// AddRemote registers a named remote URL, the push/pull target for the
// transfer protocol.
func (m *Manager) AddRemote(name, url string) error {
	if name == "" {
		return errors.New("refs: remote name cannot be empty")
	}
	if _, err := os.Stat(m.remoteFilePath(name)); err == nil {
		return ErrRemoteExists
	}
	dir := m.remoteDir
	return atomicfile.WriteString(dir, m.remoteFilePath(name), url+"\n")
}

// GetRemote looks up a remote by name.
func (m *Manager) GetRemote(name string) (types.Remote, error) {
	data, err := os.ReadFile(m.remoteFilePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Remote{}, ErrRemoteNotFound
		}
		return types.Remote{}, err
	}
	return types.Remote{Name: name, URL: strings.TrimSpace(string(data))}, nil
}

// ListRemotes returns every registered remote, sorted by name.
func (m *Manager) ListRemotes() ([]types.Remote, error) {
	entries, err := os.ReadDir(m.remoteDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []types.Remote
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		r, err := m.GetRemote(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoveRemote deletes a registered remote.
func (m *Manager) RemoveRemote(name string) error {
	if err := os.Remove(m.remoteFilePath(name)); err != nil {
		if os.IsNotExist(err) {
			return ErrRemoteNotFound
		}
		return err
	}
	return nil
}
