// Package config loads and saves a repository's config.toml: the
// identity commits and staged row edits are attributed to, registered
// remotes, and server-mode settings. The current user identity is
// per-repository configuration handed explicitly into engine calls,
// never ambient process state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	pelletiertoml "github.com/pelletier/go-toml"
)

// FileName is the config file's name under the repository's data
// directory.
const FileName = "config.toml"

// Identity is the author/email pair attributed to commits and staged row
// edits made through this repository.
type Identity struct {
	Name  string `koanf:"name" toml:"name"`
	Email string `koanf:"email" toml:"email"`
}

// RemoteEntry mirrors types.Remote in a koanf/toml-friendly shape.
type RemoteEntry struct {
	Name string `koanf:"name" toml:"name"`
	URL  string `koanf:"url" toml:"url"`
}

// ServerConfig holds the settings an HTTP server embedding this engine
// would read (sync dir, host, port, redis queue url); the core carries
// the settings even though it never starts a server itself.
type ServerConfig struct {
	SyncDir  string `koanf:"sync_dir" toml:"sync_dir"`
	Host     string `koanf:"host" toml:"host"`
	Port     int    `koanf:"port" toml:"port"`
	RedisURL string `koanf:"redis_url" toml:"redis_url"`
}

// Config is the parsed form of config.toml.
type Config struct {
	Identity Identity      `koanf:"identity" toml:"identity"`
	Remotes  []RemoteEntry `koanf:"remotes" toml:"remotes"`
	Server   ServerConfig  `koanf:"server" toml:"server"`
	// Shallow marks a repository whose commit graph and tree nodes are
	// present but whose version files may be absent until fetched;
	// operations that need bytes either fetch on demand or fail
	// explicitly rather than treating absence as corruption.
	Shallow bool `koanf:"shallow" toml:"shallow"`
}

// Default returns a config with an empty identity and no remotes, written
// out by Init for a freshly created repository.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 3000},
	}
}

// Validate rejects a config that a committing operation could not safely
// use: both of identity.name/identity.email must be set together, and
// remote names/urls must be non-empty.
func (c *Config) Validate() error {
	var errs []error
	if (c.Identity.Name == "") != (c.Identity.Email == "") {
		errs = append(errs, errors.New("config: identity.name and identity.email must both be set or both be empty"))
	}
	seen := map[string]bool{}
	for _, r := range c.Remotes {
		if r.Name == "" || r.URL == "" {
			errs = append(errs, fmt.Errorf("config: remote entry with empty name or url: %+v", r))
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("config: duplicate remote name %q", r.Name))
		}
		seen[r.Name] = true
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Load reads and parses path (normally <repoDir>/config.toml). A missing
// file is not an error: it returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save serializes cfg back to path as TOML, via the atomic
// write-temp-then-rename discipline every other durable artifact in this
// repository uses.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := marshalTOML(cfg)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-config-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadPath returns the config.toml path for a repository's data directory.
func LoadPath(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// marshalTOML renders cfg with pelletier/go-toml, the encoder
// github.com/knadh/koanf/parsers/toml itself wraps — used directly here
// for the struct->TOML direction koanf's own Parser interface does not
// expose without an additional structs provider.
func marshalTOML(cfg *Config) ([]byte, error) {
	return pelletiertoml.Marshal(*cfg)
}
