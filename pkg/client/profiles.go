package client

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	atomicfile "github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Profile is a saved hub connection.
type Profile struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr,omitempty"`
	WSURL    string `yaml:"ws_url,omitempty"`
	TLS      bool   `yaml:"tls,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
	Username string `yaml:"username,omitempty"`
	LastUsed int64  `yaml:"last_used,omitempty"`
}

// ProfileStore keeps profiles in a YAML file. Passwords are never stored.
type ProfileStore struct {
	path     string
	Profiles []Profile `yaml:"profiles"`
}

// DefaultProfilePath returns the profiles file under the user config dir.
func DefaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "orderhub-profiles.yaml"
	}
	return filepath.Join(dir, "orderhub", "profiles.yaml")
}

// NewProfileStore creates a store backed by path.
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

// Load reads profiles from disk. A missing file yields an empty list.
func (ps *ProfileStore) Load() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			ps.Profiles = nil
			return nil
		}
		return fmt.Errorf("client: read profiles: %w", err)
	}
	if err := yaml.Unmarshal(data, ps); err != nil {
		return fmt.Errorf("client: parse profiles: %w", err)
	}
	return nil
}

// Save writes profiles to disk atomically.
func (ps *ProfileStore) Save() error {
	data, err := yaml.Marshal(ps)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(ps.path), 0o700); err != nil {
		return fmt.Errorf("client: create profile dir: %w", err)
	}
	if err := atomicfile.WriteFile(ps.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("client: write profiles: %w", err)
	}
	return nil
}

// Put adds or replaces the profile with p.Name. Returns true if it was new.
func (ps *ProfileStore) Put(p Profile) bool {
	for i := range ps.Profiles {
		if ps.Profiles[i].Name == p.Name {
			ps.Profiles[i] = p
			return false
		}
	}
	ps.Profiles = append(ps.Profiles, p)
	return true
}

// Get returns the profile called name.
func (ps *ProfileStore) Get(name string) (Profile, bool) {
	for _, p := range ps.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Touch records that the named profile was used at t.
func (ps *ProfileStore) Touch(name string, t time.Time) bool {
	for i := range ps.Profiles {
		if ps.Profiles[i].Name == name {
			ps.Profiles[i].LastUsed = t.Unix()
			return true
		}
	}
	return false
}
