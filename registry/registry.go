// Package registry tracks imported VPN configuration profiles.
// Profiles are persisted as YAML in the user's config directory and the
// imported configuration files are copied under the broker's control so
// later renames or deletions of the source do not break connections.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-broker/common"
)

// Profile represents an imported VPN configuration.
type Profile struct {
	// ID is a unique identifier for the profile.
	ID string `yaml:"id"`
	// Name is a human-readable name for the profile, derived from the
	// imported file name unless set explicitly.
	Name string `yaml:"name"`
	// SourcePath is the path the configuration was imported from.
	SourcePath string `yaml:"source_path"`
	// ConfigPath is the broker-owned copy of the configuration file.
	ConfigPath string `yaml:"config_path"`
	// Username is the optional username for authentication.
	Username string `yaml:"username,omitempty"`
	// ImportedAt is when the profile was imported.
	ImportedAt time.Time `yaml:"imported_at"`
	// LastUsed is when the profile was last connected.
	LastUsed time.Time `yaml:"last_used,omitempty"`
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.ConfigPath == "" {
		return fmt.Errorf("config path is required")
	}
	return nil
}

// Registry manages imported profiles.
// It handles loading, saving, and manipulating profiles stored on disk.
type Registry struct {
	mu       sync.RWMutex
	profiles []*Profile
	dir      string
	file     string
}

// New creates a Registry rooted at the user's config directory and loads
// existing profiles.
func New() (*Registry, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return NewAt(configDir)
}

// NewAt creates a Registry rooted at an explicit directory.
func NewAt(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	r := &Registry{
		profiles: make([]*Profile, 0),
		dir:      dir,
		file:     filepath.Join(dir, common.ProfilesFileName),
	}

	if err := r.load(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	return r, nil
}

// load reads profiles from the registry file.
// Missing file means no profiles yet.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	if err := yaml.Unmarshal(data, &r.profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	return nil
}

// save persists profiles to the registry file. Caller holds the lock.
func (r *Registry) save() error {
	data, err := yaml.Marshal(r.profiles)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}

	if err := os.WriteFile(r.file, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}

	return nil
}

// Import validates a configuration file, copies it into the broker's
// directory, and records a new profile for it.
func (r *Registry) Import(path string) (*Profile, error) {
	if err := validateConfigFile(path); err != nil {
		return nil, err
	}

	profile := &Profile{
		ID:         uuid.NewString(),
		Name:       profileName(path),
		SourcePath: path,
		ImportedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.profiles {
		if existing.Name == profile.Name {
			return nil, common.ErrDuplicateName
		}
	}

	configsDir := filepath.Join(r.dir, "configs")
	if err := os.MkdirAll(configsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create configs directory: %w", err)
	}

	destPath := filepath.Join(configsDir, profile.ID+".ovpn")
	if err := copyFile(path, destPath); err != nil {
		return nil, fmt.Errorf("failed to copy config file: %w", err)
	}
	profile.ConfigPath = destPath

	r.profiles = append(r.profiles, profile)
	if err := r.save(); err != nil {
		return nil, err
	}

	return profile, nil
}

// Remove removes a profile by ID and deletes its copied configuration.
// Credential cleanup is the caller's responsibility.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, profile := range r.profiles {
		if profile.ID == id {
			if err := os.Remove(profile.ConfigPath); err != nil && !os.IsNotExist(err) {
				common.LogWarn("Could not remove config file %s: %v", profile.ConfigPath, err)
			}
			r.profiles = append(r.profiles[:i], r.profiles[i+1:]...)
			return r.save()
		}
	}
	return common.ErrProfileNotFound
}

// Get retrieves a profile by ID.
func (r *Registry) Get(id string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, profile := range r.profiles {
		if profile.ID == id {
			p := *profile
			return &p, nil
		}
	}
	return nil, common.ErrProfileNotFound
}

// GetByName retrieves a profile by name.
func (r *Registry) GetByName(name string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, profile := range r.profiles {
		if profile.Name == name {
			p := *profile
			return &p, nil
		}
	}
	return nil, common.ErrProfileNotFound
}

// List returns all profiles ordered by import time.
func (r *Registry) List() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Profile, 0, len(r.profiles))
	for _, profile := range r.profiles {
		p := *profile
		out = append(out, &p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ImportedAt.Before(out[j].ImportedAt)
	})
	return out
}

// SetUsername records the username to authenticate with for a profile.
func (r *Registry) SetUsername(id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, profile := range r.profiles {
		if profile.ID == id {
			profile.Username = username
			return r.save()
		}
	}
	return common.ErrProfileNotFound
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (r *Registry) MarkUsed(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, profile := range r.profiles {
		if profile.ID == id {
			profile.LastUsed = time.Now()
			return r.save()
		}
	}
	return common.ErrProfileNotFound
}

// profileName derives a display name from a config file path:
// "office.ovpn" becomes "office".
func profileName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// validateConfigFile checks if the given file is a plausible OpenVPN
// configuration.
func validateConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: is a directory", common.ErrInvalidConfig)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return fmt.Errorf("%w: expected .ovpn or .conf extension", common.ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}

	// Look for common OpenVPN directives.
	content := string(data)
	for _, directive := range []string{"remote", "client"} {
		if strings.Contains(content, directive) {
			return nil
		}
	}

	return fmt.Errorf("%w: missing required OpenVPN directives", common.ErrInvalidConfig)
}

// copyFile copies a file from src to dst with secure permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	return nil
}
