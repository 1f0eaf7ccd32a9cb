// Package clientsettings persists the remote edge the CLI manages after
// `arca-edge remote login`.
package clientsettings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// PathEnv overrides the settings file location.
const PathEnv = "ARCA_EDGE_SETTINGS"

// ErrNotConfigured is returned by [Load] when no remote has been saved.
var ErrNotConfigured = errors.New("no remote edge configured; run `arca-edge remote login`")

// Settings point the CLI at the admin API of a running edge.
type Settings struct {
	EdgeURL  string `json:"edge_url"`
	AdminKey string `json:"admin_key"`
}

// Path returns the settings file location.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(PathEnv)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "arca-edge", "remote.json")
}

// Load reads the saved settings. A missing file yields [ErrNotConfigured].
func Load() (Settings, error) {
	raw, err := os.ReadFile(Path())
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, ErrNotConfigured
	}
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, err
	}
	s.EdgeURL = strings.TrimSpace(s.EdgeURL)
	s.AdminKey = strings.TrimSpace(s.AdminKey)
	if s.EdgeURL == "" || s.AdminKey == "" {
		return Settings{}, errors.New("settings file is missing edge_url or admin_key")
	}
	return s, nil
}

// Save writes s with owner-only permissions.
func Save(s Settings) error {
	s.EdgeURL = strings.TrimSuffix(strings.TrimSpace(s.EdgeURL), "/")
	s.AdminKey = strings.TrimSpace(s.AdminKey)
	if s.EdgeURL == "" || s.AdminKey == "" {
		return errors.New("edge_url and admin_key are required")
	}
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Clear removes saved settings. Clearing twice is not an error.
func Clear() error {
	err := os.Remove(Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
