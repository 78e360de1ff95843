// Package clientsettings persists watch-session credentials (server URL and
// API key) so `notify watch` works without flags after a one-time login.
package clientsettings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Settings are the saved watch credentials.
type Settings struct {
	ServerURL string `json:"server_url"`
	APIKey    string `json:"api_key"`
}

// Path returns the settings file location under the user config dir.
func Path() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "notify", "settings.json")
}

// Load reads and validates the saved settings.
func Load() (Settings, error) {
	raw, err := os.ReadFile(Path())
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, err
	}
	s.ServerURL = strings.TrimSpace(s.ServerURL)
	s.APIKey = strings.TrimSpace(s.APIKey)
	if s.ServerURL == "" {
		return Settings{}, errors.New("settings file is missing server_url")
	}
	return s, nil
}

// Save validates and writes the settings, creating the directory as needed.
// The file is written 0600 since the API key is a credential.
func Save(s Settings) error {
	s.ServerURL = strings.TrimSpace(s.ServerURL)
	s.APIKey = strings.TrimSpace(s.APIKey)
	if s.ServerURL == "" {
		return errors.New("server_url is required")
	}
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
