package client

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SettingsFile is the file name of the persisted client settings.
const SettingsFile = "settings.yaml"

// Settings stores connection preferences persisted as YAML.
type Settings struct {
	ServerAddr         string        `yaml:"server_addr"`
	TLS                bool          `yaml:"tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify,omitempty"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	DefaultRoom        string        `yaml:"default_room,omitempty"`

	path string
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		ServerAddr:   "localhost:5000",
		WriteTimeout: 5 * time.Second,
	}
}

// ConfigDir returns the directory holding client files: dir when set,
// otherwise the directory of the executable.
func ConfigDir(dir string) string {
	if dir != "" {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// LoadSettings loads settings from dir or returns defaults. A corrupt file
// is logged and replaced by defaults.
func LoadSettings(dir string) *Settings {
	s := DefaultSettings()
	s.path = filepath.Join(dir, SettingsFile)
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", s.path, "err", err)
		d := DefaultSettings()
		d.path = s.path
		return d
	}
	return s
}

// Options converts the settings into Dial options.
func (s *Settings) Options() Options {
	return Options{
		TLS:                s.TLS,
		InsecureSkipVerify: s.InsecureSkipVerify,
		WriteTimeout:       s.WriteTimeout,
	}
}

// Save writes settings back to the file they were loaded from.
func (s *Settings) Save() error {
	if s.path == "" {
		return fmt.Errorf("client: settings have no path")
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}
