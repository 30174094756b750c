package client

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// CredentialsFile is the file name of the saved logins.
const CredentialsFile = "credentials.yaml"

// SavedLogin is a remembered server login.
type SavedLogin struct {
	ServerAddr string `yaml:"server_addr"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	LastUsed   int64  `yaml:"last_used,omitempty"`
}

// CredentialStore manages saved logins in a YAML file readable only by the
// owner. A file that cannot be parsed is discarded.
type CredentialStore struct {
	path   string
	Logins []SavedLogin `yaml:"logins"`
}

// NewCredentialStore creates a store backed by CredentialsFile in dir.
func NewCredentialStore(dir string) *CredentialStore {
	return &CredentialStore{
		path: filepath.Join(dir, CredentialsFile),
	}
}

// Load reads saved logins from disk. A missing file yields an empty list.
func (cs *CredentialStore) Load() error {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		if os.IsNotExist(err) {
			cs.Logins = nil
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cs); err != nil {
		cs.Logins = nil
		return os.Remove(cs.path)
	}
	return nil
}

// Save writes saved logins to disk.
func (cs *CredentialStore) Save() error {
	data, err := yaml.Marshal(cs)
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0600)
}

// Put adds or replaces the login for its server and username. Returns true
// if it was a new entry.
func (cs *CredentialStore) Put(l SavedLogin) bool {
	for i, existing := range cs.Logins {
		if existing.ServerAddr == l.ServerAddr && existing.Username == l.Username {
			cs.Logins[i] = l
			return false
		}
	}
	cs.Logins = append(cs.Logins, l)
	return true
}

// Forget removes the login for serverAddr and username.
func (cs *CredentialStore) Forget(serverAddr, username string) bool {
	for i, l := range cs.Logins {
		if l.ServerAddr == serverAddr && l.Username == username {
			cs.Logins = append(cs.Logins[:i], cs.Logins[i+1:]...)
			return true
		}
	}
	return false
}

// Touch updates LastUsed for an existing login.
func (cs *CredentialStore) Touch(serverAddr, username string, ts int64) bool {
	for i := range cs.Logins {
		if cs.Logins[i].ServerAddr == serverAddr && cs.Logins[i].Username == username {
			cs.Logins[i].LastUsed = ts
			return true
		}
	}
	return false
}

// Latest returns the most recently used login for serverAddr, or nil.
func (cs *CredentialStore) Latest(serverAddr string) *SavedLogin {
	var matches []SavedLogin
	for _, l := range cs.Logins {
		if l.ServerAddr == serverAddr {
			matches = append(matches, l)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].LastUsed > matches[j].LastUsed })
	return &matches[0]
}
