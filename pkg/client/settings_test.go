package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSettingsPersist(t *testing.T) {
	dir := t.TempDir()

	s := LoadSettings(dir)
	if s.ServerAddr != "localhost:5000" || s.WriteTimeout != 5*time.Second {
		t.Fatalf("defaults = %+v", s)
	}

	s.ServerAddr = "chat.example.com:5000"
	s.TLS = true
	s.DefaultRoom = "Food"
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := LoadSettings(dir)
	want := Options{TLS: true, WriteTimeout: 5 * time.Second}
	if diff := cmp.Diff(want, got.Options()); diff != "" {
		t.Errorf("options (-want +got):\n%s", diff)
	}
	if got.ServerAddr != "chat.example.com:5000" || got.DefaultRoom != "Food" {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestSettingsCorruptFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SettingsFile), []byte("server_addr: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := LoadSettings(dir)
	if s.ServerAddr != DefaultSettings().ServerAddr {
		t.Fatalf("corrupt file not replaced by defaults: %+v", s)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save after fallback: %v", err)
	}
}

func TestCredentialStore(t *testing.T) {
	dir := t.TempDir()
	cs := NewCredentialStore(dir)
	if err := cs.Load(); err != nil {
		t.Fatalf("Load missing file: %v", err)
	}

	if !cs.Put(SavedLogin{ServerAddr: "a:5000", Username: "alice", Password: "secret123", LastUsed: 10}) {
		t.Fatal("first Put not new")
	}
	cs.Put(SavedLogin{ServerAddr: "a:5000", Username: "bobby", Password: "tables42", LastUsed: 5})
	if cs.Put(SavedLogin{ServerAddr: "a:5000", Username: "alice", Password: "changed99", LastUsed: 1}) {
		t.Fatal("Put of an existing login reported new")
	}
	if !cs.Touch("a:5000", "bobby", 20) {
		t.Fatal("Touch existing failed")
	}
	if err := cs.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, CredentialsFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("credentials file mode = %v", perm)
	}

	reloaded := NewCredentialStore(dir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	latest := reloaded.Latest("a:5000")
	if latest == nil || latest.Username != "bobby" {
		t.Fatalf("Latest = %+v, want bobby", latest)
	}
	if reloaded.Latest("b:5000") != nil {
		t.Fatal("Latest for an unknown server")
	}
	if !reloaded.Forget("a:5000", "bobby") || reloaded.Forget("a:5000", "bobby") {
		t.Fatal("Forget not idempotent")
	}
	if latest := reloaded.Latest("a:5000"); latest == nil || latest.Password != "changed99" {
		t.Fatalf("Latest after Forget = %+v", latest)
	}
}

func TestCredentialStoreDropsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, CredentialsFile)
	if err := os.WriteFile(path, []byte("logins: {{{"), 0o600); err != nil {
		t.Fatal(err)
	}
	cs := NewCredentialStore(dir)
	if err := cs.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cs.Logins) != 0 {
		t.Fatalf("logins = %v", cs.Logins)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("corrupt file kept: %v", err)
	}
}
