package creds

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestStaticProvider(t *testing.T) {
	if got := Static("abc").Token(); got != "abc" {
		t.Errorf("Token() = %q, want %q", got, "abc")
	}
}

func TestStoredEnvWins(t *testing.T) {
	t.Setenv("PAUZ_TOKEN", "env-token")
	if got := (Stored{}).Token(); got != "env-token" {
		t.Errorf("Token() = %q, want env-token", got)
	}
}

func TestStoredReadsFile(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("XDG path is linux-only")
	}
	t.Setenv("PAUZ_TOKEN", "")
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	dir := filepath.Join(home, ".config", "pauz")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "token"), []byte("file-token\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if got := (Stored{}).Token(); got != "file-token" {
		t.Errorf("Token() = %q, want file-token", got)
	}
}

func TestStoredMissingIsEmpty(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("XDG path is linux-only")
	}
	t.Setenv("PAUZ_TOKEN", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if got := (Stored{}).Token(); got != "" {
		t.Errorf("Token() = %q, want empty", got)
	}
}
