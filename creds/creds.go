// Package creds reads the stored backend auth token. The token is written
// by the login flow of the journaling app; this client only ever reads it.
package creds

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Provider hands out the bearer token for backend requests. An empty
// token is not an error here: the request is still attempted and the
// backend's 401 is surfaced instead.
type Provider interface {
	Token() string
}

// Static is a fixed token, used for the -token flag and in tests.
type Static string

func (s Static) Token() string { return string(s) }

// Stored resolves the token from the environment first, then from the
// token file in the user config dir.
type Stored struct{}

func (Stored) Token() string {
	if tok := os.Getenv("PAUZ_TOKEN"); tok != "" {
		return tok
	}
	path, err := tokenPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func tokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "pauz", "token"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "pauz", "token"), nil
		}
		return filepath.Join(home, "pauz", "token"), nil
	default:
		xdgConfig := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		return filepath.Join(xdgConfig, "pauz", "token"), nil
	}
}
