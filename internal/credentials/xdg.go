package credentials

import (
	"fmt"
	"os"
	"path/filepath"
)

const appDir = "gemini-web-proxy"

// xdgDir resolves $envVar, falling back to $HOME/<fallback...>. It returns ""
// when neither is available.
func xdgDir(envVar string, fallback ...string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appDir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append(append([]string{homeDir}, fallback...), appDir)...)
}

// DefaultCredsPath is $XDG_CONFIG_HOME/gemini-web-proxy/credentials.json.
func DefaultCredsPath() string {
	dir := xdgDir("XDG_CONFIG_HOME", ".config")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "credentials.json")
}

// DefaultDataDir is where the media cache and the bolt session database live
// unless configured otherwise.
func DefaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
