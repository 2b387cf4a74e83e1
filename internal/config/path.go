package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the pebble directory used when none is configured:
// $XDG_DATA_HOME/flobus, then /var/lib/flobus, then the platform's per-user
// application directory, then ~/.flobus. Without a home directory it is
// ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "flobus")
	}
	candidates := []struct{ probe, dir string }{
		{"/var/lib", "/var/lib/flobus"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Flobus")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Flobus")},
	}
	for _, c := range candidates {
		if isDir(c.probe) {
			return c.dir
		}
	}
	return filepath.Join(home, ".flobus")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
