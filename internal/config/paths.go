package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Application directory name under the XDG config home.
const appName = "insync"

// Config file names searched in the working directory, in order.
var localConfigNames = []string{"insync.yaml", "insync.toml"}

// DefaultConfigDir returns the directory for the user-level config file.
// Respects XDG_CONFIG_HOME and falls back to ~/.config/insync.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultConfigPath returns the first existing candidate among ./insync.yaml,
// ./insync.toml and the user-level config.toml. When none exists it returns
// ./insync.yaml so the "not found" error names the historical default.
func DefaultConfigPath() string {
	candidates := make([]string, 0, len(localConfigNames)+1)
	for _, name := range localConfigNames {
		candidates = append(candidates, "./"+name)
	}

	if dir := DefaultConfigDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "config.toml"))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}

	return "./" + localConfigNames[0]
}

// expandTilde replaces a leading "~" of a "~/" prefix with the user's home
// directory. The rest of the path, including any trailing separator, is kept
// verbatim because root paths are matched as raw string prefixes.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return home + path[1:]
}
