package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NormalizePath converts a path to its absolute, cleaned form. Paths are the
// primary identity across engine components, so every externally supplied
// path passes through here before touching the graph or caches.
func NormalizePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}

	return filepath.Clean(abs), nil
}

// MustNormalize is NormalizePath for paths already known to be valid;
// it falls back to Clean on resolution failure.
func MustNormalize(path string) string {
	normalized, err := NormalizePath(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return normalized
}

// WithinRoot reports whether path lies inside root (or is root itself).
// Both arguments are expected in normalized absolute form; the check is
// purely lexical, so symlinked escapes are out of scope. The engine uses it
// to drop change events for paths it does not own.
func WithinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
