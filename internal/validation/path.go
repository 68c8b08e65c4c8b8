package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MemoryPath selects an in-memory database and is never expanded.
const MemoryPath = ":memory:"

const maxPathLength = 4096

// ExpandPath validates a configured file path, expands a leading "~/" and
// returns it cleaned and absolute. Empty and MemoryPath are returned as is.
func ExpandPath(path string) (string, error) {
	if path == "" || path == MemoryPath {
		return path, nil
	}
	if len(path) > maxPathLength {
		return "", fmt.Errorf("path too long (max %d characters)", maxPathLength)
	}
	for _, r := range path {
		if r < 32 && r != '\t' {
			return "", fmt.Errorf("path %q contains control characters", path)
		}
	}

	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	case strings.HasPrefix(path, "~"):
		return "", fmt.Errorf("path %q: only ~/ is expanded", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot make path absolute: %w", err)
	}
	return abs, nil
}
