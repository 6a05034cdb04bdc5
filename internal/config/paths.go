package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// resolveStatePath turns a configured state file location into a clean
// absolute path. An empty value stays empty.
func resolveStatePath(name string, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}

	if hasControlCharacters(trimmed) {
		return "", fmt.Errorf("%s contains invalid characters", name)
	}

	abs, err := filepath.Abs(filepath.Clean(trimmed))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	if strings.HasSuffix(trimmed, "/") || strings.HasSuffix(trimmed, string(filepath.Separator)) {
		return "", fmt.Errorf("%s must name a file, not a directory", name)
	}

	return abs, nil
}

func hasControlCharacters(value string) bool {
	for _, char := range value {
		if unicode.IsControl(char) {
			return true
		}
	}

	return false
}
