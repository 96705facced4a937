package infra

import (
	"os"
	"path/filepath"
)

// ResolveConfigPath returns the configuration file to load.
// BROKER_CONFIG wins; otherwise a local config.yaml is expected.
func ResolveConfigPath() string {
	if path := os.Getenv("BROKER_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

// EnsureDir creates the parent directory of a file path (0755).
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
