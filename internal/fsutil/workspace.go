// Package fsutil provides file system helpers for per-run workspaces.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureWorkspace creates the working directory for a run under root
// and returns its path. Creating the same workspace twice is fine.
func EnsureWorkspace(root, runID string) (string, error) {
	if runID == "" {
		panic("fsutil: runID must not be empty")
	}
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", dir, err)
	}
	return dir, nil
}

// RemoveWorkspace deletes a run's working directory. It refuses paths
// that would escape the workspace root.
func RemoveWorkspace(root, runID string) error {
	if runID == "" {
		panic("fsutil: runID must not be empty")
	}
	dir := filepath.Join(root, runID)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("workspace %s is outside root %s", dir, root)
	}
	return os.RemoveAll(dir)
}
