package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirName is the per-workspace state directory
const StateDirName = ".sentinel"

// FindWorkspace walks up from startDir looking for a directory containing
// .sentinel/. SENTINEL_WORKSPACE short-circuits discovery for test isolation.
func FindWorkspace(startDir string) (string, error) {
	if ws := os.Getenv("SENTINEL_WORKSPACE"); ws != "" {
		return filepath.Abs(ws)
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, StateDirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf(
		"no %s directory found in %s or parent directories\n"+
			"  Run 'sentinel init' to initialize this workspace",
		StateDirName, startDir)
}

// InitWorkspace creates the .sentinel directory layout under root and
// returns the state directory path. Existing state is left alone.
func InitWorkspace(root string) (string, error) {
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return "", fmt.Errorf("workspace directory does not exist: %s", root)
	}

	stateDir := filepath.Join(root, StateDirName)
	for _, dir := range []string{stateDir, filepath.Join(stateDir, "secrets"), filepath.Join(stateDir, "archive")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.Chmod(filepath.Join(stateDir, "secrets"), 0700); err != nil {
		return "", fmt.Errorf("failed to restrict secrets directory: %w", err)
	}
	return stateDir, nil
}
