package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// WorkspaceLock is the content of .sentinel/.exclusive-lock. Only one
// sentinel daemon may own a workspace's ledger and trust registry.
type WorkspaceLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// ErrWorkspaceLocked is returned when a live process holds the lock
var ErrWorkspaceLocked = errors.New("workspace is locked by another sentinel daemon")

// AcquireWorkspaceLock claims exclusive ownership of the workspace.
// A lock left by a dead process on this host is taken over.
// Returns the lock path for ReleaseWorkspaceLock.
func AcquireWorkspaceLock(workspace, version string) (string, error) {
	lockPath := filepath.Join(workspace, StateDirName, ".exclusive-lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing WorkspaceLock
		if json.Unmarshal(data, &existing) == nil && isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%w (PID %d on %s, started %s)", ErrWorkspaceLocked,
				existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	data, err := json.MarshalIndent(WorkspaceLock{
		Holder:    "sentinel-daemon",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}

	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create workspace lock: %w", err)
	}
	return lockPath, nil
}

// ReleaseWorkspaceLock removes the lock file. Empty path is a no-op.
func ReleaseWorkspaceLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove workspace lock: %w", err)
	}
	return nil
}

// isProcessAlive reports whether pid is running on hostname. Processes on
// other hosts can't be checked and are assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM: exists but owned by someone else
	return errors.Is(err, syscall.EPERM)
}
