package assembly

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockFile is the lock name inside the assembly directory.
const LockFile = ".lock"

// StaleLockAge is how old a lock may get before it is taken over.
const StaleLockAge = 10 * time.Minute

// Lock acquires a file lock on the assembly to prevent concurrent synths and deploys.
func (m *Manager) Lock() error {
	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	// If lock is older than StaleLockAge, consider it stale
	if info, err := os.Stat(lockPath); err == nil && m.now().Sub(info.ModTime()) > StaleLockAge {
		os.Remove(lockPath)
	}

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if os.IsExist(err) {
		return fmt.Errorf("assembly is locked by another process (lock file: %s). "+
			"If this is an error, remove the lock file manually", lockPath)
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	// Record the current PID and timestamp
	if _, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), m.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// Unlock releases the assembly lock.
func (m *Manager) Unlock() error {
	lockPath := m.lockPath()
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) lockPath() string {
	return filepath.Join(m.dir, LockFile)
}
