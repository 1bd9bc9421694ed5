package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/gansauditor/internal/logging"
)

// ErrSessionLocked is returned when a session is already in use by another process.
var ErrSessionLocked = errors.New("session is locked by another process")

// Lock represents an acquired session lock. This guards against two server
// processes pointed at the same SESSION_STATE_DIRECTORY racing on one
// session; it does not replace the in-process per-session mutex the audit
// engine holds for the duration of a single ProcessThought call.
type Lock struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	lockFile string
	logger   *logging.Logger
}

// AcquireLock attempts to acquire an exclusive lock on sessionID, writing
// its lock file at lockPath (see GetLockFile). The logger is optional and
// may be nil.
func AcquireLock(lockPath, sessionID string, logger *logging.Logger) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}

	if existingLock, err := ReadLock(lockPath); err == nil {
		if isProcessAlive(existingLock.PID) {
			return nil, fmt.Errorf("%w: PID %d on %s", ErrSessionLocked, existingLock.PID, existingLock.Hostname)
		}
		oldPID := existingLock.PID
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		if logger != nil {
			logger.Warn("stale session lock cleaned", "session_id", sessionID, "old_pid", oldPID)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		SessionID: sessionID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		lockFile:  lockPath,
		logger:    logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existingLock, readErr := ReadLock(lockPath); readErr == nil {
				return nil, fmt.Errorf("%w: PID %d on %s", ErrSessionLocked, existingLock.PID, existingLock.Hostname)
			}
			return nil, ErrSessionLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	if logger != nil {
		logger.Info("session lock acquired", "session_id", sessionID, "pid", lock.PID)
	}

	return lock, nil
}

// Release releases the session lock by removing the lock file. Safe to
// call multiple times and a no-op if the lock is no longer ours.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}

	existingLock, err := ReadLock(l.lockFile)
	if err != nil {
		return nil
	}
	if existingLock.PID != l.PID {
		return nil
	}

	if err := os.Remove(l.lockFile); err != nil {
		return err
	}

	if l.logger != nil {
		l.logger.Info("session lock released", "session_id", l.SessionID)
	}

	return nil
}

// ReadLock reads a lock file and returns the Lock info.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockFile = lockPath

	return &lock, nil
}

// IsLocked checks if lockPath is currently held by a live process.
func IsLocked(lockPath string) (*Lock, bool) {
	lock, err := ReadLock(lockPath)
	if err != nil {
		return nil, false
	}
	if !isProcessAlive(lock.PID) {
		return lock, false
	}
	return lock, true
}

// CleanStaleLock removes lockPath if the owning process is no longer
// running. Returns true if a stale lock was cleaned. logger is optional
// and may be nil.
func CleanStaleLock(lockPath string, logger *logging.Logger) (bool, error) {
	lock, err := ReadLock(lockPath)
	if err != nil {
		return false, nil
	}
	if isProcessAlive(lock.PID) {
		return false, nil
	}

	oldPID := lock.PID
	sessionID := lock.SessionID

	if err := os.Remove(lockPath); err != nil {
		return false, fmt.Errorf("failed to remove stale lock: %w", err)
	}

	if logger != nil {
		logger.Warn("stale session lock cleaned", "session_id", sessionID, "old_pid", oldPID)
	}

	return true, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
