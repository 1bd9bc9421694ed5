package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionFileSuffix is the extension of a session's on-disk document: one
// flat file per session, named by session id, directly under the state
// directory.
const SessionFileSuffix = ".json"

// LocksDirName is the state-directory subdirectory holding lock files. It
// is kept out of the flat session-file namespace so a lock file never
// collides with or gets mistaken for a session document.
const LocksDirName = ".locks"

// LockFileSuffix is the extension of a session's lock file.
const LockFileSuffix = ".lock"

// Info is summary information about a session, cheap to produce without
// decoding the full iteration log.
type Info struct {
	ID               string    `json:"id"`
	CurrentLoop      int       `json:"current_loop"`
	IsComplete       bool      `json:"is_complete"`
	CompletionReason string    `json:"completion_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	IsLocked         bool      `json:"is_locked"`
	LockInfo         *Lock     `json:"lock_info,omitempty"`
	SessionFile      string    `json:"session_file"`
}

// summaryDoc is the minimal shape read off disk to build an Info without
// parsing the (potentially large) iteration log.
type summaryDoc struct {
	ID               string            `json:"id"`
	IsComplete       bool              `json:"isComplete"`
	CompletionReason string            `json:"completionReason,omitempty"`
	CreatedAtMs      int64             `json:"createdAtMs"`
	UpdatedAtMs      int64             `json:"updatedAtMs"`
	Iterations       []json.RawMessage `json:"iterations"`
}

// GetSessionFile returns the flat session document path for sessionID,
// directly under stateDir: <stateDir>/<sessionId>.json.
func GetSessionFile(stateDir, sessionID string) string {
	return filepath.Join(stateDir, sessionID+SessionFileSuffix)
}

// GetLocksDir returns the lock-file directory within a state directory.
func GetLocksDir(stateDir string) string {
	return filepath.Join(stateDir, LocksDirName)
}

// GetLockFile returns the lock-file path for sessionID:
// <stateDir>/.locks/<sessionId>.lock.
func GetLockFile(stateDir, sessionID string) string {
	return filepath.Join(GetLocksDir(stateDir), sessionID+LockFileSuffix)
}

// sessionIDFromFileName strips the session-file suffix, or returns ("",
// false) if name isn't a session document.
func sessionIDFromFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, SessionFileSuffix) {
		return "", false
	}
	return strings.TrimSuffix(name, SessionFileSuffix), true
}

// ListSessions returns summary info for every session found directly under
// stateDir.
func ListSessions(stateDir string) ([]*Info, error) {
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []*Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sessionID, ok := sessionIDFromFileName(entry.Name())
		if !ok {
			continue
		}
		info, err := GetSessionInfo(stateDir, sessionID)
		if err != nil {
			continue
		}
		sessions = append(sessions, info)
	}

	return sessions, nil
}

// GetSessionInfo returns summary information about a specific session.
func GetSessionInfo(stateDir, sessionID string) (*Info, error) {
	sessionFile := GetSessionFile(stateDir, sessionID)

	data, err := os.ReadFile(sessionFile)
	if err != nil {
		return nil, err
	}

	var doc summaryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	lockInfo, isLocked := IsLocked(GetLockFile(stateDir, sessionID))

	return &Info{
		ID:               doc.ID,
		CurrentLoop:      len(doc.Iterations),
		IsComplete:       doc.IsComplete,
		CompletionReason: doc.CompletionReason,
		CreatedAt:        time.UnixMilli(doc.CreatedAtMs),
		UpdatedAt:        time.UnixMilli(doc.UpdatedAtMs),
		IsLocked:         isLocked,
		LockInfo:         lockInfo,
		SessionFile:      sessionFile,
	}, nil
}

// SessionExists reports whether a session document exists for id.
func SessionExists(stateDir, sessionID string) bool {
	_, err := os.Stat(GetSessionFile(stateDir, sessionID))
	return err == nil
}

// FindIdleSessions returns sessions whose UpdatedAt is older than maxAge,
// the population the background sweeper (spec §3 "Lifecycle") deletes.
func FindIdleSessions(stateDir string, maxAge time.Duration, now time.Time) ([]*Info, error) {
	sessions, err := ListSessions(stateDir)
	if err != nil {
		return nil, err
	}

	var idle []*Info
	for _, s := range sessions {
		if now.Sub(s.UpdatedAt) >= maxAge {
			idle = append(idle, s)
		}
	}
	return idle, nil
}

// CleanupStaleLocks scans every lock file under stateDir's locks directory
// and removes those whose owning process is no longer alive. Returns the
// ids cleaned.
func CleanupStaleLocks(stateDir string) ([]string, error) {
	locksDir := GetLocksDir(stateDir)

	entries, err := os.ReadDir(locksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cleaned []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sessionID := strings.TrimSuffix(entry.Name(), LockFileSuffix)

		wasCleaned, err := CleanStaleLock(GetLockFile(stateDir, sessionID), nil)
		if err != nil {
			continue
		}
		if wasCleaned {
			cleaned = append(cleaned, sessionID)
		}
	}

	return cleaned, nil
}
