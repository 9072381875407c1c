package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/inovacc/tfsarchive/internal/encoding"
)

// LockedError is returned when another live run holds the lock.
type LockedError struct {
	Path string
	PID  int
	Host string
	At   time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("output root is locked by pid %d on %s since %s (%s)",
		e.PID, e.Host, e.At.Format(time.DateTime), e.Path)
}

// IsLocked reports whether err is a LockedError.
func IsLocked(err error) bool {
	var le *LockedError
	return errors.As(err, &le)
}

type lockInfo struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is an acquired run lock.
type Lock struct {
	path string
	info lockInfo
}

// Acquire takes the lock file at path for runID. A lock left behind by a
// process that is no longer running on this host is reclaimed.
func Acquire(path, runID string) (*Lock, error) {
	host, _ := os.Hostname()

	info := lockInfo{
		PID:       os.Getpid(),
		Host:      host,
		RunID:     runID,
		StartedAt: time.Now(),
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := create(path, info)
		if err == nil {
			return &Lock{path: path, info: info}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock %s: %w", path, err)
		}

		held, err := encoding.LoadJSON[lockInfo](path)
		if err != nil || held == nil {
			// unreadable or vanished: treat as stale
			_ = os.Remove(path)
			continue
		}

		if alive(held, host) {
			return nil, &LockedError{Path: path, PID: held.PID, Host: held.Host, At: held.StartedAt}
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to acquire lock %s", path)
}

func create(path string, info lockInfo) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	if err := enc.Encode(info); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return err
	}

	return f.Close()
}

// alive treats locks from other hosts as held, since their PIDs cannot be
// checked from here.
func alive(held *lockInfo, host string) bool {
	if held.Host != host {
		return true
	}

	if held.PID == os.Getpid() {
		return true
	}

	p := NewProcess()
	if err := p.ListProcesses(); err != nil {
		return true
	}

	return p.IsProcessRunning(held.PID)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}

	err := os.Remove(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// Path is the lock file location.
func (l *Lock) Path() string {
	return l.path
}
