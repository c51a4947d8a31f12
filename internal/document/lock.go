package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/constants"
)

// ErrLocked is returned when another live process holds the document lock.
var ErrLocked = errors.New("document is locked by another migration")

// LockInfo is written into the lock file.
type LockInfo struct {
	Path      string `json:"path"`
	PID       int    `json:"pid"`
	StartTime string `json:"start_time"`
	ToVersion int    `json:"to_version"`
}

// Lock is an exclusive, process-level lock on one document.
type Lock struct {
	path string
	Info LockInfo
}

// LockPath returns the lock file used for the document at path.
func LockPath(path string) string {
	return path + constants.LockFileSuffix
}

// Acquire creates the lock file for the document at path. It must be taken
// before the document is read so the read version cannot go stale. A lock
// left behind by a process that no longer runs is reclaimed.
func Acquire(path string, to int) (*Lock, error) {
	l := &Lock{
		path: LockPath(path),
		Info: LockInfo{
			Path:      path,
			PID:       os.Getpid(),
			StartTime: time.Now().UTC().Format(time.RFC3339),
			ToVersion: to,
		},
	}
	data, err := json.MarshalIndent(l.Info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := writeExclusive(l.path, data)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to write lock file: %w", err)
		}

		existing, rerr := ReadLock(path)
		if rerr == nil && processAlive(existing.PID) {
			return nil, fmt.Errorf("%w: started at %s (PID: %d)", ErrLocked, existing.StartTime, existing.PID)
		}
		common.GetLogger().WithDocument(path).Warn("reclaiming stale migration lock", "lock", l.path)
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, l.path)
}

// ReadLock returns the info stored in the lock file of the document at path.
func ReadLock(path string) (*LockInfo, error) {
	// #nosec G304 -- lock path derives from a configured document path
	data, err := os.ReadFile(LockPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock info: %w", err)
	}
	return &info, nil
}

// Release removes the lock file. Releasing twice is harmless.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func writeExclusive(path string, data []byte) error {
	// #nosec G304 -- lock path derives from a configured document path
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
