// Package coordinator implements the Loop Lock & Worktree Coordinator
// (spec §4.7, C8): advisory primary/merge locks, secondary-loop
// spawning into git worktrees, the loop registry, and merge-queue
// serialization.
package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// LockMetadata is written into a lock file while it is held (spec §4.7:
// "Metadata (PID, started, prompt) is written into the lock file").
type LockMetadata struct {
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`
	Prompt  string    `json:"prompt"`
}

// Lock wraps an advisory file lock with JSON metadata, used for both
// loop.lock and merge.lock — intentionally the same small type rather
// than one shared "the lock" abstraction, since spec §9 requires the two
// locks to stay independently acquirable (a merge loop must never
// contend with the primary loop lock).
type Lock struct {
	path string
	fl   *flock.Flock
}

// NewLock opens (without acquiring) the advisory lock at path.
func NewLock(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// TryAcquire attempts a non-blocking exclusive lock and, on success,
// writes metadata into the lock file. ok is false if the lock is already
// held elsewhere — the caller should treat that as "spawn a secondary
// loop" (loop.lock) or "queue behind the current merge" (merge.lock).
func (l *Lock) TryAcquire(meta LockMetadata) (ok bool, err error) {
	locked, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", l.path, err)
	}
	if !locked {
		return false, nil
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = l.fl.Unlock()
		return false, fmt.Errorf("marshaling lock metadata: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		_ = l.fl.Unlock()
		return false, fmt.Errorf("writing lock metadata to %s: %w", l.path, err)
	}
	return true, nil
}

// Release frees the lock. Safe to call even if TryAcquire never
// succeeded (flock.Unlock on an unlocked Flock is a no-op).
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.path, err)
	}
	return nil
}

// ReadMetadata reads whatever metadata the current holder (or the last
// holder, if none holds it now) wrote into the lock file. Used by `ralph
// loops list` to report who holds the primary lock.
func ReadMetadata(path string) (LockMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LockMetadata{}, fmt.Errorf("reading lock metadata %s: %w", path, err)
	}
	var meta LockMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return LockMetadata{}, fmt.Errorf("parsing lock metadata %s: %w", path, err)
	}
	return meta, nil
}
