// Package lock provides a per-workspace advisory file lock: one lock
// file inside a workspace directory, taken without blocking (TryLock)
// or with jittered retries (Lock). No other package in this module
// acquires it; the agent's validator jitter and lock-contention backoff
// react to the task runner's own error text, not to this lock.
package lock

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/sjennings/zeroshot-sub001/internal/retry"
)

// DefaultLockFileName is created inside a workspace directory to hold the
// advisory lock.
const DefaultLockFileName = ".zeroshot.lock"

// Lock wraps a gofrs/flock file lock scoped to one workspace directory.
type Lock struct {
	fl   *flock.Flock
	path string
}

// New returns a Lock for the given workspace directory. The lock file
// itself is created lazily on first acquisition attempt.
func New(workspaceDir string) *Lock {
	path := filepath.Join(workspaceDir, DefaultLockFileName)
	return &Lock{fl: flock.New(path), path: path}
}

// TryLock attempts to acquire the lock without blocking. It reports
// whether the lock was acquired.
func (l *Lock) TryLock() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock: trylock %s: %w", l.path, err)
	}
	return ok, nil
}

// lockContentionMin and lockContentionMax bound the jittered backoff
// between acquisition attempts (spec.md §4.2's lock-contention schedule).
const (
	lockContentionMin = 10 * time.Second
	lockContentionMax = 30 * time.Second
)

// Lock blocks, retrying with jittered backoff, until the lock is acquired
// or ctx is done.
func (l *Lock) Lock(ctx context.Context, rnd *rand.Rand) error {
	for {
		ok, err := l.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		wait := retry.JitterDuration(rnd, lockContentionMin, lockContentionMax)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Unlock releases the lock. Safe to call even if the lock was never
// acquired.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// Locked reports whether this process currently holds the lock.
func (l *Lock) Locked() bool {
	return l.fl.Locked()
}
