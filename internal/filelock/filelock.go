// Package filelock provides a cooperative inter-process lock built on a
// sidecar file created with O_CREATE|O_EXCL. The sidecar records who holds
// the lock; stale sidecars (holder dead, or older than the staleness bound)
// are broken automatically so a crashed process never wedges the system.
package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// ErrTimeout is returned when the lock stays contended past the deadline.
var ErrTimeout = errors.New("lock acquisition timed out")

// Default bounds.
const (
	// DefaultRetryDelay is the pause between acquisition attempts.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultTimeout bounds the total wait for a contended lock.
	DefaultTimeout = 10 * time.Second

	// DefaultStaleAfter is the age past which a held lock is presumed
	// abandoned and may be broken.
	DefaultStaleAfter = 30 * time.Second
)

// Info is the JSON payload written into the sidecar.
type Info struct {
	// PID identifies the holding process.
	PID int `json:"pid"`

	// Timestamp is when the lock was taken.
	Timestamp time.Time `json:"timestamp"`

	// Operation names what the holder is doing, for diagnostics.
	Operation string `json:"operation"`
}

// Lock is a held lock. Release removes the sidecar.
type Lock struct {
	path string
}

// Locker acquires locks with configurable bounds. The zero value is not
// usable; call New.
type Locker struct {
	// RetryDelay is the pause between acquisition attempts.
	RetryDelay time.Duration

	// Timeout bounds the total wait.
	Timeout time.Duration

	// StaleAfter is the age past which a lock may be broken.
	StaleAfter time.Duration
}

// New returns a Locker with the default bounds.
func New() *Locker {
	return &Locker{
		RetryDelay: DefaultRetryDelay,
		Timeout:    DefaultTimeout,
		StaleAfter: DefaultStaleAfter,
	}
}

// lockPath derives the sidecar location for a target file.
func lockPath(target string) string {
	return target + ".lock"
}

// Acquire takes the lock for target, retrying on contention and breaking
// stale sidecars. The operation string is recorded for diagnostics.
func (lk *Locker) Acquire(target, operation string) (*Lock, error) {
	path := lockPath(target)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare lock dir for %s: %w: %v", target, types.ErrIo, err)
		}
	}

	start := time.Now()
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			info := Info{PID: os.Getpid(), Timestamp: time.Now().UTC(), Operation: operation}
			if encoded, marshalErr := json.Marshal(info); marshalErr == nil {
				_, _ = f.Write(append(encoded, '\n')) //nolint:errcheck // diagnostics only
			}
			_ = f.Close() //nolint:errcheck // best-effort close
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire lock for %s: %w: %v", target, types.ErrIo, err)
		}

		if lk.isStale(path) {
			_ = os.Remove(path) //nolint:errcheck // loser of the race just retries
			continue
		}

		if time.Since(start) >= lk.Timeout {
			return nil, fmt.Errorf("acquire lock for %s (op %s): %w: %w", target, operation, types.ErrIo, ErrTimeout)
		}
		time.Sleep(lk.RetryDelay)
	}
}

// isStale reports whether the sidecar at path may be broken: its recorded
// holder is dead, its recorded timestamp is past the staleness bound, or
// its contents are unreadable and its mtime is past the bound.
func (lk *Locker) isStale(path string) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		// A removed sidecar means the holder released; retry will succeed.
		return false
	}

	var info Info
	if err := json.Unmarshal(content, &info); err != nil || info.Timestamp.IsZero() {
		st, statErr := os.Stat(path)
		if statErr != nil {
			return false
		}
		return time.Since(st.ModTime()) > lk.StaleAfter
	}

	if time.Since(info.Timestamp) > lk.StaleAfter {
		return true
	}
	return !pidAlive(info.PID)
}

// pidAlive probes a pid with signal 0. EPERM counts as alive: the process
// exists but belongs to someone else.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Release removes the sidecar. Releasing twice is harmless.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w: %v", l.path, types.ErrIo, err)
	}
	return nil
}

// WithLock runs fn while holding the lock for target. The lock is released
// on every exit path, including fn failure.
func (lk *Locker) WithLock(target, operation string, fn func() error) error {
	lock, err := lk.Acquire(target, operation)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // sidecar removal is best-effort
	}()
	return fn()
}

// WithLock runs fn under the default bounds.
func WithLock(target, operation string, fn func() error) error {
	return New().WithLock(target, operation, fn)
}
