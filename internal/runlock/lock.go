// Package runlock provides host-level mutual exclusion for reconciliation
// runs. The container name namespace must never be operated on by two runs
// concurrently, so the CLI takes a pidfile lock before touching the runtime.
//
// The lock is intended to be:
// - Stable across engine crashes (stale locks from dead PIDs are broken)
// - Strict while the owning process lives (no expiry, no forced takeover)
package runlock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
)

// ErrLockHeld indicates the reconciliation lock is held by a live process.
var ErrLockHeld = errors.New("reconciliation lock is held by another process")

// HeldError provides structured information when the lock cannot be taken.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s: path=%q pid=%d", ErrLockHeld, e.Path, e.PID)
}

func (e *HeldError) Unwrap() error {
	return ErrLockHeld
}

// Lock is a held reconciliation lock.
type Lock struct {
	path string
}

// Acquire takes the pidfile lock at path. A lockfile naming a dead process
// is considered stale and broken automatically.
func Acquire(logger logr.Logger, path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lockfile %q: %w", path, err)
			}
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lockfile %q: %w", path, err)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lockfile %q: %w", path, err)
		}

		pid, readErr := readPID(path)
		if readErr == nil && processAlive(pid) {
			return nil, &HeldError{Path: path, PID: pid}
		}

		// Unreadable lockfile or dead owner: break it and retry once.
		logger.Info("Breaking stale reconciliation lock", "path", path, "pid", pid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to break stale lockfile %q: %w", path, err)
		}
	}

	return nil, fmt.Errorf("failed to acquire lockfile %q after breaking stale lock", path)
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lockfile %q: %w", l.path, err)
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether a process with the given PID exists. Signal 0
// probes existence without delivering anything; EPERM still means alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
