package services

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"maenroll/internal/core"
)

// Lock is a single-runner lock file created with O_EXCL. It holds the
// owner's PID and acquisition time.
type Lock struct {
	path string
}

// AcquireLock takes the lock at path. A lock whose owner process is gone,
// or that is older than staleAfter when staleAfter > 0, is broken once.
// Otherwise the error wraps core.ErrLocked.
func AcquireLock(path string, staleAfter time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock: %w", err)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		pid, stale := inspectLock(path, staleAfter)
		if !stale {
			return nil, fmt.Errorf("%w: held by pid %d (%s)", core.ErrLocked, pid, path)
		}
		slog.Warn("Breaking stale lock", "path", path, "pid", pid)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrLocked, path)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func inspectLock(path string, staleAfter time.Duration) (pid int, stale bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, errors.Is(err, os.ErrNotExist)
	}
	data, err := os.ReadFile(path)
	if err == nil {
		first, _, _ := strings.Cut(string(data), "\n")
		pid, _ = strconv.Atoi(strings.TrimSpace(first))
	}
	if staleAfter > 0 && time.Since(fi.ModTime()) > staleAfter {
		return pid, true
	}
	if pid <= 0 {
		return pid, false
	}
	return pid, !processAlive(pid)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
