// Package lockfile guards a FocusCoin state directory so only one process
// writes the timer state and outbox at a time.
//
// The lock is an flock on a file inside the state directory. The kernel
// drops it when the process exits, however it exits.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "focuscoin.lock"

// ErrLocked is wrapped by LockError when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another FocusCoin process")

// Info is the owner record written into the lock file.
type Info struct {
	PID        int
	Command    string
	AcquiredAt time.Time
}

func (i Info) encode() string {
	return fmt.Sprintf("pid=%d\ncommand=%s\nacquired=%s\n", i.PID, i.Command, i.AcquiredAt.UTC().Format(time.RFC3339))
}

// parseInfo reads an owner record. Unknown or malformed lines are skipped.
func parseInfo(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "command":
			info.Command = value
		case "acquired":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.AcquiredAt = t
			}
		}
	}
	return info
}

// Lock represents an active directory lock
type Lock struct {
	mu   sync.Mutex
	file *os.File
	path string
	info Info
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory if
// needed. command names what the holder is doing ("serve", "flush") and is
// shown to a second process that fails to get the lock.
func AcquireLock(stateDir, command string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("AcquireLock: acquiring state directory lock", "lock_path", lockPath, "command", command)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Open without truncating so a failed attempt leaves the owner record intact.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Cause: err}
		if errors.Is(err, unix.EWOULDBLOCK) {
			lockErr.Holder = readHolder(lockPath)
		}
		slog.Error("AcquireLock: failed to acquire lock", "error", err, "lock_path", lockPath, "holder", lockErr.Holder)
		return nil, lockErr
	}

	info := Info{PID: os.Getpid(), Command: command, AcquiredAt: time.Now()}
	if err := writeInfo(file, info); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: state directory locked", "lock_path", lockPath, "pid", info.PID, "command", command)
	return &Lock{file: file, path: lockPath, info: info}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("AcquireLock: failed to sync lock file", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Info returns the owner record this process wrote.
func (l *Lock) Info() Info {
	return l.info
}

// Release drops the lock and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}

	var errs []error
	// Remove before unlocking so a waiting process never sees our record.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove lock file: %w", err))
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close lock file: %w", err))
	}
	l.file = nil

	if err := errors.Join(errs...); err != nil {
		slog.Error("Lock.Release: release incomplete", "error", err, "lock_path", l.path)
		return err
	}
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError represents an error when failing to acquire a lock due to another process
type LockError struct {
	LockPath string
	// Holder describes the current owner when it could be read.
	Holder string
	Cause  error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Another FocusCoin process is already using this state directory.\n\nLock file: %s", e.LockPath)
	if e.Holder != "" {
		fmt.Fprintf(&b, "\nHeld by: %s", e.Holder)
	}
	fmt.Fprintf(&b, "\n\nStop the other process before running this command. If the holder is not running,\n"+
		"the lock is stale and can be removed with:\n  rm %s", e.LockPath)
	return b.String()
}

// Is reports ErrLocked for a conflicting holder.
func (e *LockError) Is(target error) bool {
	return target == ErrLocked && errors.Is(e.Cause, unix.EWOULDBLOCK)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readHolder describes the process recorded in the lock file.
func readHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return ""
	}
	info := parseInfo(string(data))
	if info.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if processAlive(info.PID) {
		state = "running"
	}
	desc := fmt.Sprintf("PID %d (%s)", info.PID, state)
	if info.Command != "" {
		desc += ", command " + info.Command
	}
	if !info.AcquiredAt.IsZero() {
		desc += ", since " + info.AcquiredAt.Format(time.RFC3339)
	}
	return desc
}

// processAlive sends signal 0 to pid.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
