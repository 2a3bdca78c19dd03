// Package lockfile implements the core's cross-process mutual-exclusion
// primitives: advisory file locks (the package-manager lock, the cron
// lock, the recovery lock) and pidfile singleton enforcement, per §5 and
// §6. Both are thin wrappers over golang.org/x/sys/unix, matching the
// teacher's direct-unix-syscall idiom in mount.go and environment/bsd.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval is the backoff between contended flock attempts. Short
// enough that a lock released mid-wait is picked up promptly, long
// enough that a busy lock (the recovery lock, the per-chroot lock under
// concurrent build threads) doesn't spin a core for the contention's
// duration.
const pollInterval = 50 * time.Millisecond

// Lock is an exclusive, blocking advisory file lock. The contract named
// in §9 is "exclusive, blocking, auto-released on close or process exit",
// which unix.Flock(LOCK_EX) satisfies directly: the kernel drops the lock
// when the holding fd is closed or the process dies, so Unlock (which
// closes the fd) is the only release path callers need.
type Lock struct {
	path string
	file *os.File
}

// Acquire opens (creating if necessary) the lock file at path and blocks
// until an exclusive advisory lock is held. Acquisition can be
// interrupted by ctx cancellation by polling LOCK_EX|LOCK_NB in a loop;
// this matches §5's checkpoint ("the flock acquisition on <chroot>/lock"
// is itself a documented suspension point).
func Acquire(ctx context.Context, path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{path: path, file: f}, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.Close()
			return nil, fmt.Errorf("flock %s: context cancelled while waiting", path)
		case <-timer.C:
		}
	}
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// PidfileHeldError is returned when a pidfile is held by a live process,
// per §7's "pidfile contention" error class.
type PidfileHeldError struct {
	Path string
	PID  int
}

func (e *PidfileHeldError) Error() string {
	return fmt.Sprintf("pidfile %s held by live process %d", e.Path, e.PID)
}

// AcquirePidfile writes the current process's PID to path, refusing to do
// so if the file already names a live process (signalable with signal 0,
// per §4.1/§4.2). A pidfile naming a dead process is silently overwritten,
// per §8's boundary behavior.
func AcquirePidfile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, ok := parsePID(string(data)); ok {
			if err := unix.Kill(pid, 0); err == nil {
				return &PidfileHeldError{Path: path, PID: pid}
			}
			// ESRCH (or any other failure to signal) means the process is
			// gone: the pidfile is stale and gets overwritten below.
		}
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// ReleasePidfile removes the pidfile. Missing files are not an error.
func ReleasePidfile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pidfile %s: %w", path, err)
	}
	return nil
}

// ReadPID reads the PID recorded at path, returning ok=false if the file
// is missing or malformed.
func ReadPID(path string) (pid int, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	return parsePID(string(data))
}

func parsePID(s string) (int, bool) {
	s = strings.TrimSpace(s)
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
