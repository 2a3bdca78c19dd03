// Package util collects small filesystem and formatting helpers shared
// across the supervisor, worker, and build-thread packages.
package util

import (
	"fmt"
	"os"
)

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnsureDir recursively creates path if missing. Idempotent: calling it
// twice on the same path succeeds both times and does not alter the
// existing directory's mode (os.MkdirAll already has this property —
// it is a no-op when the path exists), per §8's round-trip property.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FormatDuration formats a duration given in seconds as a human-readable
// string such as "1h2m3s".
func FormatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	seconds = seconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
}
