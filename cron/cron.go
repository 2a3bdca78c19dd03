// Package cron installs the rotation cronjob entry under the global
// cron lock, per §4.2's "Cron installation" algorithm. Per the §9 design
// note ("treat crontab mutation as an external effect with an injected
// adapter for testability"), the actual crontab read/write is behind the
// Adapter interface so tests substitute a fake.
package cron

import (
	"context"
	"fmt"
	"strings"

	"v2ci/lockfile"
)

// Adapter reads and writes the invoking user's crontab.
type Adapter interface {
	// Read returns the current crontab contents. An adapter may return
	// an empty string with no error if the user has no crontab yet.
	Read() (string, error)
	// Write installs content as the new crontab.
	Write(content string) error
}

// Entry builds the exact rotation crontab line named in §6.
func Entry(rotationScript, name, targetDir, log string, weeklyMem, monthlyMem, yearlyMem string, weeklyInterval, monthlyInterval, yearlyInterval int) string {
	return fmt.Sprintf("0 0 * * * %s %s %s %s %s %s %s %d %d %d\n",
		rotationScript, name, targetDir, log, weeklyMem, monthlyMem, yearlyMem,
		weeklyInterval, monthlyInterval, yearlyInterval)
}

// Install performs the four-step algorithm of §4.2 under the global
// advisory lock at lockPath: read the crontab, strip any line
// byte-equal to entry, append entry, write the result back. It is
// idempotent: running it N times against the same adapter state leaves
// exactly one matching line (§8's idempotence property).
func Install(ctx context.Context, lockPath string, adapter Adapter, entry string) error {
	lock, err := lockfile.Acquire(ctx, lockPath)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	defer lock.Unlock()

	current, err := adapter.Read()
	if err != nil {
		return fmt.Errorf("read crontab: %w", err)
	}

	lines := splitLinesKeepingNone(current)
	filtered := lines[:0]
	entryTrimmed := strings.TrimRight(entry, "\n")
	for _, line := range lines {
		if line == entryTrimmed {
			continue
		}
		filtered = append(filtered, line)
	}
	filtered = append(filtered, entryTrimmed)

	newContent := strings.Join(filtered, "\n") + "\n"
	if err := adapter.Write(newContent); err != nil {
		return fmt.Errorf("write crontab: %w", err)
	}
	return nil
}

func splitLinesKeepingNone(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
