package cron

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	content string
	reads   int
	writes  int
}

func (f *fakeAdapter) Read() (string, error) { f.reads++; return f.content, nil }
func (f *fakeAdapter) Write(content string) error {
	f.writes++
	f.content = content
	return nil
}

func TestInstall_AppendsEntry(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "cronjob_lock.lock")
	adapter := &fakeAdapter{content: "* * * * * existing\n"}

	entry := Entry("/libexec/rotate.sh", "p1", "/target", "/log", "1g", "2g", "3g", 10080, 43200, 525600)
	require.NoError(t, Install(context.Background(), lockPath, adapter, entry))

	assert.Contains(t, adapter.content, "existing")
	assert.Contains(t, adapter.content, entry[:len(entry)-1])
}

func TestInstall_IdempotentAcrossRestarts(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "cronjob_lock.lock")
	adapter := &fakeAdapter{}

	entry := Entry("/libexec/rotate.sh", "p1", "/target", "/log", "1g", "2g", "3g", 10080, 43200, 525600)

	for i := 0; i < 5; i++ {
		require.NoError(t, Install(context.Background(), lockPath, adapter, entry))
	}

	assert.Equal(t, 1, countOccurrences(adapter.content, entry[:len(entry)-1]))
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}
