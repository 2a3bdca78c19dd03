package lockfile

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l, err := Acquire(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
}

func TestAcquire_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	held, err := Acquire(context.Background(), path)
	require.NoError(t, err)
	defer held.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Acquire(ctx, path)
	assert.Error(t, err)
}

func TestPidfile_AcquireFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.pid")

	require.NoError(t, AcquirePidfile(path))

	pid, ok := ReadPID(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPidfile_StaleOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.pid")

	// A PID guaranteed not to exist in the test environment.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)+"\n"), 0644))

	err := AcquirePidfile(path)
	require.NoError(t, err)

	pid, ok := ReadPID(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPidfile_HeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))

	err := AcquirePidfile(path)
	require.Error(t, err)
	var held *PidfileHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, os.Getpid(), held.PID)
}

func TestReleasePidfile_MissingIsNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pid")
	assert.NoError(t, ReleasePidfile(path))
}
