package collaborator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeScript writes a shell script that records its argv to a file
// under the same temp dir and exits with the given code.
func writeFakeScript(t *testing.T, exitCode int) (script, argvFile string) {
	t.Helper()
	dir := t.TempDir()
	script = filepath.Join(dir, "fake.sh")
	argvFile = filepath.Join(dir, "argv.txt")

	body := fmt.Sprintf("#!/bin/sh\necho \"$@\" > %q\nexit %d\n", argvFile, exitCode)
	require.NoError(t, os.WriteFile(script, []byte(body), 0644))
	return script, argvFile
}

func TestRun_Success(t *testing.T) {
	script, argvFile := writeFakeScript(t, 0)

	res, err := Run(context.Background(), script, "amd64", "/chroot", "/main.log")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	got, err := os.ReadFile(argvFile)
	require.NoError(t, err)
	assert.Equal(t, "amd64 /chroot /main.log", strings.TrimSpace(string(got)))
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	script, _ := writeFakeScript(t, 2)

	res, err := Run(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
}

func TestRun_MissingScript(t *testing.T) {
	_, err := Run(context.Background(), filepath.Join(t.TempDir(), "missing.sh"))
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "chmod", spawnErr.Op)
}

func TestUpdateCheck_ArgumentOrder(t *testing.T) {
	script, argvFile := writeFakeScript(t, 0)

	_, err := UpdateCheck(context.Background(), script, "/chroot", "/home/p1", "p1-repo", "/home/p1/logs/worker.log", "p1", "amd64")
	require.NoError(t, err)

	got, err := os.ReadFile(argvFile)
	require.NoError(t, err)
	assert.Equal(t, "/chroot /home/p1 p1-repo /home/p1/logs/worker.log p1 amd64", strings.TrimSpace(string(got)))
}

func TestInstallPackages_EmptyPackageList(t *testing.T) {
	script, argvFile := writeFakeScript(t, 0)

	_, err := InstallPackages(context.Background(), script, "/chroot", "/thread.log", "p1", "amd64", nil)
	require.NoError(t, err)

	got, err := os.ReadFile(argvFile)
	require.NoError(t, err)
	assert.Equal(t, "/chroot /thread.log p1 amd64", strings.TrimSpace(string(got)))
}

func TestBuild_MainProjectAddsExtraArgs(t *testing.T) {
	script, argvFile := writeFakeScript(t, 0)

	_, err := Build(context.Background(), script, "amd64", "/chroot", "/home/p1", "p1-repo", "gmake", "/thread.log", "/home/p1/logs/worker.log", "p1",
		&BuildArgs{InChrootTarget: "/home/p1/binaries", HostTarget: "/build/p1/binaries"})
	require.NoError(t, err)

	got, err := os.ReadFile(argvFile)
	require.NoError(t, err)
	assert.Equal(t, "amd64 /chroot /home/p1 p1-repo gmake /thread.log /home/p1/logs/worker.log p1 /home/p1/binaries /build/p1/binaries", strings.TrimSpace(string(got)))
}
