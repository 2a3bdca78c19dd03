package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2ci/config"
	v2cilog "v2ci/log"
)

func TestUniqueArchitectures_PreservesFirstSeenOrder(t *testing.T) {
	cfg := &config.Config{Projects: []config.Project{
		{Architectures: []string{"amd64", "arm64"}},
		{Architectures: []string{"arm64", "riscv64", "amd64"}},
	}}

	got := UniqueArchitectures(cfg)
	assert.Equal(t, []string{"amd64", "arm64", "riscv64"}, got)
}

func writeFakeScript(t *testing.T, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("fake-%d.sh", exitCode))
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("#!/bin/sh\nexit %d\n", exitCode)), 0755))
	return path
}

func testLogger(t *testing.T) *v2cilog.Logger {
	t.Helper()
	l, err := v2cilog.New(filepath.Join(t.TempDir(), "main.log"), "supervisor-test")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBootstrapChroots_AllSucceed(t *testing.T) {
	buildDir := t.TempDir()
	ok := writeFakeScript(t, 0)
	scripts := config.Scripts{ChrootSetup: ok}

	got := BootstrapChroots(context.Background(), scripts, buildDir, filepath.Join(buildDir, "main.log"), []string{"amd64", "arm64"}, testLogger(t))
	assert.Equal(t, []string{"amd64", "arm64"}, got)
}

func TestBootstrapChroots_FailingScriptDropsArchitecture(t *testing.T) {
	buildDir := t.TempDir()
	ok := writeFakeScript(t, 0)
	fail := writeFakeScript(t, 1)

	// One script serves every architecture, so each call exercises one
	// outcome: a failing script leaves no architecture, a succeeding one
	// keeps it.
	scripts := config.Scripts{ChrootSetup: fail}
	got := BootstrapChroots(context.Background(), scripts, buildDir, filepath.Join(buildDir, "main.log"), []string{"amd64"}, testLogger(t))
	assert.Empty(t, got)

	scripts = config.Scripts{ChrootSetup: ok}
	got = BootstrapChroots(context.Background(), scripts, buildDir, filepath.Join(buildDir, "main.log"), []string{"amd64"}, testLogger(t))
	assert.Equal(t, []string{"amd64"}, got)
}

func TestBootstrapChroots_CancelledContextStopsBetweenArchitectures(t *testing.T) {
	buildDir := t.TempDir()
	ok := writeFakeScript(t, 0)
	scripts := config.Scripts{ChrootSetup: ok}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := BootstrapChroots(ctx, scripts, buildDir, filepath.Join(buildDir, "main.log"), []string{"amd64", "arm64"}, testLogger(t))
	assert.Empty(t, got)
}

func TestRemoveFailedArchitectures(t *testing.T) {
	cfg := &config.Config{Projects: []config.Project{
		{Name: "p1", Architectures: []string{"amd64", "arm64", "riscv64"}},
		{Name: "p2", Architectures: []string{"arm64"}},
	}}

	RemoveFailedArchitectures(cfg, []string{"amd64", "riscv64"})

	assert.Equal(t, []string{"amd64", "riscv64"}, cfg.Projects[0].Architectures)
	assert.Empty(t, cfg.Projects[1].Architectures)
}

func TestRun_AllArchitecturesFail_ReturnsError(t *testing.T) {
	buildDir := t.TempDir()
	fail := writeFakeScript(t, 1)

	oldPidfilePath := pidfilePath
	pidfilePath = filepath.Join(buildDir, "supervisor.pid")
	defer func() { pidfilePath = oldPidfilePath }()

	cfg := &config.Config{
		BuildDir:    buildDir,
		MainLogFile: filepath.Join(buildDir, "logs", "main.log"),
		Scripts:     config.Scripts{ChrootSetup: fail},
		Projects: []config.Project{
			{Name: "p1", Architectures: []string{"amd64"}},
		},
	}

	err := Run(context.Background(), cfg, "/bin/true", testLogger(t))
	assert.Error(t, err)
}

func TestIsDaemonized_RoundTrip(t *testing.T) {
	assert.True(t, IsDaemonized([]string{"start", daemonizedFlag}))
	assert.False(t, IsDaemonized([]string{"start"}))
}
