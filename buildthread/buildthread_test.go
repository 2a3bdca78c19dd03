package buildthread

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

func TestExtractRepoName(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://host/path/to/foo.git", "foo", false},
		{"https://host/path/to/foo", "foo", false},
		{"https://host/path/to/foo/", "", true},
		{"foo.git", "foo", false},
	}
	for _, c := range cases {
		got, err := ExtractRepoName(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestResult_ProgressIsMonotoneString(t *testing.T) {
	r := &Result{}
	r.SetProgress(0)
	assert.Equal(t, "Progress: 0%", r.Progress())
	r.SetProgress(100)
	assert.Equal(t, "Progress: 100%", r.Progress())
}

func writeFakeScript(t *testing.T, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("fake-%d.sh", exitCode))
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("#!/bin/sh\nexit %d\n", exitCode)), 0755))
	return path
}

func testProjectLogger(t *testing.T) *v2cilog.ProjectLogger {
	t.Helper()
	l, err := v2cilog.New(filepath.Join(t.TempDir(), "test.log"), "buildthread-test")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l.ForProject("p1").ForArch("amd64")
}

func TestRun_HappyPath(t *testing.T) {
	buildDir := t.TempDir()
	ok := writeFakeScript(t, 0)

	scripts := config.Scripts{
		InstallPackages: ok,
		CloneOrPull:     ok,
		Build:           ok,
	}

	proj := &config.Project{
		Name:            "p1",
		RepoURL:         "https://host/p1.git",
		MainBuildSystem: "gmake",
		TargetDir:       filepath.Join(buildDir, "target"),
	}
	args := NewArgs(buildDir, proj, "amd64")

	res := Run(context.Background(), scripts, filepath.Join(buildDir, "logs", "main.log"), args, testProjectLogger(t), nil)

	assert.Equal(t, 0, res.Status)
	assert.Equal(t, "Progress: 100%", res.Progress())
}

func TestRun_InstallFailure(t *testing.T) {
	buildDir := t.TempDir()
	fail := writeFakeScript(t, 1)

	scripts := config.Scripts{InstallPackages: fail}
	proj := &config.Project{Name: "p1", RepoURL: "https://host/p1.git"}
	args := NewArgs(buildDir, proj, "amd64")

	res := Run(context.Background(), scripts, filepath.Join(buildDir, "logs", "main.log"), args, testProjectLogger(t), nil)

	assert.Equal(t, 1, res.Status)
	assert.Contains(t, res.ErrorMessage, "install main project packages")
}

func TestRun_TerminatedBeforeLock(t *testing.T) {
	buildDir := t.TempDir()
	ok := writeFakeScript(t, 0)

	scripts := config.Scripts{InstallPackages: ok, CloneOrPull: ok, Build: ok}
	proj := &config.Project{Name: "p1", RepoURL: "https://host/p1.git"}
	args := NewArgs(buildDir, proj, "amd64")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx, scripts, filepath.Join(buildDir, "logs", "main.log"), args, testProjectLogger(t), nil)
	assert.Equal(t, 1, res.Status)
}
