// Package collaborator invokes the core's external-command collaborators
// per §4.4: chroot-setup, update-check, install-packages, clone-or-pull,
// build, and rotation-cron. Each is an opaque executable with a fixed
// positional argv (§6). Per the explicit §9 redesign note, invocation is
// direct argv exec — no shell, no string concatenation, no quoting — which
// removes the injection vector the source's "space-join and double-quote"
// approach created for repo URLs and project names.
package collaborator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Result is the outcome of running a collaborator.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// SpawnError indicates the collaborator could not even be started —
// chmod failed, or the executable was missing — distinct from a
// collaborator that ran and reported failure via its exit code (§7
// class 3 vs class 4).
type SpawnError struct {
	Path string
	Op   string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("collaborator %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Run chmods scriptPath 0755, then executes it with args as its argv
// (ctx-bound, so the caller can impose external cancellation, though §5
// notes the core itself imposes no timeout on collaborators), and
// returns its exit code. A nonzero exit code is a successful invocation
// that reported failure (Result.ExitCode != 0, err == nil); err is
// non-nil only for spawn-level failures (chmod, exec start, abnormal
// termination such as a signal).
func Run(ctx context.Context, scriptPath string, args ...string) (*Result, error) {
	if err := os.Chmod(scriptPath, 0755); err != nil {
		return nil, &SpawnError{Path: scriptPath, Op: "chmod", Err: err}
	}

	cmd := exec.CommandContext(ctx, scriptPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return &Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		return &Result{ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	return nil, &SpawnError{Path: scriptPath, Op: "run", Err: err}
}

// ChrootSetup invokes the chroot-setup collaborator: argv
// <arch> <chroot_dir> <main_log_file>. Nonzero means the architecture is
// unusable.
func ChrootSetup(ctx context.Context, script, arch, chrootDir, mainLogFile string) (*Result, error) {
	return Run(ctx, script, arch, chrootDir, mainLogFile)
}

// UpdateCheck invokes the update-check collaborator. Exit 0 = no update,
// 2 = update, anything else = failure.
func UpdateCheck(ctx context.Context, script, chrootDir, inChrootBuildDir, repoName, inChrootLog, project, arch string) (*Result, error) {
	return Run(ctx, script, chrootDir, inChrootBuildDir, repoName, inChrootLog, project, arch)
}

// InstallPackages invokes the install-packages collaborator for pkgs
// (may be empty).
func InstallPackages(ctx context.Context, script, chrootDir, threadLog, project, arch string, pkgs []string) (*Result, error) {
	args := append([]string{chrootDir, threadLog, project, arch}, pkgs...)
	return Run(ctx, script, args...)
}

// CloneOrPull invokes the clone-or-pull collaborator.
func CloneOrPull(ctx context.Context, script, chrootDir, inChrootBuildDir, repoName, gitURL, threadLog, project, arch string) (*Result, error) {
	return Run(ctx, script, chrootDir, inChrootBuildDir, repoName, gitURL, threadLog, project, arch)
}

// BuildArgs is the optional trailing pair the build collaborator takes
// only for the main project's own invocation (§6: "main-project invocation
// adds the two extra args").
type BuildArgs struct {
	InChrootTarget string
	HostTarget     string
}

// Build invokes the build collaborator. extra is nil for a manual
// dependency's build, set for the main project's build.
func Build(ctx context.Context, script, arch, chrootDir, inChrootBuildDir, repoName, buildSystem, threadLog, inChrootLog, project string, extra *BuildArgs) (*Result, error) {
	args := []string{arch, chrootDir, inChrootBuildDir, repoName, buildSystem, threadLog, inChrootLog, project}
	if extra != nil {
		args = append(args, extra.InChrootTarget, extra.HostTarget)
	}
	return Run(ctx, script, args...)
}

// RotationCron invokes the rotation-cron collaborator directly. Nothing in
// the core calls it: in production the script runs via crontab, not
// through this package — see the cron package.
func RotationCron(ctx context.Context, script, name, targetDir, log string, wmem, mmem, ymem string, wint, mint, yint int) (*Result, error) {
	return Run(ctx, script, name, targetDir, log, wmem, mmem, ymem,
		fmt.Sprint(wint), fmt.Sprint(mint), fmt.Sprint(yint))
}
