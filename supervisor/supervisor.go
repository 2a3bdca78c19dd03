// Package supervisor implements the top-level process of §4.1: it reads
// the config, creates the build root, daemonizes, writes the singleton
// pidfile, bootstraps one chroot per unique architecture, and launches
// one Project Worker per project — substituting Go's lack of a bare
// fork(2) with a self-re-exec (grounded on the teacher's
// worker_helper.go "--worker-helper ... -- cmd" dispatch idiom) plus
// os/exec's own Setsid detachment for daemonization.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"v2ci/collaborator"
	"v2ci/config"
	"v2ci/lockfile"
	v2cilog "v2ci/log"
	"v2ci/util"
)

// PidfilePath is the supervisor's own singleton pidfile, named in §6.
const PidfilePath = "/tmp/rootless_v2ci.pid"

// pidfilePath is a package variable defaulting to PidfilePath so tests
// can redirect it without touching the real host path.
var pidfilePath = PidfilePath

// WorkerFlag is the hidden flag the supervisor's own executable re-execs
// itself with to stand in for fork(2): "v2ci-start --worker <project>".
const WorkerFlag = "--worker"

// ArchsFlag carries the project's post-bootstrap architecture list
// across the re-exec boundary. Unlike a real fork(2), a re-exec'd
// worker does not inherit the parent's memory, so RemoveFailedArchitectures'
// mutation of the in-process config is otherwise invisible to it; without
// this flag the worker would reload the untouched YAML and dispatch
// build threads against architectures whose chroot bootstrap never ran
// (invariant 4).
const ArchsFlag = "--archs"

// UniqueArchitectures returns the union of every project's architectures,
// preserving first-seen order across projects (§3 invariant).
func UniqueArchitectures(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range cfg.Projects {
		for _, arch := range p.Architectures {
			if !seen[arch] {
				seen[arch] = true
				out = append(out, arch)
			}
		}
	}
	return out
}

// BootstrapChroots serially invokes the chroot-setup collaborator for
// every architecture in archs, returning the subset that bootstrapped
// successfully. ctx is checked between architectures only (§4.1
// "Termination semantics": in-flight chroot setups complete before the
// supervisor aborts).
func BootstrapChroots(ctx context.Context, scripts config.Scripts, buildDir, mainLogFile string, archs []string, logger v2cilog.LibraryLogger) []string {
	var ok []string
	for _, arch := range archs {
		if ctx.Err() != nil {
			logger.Error("bootstrap interrupted before architecture %s", arch)
			break
		}

		chrootDir := config.ChrootDir(buildDir, arch)
		if err := util.EnsureDir(chrootDir); err != nil {
			logger.Error("create chroot dir for %s: %v", arch, err)
			continue
		}

		res, err := collaborator.ChrootSetup(context.WithoutCancel(ctx), scripts.ChrootSetup, arch, chrootDir, mainLogFile)
		if err != nil {
			logger.Error("chroot setup for %s: %v", arch, err)
			continue
		}
		if res.ExitCode != 0 {
			logger.Error("chroot setup for %s exited %d, architecture unusable", arch, res.ExitCode)
			continue
		}
		ok = append(ok, arch)
	}
	return ok
}

// RemoveFailedArchitectures shrinks every project's Architectures list to
// its intersection with okArchs, per §3's invariant that architectures
// failing supervisor bootstrap never appear in any child's ThreadArgs.
func RemoveFailedArchitectures(cfg *config.Config, okArchs []string) {
	ok := make(map[string]bool, len(okArchs))
	for _, a := range okArchs {
		ok[a] = true
	}
	for i := range cfg.Projects {
		kept := cfg.Projects[i].Architectures[:0]
		for _, a := range cfg.Projects[i].Architectures {
			if ok[a] {
				kept = append(kept, a)
			}
		}
		cfg.Projects[i].Architectures = kept
	}
}

// Run executes the full supervisor sequence of §4.1 against an
// already-loaded config: build root creation, pidfile acquisition,
// architecture union + serial bootstrap, failed-architecture removal,
// and forking (re-exec'ing) one worker per project whose architecture
// list is non-empty. ctx is observed between chroot setups and between
// project forks, per §4.1's termination semantics. selfExe is the path
// to this same executable, used to re-exec as a worker.
func Run(ctx context.Context, cfg *config.Config, selfExe string, logger *v2cilog.Logger) error {
	if err := util.EnsureDir(cfg.BuildDir); err != nil {
		return fmt.Errorf("create build root: %w", err)
	}

	if err := lockfile.AcquirePidfile(pidfilePath); err != nil {
		return fmt.Errorf("pidfile contention: %w", err)
	}
	defer lockfile.ReleasePidfile(pidfilePath)

	archs := UniqueArchitectures(cfg)
	okArchs := BootstrapChroots(ctx, cfg.Scripts, cfg.BuildDir, cfg.MainLogFile, archs, logger)
	if len(okArchs) == 0 {
		logger.Error("all architectures failed bootstrap, exiting")
		return fmt.Errorf("all %d architecture(s) failed chroot bootstrap", len(archs))
	}
	RemoveFailedArchitectures(cfg, okArchs)

	var firstForkErr error
	for i, p := range cfg.Projects {
		if ctx.Err() != nil {
			logger.Error("supervisor terminated before forking project %s", p.Name)
			break
		}
		if len(p.Architectures) == 0 {
			logger.Error("project %s has no surviving architectures, skipping", p.Name)
			continue
		}

		if err := forkWorker(selfExe, p.Name, p.Architectures); err != nil {
			logger.Error("fork worker for %s: %v", p.Name, err)
			if i == 0 && firstForkErr == nil {
				firstForkErr = err
			}
			continue
		}
		logger.Info("forked worker for project %s", p.Name)
	}

	return firstForkErr
}

// forkWorker starts selfExe in worker mode for project, detached from
// the supervisor's own process group so a later supervisor restart does
// not take workers down with it. It does not wait for the child: per
// §4.1, "the parent continues after each fork, never waiting." archs is
// the project's architecture list after RemoveFailedArchitectures, and
// is passed explicitly via ArchsFlag since the child does not inherit
// the parent's memory the way a true fork(2) child would.
func forkWorker(selfExe, project string, archs []string) error {
	cmd := exec.Command(selfExe, WorkerFlag, project, ArchsFlag, strings.Join(archs, ","))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}

// Daemonize detaches the current process from its controlling terminal
// by re-executing selfExe as a session leader with its standard streams
// redirected to /dev/null, then exiting the parent — the double-detach
// substitute named in §9 ("any equivalent run-in-background,
// detached-from-terminal mechanism satisfies the contract"). The
// re-executed child receives args verbatim plus an internal marker so it
// does not daemonize a second time.
func Daemonize(selfExe string, args []string) error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(selfExe, append(args, daemonizedFlag)...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}
	return nil
}

// daemonizedFlag marks a re-exec'd process as already detached, so it
// runs Run directly instead of calling Daemonize again.
const daemonizedFlag = "--daemonized"

// DaemonizedFlagName is daemonizedFlag without its leading dashes, for
// registering as a named cobra/flag.FlagSet flag.
const DaemonizedFlagName = "daemonized"

// IsDaemonized reports whether args carries the daemonized marker.
func IsDaemonized(args []string) bool {
	for _, a := range args {
		if a == daemonizedFlag {
			return true
		}
	}
	return false
}

func resolveSelf() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable path: %w", err)
	}
	return filepath.Clean(exe), nil
}

// ResolveSelf is the exported form of resolveSelf, used by cmd/v2ci-start.
func ResolveSelf() (string, error) { return resolveSelf() }
