// Package buildthread implements the per-architecture build pipeline of
// §4.3: install deps → clone/pull → build, run strictly sequentially with
// a terminate checkpoint between phases, publishing progress milestones
// and a final Result.
package buildthread

import (
	"context"
	"fmt"
	"path/filepath"

	"v2ci/collaborator"
	"v2ci/config"
	"v2ci/lockfile"
	v2cilog "v2ci/log"
	"v2ci/rundb"
	"v2ci/stats"
	"v2ci/util"
)

// Run executes the full pipeline for one architecture and returns the
// Result the worker will join on. ctx carries the worker's termination
// token (§9 redesign note 1); ledger may be nil (the run ledger is a
// supplemental feature, not required for correctness).
func Run(ctx context.Context, scripts config.Scripts, mainLogFile string, args *Args, logger *v2cilog.ProjectLogger, ledger *rundb.DB) *Result {
	res := &Result{}

	// Collaborators run under a context that ctx's cancellation does not
	// reach: a running subprocess finishes on its own, and termination is
	// observed only at the checkpoints between phases.
	runCtx := context.WithoutCancel(ctx)

	var runID string
	if ledger != nil {
		if id, err := ledger.StartRun(args.Project.Name, args.Arch); err == nil {
			runID = id
		}
	}
	phase := func(name string) {
		if ledger != nil && runID != "" {
			ledger.SetPhase(runID, name)
		}
	}
	finish := func(status string) {
		if ledger != nil && runID != "" {
			ledger.Finish(runID, status)
		}
	}

	fail := func(format string, a ...any) *Result {
		res.Status = 1
		res.ErrorMessage = fmt.Sprintf(format, a...)
		logger.Error("%s", res.ErrorMessage)
		finish(rundb.StatusFailed)
		return res
	}

	// Phase: ensure the chroot root exists. The thread log file itself is
	// not created here; it is only passed to the collaborator scripts.
	if err := util.EnsureDir(args.ChrootDir); err != nil {
		return fail("create chroot dir: %v", err)
	}
	res.SetProgress(0)
	phase("prepare_log")

	// Phase: create chroot-relative build/log/target dirs (host-visible
	// paths via purely lexical concatenation, per §3's invariant).
	dirsToCreate := []string{
		args.HostChrootPath(args.ChrootBuildDir),
		args.HostChrootPath(filepath.Dir(args.ChrootLogFile)),
		args.HostChrootPath(args.ChrootTargetDir),
	}
	for _, dir := range dirsToCreate {
		if err := util.EnsureDir(dir); err != nil {
			return fail("create %s: %v", dir, err)
		}
	}

	if checkpoint(ctx, logger) {
		return fail("terminated before acquiring package-manager lock")
	}

	// Phase: acquire package-manager lock on <chroot>/lock, held for the
	// entire install phase (§5 shared-resource policy).
	lockPath := filepath.Join(args.ChrootDir, "lock")
	lock, err := lockfile.Acquire(ctx, lockPath)
	if err != nil {
		return fail("acquire package-manager lock: %v", err)
	}
	defer lock.Unlock() // released on every exit path; see §9 note on the lock-leak bug.
	res.SetProgress(10)
	phase("lock_acquired")

	// Sample host load before the install phase. This never gates the
	// build; it only logs a warning an operator can act on.
	if sample := stats.Collect(); sample.OverThresh {
		logger.Warn("host load %.2f exceeds threshold %.2f before install phase", sample.Load1, stats.LoadThreshold)
	}

	// Phase: install main project's dependency_packages.
	if _, err := collaborator.InstallPackages(runCtx, scripts.InstallPackages, args.ChrootDir, args.ThreadLogFile, args.Project.Name, args.Arch, args.Project.DependencyPkgs); err != nil {
		return fail("install main project packages: %v", err)
	}
	res.SetProgress(30)

	// Phase: for each manual dependency in order, install its
	// dependencies.
	for _, dep := range args.Project.ManualDeps {
		depName, err := ExtractRepoName(dep.GitURL)
		if err != nil {
			return fail("manual dependency %s: %v", dep.GitURL, err)
		}
		if _, err := collaborator.InstallPackages(runCtx, scripts.InstallPackages, args.ChrootDir, args.ThreadLogFile, depName, args.Arch, dep.Dependencies); err != nil {
			return fail("install dependencies for %s: %v", depName, err)
		}
	}
	res.SetProgress(50)
	phase("deps_installed")

	// Phase: release package-manager lock (explicit in addition to the
	// defer, matching the spec's "release on all exit paths" wording).
	if err := lock.Unlock(); err != nil {
		return fail("release package-manager lock: %v", err)
	}

	if checkpoint(ctx, logger) {
		return fail("terminated before clone/pull phase")
	}

	// Phase: clone-or-pull main repo and each manual dependency.
	mainRepoName, err := ExtractRepoName(args.Project.RepoURL)
	if err != nil {
		return fail("main repo: %v", err)
	}
	if _, err := collaborator.CloneOrPull(runCtx, scripts.CloneOrPull, args.ChrootDir, args.ChrootBuildDir, mainRepoName, args.Project.RepoURL, args.ThreadLogFile, args.Project.Name, args.Arch); err != nil {
		return fail("clone/pull main repo: %v", err)
	}
	for _, dep := range args.Project.ManualDeps {
		depName, _ := ExtractRepoName(dep.GitURL)
		if _, err := collaborator.CloneOrPull(runCtx, scripts.CloneOrPull, args.ChrootDir, args.ChrootBuildDir, depName, dep.GitURL, args.ThreadLogFile, args.Project.Name, args.Arch); err != nil {
			return fail("clone/pull %s: %v", depName, err)
		}
	}
	res.SetProgress(70)
	phase("cloned")

	if checkpoint(ctx, logger) {
		return fail("terminated before build phase")
	}

	// Phase: build each manual dependency in declared order, then the
	// main project.
	for _, dep := range args.Project.ManualDeps {
		depName, _ := ExtractRepoName(dep.GitURL)
		if _, err := collaborator.Build(runCtx, scripts.Build, args.Arch, args.ChrootDir, args.ChrootBuildDir, depName, dep.BuildSystem, args.ThreadLogFile, args.ChrootLogFile, args.Project.Name, nil); err != nil {
			return fail("build %s: %v", depName, err)
		}
	}
	if _, err := collaborator.Build(runCtx, scripts.Build, args.Arch, args.ChrootDir, args.ChrootBuildDir, mainRepoName, args.Project.MainBuildSystem, args.ThreadLogFile, args.ChrootLogFile, args.Project.Name,
		&collaborator.BuildArgs{InChrootTarget: args.ChrootTargetDir, HostTarget: args.Project.TargetDir}); err != nil {
		return fail("build main project: %v", err)
	}

	res.Status = 0
	res.SetProgress(100)
	phase("built")
	finish(rundb.StatusSuccess)
	return res
}

// checkpoint reports whether ctx has been cancelled, logging an
// INTERRUPT record if so. Per §5, termination is observed only at the
// documented checkpoints between phases — never mid-phase.
func checkpoint(ctx context.Context, logger *v2cilog.ProjectLogger) bool {
	select {
	case <-ctx.Done():
		logger.Interrupt("build thread terminating at phase checkpoint")
		return true
	default:
		return false
	}
}
