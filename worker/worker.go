// Package worker implements the project-worker polling loop of §4.2: one
// process per project, owning a single state machine that bootstraps,
// installs the rotation cron entry once, checks for upstream updates,
// dispatches a build thread per architecture, joins them, and recovers
// from failure — all observing a shared cancellation token at the
// checkpoints §4.2/§5 name, in place of the source's process-wide
// termination flag (§9 redesign note 1).
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"v2ci/buildthread"
	"v2ci/collaborator"
	"v2ci/config"
	"v2ci/cron"
	"v2ci/lockfile"
	v2cilog "v2ci/log"
	"v2ci/rundb"
	"v2ci/util"
)

const (
	recoveryLockPath = "/tmp/v2ci_worker_recovery_state.lock"
	cronLockPath     = "/tmp/cronjob_lock.lock"
)

// PidfilePath returns the per-project singleton pidfile path named in §6.
func PidfilePath(projectName string) string {
	return filepath.Join(os.TempDir(), projectName+"-worker.pid")
}

// Worker owns one project's polling loop. It is created once per forked
// project process and run to completion; Run returns after a termination
// signal drains the loop (§4.2 cleanup), or earlier with an error when
// the pidfile is held by a live process or bootstrap fails.
type Worker struct {
	project     *config.Project
	scripts     config.Scripts
	buildDir    string
	mainLogFile string

	logger *v2cilog.Logger
	plog   *v2cilog.ProjectLogger
	ledger *rundb.DB // optional; nil disables run-ledger recording
}

// New builds a Worker for project, opening its worker log file. The log
// is closed by Run's cleanup phase when Run returns.
func New(project *config.Project, scripts config.Scripts, buildDir, mainLogFile string, ledger *rundb.DB) (*Worker, error) {
	logger, err := v2cilog.New(project.WorkerLogFile, "worker")
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}

	return &Worker{
		project:     project,
		scripts:     scripts,
		buildDir:    buildDir,
		mainLogFile: mainLogFile,
		logger:      logger,
		plog:        logger.ForProject(project.Name),
		ledger:      ledger,
	}, nil
}

// Run drives the polling loop described in §4.2's state diagram until
// ctx is cancelled. It returns after the current iteration reaches a
// sleep or recovery checkpoint and observes cancellation — never mid
// build-thread phase, per §5's cancellation semantics.
func (w *Worker) Run(ctx context.Context) error {
	defer w.cleanup()

	pidPath := PidfilePath(w.project.Name)
	if err := lockfile.AcquirePidfile(pidPath); err != nil {
		w.plog.Error("pidfile contention: %v", err)
		return err
	}
	defer lockfile.ReleasePidfile(pidPath)

	if err := w.bootstrap(); err != nil {
		w.plog.Error("bootstrap failed: %v", err)
		return err
	}

	if err := w.installCron(ctx); err != nil {
		// Cron installation failure is logged but not fatal: the core's
		// build pipeline does not depend on the rotation job existing.
		w.plog.Error("cron install failed: %v", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		needUpdate, err := w.checkUpdates(ctx)
		if err != nil {
			w.plog.Error("update check failed: %v", err)
			if rc := w.recover(ctx); rc == 2 {
				return nil
			}
			continue
		}

		if !needUpdate {
			if w.sleepInterruptible(ctx, w.project.PollInterval) {
				return nil
			}
			continue
		}

		failed := w.dispatchAndJoin(ctx)
		if failed > 0 {
			w.plog.Error("%d build thread(s) failed, running recovery", failed)
			if rc := w.recover(ctx); rc == 2 {
				return nil
			}
			continue // recovery succeeded: resume at check_updates without sleeping
		}

		w.plog.Info("all builds succeeded")
		if w.sleepInterruptible(ctx, w.project.PollInterval) {
			return nil
		}
	}
}

// bootstrap creates the project's build directory tree (§4.2
// "Bootstrap"). Any failure here is fatal to the worker.
func (w *Worker) bootstrap() error {
	if err := util.EnsureDir(w.project.MainProjectBuildDir); err != nil {
		return fmt.Errorf("create project build dir: %w", err)
	}
	if err := util.EnsureDir(filepath.Dir(w.project.WorkerLogFile)); err != nil {
		return fmt.Errorf("create worker log dir: %w", err)
	}
	if err := util.EnsureDir(w.project.TargetDir); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	return nil
}

// installCron installs the rotation cron entry exactly once at startup,
// under the global cron lock, per §4.2's four-step algorithm.
func (w *Worker) installCron(ctx context.Context) error {
	entry := cron.Entry(
		w.scripts.RotationCron,
		w.project.Name,
		w.project.TargetDir,
		w.project.CronjobLogFile,
		w.project.Limits.WeeklyMemory,
		w.project.Limits.MonthlyMemory,
		w.project.Limits.YearlyMemory,
		w.project.Limits.WeeklyIntervalMinutes,
		w.project.Limits.MonthlyIntervalMinutes,
		w.project.Limits.YearlyIntervalMinutes,
	)
	return cron.Install(ctx, cronLockPath, cron.ExecAdapter{}, entry)
}

// checkUpdates runs the update-check phase of §4.2 against the first
// architecture's chroot — an arbitrary but fixed choice, since only the
// repo metadata inside a chroot is consulted, not the chroot's
// architecture itself.
func (w *Worker) checkUpdates(ctx context.Context) (bool, error) {
	if len(w.project.Architectures) == 0 {
		return false, fmt.Errorf("project %s has no usable architectures", w.project.Name)
	}
	arch := w.project.Architectures[0]
	args := buildthread.NewArgs(w.buildDir, w.project, arch)

	checkOne := func(repoName string) (bool, error) {
		res, err := collaborator.UpdateCheck(ctx, w.scripts.UpdateCheck, args.ChrootDir, args.ChrootBuildDir, repoName, args.ChrootLogFile, w.project.Name, arch)
		if err != nil {
			return false, err
		}
		switch res.ExitCode {
		case 0:
			return false, nil
		case 2:
			return true, nil
		default:
			return false, fmt.Errorf("update-check exited %d", res.ExitCode)
		}
	}

	mainRepoName, err := buildthread.ExtractRepoName(w.project.RepoURL)
	if err != nil {
		return false, fmt.Errorf("main repo: %w", err)
	}

	switch w.project.BuildMode {
	case "main":
		return checkOne(mainRepoName)

	case "dep":
		for _, dep := range w.project.ManualDeps {
			depName, err := buildthread.ExtractRepoName(dep.GitURL)
			if err != nil {
				return false, fmt.Errorf("manual dependency %s: %w", dep.GitURL, err)
			}
			update, err := checkOne(depName)
			if err != nil {
				return false, err
			}
			if update {
				return true, nil
			}
		}
		return false, nil

	default: // "full": main first, deps only if main reports no update.
		update, err := checkOne(mainRepoName)
		if err != nil {
			return false, err
		}
		if update {
			return true, nil
		}
		for _, dep := range w.project.ManualDeps {
			depName, err := buildthread.ExtractRepoName(dep.GitURL)
			if err != nil {
				return false, fmt.Errorf("manual dependency %s: %w", dep.GitURL, err)
			}
			update, err := checkOne(depName)
			if err != nil {
				return false, err
			}
			if update {
				return true, nil
			}
		}
		return false, nil
	}
}

// dispatchAndJoin spawns one build thread (goroutine) per architecture,
// in declared order and never skipping one — starting a goroutine cannot
// fail, so there is no spawn-retry path — and joins them all in spawn
// order, returning the count that reported failure.
// Per §4.2, SIGTERM during dispatch stops spawning new threads but still
// joins those already spawned.
func (w *Worker) dispatchAndJoin(ctx context.Context) int {
	type spawned struct {
		arch string
		done chan *buildthread.Result
	}
	var threads []spawned

	for _, arch := range w.project.Architectures {
		if ctx.Err() != nil {
			break // stop spawning new threads; already-spawned ones still get joined below.
		}

		args := buildthread.NewArgs(w.buildDir, w.project, arch)
		done := make(chan *buildthread.Result, 1)
		archLogger := w.plog.ForArch(arch)

		go func(args *buildthread.Args, logger *v2cilog.ProjectLogger, done chan<- *buildthread.Result) {
			done <- buildthread.Run(ctx, w.scripts, w.mainLogFile, args, logger, w.ledger)
		}(args, archLogger, done)

		threads = append(threads, spawned{arch: arch, done: done})
	}

	failed := 0
	for _, t := range threads {
		res := <-t.done
		if res.Status != 0 {
			failed++
			w.plog.Error("build thread %s failed: %s", t.arch, res.ErrorMessage)
		}
	}
	return failed
}

// recover runs the failure-recovery subroutine of §4.2 under the global
// recovery lock, retrying in place until it succeeds or ctx is
// cancelled — matching the source's `while (handle_recovery(...) == 1)
// { sleep_and_handle_interrupts(...); }` loop at every one of its call
// sites. It returns only 0 (succeeded) or 2 (cancelled); a hard failure
// is never surfaced to the caller, it is retried here after a poll
// interval instead.
func (w *Worker) recover(ctx context.Context) int {
	for {
		if ctx.Err() != nil {
			return 2
		}
		if rc := w.recoverAttempt(ctx); rc != 1 {
			return rc
		}
		w.plog.Error("recovery operations failed; will retry after poll interval")
		if w.sleepInterruptible(ctx, w.project.PollInterval) {
			return 2
		}
	}
}

// recoverAttempt makes a single recovery attempt: recreate the build
// root and worker log if missing, then reinvoke chroot bootstrap
// (idempotent) for each architecture. Returns 0 on success, 1 on hard
// failure, 2 if interrupted by cancellation.
func (w *Worker) recoverAttempt(ctx context.Context) int {
	lock, err := lockfile.Acquire(ctx, recoveryLockPath)
	if err != nil {
		if ctx.Err() != nil {
			return 2
		}
		w.plog.Error("recovery lock: %v", err)
		return 1
	}
	defer lock.Unlock()

	if err := w.bootstrap(); err != nil {
		w.plog.Error("recovery: bootstrap: %v", err)
		return 1
	}
	if !util.FileExists(w.project.WorkerLogFile) {
		// The worker log was removed: reopen it so later records land in
		// the recreated file rather than the unlinked one.
		logger, err := v2cilog.New(w.project.WorkerLogFile, "worker")
		if err != nil {
			w.plog.Error("recovery: reopen worker log: %v", err)
			return 1
		}
		w.logger.Close()
		w.logger = logger
		w.plog = logger.ForProject(w.project.Name)
	}

	for _, arch := range w.project.Architectures {
		if ctx.Err() != nil {
			return 2
		}
		chrootDir := config.ChrootDir(w.buildDir, arch)
		res, err := collaborator.ChrootSetup(ctx, w.scripts.ChrootSetup, arch, chrootDir, w.project.WorkerLogFile)
		if err != nil || res.ExitCode != 0 {
			w.plog.Error("recovery: chroot bootstrap for %s failed", arch)
			return 1
		}
	}

	return 0
}

// sleepInterruptible sleeps for seconds, returning true if ctx was
// cancelled before the sleep completed. A non-cancellation wakeup (there
// is none in this model beyond ctx.Done, since Go's timers are not
// interrupted by arbitrary signals) always sleeps the full duration, so
// the source's "partial sleep resumes for the remainder" behavior
// reduces to: ctx.Done() always wins immediately, any other event never
// fires early.
func (w *Worker) sleepInterruptible(ctx context.Context, seconds int) bool {
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// cleanup runs at Run's return: closes the worker log. Manual dependency
// and project memory needs no explicit release in Go (§4.2's "release
// owned memory" is a no-op here; the garbage collector reclaims it).
func (w *Worker) cleanup() {
	w.plog.Info("worker exiting")
	w.logger.Close()
}

// Signal sends sig to the worker process named by the pidfile at
// PidfilePath(projectName), used by the stop command (§6). ok is false
// with a nil error if there is no readable pidfile; if the pidfile names
// a process that no longer exists, the signal error is returned.
func Signal(projectName string, sig os.Signal) (ok bool, err error) {
	pid, found := lockfile.ReadPID(PidfilePath(projectName))
	if !found {
		return false, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}
	if err := proc.Signal(sig); err != nil {
		return false, err
	}
	return true, nil
}
