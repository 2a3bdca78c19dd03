// Command v2ci-start is the supervisor's own executable (§6 "start").
// With no arguments it reads config, daemonizes, and runs the
// supervisor sequence. It re-execs itself twice for the two roles Go
// has no direct equivalent for: once detached to stand in for the
// double-fork daemonize, and once per project with a hidden --worker
// flag to stand in for fork() spawning a Project Worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"v2ci/config"
	v2cilog "v2ci/log"
	"v2ci/rundb"
	"v2ci/supervisor"
	"v2ci/worker"
)

func main() {
	var projectName string
	var daemonized bool
	var archsCSV string

	root := &cobra.Command{
		Use:           "v2ci-start",
		Short:         "Start the v2ci supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectName != "" {
				return runWorker(projectName, splitArchs(archsCSV))
			}
			if daemonized {
				return runSupervisor()
			}
			return daemonizeAndExit()
		},
	}
	root.Flags().StringVar(&projectName, "worker", "", "internal: run as a single project's worker")
	root.Flags().BoolVar(&daemonized, supervisor.DaemonizedFlagName, false, "internal: marks an already-detached re-exec")
	root.Flags().StringVar(&archsCSV, supervisor.ArchsFlag[2:], "", "internal: comma-separated architectures surviving supervisor bootstrap")
	root.Flags().MarkHidden("worker")
	root.Flags().MarkHidden(supervisor.DaemonizedFlagName)
	root.Flags().MarkHidden(supervisor.ArchsFlag[2:])

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "v2ci-start:", err)
		os.Exit(1)
	}
}

func daemonizeAndExit() error {
	// Load the config before detaching, so a missing or malformed file
	// is reported here and exits 1 rather than failing in the background.
	path, err := config.Expand(config.DefaultConfigPath)
	if err != nil {
		return err
	}
	if _, err := config.Load(path, v2cilog.NoOpLogger{}); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	self, err := supervisor.ResolveSelf()
	if err != nil {
		return err
	}
	if err := supervisor.Daemonize(self, os.Args[1:]); err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	return nil
}

func runSupervisor() error {
	path, err := config.Expand(config.DefaultConfigPath)
	if err != nil {
		return err
	}

	bootLogger := v2cilog.NoOpLogger{}
	cfg, err := config.Load(path, bootLogger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := v2cilog.New(cfg.MainLogFile, "supervisor")
	if err != nil {
		return fmt.Errorf("open main log: %w", err)
	}
	defer logger.Close()

	self, err := supervisor.ResolveSelf()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received SIGTERM, terminating between checkpoints")
		cancel()
	}()

	return supervisor.Run(ctx, cfg, self, logger)
}

// splitArchs parses the comma-separated --archs value. An empty string
// (e.g. a worker started directly without going through the supervisor)
// yields a nil slice, so runWorker falls back to the project's
// configured architecture list.
func splitArchs(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

func runWorker(projectName string, archs []string) error {
	path, err := config.Expand(config.DefaultConfigPath)
	if err != nil {
		return err
	}

	bootLogger := v2cilog.NoOpLogger{}
	cfg, err := config.Load(path, bootLogger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var project *config.Project
	for i := range cfg.Projects {
		if cfg.Projects[i].Name == projectName {
			project = &cfg.Projects[i]
			break
		}
	}
	if project == nil {
		return fmt.Errorf("no such project: %s", projectName)
	}
	if len(archs) > 0 {
		// Supervisor-forked worker: use the architecture list that
		// survived RemoveFailedArchitectures in the parent, not the
		// project's full configured list — the two diverge whenever a
		// chroot bootstrap failed (invariant 4).
		project.Architectures = archs
	}

	ledger, err := rundb.Open(cfg.BuildDir + "/runs.db")
	if err != nil {
		// The run ledger is a supplemental feature (§9); a worker must
		// still function without it.
		ledger = nil
	}
	if ledger != nil {
		defer ledger.Close()
	}

	w, err := worker.New(project, cfg.Scripts, cfg.BuildDir, cfg.MainLogFile, ledger)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return w.Run(ctx)
}
