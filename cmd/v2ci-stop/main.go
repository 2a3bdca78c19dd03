// Command v2ci-stop implements §6's "stop": signal the supervisor and
// every project worker, print a one-line summary per target, and always
// exit 0.
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"v2ci/config"
	v2cilog "v2ci/log"
	"v2ci/lockfile"
	"v2ci/supervisor"
	"v2ci/worker"
)

func main() {
	root := &cobra.Command{
		Use:           "v2ci-stop",
		Short:         "Stop the v2ci supervisor and its workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			run()
			return nil
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "v2ci-stop:", err)
		os.Exit(1)
	}
}

// run signals the supervisor and every worker it can find, printing one
// summary line each, regardless of outcome — the command always exits 0
// per §6.
func run() {
	signalSupervisor()

	path, err := config.Expand(config.DefaultConfigPath)
	if err != nil {
		fmt.Printf("config: %v\n", err)
		return
	}
	cfg, err := config.Load(path, v2cilog.NoOpLogger{})
	if err != nil {
		fmt.Printf("config: %v\n", err)
		return
	}

	for _, p := range cfg.Projects {
		signalWorker(p.Name)
	}
}

func signalSupervisor() {
	pid, found := lockfile.ReadPID(supervisor.PidfilePath)
	if !found {
		fmt.Println("supervisor: not running (no pidfile)")
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Printf("supervisor: could not find process %d: %v\n", pid, err)
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Printf("supervisor: signal pid %d failed: %v\n", pid, err)
		return
	}
	fmt.Printf("supervisor: sent SIGTERM to pid %d\n", pid)
}

func signalWorker(projectName string) {
	ok, err := worker.Signal(projectName, syscall.SIGTERM)
	if err != nil {
		fmt.Printf("worker %s: signal failed: %v\n", projectName, err)
		return
	}
	if !ok {
		fmt.Printf("worker %s: not running (no pidfile)\n", projectName)
		return
	}
	fmt.Printf("worker %s: sent SIGTERM\n", projectName)
}
