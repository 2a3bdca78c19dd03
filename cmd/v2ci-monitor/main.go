// Command v2ci-monitor is a read-only dashboard over the run ledger and
// pidfile liveness (SPEC_FULL.md's monitoring supplement, not named in
// §6's two-command CLI). It refreshes on a timer the same way the
// teacher's NcursesUI drives its event/progress panes, layered over
// tview/tcell.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"v2ci/config"
	v2cilog "v2ci/log"
	"v2ci/lockfile"
	"v2ci/rundb"
	"v2ci/supervisor"
	"v2ci/worker"
)

func main() {
	path, err := config.Expand(config.DefaultConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "v2ci-monitor:", err)
		os.Exit(1)
	}
	cfg, err := config.Load(path, v2cilog.NoOpLogger{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "v2ci-monitor:", err)
		os.Exit(1)
	}

	ledger, err := rundb.Open(cfg.BuildDir + "/runs.db")
	if err != nil {
		fmt.Fprintln(os.Stderr, "v2ci-monitor: open run ledger:", err)
		os.Exit(1)
	}
	defer ledger.Close()

	m := newMonitor(cfg, ledger)
	if err := m.run(); err != nil {
		fmt.Fprintln(os.Stderr, "v2ci-monitor:", err)
		os.Exit(1)
	}
}

type monitor struct {
	cfg    *config.Config
	ledger *rundb.DB

	app        *tview.Application
	statusText *tview.TextView
	runsText   *tview.TextView

	mu sync.Mutex
}

func newMonitor(cfg *config.Config, ledger *rundb.DB) *monitor {
	return &monitor{cfg: cfg, ledger: ledger}
}

func (m *monitor) run() error {
	m.app = tview.NewApplication()

	m.statusText = tview.NewTextView().SetDynamicColors(true)
	m.statusText.SetBorder(true).SetTitle(" Supervisor / Workers ").SetTitleAlign(tview.AlignLeft)

	m.runsText = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	m.runsText.SetBorder(true).SetTitle(" Recent Runs ").SetTitleAlign(tview.AlignLeft)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(m.statusText, 3+len(m.cfg.Projects), 0, false).
		AddItem(m.runsText, 0, 1, false)

	m.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC || (event.Key() == tcell.KeyRune && (event.Rune() == 'q' || event.Rune() == 'Q')) {
			m.app.Stop()
			return nil
		}
		return event
	})

	stop := make(chan struct{})
	go m.refreshLoop(stop)
	defer close(stop)

	m.refresh()
	return m.app.SetRoot(layout, true).EnableMouse(true).Run()
}

func (m *monitor) refreshLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.refresh()
			m.app.Draw()
		}
	}
}

func (m *monitor) refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var status string
	if pid, ok := lockfile.ReadPID(supervisor.PidfilePath); ok {
		status += fmt.Sprintf("[green]supervisor[white]: pid %d\n", pid)
	} else {
		status += "[red]supervisor[white]: not running\n"
	}
	for _, p := range m.cfg.Projects {
		if pid, ok := lockfile.ReadPID(worker.PidfilePath(p.Name)); ok {
			status += fmt.Sprintf("[green]%s[white]: pid %d\n", p.Name, pid)
		} else {
			status += fmt.Sprintf("[red]%s[white]: not running\n", p.Name)
		}
	}
	m.statusText.SetText(status)

	var runs string
	for _, p := range m.cfg.Projects {
		recs, err := m.ledger.Recent(p.Name, "", 5)
		if err != nil {
			continue
		}
		for _, r := range recs {
			runs += fmt.Sprintf("%s %-10s %-8s %-16s %s\n", r.StartTime.Format(time.RFC3339), r.Project, r.Arch, r.LastPhase, r.Status)
		}
	}
	if runs == "" {
		runs = "no runs recorded yet"
	}
	m.runsText.SetText(runs)
}
