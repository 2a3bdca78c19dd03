package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is the severity of a log record, per the core's three-level
// taxonomy: informational, error, and signal-driven interruption.
type Level string

const (
	Info      Level = "INFO"
	Error     Level = "ERROR"
	Interrupt Level = "INTERRUPT"
)

// Logger owns one line-buffered log file and writes leveled, timestamped
// records to it, flushing after every write so a concurrent tail sees
// records immediately. One Logger is opened per log file the Go code
// writes: main.log for the supervisor and a project's worker.log for its
// worker. Build threads write into the worker's file through ForArch
// views; a build thread's <arch>-worker.log and the rotation cronjob log
// are written only by the collaborator scripts, not through a Logger.
type Logger struct {
	component string
	file      *os.File
	mu        sync.Mutex
}

// New opens (creating parent directories as needed) the log file at path
// in append mode and returns a Logger tagged with component for the
// "source coordinates" field of every record it writes.
func New(path, component string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	return &Logger{component: component, file: f}, nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Logger) write(level Level, project, arch, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	coords := l.component + fmt.Sprintf("[%d]", os.Getpid())
	if project != "" {
		coords += " project=" + project
	}
	if arch != "" {
		coords += " arch=" + arch
	}

	fmt.Fprintf(l.file, "%s %-9s %s: %s\n",
		time.Now().Format(time.RFC3339), level, coords, msg)
	l.file.Sync()
}

// Info writes an INFO record with no project/arch context.
func (l *Logger) Info(format string, args ...any) { l.write(Info, "", "", format, args...) }

// Error writes an ERROR record with no project/arch context.
func (l *Logger) Error(format string, args ...any) { l.write(Error, "", "", format, args...) }

// Debug is an alias of Info kept for LibraryLogger conformance; the core
// does not distinguish a separate debug level (§7 taxonomy lists only
// INFO, ERROR, INTERRUPT).
func (l *Logger) Debug(format string, args ...any) { l.write(Info, "", "", format, args...) }

// Warn is an alias of Info kept for LibraryLogger conformance.
func (l *Logger) Warn(format string, args ...any) { l.write(Info, "", "", format, args...) }

// ForProject returns a view of l that tags every record with project.
func (l *Logger) ForProject(project string) *ProjectLogger {
	return &ProjectLogger{l: l, project: project}
}

// ProjectLogger tags every record it writes with a project name, and
// optionally an architecture.
type ProjectLogger struct {
	l       *Logger
	project string
	arch    string
}

// ForArch returns a view additionally tagged with arch.
func (p *ProjectLogger) ForArch(arch string) *ProjectLogger {
	return &ProjectLogger{l: p.l, project: p.project, arch: arch}
}

func (p *ProjectLogger) Info(format string, args ...any) {
	p.l.write(Info, p.project, p.arch, format, args...)
}

func (p *ProjectLogger) Error(format string, args ...any) {
	p.l.write(Error, p.project, p.arch, format, args...)
}

func (p *ProjectLogger) Interrupt(format string, args ...any) {
	p.l.write(Interrupt, p.project, p.arch, format, args...)
}

func (p *ProjectLogger) Debug(format string, args ...any) { p.Info(format, args...) }
func (p *ProjectLogger) Warn(format string, args ...any)  { p.Info(format, args...) }
