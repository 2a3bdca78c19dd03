package buildthread

import (
	"path/filepath"
	"strconv"
	"sync"

	"v2ci/config"
)

// Args is the per-architecture scope built just before launching a build
// thread (§3's ThreadArgs). All paths are derived purely lexically from
// build_dir, arch, and the project name — no symlink resolution is
// performed anywhere in this package.
type Args struct {
	Project *config.Project
	Arch    string

	ThreadLogFile string // host path: <build_dir>/<name>/logs/<arch>-worker.log

	ChrootDir string // host path: <build_dir>/<arch>-chroot

	// Paths below are relative to ChrootDir's root; concatenating
	// ChrootDir with any of them yields a host-visible absolute path.
	ChrootBuildDir  string // /home/<name>
	ChrootLogFile   string // /home/<name>/logs/worker.log
	ChrootTargetDir string // /home/<name>/binaries
}

// NewArgs builds the Args for one architecture of one project.
func NewArgs(buildDir string, p *config.Project, arch string) *Args {
	return &Args{
		Project:         p,
		Arch:            arch,
		ThreadLogFile:   filepath.Join(p.MainProjectBuildDir, "logs", arch+"-worker.log"),
		ChrootDir:       config.ChrootDir(buildDir, arch),
		ChrootBuildDir:  filepath.Join("/home", p.Name),
		ChrootLogFile:   filepath.Join("/home", p.Name, "logs", "worker.log"),
		ChrootTargetDir: filepath.Join("/home", p.Name, "binaries"),
	}
}

// HostChrootPath concatenates a.ChrootDir with a path relative to the
// chroot's root, per the invariant in §3.
func (a *Args) HostChrootPath(chrootRelative string) string {
	return filepath.Join(a.ChrootDir, chrootRelative)
}

// Result is produced by a build thread at termination (§3's
// ThreadResult). Progress is held behind a mutex: the worker only reads
// it after Join returns, matching §4.3 ("the worker only reads after
// join") and the §9 redesign note that replaces the source's shared
// mutable string with an accessor.
type Result struct {
	Status       int
	ErrorMessage string

	mu       sync.Mutex
	progress string
}

// SetProgress records the current progress milestone. Percentages are
// non-decreasing by construction: callers only ever advance through the
// fixed phase table in order (§8 invariant 1).
func (r *Result) SetProgress(pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = progressString(pct)
}

// Progress returns the last recorded progress string.
func (r *Result) Progress() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func progressString(pct int) string {
	return "Progress: " + strconv.Itoa(pct) + "%"
}
