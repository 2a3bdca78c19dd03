// Package config loads and derives the v2ci configuration from the YAML
// file at ~/.config/v2ci/config.yml. Parsing the YAML itself is a thin
// unmarshal step; everything beyond that — defaults, derived paths,
// bounded-list truncation — lives here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	v2cilog "v2ci/log"
)

const (
	maxArchitectures = 9
	maxDependencies  = 16
	maxManualDeps    = 16
)

var defaultArchitectures = []string{"amd64", "arm64", "armhf", "riscv64"}

// BinariesLimits bounds the rotation cronjob's artifact expiry.
type BinariesLimits struct {
	DailyMemory   string `yaml:"daily_memory"`
	WeeklyMemory  string `yaml:"weekly_memory"`
	MonthlyMemory string `yaml:"monthly_memory"`
	YearlyMemory  string `yaml:"yearly_memory"`

	WeeklyIntervalMinutes  int `yaml:"weekly_interval_minutes"`
	MonthlyIntervalMinutes int `yaml:"monthly_interval_minutes"`
	YearlyIntervalMinutes  int `yaml:"yearly_interval_minutes"`
}

// ManualDependency is a repository that must be cloned and built before
// the main project.
type ManualDependency struct {
	GitURL       string   `yaml:"git_url"`
	BuildSystem  string   `yaml:"build_system"`
	Dependencies []string `yaml:"dependencies"`
}

// Project is one configured CI target. Immutable after Load, except for
// Architectures, which the supervisor may shrink (never grow) at startup
// when a chroot fails to bootstrap (§3 invariant).
type Project struct {
	Name            string             `yaml:"name"`
	TargetDir       string             `yaml:"target_dir"`
	RepoURL         string             `yaml:"repo_url"`
	MainBuildSystem string             `yaml:"main_build_system"`
	BuildMode       string             `yaml:"build_mode"`
	PollInterval    int                `yaml:"poll_interval"`
	Architectures   []string           `yaml:"architectures"`
	DependencyPkgs  []string           `yaml:"dependency_packages"`
	ManualDeps      []ManualDependency `yaml:"manual_dependencies"`
	Limits          BinariesLimits     `yaml:"binaries_limits"`

	// Derived, computed once at Load and never re-derived.
	MainProjectBuildDir string `yaml:"-"`
	WorkerLogFile       string `yaml:"-"`
	CronjobLogFile      string `yaml:"-"`
}

// Scripts names the collaborator executables the core invokes per §4.4/§6.
// Parsing/validating these is out of scope; Load only fills in defaults
// for anything left blank.
type Scripts struct {
	ChrootSetup     string `yaml:"chroot_setup"`
	UpdateCheck     string `yaml:"update_check"`
	InstallPackages string `yaml:"install_packages"`
	CloneOrPull     string `yaml:"clone_or_pull"`
	Build           string `yaml:"build"`
	RotationCron    string `yaml:"rotation_cron"`
}

// Config is the top-level, immutable-after-load configuration.
type Config struct {
	BuildDir string  `yaml:"build_dir"`
	Scripts  Scripts `yaml:"scripts"`

	Projects []Project `yaml:"projects"`

	// Derived.
	MainLogFile string `yaml:"-"`
}

// Load reads and decodes the YAML file at path, applies defaults, derives
// paths, and enforces the bounded-list caps named in §3/§8. path should
// already have any leading "~" expanded by the caller (Expand does that).
func Load(path string, logger v2cilog.LibraryLogger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.BuildDir == "" {
		return nil, fmt.Errorf("config %s: build_dir is required", path)
	}
	if !filepath.IsAbs(cfg.BuildDir) {
		return nil, fmt.Errorf("config %s: build_dir must be absolute", path)
	}
	if len(cfg.Projects) == 0 {
		return nil, fmt.Errorf("config %s: at least one project is required", path)
	}

	cfg.MainLogFile = filepath.Join(cfg.BuildDir, "logs", "main.log")
	applyScriptDefaults(&cfg.Scripts)

	for i := range cfg.Projects {
		applyProjectDefaults(&cfg.Projects[i], cfg.BuildDir, logger)
	}

	return &cfg, nil
}

// Expand performs tilde expansion against $HOME, per §6's "tilde
// expanded from $HOME" requirement.
func Expand(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("HOME is not set, cannot expand %s", path)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// DefaultConfigPath is the fixed config location named in §6.
const DefaultConfigPath = "~/.config/v2ci/config.yml"

const defaultScriptDir = "/usr/local/libexec/v2ci"

func applyScriptDefaults(s *Scripts) {
	set := func(field *string, name string) {
		if *field == "" {
			*field = filepath.Join(defaultScriptDir, name)
		}
	}
	set(&s.ChrootSetup, "chroot-setup")
	set(&s.UpdateCheck, "update-check")
	set(&s.InstallPackages, "install-packages")
	set(&s.CloneOrPull, "clone-or-pull")
	set(&s.Build, "build")
	set(&s.RotationCron, "rotation-cron")
}

func applyProjectDefaults(p *Project, buildDir string, logger v2cilog.LibraryLogger) {
	if p.BuildMode == "" {
		p.BuildMode = "full"
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 180
	}
	if len(p.Architectures) == 0 {
		p.Architectures = append([]string(nil), defaultArchitectures...)
	}

	p.Architectures = capStrings(p.Architectures, maxArchitectures, "architectures", p.Name, logger)
	p.DependencyPkgs = capStrings(p.DependencyPkgs, maxDependencies, "dependency_packages", p.Name, logger)

	if len(p.ManualDeps) > maxManualDeps {
		if logger != nil {
			logger.Error("project %s: manual_dependencies exceeds max %d, truncating", p.Name, maxManualDeps)
		}
		p.ManualDeps = p.ManualDeps[:maxManualDeps]
	}
	for i := range p.ManualDeps {
		p.ManualDeps[i].Dependencies = capStrings(p.ManualDeps[i].Dependencies, maxDependencies, "dependencies", p.Name, logger)
	}

	if p.Limits.WeeklyIntervalMinutes <= 0 {
		p.Limits.WeeklyIntervalMinutes = 7 * 24 * 60
	}
	if p.Limits.MonthlyIntervalMinutes <= 0 {
		p.Limits.MonthlyIntervalMinutes = 30 * 24 * 60
	}
	if p.Limits.YearlyIntervalMinutes <= 0 {
		p.Limits.YearlyIntervalMinutes = 365 * 24 * 60
	}

	p.MainProjectBuildDir = filepath.Join(buildDir, p.Name)
	p.WorkerLogFile = filepath.Join(p.MainProjectBuildDir, "logs", "worker.log")
	p.CronjobLogFile = filepath.Join(p.MainProjectBuildDir, "logs", "binaries_rotation_cronjob.log")
}

// capStrings truncates seq to max, logging an error rather than
// rejecting the config outright, per §8's boundary-behavior requirement
// ("adding beyond the cap is a silent no-op with a logged error").
func capStrings(seq []string, max int, field, project string, logger v2cilog.LibraryLogger) []string {
	if len(seq) <= max {
		return seq
	}
	if logger != nil {
		logger.Error("project %s: %s exceeds max %d entries, truncating", project, field, max)
	}
	return seq[:max]
}

// ChrootDir returns the host-visible absolute path of the per-architecture
// chroot root for this build root.
func ChrootDir(buildDir, arch string) string {
	return filepath.Join(buildDir, arch+"-chroot")
}
