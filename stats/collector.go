// Package stats samples host load so a build thread can log a warning
// before starting its install phase. It never gates or delays a build;
// per SPEC_FULL.md's resource-throttle supplement this is advisory
// logging only, not the teacher's worker-pool throttling.
package stats

import "errors"

var errShortLoadavg = errors.New("stats: short /proc/loadavg line")

// LoadThreshold is the 1-minute load average above which Collect sets
// Sample.OverThresh (and the build thread logs a warning). Chosen as a fixed constant rather than a config knob: the
// core never throttles on it, so there is nothing for an operator to
// tune.
const LoadThreshold = 8.0

// Sample is a snapshot of host resource pressure at one point in time.
type Sample struct {
	Load1      float64
	SwapPct    int
	OverThresh bool
}

// Collect samples the current 1-minute load average and swap usage.
// Errors reading either metric are non-fatal: a metric that cannot be
// read is reported as 0 (so an unreadable load leaves OverThresh false),
// since a missing metric must never block or fail a build.
func Collect() Sample {
	load, _ := loadAverage1()
	swap, _ := swapUsagePercent()
	return Sample{
		Load1:      load,
		SwapPct:    swap,
		OverThresh: load > LoadThreshold,
	}
}
