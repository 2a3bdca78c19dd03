//go:build dragonfly || freebsd

package stats

// loadAverage1 returns the 1-minute load average.
//
// TODO: wire up getloadavg()/sysctl bindings via cgo; until then this
// host class never trips the resource-throttle WARN.
func loadAverage1() (float64, error) {
	return 0.0, nil
}

// swapUsagePercent returns swap usage as a percentage (0-100).
//
// TODO: wire up vm.swap_info sysctl via cgo.
func swapUsagePercent() (int, error) {
	return 0, nil
}
