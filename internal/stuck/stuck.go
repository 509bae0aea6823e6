// Package stuck implements the host-only stuck detector (spec.md §4.6):
// a multi-indicator process-health sampler that publishes informational
// liveness warnings, never kills anything. It requires a /proc-like
// per-process introspection surface and is a no-op wherever GOOS != linux
// (see detector_other.go).
package stuck

import "time"

// PollInterval is how often a running agent's liveness is checked.
const PollInterval = 60 * time.Second

// SampleWindow is how long the detector samples process stats for one
// liveness check.
const SampleWindow = 5 * time.Second

// Analysis is the full per-indicator sample taken over SampleWindow.
type Analysis struct {
	PID               int
	ProcessState      string // S/R/D/Z
	WaitChannel       string
	CPUPercent        float64
	CtxSwitchDelta    int64
	NetworkBytesMoved int64
	Score             int
	Inconclusive      bool
}

// stuckThreshold is the minimum score at which a process is considered
// stuck. Each of the five indicators below contributes at most 1 point.
const stuckThreshold = 3

// staleWchans are kernel wait channels associated with idle polling loops
// rather than active work.
var staleWchans = map[string]bool{
	"poll":   true,
	"epoll":  true,
	"futex":  true,
}

// score computes the stuck score from a completed Analysis's raw
// indicators: sleeping process state, a stale wait channel, near-zero
// CPU, few context switches, and no network I/O each contribute.
func score(a Analysis) int {
	n := 0
	if a.ProcessState == "S" {
		n++
	}
	if staleWchans[a.WaitChannel] {
		n++
	}
	if a.CPUPercent < 1.0 {
		n++
	}
	if a.CtxSwitchDelta < 10 {
		n++
	}
	if a.NetworkBytesMoved == 0 {
		n++
	}
	return n
}

// IsStuck reports whether a's score meets the fixed threshold.
func IsStuck(a Analysis) bool {
	return a.Score >= stuckThreshold
}
