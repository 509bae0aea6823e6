//go:build linux

package stuck

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Enabled reports whether this build can sample /proc.
func Enabled() bool { return true }

// Sample takes one indicator reading over SampleWindow for pid, returning
// an Analysis with its Score already computed. If the process has died
// mid-sample, Inconclusive is set and the rest of the fields are best-effort.
func Sample(pid int) (Analysis, error) {
	before, err := readProcStat(pid)
	if err != nil {
		return Analysis{PID: pid, Inconclusive: true}, nil
	}
	// Net delta is measured across the same window as CPU/ctx-switches.
	netBefore, _ := readProcNetBytes(pid)

	time.Sleep(SampleWindow)

	after, err := readProcStat(pid)
	if err != nil {
		return Analysis{PID: pid, Inconclusive: true}, nil
	}

	netAfter, _ := readProcNetBytes(pid)

	a := Analysis{
		PID:               pid,
		ProcessState:      after.state,
		WaitChannel:       after.wchan,
		CPUPercent:        cpuPercent(before, after),
		CtxSwitchDelta:    (after.voluntaryCtxt - before.voluntaryCtxt) + (after.nonvoluntaryCtxt - before.nonvoluntaryCtxt),
		NetworkBytesMoved: netAfter - netBefore,
	}
	a.Score = score(a)
	return a, nil
}

type procStat struct {
	state                          string
	wchan                          string
	utime, stime                   int64
	voluntaryCtxt, nonvoluntaryCtxt int64
	sampledAt                      time.Time
}

func readProcStat(pid int) (procStat, error) {
	var s procStat
	s.sampledAt = time.Now()

	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)) //nolint:gosec // G304: pid comes from our own spawned child
	if err != nil {
		return s, err
	}
	fields := strings.Fields(string(statData))
	// field 0: pid, 1: (comm), 2: state, ... 13: utime, 14: stime (1-indexed per proc(5))
	if len(fields) > 14 {
		s.state = fields[2]
		s.utime, _ = strconv.ParseInt(fields[13], 10, 64)
		s.stime, _ = strconv.ParseInt(fields[14], 10, 64)
	}

	wchanData, err := os.ReadFile(fmt.Sprintf("/proc/%d/wchan", pid)) //nolint:gosec // G304
	if err == nil {
		s.wchan = strings.TrimSpace(string(wchanData))
	}

	statusFile, err := os.Open(fmt.Sprintf("/proc/%d/status", pid)) //nolint:gosec // G304
	if err == nil {
		defer statusFile.Close()
		scanner := bufio.NewScanner(statusFile)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "voluntary_ctxt_switches:") {
				s.voluntaryCtxt, _ = strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "voluntary_ctxt_switches:")), 10, 64)
			} else if strings.HasPrefix(line, "nonvoluntary_ctxt_switches:") {
				s.nonvoluntaryCtxt, _ = strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "nonvoluntary_ctxt_switches:")), 10, 64)
			}
		}
	}

	return s, nil
}

// readProcNetBytes sums rx+tx bytes across a process's network namespace
// as exposed by /proc/<pid>/net/dev. Best-effort: returns 0 on any error
// (most commonly a process sharing the host network namespace, where
// per-process attribution isn't meaningful).
func readProcNetBytes(pid int) (int64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/net/dev", pid)) //nolint:gosec // G304
	if err != nil {
		return 0, err
	}
	var total int64
	lines := strings.Split(string(data), "\n")
	for _, line := range lines[2:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(strings.Replace(line, ":", " ", 1))
		if len(parts) < 10 {
			continue
		}
		if strings.HasPrefix(parts[0], "lo") {
			continue
		}
		rx, _ := strconv.ParseInt(parts[1], 10, 64)
		tx, _ := strconv.ParseInt(parts[9], 10, 64)
		total += rx + tx
	}
	return total, nil
}

func cpuPercent(before, after procStat) float64 {
	elapsed := after.sampledAt.Sub(before.sampledAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	clockTicksPerSec := 100.0 // typical Linux USER_HZ; best-effort constant
	deltaTicks := float64((after.utime + after.stime) - (before.utime + before.stime))
	return (deltaTicks / clockTicksPerSec) / elapsed * 100
}
