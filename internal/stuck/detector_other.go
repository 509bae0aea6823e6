//go:build !linux

package stuck

// Enabled reports whether this build can sample /proc. Always false
// outside Linux: the stuck detector is host-only and requires a
// /proc-like per-process introspection surface.
func Enabled() bool { return false }

// Sample is unreachable on non-Linux builds; Watcher checks Enabled()
// before ever calling it.
func Sample(pid int) (Analysis, error) {
	return Analysis{PID: pid, Inconclusive: true}, nil
}
