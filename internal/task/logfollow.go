package task

import (
	"context"
	"strings"
	"sync"
	"time"
)

// logFollower polls a log file's size on a fixed cadence, reads only the
// bytes that grew, and parses each completed line per spec.md §4.5's log
// follow. Accepted lines are both retained (for result parsing) and
// handed to onLine (for ledger re-publication).
type logFollower struct {
	reader     logReader
	path       string
	pollPeriod time.Duration
	onLine     func(outputLine)

	mu      sync.Mutex
	offset  int64
	partial string
	raw     strings.Builder
	lines   []outputLine

	stopCh chan struct{}
	doneCh chan struct{}
}

func newLogFollower(reader logReader, path string, pollPeriod time.Duration, onLine func(outputLine)) *logFollower {
	return &logFollower{
		reader:     reader,
		path:       path,
		pollPeriod: pollPeriod,
		onLine:     onLine,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func (f *logFollower) run(ctx context.Context) {
	defer close(f.doneCh)
	ticker := time.NewTicker(f.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

// drainOnce performs one final poll, used after completion is detected
// to catch trailing lines written just before the runner exited.
func (f *logFollower) drainOnce(ctx context.Context) {
	f.poll(ctx)
}

func (f *logFollower) stop() {
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.doneCh
}

func (f *logFollower) poll(ctx context.Context) {
	f.mu.Lock()
	offset := f.offset
	f.mu.Unlock()

	size, err := f.reader.Size(ctx, f.path)
	if err != nil || size <= offset {
		return
	}

	delta, err := f.reader.ReadRange(ctx, f.path, offset, size-offset)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.offset = offset + int64(len(delta))
	f.raw.Write(delta)
	f.partial += string(delta)

	var completed []string
	for {
		idx := strings.IndexByte(f.partial, '\n')
		if idx < 0 {
			break
		}
		completed = append(completed, f.partial[:idx])
		f.partial = f.partial[idx+1:]
	}
	f.mu.Unlock()

	for _, raw := range completed {
		if parsed, ok := parseLogLine(raw); ok {
			f.mu.Lock()
			f.lines = append(f.lines, parsed)
			f.mu.Unlock()
			if f.onLine != nil {
				f.onLine(parsed)
			}
		}
	}
}

// snapshot returns every accepted line parsed so far.
func (f *logFollower) snapshot() []outputLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]outputLine, len(f.lines))
	copy(out, f.lines)
	return out
}

// rawOutput returns the full captured stdout, used as a last-resort
// result-parsing strategy and for error-message tail scanning.
func (f *logFollower) rawOutput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw.String()
}
