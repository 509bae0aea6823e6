// Package retry provides a provider-agnostic exponential backoff helper.
// The agent state machine uses Backoff2Pow and JitterDuration for its
// retry sleeps, and internal/lock uses JitterDuration.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config configures the backoff schedule.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 1 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// IsRetryable classifies an error as worth retrying. Callers that have a
// domain-specific notion of retryability (e.g. engineerr.LockContention) should
// check that first and only fall back to Do's default classifier when
// they don't supply one.
type IsRetryable func(error) bool

// AlwaysRetryable retries on any non-nil error.
func AlwaysRetryable(err error) bool { return err != nil }

// Do runs fn, retrying on failure per cfg until MaxRetries is exhausted,
// ctx is cancelled, or shouldRetry returns false. The last error is
// returned if all attempts fail.
func Do(ctx context.Context, cfg Config, shouldRetry IsRetryable, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()
	if shouldRetry == nil {
		shouldRetry = AlwaysRetryable
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		sleep := backoffForAttempt(cfg, rnd, attempt)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// backoffForAttempt computes base*2^attempt capped at MaxBackoff, with
// +/-20% jitter.
func backoffForAttempt(cfg Config, rnd *rand.Rand, attempt int) time.Duration {
	backoff := cfg.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
			break
		}
	}
	if backoff <= 0 {
		backoff = 1 * time.Second
	}
	if backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	jitterFrac := rnd.Float64()*0.4 - 0.2 // [-0.2, +0.2]
	jitter := time.Duration(float64(backoff) * jitterFrac)

	sleep := backoff + jitter
	if sleep < 0 {
		sleep = 0
	}
	return sleep
}

// Backoff2Pow computes the agent retry-loop's 2*2^(n-1) second schedule
// (spec.md §4.9: "exponential backoff 2*2^(n-1) seconds between attempts"),
// where n is the 1-indexed attempt number that just failed.
func Backoff2Pow(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	seconds := 2 * (1 << uint(n-1))
	return time.Duration(seconds) * time.Second
}

// JitterDuration returns a uniformly random duration in [min, max).
func JitterDuration(rnd *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	return min + time.Duration(rnd.Int63n(int64(span)))
}
