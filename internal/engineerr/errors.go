// Package engineerr defines the shared error-kind taxonomy used across
// the agent state machine, task executor, and hook executor (spec.md
// §4.9 / §7's error kinds), so callers can classify a failure by kind
// rather than by string-matching error text.
package engineerr

import "fmt"

// Kind classifies an error by where in the engine it originated and how
// the agent state machine should react to it.
type Kind string

const (
	// ConfigError: invalid agent/prompt/model config — fails at startup.
	ConfigError Kind = "config_error"
	// LogicError: a logic-sandbox script threw or timed out — treated as
	// false and logged, never propagated as a hard failure.
	LogicError Kind = "logic_error"
	// SpawnError: the child process failed before announcing a task id —
	// fails the attempt.
	SpawnError Kind = "spawn_error"
	// PollingTimeout: the host status-poll watchdog exhausted its
	// consecutive-failure budget — fails the attempt, publishes
	// AGENT_ERROR.
	PollingTimeout Kind = "polling_timeout"
	// TaskFailure: the runner reported failed; retry-eligible.
	TaskFailure Kind = "task_failure"
	// LockContention: the runner's per-workspace lock file is in error —
	// triggers a longer jittered retry.
	LockContention Kind = "lock_contention"
	// SchemaValidation: result validation against the configured JSON
	// schema failed — fatal for validators, a warning for other roles.
	SchemaValidation Kind = "schema_validation"
	// OutputParseError: no JSON object could be discovered in the
	// runner's output — fatal for the attempt.
	OutputParseError Kind = "output_parse_error"
	// HookError: a hook (publish_message/run_script/evaluate_logic)
	// failed. The agent state machine logs hook errors; they do not fail
	// the attempt or count against its retries.
	HookError Kind = "hook_error"
	// Cancelled: the attempt was cancelled via kill().
	Cancelled Kind = "cancelled"
)

// Error wraps an underlying error with its engine Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. A nil err still produces a non-nil *Error
// carrying only the kind, useful for sentinel comparisons.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
