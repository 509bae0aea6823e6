// Package task implements the Task Executor: spawning the external task
// runner (host or container-isolated), following its log file onto the
// ledger, polling for completion, and parsing its structured result.
//
// Grounded on internal/agentloop/executor.go's runCommand/safePath idiom
// (os/exec.CommandContext, captured stdout/stderr, context-based timeout)
// generalized from a single blocking tool call to a long-running,
// concurrently-polled child process.
package task

import (
	"encoding/json"
	"time"
)

// OutputFormat names the runner's two output modes; SpawnRequest.StrictSchema
// selects between them.
type OutputFormat string

const (
	OutputFormatJSON       OutputFormat = "json"
	OutputFormatStreamJSON OutputFormat = "stream-json"
)

// DefaultRunnerBinary is the external task-runner executable name.
const DefaultRunnerBinary = "task"

const (
	readyWaitAttempts  = 10
	readyWaitBackoff   = 300 * time.Millisecond
	hostLogPollPeriod  = 300 * time.Millisecond
	isoLogPollPeriod   = 500 * time.Millisecond
	statusPollPeriod   = 1 * time.Second
	watchdogMaxFails   = 30
	completionSettle   = 500 * time.Millisecond
)

// SpawnRequest carries everything the spawn phase needs to build the
// runner's argument vector and environment.
type SpawnRequest struct {
	AgentID      string
	Role         string
	Iteration    int
	WorkDir      string
	Context      string // final positional argument
	JSONSchema   string // empty when unconfigured
	StrictSchema bool   // default true unless the agent opts out
	Verbose      bool
	Env          []string
}

// Format resolves which output-format mode this request uses.
func (r SpawnRequest) Format() OutputFormat {
	if r.StrictSchema {
		return OutputFormatJSON
	}
	return OutputFormatStreamJSON
}

// buildArgv constructs the task runner's argument vector per spec.md
// §4.5's spawn phase: `task run --output-format <json|stream-json>`
// plus optional `-v` and `--json-schema <schema>`, with the context as
// the final positional argument. Non-strict mode appends the schema to
// the prompt instead of passing --json-schema.
func buildArgv(req SpawnRequest) []string {
	argv := []string{"run", "--output-format", string(req.Format())}
	if req.Verbose {
		argv = append(argv, "-v")
	}

	context := req.Context
	if req.JSONSchema != "" {
		if req.StrictSchema {
			argv = append(argv, "--json-schema", req.JSONSchema)
		} else {
			context = context + "\n\nRespond with JSON matching this schema:\n" + req.JSONSchema
		}
	}

	argv = append(argv, context)
	return argv
}

// TokenUsage mirrors the runner's `type:"result"` event payload.
type TokenUsage struct {
	InputTokens              int64                  `json:"inputTokens"`
	OutputTokens             int64                  `json:"outputTokens"`
	CacheReadInputTokens     int64                  `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int64                  `json:"cacheCreationInputTokens"`
	TotalCostUSD             float64                `json:"totalCostUsd"`
	DurationMS               int64                  `json:"durationMs"`
	ModelUsage               map[string]interface{} `json:"modelUsage,omitempty"`
}

// Result is the externally-observable outcome of spawnHost/spawnIsolated.
type Result struct {
	Success    bool
	Output     map[string]interface{}
	RawOutput  string
	Error      string
	TokenUsage *TokenUsage
	TaskID     string

	// SchemaWarning is set when result-schema validation failed for a
	// non-validator role; the caller publishes AGENT_SCHEMA_WARNING.
	SchemaWarning string
}

// outputLine is one parsed NDJSON line from the runner's log.
type outputLine struct {
	timestampMs int64
	raw         json.RawMessage
	typ         string
}
