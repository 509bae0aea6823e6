package task

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sjennings/zeroshot-sub001/internal/engineerr"
	"github.com/sjennings/zeroshot-sub001/internal/ledger"
)

var taskSpawnedRe = regexp.MustCompile(`Task spawned:\s*(\S+)`)
var statusCompletedRe = regexp.MustCompile(`(?i)Status:\s+completed`)
var statusFailedRe = regexp.MustCompile(`(?i)Status:\s+failed`)

// Executor runs the external task runner and mirrors its output and
// completion onto the cluster ledger.
type Executor struct {
	runnerBin string
}

// New creates an Executor using the default runner binary.
func New() *Executor {
	return &Executor{runnerBin: DefaultRunnerBinary}
}

// Deps bundles the per-invocation context an attempt is executed with:
// which cluster/agent/role/iteration it belongs to, for ledger tagging.
type Deps struct {
	Ledger    *ledger.Ledger
	ClusterID string
	AgentID   string
	Role      string
	Iteration int
}

// Handle represents one in-flight (or completed) task-runner attempt.
type Handle struct {
	taskID string

	mu        sync.Mutex
	done      chan struct{}
	result    *Result
	err       error
	killed    bool
	killFn    func(context.Context) error
	cancelCtx context.CancelFunc
}

// TaskID returns the external task id once known (empty beforehand).
func (h *Handle) TaskID() string { return h.taskID }

// Wait blocks until the attempt resolves or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Kill resolves any in-flight follow with {success:false, error:"killed"}
// and asks the external store to terminate the task. Idempotent; must
// not return an error from being called twice.
func (h *Handle) Kill(ctx context.Context) error {
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	h.mu.Unlock()

	if h.cancelCtx != nil {
		h.cancelCtx()
	}
	if h.killFn != nil {
		_ = h.killFn(ctx) // best-effort: killTask must not throw
	}
	return nil
}

func (h *Handle) resolve(result *Result, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return // already resolved (e.g. by Kill)
	default:
	}
	h.result = result
	h.err = err
	close(h.done)
}

// SpawnHost runs the task runner directly on the host.
func (e *Executor) SpawnHost(ctx context.Context, deps Deps, req SpawnRequest) (*Handle, error) {
	return e.run(ctx, deps, req, nil, "")
}

// SpawnIsolated runs the task runner inside the cluster's container via
// the given ContainerExecutor.
func (e *Executor) SpawnIsolated(ctx context.Context, deps Deps, req SpawnRequest, ce ContainerExecutor) (*Handle, error) {
	if ce == nil {
		return nil, fmt.Errorf("task: spawnIsolated requires a ContainerExecutor")
	}
	return e.run(ctx, deps, req, ce, deps.ClusterID)
}

// run implements the shared spawn/ready-wait/follow/completion pipeline
// spec.md §4.5 describes once for both spawnHost and spawnIsolated.
func (e *Executor) run(ctx context.Context, deps Deps, req SpawnRequest, ce ContainerExecutor, isolatedClusterID string) (*Handle, error) {
	argv := buildArgv(req)

	var proc spawnedProcess
	var store storeClient
	var reader logReader
	logPollPeriod := hostLogPollPeriod

	if ce != nil {
		cp, err := ce.SpawnInContainer(ctx, isolatedClusterID, append([]string{e.runnerBin}, argv...), req.Env)
		if err != nil {
			return nil, engineerr.New(engineerr.SpawnError, err)
		}
		proc = &containerProcess{cp: cp}
		store = newIsolatedStoreClient(e.runnerBin, isolatedClusterID, ce)
		reader = isolatedLogReader{clusterID: isolatedClusterID, exec: ce}
		logPollPeriod = isoLogPollPeriod
	} else {
		hp, err := spawnHostProcess(ctx, e.runnerBin, argv, req.WorkDir, req.Env)
		if err != nil {
			return nil, engineerr.New(engineerr.SpawnError, err)
		}
		proc = hp
		store = newHostStoreClient(e.runnerBin)
		reader = hostLogReader{}
	}

	publish(deps, "PROCESS_SPAWNED", map[string]interface{}{"pid": proc.PID()})

	taskID, captured, spawnErr := awaitTaskSpawned(proc)
	if spawnErr != nil {
		return nil, engineerr.New(engineerr.SpawnError, fmt.Errorf("%w: %s", spawnErr, captured))
	}

	publish(deps, "TASK_ID_ASSIGNED", map[string]interface{}{"taskId": taskID})

	readyWait(ctx, store, taskID)

	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		taskID:    taskID,
		done:      make(chan struct{}),
		killFn:    func(kctx context.Context) error { return store.Kill(kctx, taskID) },
		cancelCtx: cancel,
	}

	go e.followAndResolve(hctx, deps, req, store, reader, taskID, logPollPeriod, h)

	return h, nil
}

// awaitTaskSpawned reads stdout lines until "Task spawned: <id>" appears,
// or the process exits first (fail fast with captured output).
func awaitTaskSpawned(proc spawnedProcess) (taskID string, captured string, err error) {
	var sb strings.Builder
	for line := range proc.Lines() {
		sb.WriteString(line)
		sb.WriteString("\n")
		if m := taskSpawnedRe.FindStringSubmatch(line); m != nil {
			return m[1], sb.String(), nil
		}
	}
	// Lines channel closed: process exited (or finished all output)
	// without announcing a task id.
	waitErr := proc.Wait()
	return "", sb.String(), fmt.Errorf("task runner exited before announcing a task id: %v", waitErr)
}

// readyWait polls the store up to readyWaitAttempts times with backoff
// until it reports the task exists, continuing anyway (with a warning)
// on exhaustion.
func readyWait(ctx context.Context, store storeClient, taskID string) {
	for i := 0; i < readyWaitAttempts; i++ {
		if _, err := store.Status(ctx, taskID); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(readyWaitBackoff):
		}
	}
	fmt.Printf("[task] warning: task %s not confirmed ready after %d attempts, continuing\n", taskID, readyWaitAttempts)
}

// followAndResolve runs the log-follow and completion-poll loops
// concurrently, then resolves h once the task completes, fails, or the
// host watchdog fires.
func (e *Executor) followAndResolve(ctx context.Context, deps Deps, req SpawnRequest, store storeClient, reader logReader, taskID string, logPollPeriod time.Duration, h *Handle) {
	logPath, err := store.GetLogPath(ctx, taskID)
	if err != nil {
		h.resolve(nil, engineerr.New(engineerr.SpawnError, fmt.Errorf("task: resolving log path: %w", err)))
		return
	}

	follower := newLogFollower(reader, logPath, logPollPeriod, func(line outputLine) {
		publishOutputLine(deps, line)
	})
	go follower.run(ctx)
	defer follower.stop()

	result := e.pollUntilDone(ctx, deps, req, store, taskID, follower)
	h.resolve(result, nil)
}

// pollUntilDone polls status every second (host cadence; isolated shares
// the same cadence per poll cycle) until completed/failed, or the
// 30-consecutive-failure watchdog fires.
func (e *Executor) pollUntilDone(ctx context.Context, deps Deps, req SpawnRequest, store storeClient, taskID string, follower *logFollower) *Result {
	consecutiveFailures := 0
	ticker := time.NewTicker(statusPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return &Result{Success: false, Error: "killed", TaskID: taskID}
		case <-ticker.C:
		}

		status, err := store.Status(ctx, taskID)
		if err != nil {
			consecutiveFailures++
			if consecutiveFailures >= watchdogMaxFails {
				publish(deps, "AGENT_ERROR", map[string]interface{}{
					"reason": "polling_timeout",
					"taskId": taskID,
				})
				return &Result{Success: false, Error: "polling_timeout", TaskID: taskID}
			}
			continue
		}
		consecutiveFailures = 0

		switch {
		case statusCompletedRe.MatchString(status):
			time.Sleep(completionSettle)
			follower.drainOnce(ctx)
			return e.buildResult(true, status, follower, deps, req, taskID)
		case statusFailedRe.MatchString(status):
			follower.drainOnce(ctx)
			return e.buildResult(false, status, follower, deps, req, taskID)
		}
	}
}

// buildResult parses the runner's output and, per spec.md §4.5, validates
// it against req.JSONSchema when one is configured: a validation failure
// is fatal for role=="validator" (the attempt fails outright, same as an
// OutputParseError) and a non-fatal SchemaWarning for every other role,
// with the partial parse still returned.
func (e *Executor) buildResult(success bool, status string, follower *logFollower, deps Deps, req SpawnRequest, taskID string) *Result {
	lines := follower.snapshot()
	usage := extractTokenUsage(lines)

	if success {
		obj, err := parseResult(lines, follower.rawOutput(), req.JSONSchema != "")
		if err != nil {
			return &Result{Success: false, Error: err.Error(), TokenUsage: usage, TaskID: taskID}
		}

		if req.JSONSchema != "" {
			if verr := validateSchema(req.JSONSchema, obj); verr != nil {
				if deps.Role == "validator" {
					return &Result{Success: false, Error: verr.Error(), TokenUsage: usage, TaskID: taskID}
				}
				return &Result{
					Success:       true,
					Output:        obj,
					RawOutput:     follower.rawOutput(),
					TokenUsage:    usage,
					TaskID:        taskID,
					SchemaWarning: verr.Error(),
				}
			}
		}

		return &Result{Success: true, Output: obj, RawOutput: follower.rawOutput(), TokenUsage: usage, TaskID: taskID}
	}

	errMsg := extractError(status, follower.rawOutput())
	return &Result{Success: false, Error: errMsg, TokenUsage: usage, TaskID: taskID}
}

func publish(deps Deps, topic string, data map[string]interface{}) {
	if deps.Ledger == nil {
		return
	}
	deps.Ledger.Publish(ledger.Message{
		ClusterID: deps.ClusterID,
		Topic:     topic,
		Sender:    deps.AgentID,
		Receiver:  "broadcast",
		Content:   ledger.Content{Data: data},
	})
}

func publishOutputLine(deps Deps, line outputLine) {
	if deps.Ledger == nil {
		return
	}
	deps.Ledger.Publish(ledger.Message{
		ClusterID: deps.ClusterID,
		Topic:     "AGENT_OUTPUT",
		Sender:    deps.AgentID,
		Receiver:  "broadcast",
		Timestamp: line.timestampMs,
		Content: ledger.Content{Data: map[string]interface{}{
			"type":      "stdout",
			"line":      string(line.raw),
			"agent":     deps.AgentID,
			"role":      deps.Role,
			"iteration": deps.Iteration,
		}},
	})
}
