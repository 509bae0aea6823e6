// Package agent implements the per-agent state machine (spec.md §4.9):
// idle agents matching a trigger evaluate its optional gating logic,
// then either stop the cluster or run the execute_task retry loop,
// building context and spawning the external task runner along the
// way.
//
// Grounded on internal/agentloop/loop.go's AgentLoop: a mutex-guarded
// state struct, channel-based work handoff, and a think/act retry loop
// logged with a "[agentloop]"-style prefix — carried over here as
// "[agent:<id>]" — generalized from AgentLoop's single idle/working/
// stopped/error states to the richer idle/evaluating_logic/
// building_context/executing_task/completed/failed/error set spec.md
// names, and from an LLM tool-call loop to a trigger-matched,
// hook-bracketed task-runner retry loop.
package agent

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	ctxbuild "github.com/sjennings/zeroshot-sub001/internal/context"
	"github.com/sjennings/zeroshot-sub001/internal/hooks"
	"github.com/sjennings/zeroshot-sub001/internal/ledger"
	"github.com/sjennings/zeroshot-sub001/internal/logic"
	"github.com/sjennings/zeroshot-sub001/internal/model"
	"github.com/sjennings/zeroshot-sub001/internal/retry"
	"github.com/sjennings/zeroshot-sub001/internal/task"
	"github.com/sjennings/zeroshot-sub001/internal/telemetry"
)

// State is one of the Agent State Machine's named states.
type State string

const (
	StateIdle             State = "idle"
	StateEvaluatingLogic  State = "evaluating_logic"
	StateBuildingContext  State = "building_context"
	StateExecutingTask    State = "executing_task"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateError            State = "error"
)

// IsolationMode selects how an agent's tasks are spawned.
type IsolationMode int

const (
	ModeHost IsolationMode = iota
	ModeWorktree
	ModeIsolated
)

const (
	validatorJitterMin   = 0
	validatorJitterMax   = 15 * time.Second
	lockContentionExtraMin = 10 * time.Second
	lockContentionExtraMax = 30 * time.Second
	stopGraceWindow      = 5 * time.Second
)

// Trigger is one of an agent's configured topic triggers.
type Trigger struct {
	Topic  string
	Action string // "execute_task" | "stop_cluster"
	Logic  string
}

// Hooks groups the three lifecycle hook lists an agent may configure.
type Hooks struct {
	OnStart    []hooks.Hook
	OnComplete []hooks.Hook
	OnError    []hooks.Hook
}

// Config is one agent's static configuration, resolved from a cluster's
// loaded config file.
type Config struct {
	ID             string
	Role           string
	ClusterID      string
	WorkDir        string
	Triggers       []Trigger
	ModelConfig    model.ModelConfig
	PromptConfig   model.PromptConfig
	MaxModel       string
	MaxIterations  int
	MaxRetries     int // default 1: a single execute_task attempt, no retry
	ContextSources []ctxbuild.Source
	JSONSchema     string
	StrictSchema   bool
	MaxTokens      int
	TestMode       bool
	Isolation      IsolationMode
	Hooks          Hooks
}

func (c Config) maxRetries() int {
	if c.MaxRetries <= 0 {
		return 1
	}
	return c.MaxRetries
}

// Deps bundles an agent's runtime collaborators.
type Deps struct {
	Ledger            *ledger.Ledger
	Logic             *logic.Sandbox
	Cluster           logic.ClusterView
	Executor          *task.Executor
	ContainerExecutor task.ContainerExecutor
	ClusterCreatedAt  int64
	Telemetry         *telemetry.Telemetry

	// RecordFailure persists cluster.failureInfo; orchestrator-supplied.
	RecordFailure func(info map[string]interface{})
}

// Agent is one running (or idle) cluster participant.
type Agent struct {
	cfg  Config
	deps Deps

	mu              sync.Mutex
	state           State
	running         bool
	iteration       int
	lastTaskEndTime int64
	currentHandle   *task.Handle
	sub             *ledger.Subscription
	inFlight        chan struct{}

	rnd *rand.Rand
}

// New creates an Agent in the stopped state.
func New(cfg Config, deps Deps) *Agent {
	return &Agent{
		cfg:   cfg,
		deps:  deps,
		state: StateIdle,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(cfg.ID)))),
	}
}

// ID returns the agent's configured id.
func (a *Agent) ID() string { return a.cfg.ID }

// Role returns the agent's configured role.
func (a *Agent) Role() string { return a.cfg.Role }

// State returns the agent's current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsRunning reports whether Start has been called without a matching Stop.
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start subscribes the agent to its cluster's ledger.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent: %s is already running", a.cfg.ID)
	}
	a.running = true
	a.state = StateIdle
	a.mu.Unlock()

	a.sub = a.deps.Ledger.Subscribe(func(msg ledger.Message) {
		a.onMessage(ctx, msg)
	})
	return nil
}

// Stop clears the subscription, kills any in-flight task, and awaits
// the current execution up to stopGraceWindow to prevent write-after-
// close races.
func (a *Agent) Stop(ctx context.Context) {
	a.mu.Lock()
	a.running = false
	sub := a.sub
	handle := a.currentHandle
	inFlight := a.inFlight
	a.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if handle != nil {
		_ = handle.Kill(ctx)
	}
	if inFlight != nil {
		select {
		case <-inFlight:
		case <-time.After(stopGraceWindow):
		}
	}
}

// Resume fabricates a synthetic AGENT_RESUME triggering message and
// invokes the execute_task path directly, bypassing trigger matching.
func (a *Agent) Resume(ctx context.Context, resumeContext string) {
	msg := ledger.Message{
		ClusterID: a.cfg.ClusterID,
		Topic:     "AGENT_RESUME",
		Sender:    "system",
		Receiver:  a.cfg.ID,
		Content:   ledger.Content{Text: resumeContext},
	}

	a.mu.Lock()
	if !a.running || a.state != StateIdle {
		a.mu.Unlock()
		log.Printf("[agent:%s] resume ignored: not idle (state=%s)", a.cfg.ID, a.state)
		return
	}
	a.state = StateExecutingTask
	done := make(chan struct{})
	a.inFlight = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.runRetryLoop(ctx, msg)
	}()
}

func (a *Agent) onMessage(ctx context.Context, msg ledger.Message) {
	if msg.ClusterID != a.cfg.ClusterID {
		return
	}
	trig, ok := a.matchTrigger(msg.Topic)
	if !ok {
		return
	}

	a.mu.Lock()
	if !a.running || a.state != StateIdle {
		a.mu.Unlock()
		log.Printf("[agent:%s] dropping topic=%s: busy (state=%s)", a.cfg.ID, msg.Topic, a.state)
		return
	}
	a.state = StateEvaluatingLogic
	done := make(chan struct{})
	a.inFlight = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.process(ctx, trig, msg)
	}()
}

func (a *Agent) matchTrigger(topic string) (Trigger, bool) {
	for _, t := range a.cfg.Triggers {
		if t.Topic == topic {
			return t, true
		}
	}
	return Trigger{}, false
}

func (a *Agent) process(ctx context.Context, trig Trigger, msg ledger.Message) {
	if trig.Logic != "" {
		ok := a.deps.Logic.Evaluate(trig.Logic, a.logicInput(msg))
		if !ok {
			a.setState(StateIdle)
			return
		}
	}

	switch trig.Action {
	case "stop_cluster":
		a.deps.Ledger.Publish(ledger.Message{
			ClusterID: a.cfg.ClusterID,
			Topic:     "CLUSTER_COMPLETE",
			Sender:    a.cfg.ID,
			Receiver:  "system",
		})
		a.setState(StateCompleted)
	case "execute_task":
		a.runRetryLoop(ctx, msg)
	default:
		log.Printf("[agent:%s] unknown trigger action %q", a.cfg.ID, trig.Action)
		a.setState(StateIdle)
	}
}

func (a *Agent) logicInput(msg ledger.Message) logic.Input {
	a.mu.Lock()
	iteration := a.iteration
	a.mu.Unlock()
	return logic.Input{
		Ledger:    a.deps.Ledger,
		ClusterID: a.cfg.ClusterID,
		Cluster:   a.deps.Cluster,
		AgentSelf: logic.AgentView{ID: a.cfg.ID, Role: a.cfg.Role},
		Iteration: iteration,
		Message:   msg,
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// runRetryLoop implements spec.md §4.9's execute_task action: per
// attempt run onStart, check the iteration ceiling, build context,
// spawn, and on failure sleep a backoff (or an extra lock-contention
// delay) before the next attempt, up to cfg.maxRetries() attempts.
func (a *Agent) runRetryLoop(ctx context.Context, triggeringMsg ledger.Message) {
	maxRetries := a.cfg.maxRetries()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		a.runHookList(ctx, a.cfg.Hooks.OnStart, triggeringMsg, nil)

		a.mu.Lock()
		if a.iteration >= a.cfg.MaxIterations {
			a.mu.Unlock()
			a.publishClusterFailed("max_iterations")
			a.setState(StateFailed)
			return
		}
		a.iteration++
		iteration := a.iteration
		a.mu.Unlock()

		a.setState(StateBuildingContext)
		contextStr := a.buildContext(iteration, triggeringMsg)

		a.setState(StateExecutingTask)

		if a.cfg.Role == "validator" && !a.cfg.TestMode {
			jitter := retry.JitterDuration(a.rnd, validatorJitterMin, validatorJitterMax)
			sleepCtx(ctx, jitter)
		}

		a.publish("TASK_STARTED", map[string]interface{}{"iteration": iteration})

		result, err := a.spawn(ctx, iteration, contextStr)

		if err == nil && result != nil && result.Success {
			a.mu.Lock()
			a.lastTaskEndTime = time.Now().UnixMilli()
			a.currentHandle = nil
			a.mu.Unlock()
			a.setState(StateIdle)

			if a.deps.Telemetry != nil && result.TokenUsage != nil {
				a.deps.Telemetry.TaskCompleted(ctx, a.cfg.ClusterID, result.TaskID, time.Duration(result.TokenUsage.DurationMS)*time.Millisecond)
			}

			a.publish("TASK_COMPLETED", map[string]interface{}{
				"iteration": iteration,
				"taskId":    result.TaskID,
				"output":    result.Output,
			})
			if result.SchemaWarning != "" {
				a.publish("AGENT_SCHEMA_WARNING", map[string]interface{}{
					"iteration": iteration,
					"taskId":    result.TaskID,
					"warning":   result.SchemaWarning,
				})
			}
			if result.TokenUsage != nil {
				a.publish("TOKEN_USAGE", map[string]interface{}{
					"taskId":                   result.TaskID,
					"inputTokens":              result.TokenUsage.InputTokens,
					"outputTokens":             result.TokenUsage.OutputTokens,
					"cacheReadInputTokens":     result.TokenUsage.CacheReadInputTokens,
					"cacheCreationInputTokens": result.TokenUsage.CacheCreationInputTokens,
					"totalCostUsd":             result.TokenUsage.TotalCostUSD,
					"durationMs":               result.TokenUsage.DurationMS,
				})
			}
			a.runHookList(ctx, a.cfg.Hooks.OnComplete, triggeringMsg, result.Output)
			return
		}

		errMsg := errorMessage(err, result)
		a.mu.Lock()
		a.currentHandle = nil
		a.mu.Unlock()

		if attempt == maxRetries {
			a.handleFinalFailure(ctx, triggeringMsg, errMsg)
			return
		}

		if containsLockFile(errMsg) {
			sleepCtx(ctx, retry.JitterDuration(a.rnd, lockContentionExtraMin, lockContentionExtraMax))
		}
		sleepCtx(ctx, retry.Backoff2Pow(attempt))
	}
}

func (a *Agent) handleFinalFailure(ctx context.Context, triggeringMsg ledger.Message, errMsg string) {
	if a.deps.Telemetry != nil {
		a.deps.Telemetry.TaskFailed(ctx, a.cfg.ClusterID, "", errMsg)
	}
	if a.cfg.Role == "validator" {
		completeTopic := hookTopicOrDefault(a.cfg.Hooks.OnComplete, "VALIDATION_RESULT")
		a.deps.Ledger.Publish(ledger.Message{
			ClusterID: a.cfg.ClusterID,
			Topic:     completeTopic,
			Sender:    a.cfg.ID,
			Receiver:  "broadcast",
			Content: ledger.Content{Data: map[string]interface{}{
				"approved":            false,
				"crashedAfterRetries": true,
				"errors":              []string{errMsg},
			}},
		})
	}

	if a.deps.RecordFailure != nil {
		a.deps.RecordFailure(map[string]interface{}{
			"agentId": a.cfg.ID,
			"role":    a.cfg.Role,
			"error":   errMsg,
		})
	}
	a.publish("AGENT_ERROR", map[string]interface{}{"error": errMsg})
	a.runHookList(ctx, a.cfg.Hooks.OnError, triggeringMsg, map[string]interface{}{"error": errMsg})
	a.setState(StateIdle)
}

func (a *Agent) buildContext(iteration int, triggeringMsg ledger.Message) string {
	systemPrompt, err := model.ResolvePrompt(a.cfg.PromptConfig, iteration)
	if err != nil {
		log.Printf("[agent:%s] resolving prompt: %v", a.cfg.ID, err)
	}

	a.mu.Lock()
	lastTaskEnd := a.lastTaskEndTime
	a.mu.Unlock()

	return ctxbuild.BuildContext(ctxbuild.Params{
		Agent:             ctxbuild.Identity{ID: a.cfg.ID, Role: a.cfg.Role},
		Iteration:         iteration,
		SystemPrompt:      systemPrompt,
		Sources:           a.cfg.ContextSources,
		Env:               ctxbuild.Environment{WorktreeEnabled: a.cfg.Isolation == ModeWorktree, IsolationEnabled: a.cfg.Isolation == ModeIsolated},
		TriggeringMessage: triggeringMsg,
		Ledger:            a.deps.Ledger,
		ClusterID:         a.cfg.ClusterID,
		ClusterCreatedAt:  a.deps.ClusterCreatedAt,
		LastTaskEndTime:   lastTaskEnd,
		MaxTokens:         a.cfg.MaxTokens,
	})
}

func (a *Agent) spawn(ctx context.Context, iteration int, contextStr string) (*task.Result, error) {
	modelName, err := model.ResolveModel(a.cfg.ModelConfig, iteration, a.cfg.MaxModel)
	if err != nil {
		log.Printf("[agent:%s] resolving model: %v", a.cfg.ID, err)
	}

	req := task.SpawnRequest{
		AgentID:      a.cfg.ID,
		Role:         a.cfg.Role,
		Iteration:    iteration,
		WorkDir:      a.cfg.WorkDir,
		Context:      contextStr,
		JSONSchema:   a.cfg.JSONSchema,
		StrictSchema: a.cfg.StrictSchema || a.cfg.JSONSchema == "",
		Env:          []string{"ZEROSHOT_MODEL=" + modelName},
	}
	deps := task.Deps{
		Ledger:    a.deps.Ledger,
		ClusterID: a.cfg.ClusterID,
		AgentID:   a.cfg.ID,
		Role:      a.cfg.Role,
		Iteration: iteration,
	}

	var handle *task.Handle
	if a.cfg.Isolation == ModeIsolated {
		handle, err = a.deps.Executor.SpawnIsolated(ctx, deps, req, a.deps.ContainerExecutor)
	} else {
		handle, err = a.deps.Executor.SpawnHost(ctx, deps, req)
	}
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.currentHandle = handle
	a.mu.Unlock()

	return handle.Wait(ctx)
}

func (a *Agent) runHookList(ctx context.Context, list []hooks.Hook, msg ledger.Message, result map[string]interface{}) {
	for _, h := range list {
		req := hooks.Request{
			Hook:      h,
			AgentID:   a.cfg.ID,
			Role:      a.cfg.Role,
			ClusterID: a.cfg.ClusterID,
			WorkDir:   a.cfg.WorkDir,
			Message:   msg,
			Result:    result,
			Ledger:    a.deps.Ledger,
			Logic:     a.deps.Logic,
			LogicInput: a.logicInput(msg),
		}
		if err := hooks.Execute(ctx, req); err != nil {
			log.Printf("[agent:%s] hook %s failed: %v", a.cfg.ID, h.Action, err)
		}
	}
}

func (a *Agent) publish(topic string, data map[string]interface{}) {
	a.deps.Ledger.Publish(ledger.Message{
		ClusterID: a.cfg.ClusterID,
		Topic:     topic,
		Sender:    a.cfg.ID,
		Receiver:  "broadcast",
		Content:   ledger.Content{Data: data},
	})
}

func (a *Agent) publishClusterFailed(reason string) {
	if a.deps.RecordFailure != nil {
		a.deps.RecordFailure(map[string]interface{}{"reason": reason, "agentId": a.cfg.ID})
	}
	a.deps.Ledger.Publish(ledger.Message{
		ClusterID: a.cfg.ClusterID,
		Topic:     "CLUSTER_FAILED",
		Sender:    a.cfg.ID,
		Receiver:  "system",
		Content:   ledger.Content{Data: map[string]interface{}{"reason": reason}},
	})
}

func errorMessage(err error, result *task.Result) string {
	if err != nil {
		return err.Error()
	}
	if result != nil {
		return result.Error
	}
	return "unknown error"
}

func containsLockFile(msg string) bool {
	return containsSubstring(msg, "Lock file")
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func hookTopicOrDefault(list []hooks.Hook, def string) string {
	for _, h := range list {
		if h.Action == hooks.ActionPublishMessage && h.Topic != "" {
			return h.Topic
		}
	}
	return def
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
