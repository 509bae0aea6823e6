// Package orchestrator implements cluster lifecycle management
// (spec.md §4.10): starting a cluster from a loaded config, wiring its
// agents to a fresh ledger and the isolation mode it requested,
// stopping or killing it, resuming a previously stopped or crashed
// cluster, and auto-terminating when a CLUSTER_COMPLETE/CLUSTER_FAILED
// message addressed to "system" is observed.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjennings/zeroshot-sub001/internal/agent"
	"github.com/sjennings/zeroshot-sub001/internal/config"
	ctxbuild "github.com/sjennings/zeroshot-sub001/internal/context"
	"github.com/sjennings/zeroshot-sub001/internal/hooks"
	"github.com/sjennings/zeroshot-sub001/internal/isolation"
	"github.com/sjennings/zeroshot-sub001/internal/ledger"
	"github.com/sjennings/zeroshot-sub001/internal/logic"
	"github.com/sjennings/zeroshot-sub001/internal/mirror"
	"github.com/sjennings/zeroshot-sub001/internal/model"
	"github.com/sjennings/zeroshot-sub001/internal/store"
	"github.com/sjennings/zeroshot-sub001/internal/task"
	"github.com/sjennings/zeroshot-sub001/internal/telemetry"
)

// StartOptions controls isolation wiring for a new cluster. The config
// file's own [isolation] table supplies the defaults; these override it.
type StartOptions struct {
	ForceWorktree *bool
	ForceIsolated *bool
}

// Orchestrator owns every running cluster in this process.
type Orchestrator struct {
	store      store.Store
	telemetry  *telemetry.Telemetry
	worktrees  *isolation.WorktreeManager
	containers *isolation.ContainerManager
	executor   *task.Executor
	repoDir    string
	mirror     *mirror.Publisher

	mu       sync.Mutex
	clusters map[string]*runningCluster
}

// WithMirror attaches a Nostr relay mirror; every ledger message and
// cluster lifecycle transition is then also published there, best-effort
// and asynchronously, for cross-host observability. Passing nil disables
// mirroring (the default).
func (o *Orchestrator) WithMirror(m *mirror.Publisher) *Orchestrator {
	o.mirror = m
	return o
}

// New creates an Orchestrator rooted at repoDir (the git repository
// worktree isolation is created off of).
func New(repoDir string, st store.Store, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		store:      st,
		telemetry:  tel,
		worktrees:  isolation.NewWorktreeManager(repoDir),
		containers: isolation.NewContainerManager(),
		executor:   task.New(),
		repoDir:    repoDir,
		clusters:   make(map[string]*runningCluster),
	}
}

type runningCluster struct {
	id        string
	name      string
	configPath string
	cfg       *config.ClusterConfig
	ledger    *ledger.Ledger
	createdAt int64

	mu             sync.Mutex
	agents         map[string]*agent.Agent
	worktreeState  isolation.WorktreeState
	containerState isolation.ContainerState
	lastExecutor   string
	terminated     bool

	sysSub *ledger.Subscription
}

// ID implements logic.ClusterView.
func (rc *runningCluster) ID() string { return rc.id }

// Agents implements logic.ClusterView.
func (rc *runningCluster) Agents() []logic.AgentView {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]logic.AgentView, 0, len(rc.agents))
	for _, a := range rc.agents {
		out = append(out, logic.AgentView{ID: a.ID(), Role: a.Role()})
	}
	return out
}

// AgentsByRole implements logic.ClusterView.
func (rc *runningCluster) AgentsByRole(role string) []logic.AgentView {
	var out []logic.AgentView
	for _, v := range rc.Agents() {
		if v.Role == role {
			out = append(out, v)
		}
	}
	return out
}

// Agent implements logic.ClusterView.
func (rc *runningCluster) Agent(id string) (logic.AgentView, bool) {
	rc.mu.Lock()
	a, ok := rc.agents[id]
	rc.mu.Unlock()
	if !ok {
		return logic.AgentView{}, false
	}
	return logic.AgentView{ID: a.ID(), Role: a.Role()}, true
}

// Start loads cfgPath, creates a cluster, wires its agents and isolation
// mode, starts every agent, persists the cluster record, and publishes
// initialMessage (typically ISSUE_OPENED).
func (o *Orchestrator) Start(ctx context.Context, cfgPath string, initialMessage ledger.Message, opts StartOptions) (string, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	createdAt := time.Now().UnixMilli()
	l := ledger.New(id, func(err error) {
		log.Printf("[orchestrator] cluster %s subscriber error: %v", id, err)
	})

	rc := &runningCluster{
		id:         id,
		name:       cfg.Name,
		configPath: cfgPath,
		cfg:        cfg,
		ledger:     l,
		createdAt:  createdAt,
		agents:     make(map[string]*agent.Agent),
	}

	useWorktree := cfg.Isolation.Worktree
	if opts.ForceWorktree != nil {
		useWorktree = *opts.ForceWorktree
	}
	useIsolated := cfg.Isolation.Isolated
	if opts.ForceIsolated != nil {
		useIsolated = *opts.ForceIsolated
	}

	suffix := id[:8]
	workDir := o.repoDir

	if useIsolated {
		state, err := o.containers.Start(ctx, id, suffix, o.repoDir)
		if err != nil {
			return "", fmt.Errorf("orchestrator: starting isolated workspace: %w", err)
		}
		rc.containerState = state
	} else if useWorktree {
		state, err := o.worktrees.Create(ctx, suffix)
		if err != nil {
			return "", fmt.Errorf("orchestrator: creating worktree: %w", err)
		}
		rc.worktreeState = state
		workDir = state.Path
	}

	mode := agent.ModeHost
	switch {
	case useIsolated:
		mode = agent.ModeIsolated
	case useWorktree:
		mode = agent.ModeWorktree
	}

	for name, ac := range cfg.Agents {
		rc.agents[name] = o.buildAgent(rc, name, ac, mode, workDir, cfg.MaxModel)
	}

	for name, a := range rc.agents {
		if err := a.Start(ctx); err != nil {
			return "", fmt.Errorf("orchestrator: starting agent %s: %w", name, err)
		}
	}

	rc.sysSub = l.Subscribe(func(msg ledger.Message) {
		o.watchSystemMessages(ctx, rc, msg)
		o.mirrorMessage(rc, msg)
	})

	o.mu.Lock()
	o.clusters[id] = rc
	o.mu.Unlock()

	if err := o.store.SaveCluster(ctx, store.ClusterRecord{
		ID:         id,
		Name:       cfg.Name,
		ConfigPath: cfgPath,
		CreatedAt:  createdAt,
		State:      store.ClusterRunning,
	}); err != nil {
		return "", fmt.Errorf("orchestrator: persisting cluster record: %w", err)
	}

	if o.telemetry != nil {
		o.telemetry.ClusterStarted(ctx, id)
	}

	l.Publish(initialMessage)

	return id, nil
}

func (o *Orchestrator) buildAgent(rc *runningCluster, name string, ac config.AgentConfig, mode agent.IsolationMode, workDir, maxModel string) *agent.Agent {
	triggers := make([]agent.Trigger, 0, len(ac.Triggers))
	for _, t := range ac.Triggers {
		triggers = append(triggers, agent.Trigger{Topic: t.Topic, Action: t.Action, Logic: t.Logic})
	}

	sources := make([]ctxbuild.Source, 0, len(ac.ContextSources))
	for _, s := range ac.ContextSources {
		sources = append(sources, ctxbuild.Source{Topic: s.Topic, Sender: s.Sender, Since: s.Since, Limit: s.Limit})
	}

	modelCfg := model.ModelConfig{Type: ac.Model.Type, Model: ac.Model.Model}
	for _, r := range ac.Model.Rules {
		modelCfg.Rules = append(modelCfg.Rules, model.ModelRule{Iterations: r.Iterations, Model: r.Model})
	}

	promptCfg := model.PromptConfig{Literal: ac.Prompt.Literal}
	for _, r := range ac.Prompt.Rules {
		promptCfg.Rules = append(promptCfg.Rules, model.PromptRule{Match: r.Match, System: r.System})
	}

	strict := true
	if ac.StrictSchema != nil {
		strict = *ac.StrictSchema
	}

	cfg := agent.Config{
		ID:             name,
		Role:           ac.Role,
		ClusterID:      rc.id,
		WorkDir:        workDir,
		Triggers:       triggers,
		ModelConfig:    modelCfg,
		PromptConfig:   promptCfg,
		MaxModel:       maxModel,
		MaxIterations:  orDefault(ac.MaxIterations, 10),
		ContextSources: sources,
		JSONSchema:     ac.JSONSchema,
		StrictSchema:   strict,
		MaxTokens:      ac.MaxTokens,
		TestMode:       ac.TestMode,
		Isolation:      mode,
		Hooks: agent.Hooks{
			OnStart:    convertHooks(ac.Hooks.OnStart),
			OnComplete: convertHooks(ac.Hooks.OnComplete),
			OnError:    convertHooks(ac.Hooks.OnError),
		},
	}

	deps := agent.Deps{
		Ledger:            rc.ledger,
		Logic:             logic.New(),
		Cluster:           rc,
		Executor:          o.executor,
		ContainerExecutor: o.containers,
		ClusterCreatedAt:  rc.createdAt,
		Telemetry:         o.telemetry,
		RecordFailure: func(info map[string]interface{}) {
			o.recordFailure(context.Background(), rc.id, info)
		},
	}

	return agent.New(cfg, deps)
}

func convertHooks(list []config.HookConfig) []hooks.Hook {
	out := make([]hooks.Hook, 0, len(list))
	for _, h := range list {
		out = append(out, hooks.Hook{
			Action:   hooks.Action(h.Action),
			Topic:    h.Topic,
			Content:  h.Content,
			Receiver: h.Receiver,
			Script:   h.Script,
		})
	}
	return out
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (o *Orchestrator) watchSystemMessages(ctx context.Context, rc *runningCluster, msg ledger.Message) {
	if msg.Receiver == "system" {
		switch msg.Topic {
		case "CLUSTER_COMPLETE":
			o.finish(ctx, rc, store.ClusterCompleted)
		case "CLUSTER_FAILED":
			o.finish(ctx, rc, store.ClusterFailed)
		}
		return
	}
	if msg.Topic == "TASK_STARTED" {
		rc.mu.Lock()
		rc.lastExecutor = msg.Sender
		rc.mu.Unlock()
	}
}

func (o *Orchestrator) finish(ctx context.Context, rc *runningCluster, state store.ClusterState) {
	rc.mu.Lock()
	if rc.terminated {
		rc.mu.Unlock()
		return
	}
	rc.terminated = true
	rc.mu.Unlock()

	for _, a := range rc.agents {
		a.Stop(ctx)
	}

	rec, err := o.store.GetCluster(ctx, rc.id)
	if err != nil {
		rec = store.ClusterRecord{ID: rc.id, Name: rc.name, ConfigPath: rc.configPath, CreatedAt: rc.createdAt}
	}
	rec.State = state
	if err := o.store.SaveCluster(ctx, rec); err != nil {
		log.Printf("[orchestrator] persisting terminal state for cluster %s: %v", rc.id, err)
	}
	o.mirrorLifecycle(rc, string(state))
}

// mirrorMessage best-effort mirrors one ledger message to Nostr relays, off
// the ledger's synchronous delivery path. A mirror failure is logged and
// never affects cluster behavior.
func (o *Orchestrator) mirrorMessage(rc *runningCluster, msg ledger.Message) {
	if o.mirror == nil {
		return
	}
	go func() {
		ev, err := mirror.NewMessageEvent(rc.id, mirror.Correlations{ClusterID: rc.id, AgentID: msg.Sender}, msg.Topic, msg.Content)
		if err != nil {
			log.Printf("[orchestrator] building mirror event for cluster %s topic %s: %v", rc.id, msg.Topic, err)
			return
		}
		if err := o.mirror.Publish(context.Background(), ev); err != nil {
			log.Printf("[orchestrator] mirroring message for cluster %s: %v", rc.id, err)
		}
	}()
}

// mirrorLifecycle best-effort mirrors a cluster's terminal state as a
// replaceable Nostr event.
func (o *Orchestrator) mirrorLifecycle(rc *runningCluster, state string) {
	if o.mirror == nil {
		return
	}
	go func() {
		ev, err := mirror.NewClusterLifecycleEvent(rc.id, state, nil)
		if err != nil {
			log.Printf("[orchestrator] building lifecycle mirror event for cluster %s: %v", rc.id, err)
			return
		}
		if err := o.mirror.PublishReplaceable(context.Background(), ev); err != nil {
			log.Printf("[orchestrator] mirroring lifecycle for cluster %s: %v", rc.id, err)
		}
	}()
}

func (o *Orchestrator) recordFailure(ctx context.Context, clusterID string, info map[string]interface{}) {
	rec, err := o.store.GetCluster(ctx, clusterID)
	if err != nil {
		return
	}
	rec.FailureInfo = info
	if err := o.store.SaveCluster(ctx, rec); err != nil {
		log.Printf("[orchestrator] recording failure info for cluster %s: %v", clusterID, err)
	}
}

// Stop stops every agent, tears down the container (if any) while
// preserving its isolated workspace, and persists the cluster as stopped.
// A cluster not tracked in this process (e.g. a CLI invocation separate
// from the one that started it) is rebuilt from the persisted record
// first. A rebuilt cluster carries no container state (it is held in
// memory by the process that started the cluster), so its container is
// not removed.
func (o *Orchestrator) Stop(ctx context.Context, clusterID string) error {
	rc, err := o.get(clusterID)
	if err != nil {
		rc, err = o.rebuildFromStore(ctx, clusterID)
		if err != nil {
			return fmt.Errorf("orchestrator: stopping cluster %s: %w", clusterID, err)
		}
	}

	for _, a := range rc.agents {
		a.Stop(ctx)
	}
	if rc.sysSub != nil {
		rc.sysSub.Unsubscribe()
	}

	if rc.containerState.ContainerID != "" {
		if err := o.containers.Stop(ctx, clusterID); err != nil {
			return fmt.Errorf("orchestrator: stopping container: %w", err)
		}
	}

	rec, err := o.store.GetCluster(ctx, clusterID)
	if err != nil {
		rec = store.ClusterRecord{ID: clusterID, Name: rc.name, ConfigPath: rc.configPath, CreatedAt: rc.createdAt}
	}
	rec.State = store.ClusterStopped
	return o.store.SaveCluster(ctx, rec)
}

// Kill force-stops every agent, fully tears down the workspace and
// container, and deletes the cluster record. A cluster not tracked in
// this process is rebuilt from the persisted record first; its worktree
// is removed, but its container and isolated workspace are not, since a
// rebuilt cluster carries no container state.
func (o *Orchestrator) Kill(ctx context.Context, clusterID string) error {
	rc, err := o.get(clusterID)
	if err != nil {
		rc, err = o.rebuildFromStore(ctx, clusterID)
		if err != nil {
			return fmt.Errorf("orchestrator: killing cluster %s: %w", clusterID, err)
		}
	}

	for _, a := range rc.agents {
		a.Stop(ctx)
	}
	if rc.sysSub != nil {
		rc.sysSub.Unsubscribe()
	}

	if rc.containerState.ClusterID != "" {
		if err := o.containers.Kill(ctx, clusterID); err != nil {
			log.Printf("[orchestrator] killing container for cluster %s: %v", clusterID, err)
		}
	}
	if rc.worktreeState.Path != "" {
		if err := o.worktrees.Remove(ctx, rc.worktreeState); err != nil {
			log.Printf("[orchestrator] removing worktree for cluster %s: %v", clusterID, err)
		}
	}

	o.mu.Lock()
	delete(o.clusters, clusterID)
	o.mu.Unlock()

	return o.store.DeleteCluster(ctx, clusterID)
}

// Resume reloads a cluster's record, recreates its container if
// isolated, re-subscribes its agents, and resumes the agent that was
// last observed executing a task. For an isolated cluster this process
// did not start, recreating the container fails and Resume returns that
// error. A cluster rebuilt from the store starts with an empty ledger, so
// no agent has been observed executing and none is resumed that way.
func (o *Orchestrator) Resume(ctx context.Context, clusterID string, resumeContext string) error {
	rc, err := o.get(clusterID)
	if err != nil {
		rebuilt, rerr := o.rebuildFromStore(ctx, clusterID)
		if rerr != nil {
			return fmt.Errorf("orchestrator: resuming cluster %s: %w", clusterID, rerr)
		}
		rc = rebuilt
	}

	if rc.cfg.Isolation.Isolated {
		state, err := o.containers.Resume(ctx, clusterID)
		if err != nil {
			return fmt.Errorf("orchestrator: recreating container: %w", err)
		}
		rc.containerState = state
	}

	for _, a := range rc.agents {
		if !a.IsRunning() {
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("orchestrator: resuming agent: %w", err)
			}
		}
	}

	rc.mu.Lock()
	target := rc.lastExecutor
	rc.terminated = false
	rc.mu.Unlock()

	if target != "" {
		if a, ok := rc.agents[target]; ok {
			a.Resume(ctx, resumeContext)
		}
	}

	rec, err := o.store.GetCluster(ctx, clusterID)
	if err == nil {
		rec.State = store.ClusterRunning
		_ = o.store.SaveCluster(ctx, rec)
	}

	return nil
}

func (o *Orchestrator) rebuildFromStore(ctx context.Context, clusterID string) (*runningCluster, error) {
	rec, err := o.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(rec.ConfigPath)
	if err != nil {
		return nil, err
	}

	l := ledger.New(clusterID, nil)
	rc := &runningCluster{
		id:         clusterID,
		name:       rec.Name,
		configPath: rec.ConfigPath,
		cfg:        cfg,
		ledger:     l,
		createdAt:  rec.CreatedAt,
		agents:     make(map[string]*agent.Agent),
	}

	mode := agent.ModeHost
	workDir := o.repoDir
	if cfg.Isolation.Isolated {
		mode = agent.ModeIsolated
	} else if cfg.Isolation.Worktree {
		mode = agent.ModeWorktree
		workDir = o.repoDir + "/.zeroshot-worktrees/" + clusterID[:8]
		rc.worktreeState = isolation.WorktreeState{Path: workDir, Branch: isolation.BranchName(clusterID[:8])}
	}

	for name, ac := range cfg.Agents {
		rc.agents[name] = o.buildAgent(rc, name, ac, mode, workDir, cfg.MaxModel)
	}

	rc.sysSub = l.Subscribe(func(msg ledger.Message) {
		o.watchSystemMessages(ctx, rc, msg)
		o.mirrorMessage(rc, msg)
	})

	o.mu.Lock()
	o.clusters[clusterID] = rc
	o.mu.Unlock()

	return rc, nil
}

// GetCluster returns the persisted record for clusterID.
func (o *Orchestrator) GetCluster(ctx context.Context, clusterID string) (store.ClusterRecord, error) {
	return o.store.GetCluster(ctx, clusterID)
}

// Ledger returns the live ledger for a cluster still tracked by this
// process, for tailing by a foreground watch command. It returns false
// for a cluster this process never tracked or has killed; a cluster that
// reached a terminal state stays tracked.
func (o *Orchestrator) Ledger(clusterID string) (*ledger.Ledger, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rc, ok := o.clusters[clusterID]
	if !ok {
		return nil, false
	}
	return rc.ledger, true
}

// Wait blocks until clusterID reaches a terminal persisted state
// (completed, failed, stopped, or killed), polling the store, and
// returns the final record. If the record is no longer found (a kill
// deletes it), Wait returns the store's error instead. It is meant for a
// foreground CLI invocation that started the cluster and wants to block
// until it's done rather than return immediately after Start.
func (o *Orchestrator) Wait(ctx context.Context, clusterID string) (store.ClusterRecord, error) {
	const pollInterval = 250 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		rec, err := o.store.GetCluster(ctx, clusterID)
		if err != nil {
			return store.ClusterRecord{}, fmt.Errorf("orchestrator: waiting for cluster %s: %w", clusterID, err)
		}
		switch rec.State {
		case store.ClusterCompleted, store.ClusterFailed, store.ClusterStopped, store.ClusterKilled:
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// KillAll kills every cluster currently tracked in memory.
func (o *Orchestrator) KillAll(ctx context.Context) error {
	o.mu.Lock()
	ids := make([]string, 0, len(o.clusters))
	for id := range o.clusters {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := o.Kill(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (o *Orchestrator) get(clusterID string) (*runningCluster, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rc, ok := o.clusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no running cluster %s", clusterID)
	}
	return rc, nil
}
