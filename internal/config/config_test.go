package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validCluster = `
name = "demo"
max_model = "opus"

[isolation]
worktree = true

[agents.planner]
role = "planner"
max_iterations = 5

[agents.planner.model]
type = "static"
model = "sonnet"

[[agents.planner.triggers]]
topic = "ISSUE_OPENED"
action = "execute_task"

[[agents.planner.hooks.on_complete]]
action = "publish_message"
topic = "PLAN_READY"
content = { summary = "{{result.summary}}" }
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, validCluster)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "demo" {
		t.Errorf("Name = %q, want demo", cfg.Name)
	}
	agent, ok := cfg.Agents["planner"]
	if !ok {
		t.Fatal("expected agent \"planner\"")
	}
	if agent.Model.Type != "static" || agent.Model.Model != "sonnet" {
		t.Errorf("unexpected model config: %+v", agent.Model)
	}
	if len(agent.Triggers) != 1 || agent.Triggers[0].Topic != "ISSUE_OPENED" {
		t.Errorf("unexpected triggers: %+v", agent.Triggers)
	}
	if len(agent.Hooks.OnComplete) != 1 {
		t.Errorf("expected 1 on_complete hook, got %d", len(agent.Hooks.OnComplete))
	}
}

func TestLoadRejectsMissingAgents(t *testing.T) {
	path := writeTemp(t, `name = "demo"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for cluster with no agents")
	}
}

func TestLoadRejectsTriggerWithBadAction(t *testing.T) {
	path := writeTemp(t, `
name = "demo"
[agents.a]
role = "worker"
[[agents.a.triggers]]
topic = "X"
action = "do_nothing"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for trigger with unrecognized action")
	}
}

func TestLoadRejectsAgentWithNoTriggers(t *testing.T) {
	path := writeTemp(t, `
name = "demo"
[agents.a]
role = "worker"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for agent with no triggers")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
