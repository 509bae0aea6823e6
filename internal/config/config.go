// Package config loads and resolves a cluster's TOML configuration file:
// its named agents, their topic triggers, hooks, and model/prompt
// selection rules (spec.md §3's Cluster/Agent/Trigger/Hook/ModelConfig/
// PromptConfig data model).
//
// Grounded on internal/config/agents_api.go's load-resolve-validate
// idiom (read file, unmarshal, validate required fields, return a typed
// error on the first problem) — adapted from JSON to TOML since the
// teacher's go.mod already carries github.com/BurntSushi/toml for a
// different config surface (the per-rig rig.toml) that this package's
// loader generalizes from.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ClusterConfig is the top-level TOML document an operator submits to
// start a cluster.
type ClusterConfig struct {
	Name            string                 `toml:"name"`
	MaxModel        string                 `toml:"max_model"`
	Agents          map[string]AgentConfig `toml:"agents"`
	Isolation       IsolationOptions       `toml:"isolation"`
}

// IsolationOptions selects how tasks for this cluster are run.
type IsolationOptions struct {
	Worktree bool `toml:"worktree"`
	Isolated bool `toml:"isolated"`
}

// AgentConfig is one named agent's static configuration.
type AgentConfig struct {
	Role            string            `toml:"role"`
	MaxIterations   int               `toml:"max_iterations"`
	Model           ModelConfigTOML   `toml:"model"`
	Prompt          PromptConfigTOML  `toml:"prompt"`
	Triggers        []TriggerConfig   `toml:"triggers"`
	ContextSources  []SourceConfig    `toml:"context_sources"`
	Hooks           HooksConfig       `toml:"hooks"`
	StrictSchema    *bool             `toml:"strict_schema"`
	JSONSchema      string            `toml:"json_schema"`
	MaxTokens       int               `toml:"max_tokens"`
	TimeoutSeconds  int               `toml:"timeout_seconds"`
	TestMode        bool              `toml:"test_mode"`
}

// ModelConfigTOML mirrors spec.md §3's ModelConfig: either a static
// model or a list of iteration-range rules.
type ModelConfigTOML struct {
	Type  string          `toml:"type"` // "static" | "rules"
	Model string          `toml:"model"`
	Rules []ModelRuleTOML `toml:"rules"`
}

type ModelRuleTOML struct {
	Iterations string `toml:"iterations"`
	Model      string `toml:"model"`
}

// PromptConfigTOML mirrors spec.md §3's PromptConfig.
type PromptConfigTOML struct {
	Literal string           `toml:"literal"`
	Rules   []PromptRuleTOML `toml:"rules"`
}

type PromptRuleTOML struct {
	Match  string `toml:"match"`
	System string `toml:"system"`
}

// TriggerConfig mirrors spec.md §3's Trigger.
type TriggerConfig struct {
	Topic  string `toml:"topic"`
	Action string `toml:"action"` // "execute_task" | "stop_cluster"
	Logic  string `toml:"logic"`
}

// SourceConfig mirrors contextStrategy.sources[i] from spec.md §4.3.
type SourceConfig struct {
	Topic  string `toml:"topic"`
	Sender string `toml:"sender"`
	Since  string `toml:"since"` // literal timestamp, "cluster_start", or "last_task_end"
	Limit  int    `toml:"limit"`
}

// HooksConfig groups the three lifecycle hook points by name.
type HooksConfig struct {
	OnStart    []HookConfig `toml:"on_start"`
	OnComplete []HookConfig `toml:"on_complete"`
	OnError    []HookConfig `toml:"on_error"`
}

// HookConfig mirrors spec.md §3's Hook union.
type HookConfig struct {
	Action   string                 `toml:"action"` // "publish_message" | "run_script" | "evaluate_logic"
	Topic    string                 `toml:"topic"`
	Receiver string                 `toml:"receiver"`
	Content  map[string]interface{} `toml:"content"`
	Command  string                 `toml:"command"`
	Args     []string               `toml:"args"`
	Script   string                 `toml:"script"`
}

// Load reads and parses a cluster TOML file, then validates it.
func Load(path string) (*ClusterConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("config: cluster config path is empty")
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied at cluster-start time
	if err != nil {
		return nil, fmt.Errorf("config: reading cluster config: %w", err)
	}

	var cfg ClusterConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing cluster config TOML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants a cluster config must
// satisfy before an orchestrator can start it.
func (c *ClusterConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: cluster name is required")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: cluster %q has no agents", c.Name)
	}
	for id, agent := range c.Agents {
		if agent.Role == "" {
			return fmt.Errorf("config: agent %q: role is required", id)
		}
		if len(agent.Triggers) == 0 {
			return fmt.Errorf("config: agent %q: at least one trigger is required", id)
		}
		for _, t := range agent.Triggers {
			if t.Topic == "" {
				return fmt.Errorf("config: agent %q: trigger missing topic", id)
			}
			if t.Action != "execute_task" && t.Action != "stop_cluster" {
				return fmt.Errorf("config: agent %q: trigger action %q is not execute_task or stop_cluster", id, t.Action)
			}
		}
		if agent.Model.Type != "" && agent.Model.Type != "static" && agent.Model.Type != "rules" {
			return fmt.Errorf("config: agent %q: model.type %q must be static or rules", id, agent.Model.Type)
		}
		for _, h := range append(append(agent.Hooks.OnStart, agent.Hooks.OnComplete...), agent.Hooks.OnError...) {
			if h.Action != "publish_message" && h.Action != "run_script" && h.Action != "evaluate_logic" {
				return fmt.Errorf("config: agent %q: hook action %q is not recognized", id, h.Action)
			}
		}
	}
	return nil
}
