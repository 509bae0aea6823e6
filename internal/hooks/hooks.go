// Package hooks implements the Hook Executor (spec.md §4.7): the three
// hook actions an agent's onStart/onComplete/onError lifecycle points
// run — publish_message, run_script, and evaluate_logic.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sjennings/zeroshot-sub001/internal/engineerr"
	"github.com/sjennings/zeroshot-sub001/internal/ledger"
	"github.com/sjennings/zeroshot-sub001/internal/logic"
)

// Action selects which of the three hook behaviors to run.
type Action string

const (
	ActionPublishMessage Action = "publish_message"
	ActionRunScript      Action = "run_script"
	ActionEvaluateLogic  Action = "evaluate_logic"
)

// Hook is one configured lifecycle hook.
type Hook struct {
	Action   Action
	Topic    string            // publish_message
	Content  map[string]interface{} // publish_message, with {{result.path}} placeholders
	Receiver string            // publish_message, default "broadcast"
	Script   string            // run_script (shell) or evaluate_logic (JS)
}

// Request bundles everything executeHook needs to run one hook.
type Request struct {
	Hook      Hook
	AgentID   string
	Role      string
	ClusterID string
	WorkDir   string
	Message   ledger.Message
	Result    map[string]interface{} // the task's parsed result, for {{result.path}} substitution
	Ledger    *ledger.Ledger
	Logic     *logic.Sandbox
	LogicInput logic.Input
}

// Execute runs req.Hook per spec.md §4.7. Failures are returned wrapped
// in engineerr.HookError.
func Execute(ctx context.Context, req Request) error {
	switch req.Hook.Action {
	case ActionPublishMessage:
		return executePublishMessage(req)
	case ActionRunScript:
		return executeRunScript(ctx, req)
	case ActionEvaluateLogic:
		return executeEvaluateLogic(req)
	default:
		return engineerr.New(engineerr.HookError, fmt.Errorf("hooks: unknown action %q", req.Hook.Action))
	}
}

func executePublishMessage(req Request) error {
	if req.Ledger == nil {
		return engineerr.New(engineerr.HookError, fmt.Errorf("hooks: publish_message requires a ledger"))
	}
	receiver := req.Hook.Receiver
	if receiver == "" {
		receiver = "broadcast"
	}
	content := substitutePlaceholders(req.Hook.Content, req.Result)
	req.Ledger.Publish(ledger.Message{
		ClusterID: req.ClusterID,
		Topic:     req.Hook.Topic,
		Sender:    req.AgentID,
		Receiver:  receiver,
		Content:   ledger.Content{Data: content},
	})
	return nil
}

func executeRunScript(ctx context.Context, req Request) error {
	cmd := exec.CommandContext(ctx, "bash", "-c", req.Hook.Script)
	cmd.Dir = req.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return engineerr.New(engineerr.HookError, fmt.Errorf("run_script failed: %w: %s", err, stderr.String()))
	}
	return nil
}

func executeEvaluateLogic(req Request) error {
	if req.Logic == nil {
		return engineerr.New(engineerr.HookError, fmt.Errorf("hooks: evaluate_logic requires a sandbox"))
	}
	// The script's boolean return value is discarded. The sandbox exposes
	// no publish helper and only read-only ledger access, so an
	// evaluate_logic hook has no effect on the ledger.
	req.Logic.Evaluate(req.Hook.Script, req.LogicInput)
	return nil
}

// substitutePlaceholders deep-copies content, replacing any
// "{{result.path}}" placeholder string with the value found by walking
// path (dot-separated) into result. Unresolvable placeholders are left
// as-is.
func substitutePlaceholders(content map[string]interface{}, result map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(content))
	for k, v := range content {
		out[k] = substituteValue(v, result)
	}
	return out
}

func substituteValue(v interface{}, result map[string]interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return substituteString(t, result)
	case map[string]interface{}:
		return substitutePlaceholders(t, result)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = substituteValue(e, result)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, result map[string]interface{}) interface{} {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return s
	}
	path := strings.TrimSpace(s[2 : len(s)-2])
	if !strings.HasPrefix(path, "result.") {
		return s
	}
	val, ok := resolvePath(result, strings.TrimPrefix(path, "result."))
	if !ok {
		return s
	}
	return val
}

func resolvePath(obj map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = obj
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
