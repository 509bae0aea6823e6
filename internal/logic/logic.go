// Package logic runs operator-supplied gating scripts in a sandboxed
// JavaScript runtime with a hard wall-clock limit and a curated,
// frozen API surface over the ledger and cluster.
//
// No example in the retrieval pack embeds a scripting runtime, so this is
// the one piece of the core built on a genuinely out-of-pack dependency:
// github.com/dop251/goja, the standard embeddable ECMAScript runtime for
// Go services that need to run untrusted scripts. Every container type
// (ledger, cluster, helpers, agent, message) is exposed as a fresh object
// per invocation rather than the live Go struct, so mutation from the
// script cannot leak between runs or back into the host. ledger, cluster,
// helpers, agent and console are frozen; message is a plain per-run copy
// of the triggering message and is not frozen.
package logic

import (
	"log"
	"math"
	"time"

	"github.com/dop251/goja"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
)

// DefaultTimeout is the hard wall-clock limit on script execution.
const DefaultTimeout = 1 * time.Second

// AgentView is the read-only view of one cluster agent exposed to scripts.
type AgentView struct {
	ID   string
	Role string
}

// ClusterView is the read-only view of the cluster exposed to scripts.
type ClusterView interface {
	ID() string
	Agents() []AgentView
	AgentsByRole(role string) []AgentView
	Agent(id string) (AgentView, bool)
}

// Input bundles everything a gating script may observe.
type Input struct {
	Ledger    *ledger.Ledger
	ClusterID string
	Cluster   ClusterView
	AgentSelf AgentView
	Iteration int
	Message   ledger.Message
	Config    map[string]interface{}
}

// Sandbox evaluates gating scripts.
type Sandbox struct {
	Timeout time.Duration
}

// New creates a Sandbox with DefaultTimeout.
func New() *Sandbox {
	return &Sandbox{Timeout: DefaultTimeout}
}

// Evaluate runs script against input with a hard wall-clock timeout. Any
// error or timeout yields false and is logged; it is never returned to the
// caller as an error, matching spec.md §4.2 ("Any error or timeout yields
// false and is logged").
func (s *Sandbox) Evaluate(script string, input Input) bool {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("logic sandbox: wall-clock timeout exceeded")
	})
	defer timer.Stop()

	if err := installAPI(vm, input); err != nil {
		log.Printf("[logic] failed to install sandbox API: %v", err)
		return false
	}

	value, err := vm.RunString(script)
	if err != nil {
		log.Printf("[logic] script error: %v", err)
		return false
	}

	return value != nil && value.ToBoolean()
}

func installAPI(vm *goja.Runtime, input Input) error {
	ledgerObj := newLedgerObject(vm, input)
	if err := vm.Set("ledger", ledgerObj); err != nil {
		return err
	}

	clusterObj := newClusterObject(vm, input)
	if err := vm.Set("cluster", clusterObj); err != nil {
		return err
	}

	helpersObj := newHelpersObject(vm, input)
	if err := vm.Set("helpers", helpersObj); err != nil {
		return err
	}

	agentObj := vm.NewObject()
	agentObj.Set("id", input.AgentSelf.ID)
	agentObj.Set("role", input.AgentSelf.Role)
	agentObj.Set("iteration", input.Iteration)
	freeze(vm, agentObj)
	if err := vm.Set("agent", agentObj); err != nil {
		return err
	}

	if err := vm.Set("message", messageToJS(vm, input.Message)); err != nil {
		return err
	}

	console := vm.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	console.Set("log", noop)
	console.Set("warn", noop)
	console.Set("error", noop)
	freeze(vm, console)
	if err := vm.Set("console", console); err != nil {
		return err
	}

	// Deliberately no filesystem, network, environment, process, or
	// dynamic-code-loading globals are registered; goja itself exposes
	// none of those by default, so the absence here is the whole control.
	return nil
}

// freeze calls the script-visible Object.freeze on obj so property
// addition/deletion/redefinition from inside the script is a silent no-op
// (or throws in strict mode) rather than mutating the host-constructed object.
func freeze(vm *goja.Runtime, obj *goja.Object) {
	objectCtor := vm.GlobalObject().Get("Object")
	if objectCtor == nil {
		return
	}
	if ctorObj, ok := objectCtor.(*goja.Object); ok {
		if freezeFn, ok := goja.AssertFunction(ctorObj.Get("freeze")); ok {
			freezeFn(goja.Undefined(), vm.ToValue(obj))
		}
	}
}

func newLedgerObject(vm *goja.Runtime, input Input) *goja.Object {
	obj := vm.NewObject()

	scoped := func(c ledger.Criteria) ledger.Criteria {
		c.ClusterID = input.ClusterID
		return c
	}

	obj.Set("query", func(call goja.FunctionCall) goja.Value {
		c := criteriaFromJS(call, input.ClusterID)
		msgs := input.Ledger.Query(scoped(c))
		return vm.ToValue(messagesToJS(vm, msgs))
	})
	obj.Set("findLast", func(call goja.FunctionCall) goja.Value {
		c := criteriaFromJS(call, input.ClusterID)
		msg, ok := input.Ledger.FindLast(scoped(c))
		if !ok {
			return goja.Null()
		}
		return messageToJS(vm, msg)
	})
	obj.Set("count", func(call goja.FunctionCall) goja.Value {
		c := criteriaFromJS(call, input.ClusterID)
		return vm.ToValue(input.Ledger.Count(scoped(c)))
	})
	obj.Set("since", func(call goja.FunctionCall) goja.Value {
		c := criteriaFromJS(call, input.ClusterID)
		msgs := input.Ledger.Since(scoped(c))
		return vm.ToValue(messagesToJS(vm, msgs))
	})

	freeze(vm, obj)
	return obj
}

func newClusterObject(vm *goja.Runtime, input Input) *goja.Object {
	obj := vm.NewObject()
	obj.Set("id", input.ClusterID)

	obj.Set("getAgents", func(call goja.FunctionCall) goja.Value {
		if input.Cluster == nil {
			return vm.ToValue([]interface{}{})
		}
		return vm.ToValue(agentsToJS(vm, input.Cluster.Agents()))
	})
	obj.Set("getAgentsByRole", func(call goja.FunctionCall) goja.Value {
		if input.Cluster == nil || len(call.Arguments) == 0 {
			return vm.ToValue([]interface{}{})
		}
		role := call.Arguments[0].String()
		return vm.ToValue(agentsToJS(vm, input.Cluster.AgentsByRole(role)))
	})
	obj.Set("getAgent", func(call goja.FunctionCall) goja.Value {
		if input.Cluster == nil || len(call.Arguments) == 0 {
			return goja.Null()
		}
		id := call.Arguments[0].String()
		a, ok := input.Cluster.Agent(id)
		if !ok {
			return goja.Null()
		}
		return agentToJS(vm, a)
	})

	freeze(vm, obj)
	return obj
}

func newHelpersObject(vm *goja.Runtime, input Input) *goja.Object {
	obj := vm.NewObject()

	obj.Set("allResponded", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 3 {
			return vm.ToValue(false)
		}
		agentIDs := agentIDsFromJS(call.Arguments[0])
		topic := call.Arguments[1].String()
		since := call.Arguments[2].ToInteger()

		responded := make(map[string]bool)
		for _, m := range input.Ledger.Query(ledger.Criteria{ClusterID: input.ClusterID, Topic: topic, Since: since}) {
			responded[m.Sender] = true
		}
		for _, id := range agentIDs {
			if !responded[id] {
				return vm.ToValue(false)
			}
		}
		return vm.ToValue(len(agentIDs) > 0)
	})

	obj.Set("hasConsensus", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return vm.ToValue(false)
		}
		topic := call.Arguments[0].String()
		since := call.Arguments[1].ToInteger()

		msgs := input.Ledger.Query(ledger.Criteria{ClusterID: input.ClusterID, Topic: topic, Since: since})
		if len(msgs) == 0 {
			return vm.ToValue(false)
		}
		for _, m := range msgs {
			approved, ok := m.Content.Data["approved"]
			if !ok || approved != true {
				return vm.ToValue(false)
			}
		}
		return vm.ToValue(true)
	})

	obj.Set("timeSinceLastMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return vm.ToValue(math.Inf(1))
		}
		topic := call.Arguments[0].String()
		msg, ok := input.Ledger.FindLast(ledger.Criteria{ClusterID: input.ClusterID, Topic: topic})
		if !ok {
			return vm.ToValue(math.Inf(1))
		}
		return vm.ToValue(float64(time.Now().UnixMilli() - msg.Timestamp))
	})

	obj.Set("hasMessagesSince", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return vm.ToValue(false)
		}
		topic := call.Arguments[0].String()
		since := call.Arguments[1].ToInteger()
		return vm.ToValue(input.Ledger.Count(ledger.Criteria{ClusterID: input.ClusterID, Topic: topic, Since: since}) > 0)
	})

	obj.Set("getConfig", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 || input.Config == nil {
			return goja.Undefined()
		}
		key := call.Arguments[0].String()
		v, ok := input.Config[key]
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})

	freeze(vm, obj)
	return obj
}

func criteriaFromJS(call goja.FunctionCall, clusterID string) ledger.Criteria {
	c := ledger.Criteria{ClusterID: clusterID}
	if len(call.Arguments) == 0 {
		return c
	}
	arg, ok := call.Arguments[0].Export().(map[string]interface{})
	if !ok {
		return c
	}
	if v, ok := arg["topic"].(string); ok {
		c.Topic = v
	}
	if v, ok := arg["sender"].(string); ok {
		c.Sender = v
	}
	if v, ok := toInt64(arg["since"]); ok {
		c.Since = v
	}
	if v, ok := toInt64(arg["limit"]); ok {
		c.Limit = int(v)
	}
	return c
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func agentIDsFromJS(v goja.Value) []string {
	exported, ok := v.Export().([]interface{})
	if !ok {
		return nil
	}
	var ids []string
	for _, e := range exported {
		switch t := e.(type) {
		case string:
			ids = append(ids, t)
		case map[string]interface{}:
			if id, ok := t["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func messageToJS(vm *goja.Runtime, m ledger.Message) goja.Value {
	content := map[string]interface{}{
		"text": m.Content.Text,
	}
	if m.Content.Data != nil {
		content["data"] = m.Content.Data
	}
	return vm.ToValue(map[string]interface{}{
		"id":          m.ID,
		"clusterId":   m.ClusterID,
		"topic":       m.Topic,
		"sender":      m.Sender,
		"senderModel": m.SenderModel,
		"receiver":    m.Receiver,
		"timestamp":   m.Timestamp,
		"content":     content,
	})
}

func messagesToJS(vm *goja.Runtime, msgs []ledger.Message) []interface{} {
	out := make([]interface{}, len(msgs))
	for i, m := range msgs {
		out[i] = messageToJS(vm, m).Export()
	}
	return out
}

func agentToJS(vm *goja.Runtime, a AgentView) goja.Value {
	return vm.ToValue(map[string]interface{}{"id": a.ID, "role": a.Role})
}

func agentsToJS(vm *goja.Runtime, agents []AgentView) []interface{} {
	out := make([]interface{}, len(agents))
	for i, a := range agents {
		out[i] = agentToJS(vm, a).Export()
	}
	return out
}
