package hooks

import (
	"context"
	"testing"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
)

func TestExecutePublishMessageSubstitutesResultPath(t *testing.T) {
	l := ledger.New("cluster-1", nil)
	req := Request{
		Hook: Hook{
			Action: ActionPublishMessage,
			Topic:  "TASK_COMPLETED",
			Content: map[string]interface{}{
				"summary": "{{result.summary}}",
				"nested":  map[string]interface{}{"path": "{{result.path.deep}}"},
			},
		},
		AgentID:   "agent-1",
		ClusterID: "cluster-1",
		Ledger:    l,
		Result: map[string]interface{}{
			"summary": "all good",
			"path":    map[string]interface{}{"deep": 42},
		},
	}

	if err := Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	msgs := l.Query(ledger.Criteria{ClusterID: "cluster-1", Topic: "TASK_COMPLETED"})
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content.Data["summary"] != "all good" {
		t.Errorf("summary = %v, want %q", msgs[0].Content.Data["summary"], "all good")
	}
	nested, ok := msgs[0].Content.Data["nested"].(map[string]interface{})
	if !ok || nested["path"] != 42 {
		t.Errorf("nested.path = %v, want 42", nested)
	}
}

func TestExecutePublishMessageLeavesUnresolvedPlaceholder(t *testing.T) {
	l := ledger.New("cluster-1", nil)
	req := Request{
		Hook: Hook{
			Action:  ActionPublishMessage,
			Topic:   "T",
			Content: map[string]interface{}{"x": "{{result.missing}}"},
		},
		ClusterID: "cluster-1",
		Ledger:    l,
		Result:    map[string]interface{}{},
	}
	if err := Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	msgs := l.Query(ledger.Criteria{ClusterID: "cluster-1", Topic: "T"})
	if msgs[0].Content.Data["x"] != "{{result.missing}}" {
		t.Errorf("expected unresolved placeholder to pass through, got %v", msgs[0].Content.Data["x"])
	}
}

func TestExecuteRunScriptSurfacesNonZeroExit(t *testing.T) {
	req := Request{
		Hook: Hook{Action: ActionRunScript, Script: "exit 7"},
	}
	if err := Execute(context.Background(), req); err == nil {
		t.Fatal("expected non-zero exit to surface as an error")
	}
}

func TestExecuteRunScriptSucceeds(t *testing.T) {
	req := Request{
		Hook: Hook{Action: ActionRunScript, Script: "true"},
	}
	if err := Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}
