package agent

import (
	"context"
	"testing"
	"time"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
	"github.com/sjennings/zeroshot-sub001/internal/logic"
	"github.com/sjennings/zeroshot-sub001/internal/model"
)

func waitForState(t *testing.T, a *Agent, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, a.State())
}

func TestStopClusterActionPublishesClusterComplete(t *testing.T) {
	l := ledger.New("c1", nil)
	a := New(Config{
		ID:        "a1",
		Role:      "planner",
		ClusterID: "c1",
		Triggers:  []Trigger{{Topic: "DONE", Action: "stop_cluster"}},
	}, Deps{Ledger: l, Logic: logic.New()})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l.Publish(ledger.Message{ClusterID: "c1", Topic: "DONE", Sender: "x"})

	waitForState(t, a, StateCompleted, time.Second)

	msgs := l.Query(ledger.Criteria{ClusterID: "c1", Topic: "CLUSTER_COMPLETE"})
	if len(msgs) != 1 {
		t.Fatalf("expected 1 CLUSTER_COMPLETE message, got %d", len(msgs))
	}
	if msgs[0].Receiver != "system" {
		t.Errorf("receiver = %q, want system", msgs[0].Receiver)
	}
}

func TestUnmatchedTopicIsIgnored(t *testing.T) {
	l := ledger.New("c1", nil)
	a := New(Config{
		ID:        "a1",
		ClusterID: "c1",
		Triggers:  []Trigger{{Topic: "DONE", Action: "stop_cluster"}},
	}, Deps{Ledger: l, Logic: logic.New()})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l.Publish(ledger.Message{ClusterID: "c1", Topic: "UNRELATED", Sender: "x"})
	time.Sleep(20 * time.Millisecond)

	if a.State() != StateIdle {
		t.Errorf("state = %s, want idle", a.State())
	}
}

func TestLogicGateBlocksAction(t *testing.T) {
	l := ledger.New("c1", nil)
	a := New(Config{
		ID:        "a1",
		ClusterID: "c1",
		Triggers:  []Trigger{{Topic: "DONE", Action: "stop_cluster", Logic: "false"}},
	}, Deps{Ledger: l, Logic: logic.New()})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l.Publish(ledger.Message{ClusterID: "c1", Topic: "DONE", Sender: "x"})
	time.Sleep(50 * time.Millisecond)

	if a.State() != StateIdle {
		t.Errorf("state = %s, want idle (logic gate returned false)", a.State())
	}
	if n := l.Count(ledger.Criteria{ClusterID: "c1", Topic: "CLUSTER_COMPLETE"}); n != 0 {
		t.Errorf("expected no CLUSTER_COMPLETE, got %d", n)
	}
}

func TestMaxIterationsPublishesClusterFailed(t *testing.T) {
	l := ledger.New("c1", nil)
	var recorded map[string]interface{}
	a := New(Config{
		ID:            "a1",
		Role:          "worker",
		ClusterID:     "c1",
		MaxIterations: 0,
		Triggers:      []Trigger{{Topic: "GO", Action: "execute_task"}},
	}, Deps{
		Ledger:        l,
		Logic:         logic.New(),
		RecordFailure: func(info map[string]interface{}) { recorded = info },
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l.Publish(ledger.Message{ClusterID: "c1", Topic: "GO", Sender: "x"})
	waitForState(t, a, StateFailed, time.Second)

	msgs := l.Query(ledger.Criteria{ClusterID: "c1", Topic: "CLUSTER_FAILED"})
	if len(msgs) != 1 {
		t.Fatalf("expected 1 CLUSTER_FAILED, got %d", len(msgs))
	}
	if msgs[0].Content.Data["reason"] != "max_iterations" {
		t.Errorf("reason = %v, want max_iterations", msgs[0].Content.Data["reason"])
	}
	if recorded == nil {
		t.Error("expected RecordFailure to be called")
	}
}

func TestResolveModelRespectsMaxModelCeiling(t *testing.T) {
	got, err := model.ResolveModel(model.ModelConfig{Type: "static", Model: "opus"}, 1, "sonnet")
	if err != nil {
		t.Fatalf("ResolveModel: %v", err)
	}
	if got != "sonnet" {
		t.Errorf("ResolveModel = %q, want sonnet (clamped)", got)
	}
}
