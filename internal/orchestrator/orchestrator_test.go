package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
	"github.com/sjennings/zeroshot-sub001/internal/store"
)

const stopOnIssueTOML = `
name = "demo"

[agents.closer]
role = "planner"
max_iterations = 5
test_mode = true

[[agents.closer.triggers]]
topic = "ISSUE_OPENED"
action = "stop_cluster"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestStartRunsStopClusterTriggerAndAutoTerminates(t *testing.T) {
	cfgPath := writeConfig(t, stopOnIssueTOML)
	st := store.NewMemoryStore()
	o := New(t.TempDir(), st, nil)

	ctx := context.Background()
	id, err := o.Start(ctx, cfgPath, ledger.Message{Topic: "ISSUE_OPENED", Sender: "system"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var rec store.ClusterRecord
	for time.Now().Before(deadline) {
		rec, err = st.GetCluster(ctx, id)
		if err == nil && rec.State == store.ClusterCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec.State != store.ClusterCompleted {
		t.Fatalf("cluster state = %q, want completed", rec.State)
	}
}

func TestGetClusterReturnsPersistedRecord(t *testing.T) {
	cfgPath := writeConfig(t, stopOnIssueTOML)
	st := store.NewMemoryStore()
	o := New(t.TempDir(), st, nil)

	ctx := context.Background()
	id, err := o.Start(ctx, cfgPath, ledger.Message{Topic: "NOOP", Sender: "system"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec, err := o.GetCluster(ctx, id)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if rec.Name != "demo" {
		t.Errorf("Name = %q, want demo", rec.Name)
	}
}

func TestKillRemovesClusterRecord(t *testing.T) {
	cfgPath := writeConfig(t, stopOnIssueTOML)
	st := store.NewMemoryStore()
	o := New(t.TempDir(), st, nil)

	ctx := context.Background()
	id, err := o.Start(ctx, cfgPath, ledger.Message{Topic: "NOOP", Sender: "system"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Kill(ctx, id); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if _, err := o.GetCluster(ctx, id); err == nil {
		t.Fatal("expected GetCluster to fail after Kill")
	}
}
