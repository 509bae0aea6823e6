package isolation

import (
	"context"
	"os/exec"
	"testing"
)

func TestBranchName(t *testing.T) {
	if got := BranchName("abc123"); got != "zeroshot/abc123" {
		t.Errorf("BranchName = %q, want zeroshot/abc123", got)
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func TestWorktreeCreateAndRemove(t *testing.T) {
	requireGit(t)
	repo := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "t@example.com")
	run("config", "user.name", "t")
	run("commit", "--allow-empty", "-m", "init")

	mgr := NewWorktreeManager(repo)
	ctx := context.Background()
	state, err := mgr.Create(ctx, "test1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if state.Branch != "zeroshot/test1" {
		t.Errorf("Branch = %q", state.Branch)
	}
	if err := mgr.Remove(ctx, state); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
