package ctxbuild

import (
	"strings"
	"testing"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
)

func TestBuildContextIncludesHeaderAndPreambles(t *testing.T) {
	l := ledger.New("c1", nil)
	trigger := ledger.Message{Topic: "ISSUE_OPENED", Sender: "system", Content: ledger.Content{Text: "Do X"}}

	out := BuildContext(Params{
		Agent:             Identity{ID: "worker-1", Role: "worker"},
		Iteration:         1,
		SystemPrompt:      "you are a worker",
		TriggeringMessage: trigger,
		Ledger:            l,
		ClusterID:         "c1",
	})

	for _, want := range []string{"Agent: worker-1 (worker)", "Iteration: 1", "autonomously", "## Triggering Message"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestBuildContextOmitsGitForbiddenBlockWhenWorktreeEnabled(t *testing.T) {
	l := ledger.New("c1", nil)
	out := BuildContext(Params{
		Env:               Environment{WorktreeEnabled: true},
		TriggeringMessage: ledger.Message{Topic: "X"},
		Ledger:            l,
		ClusterID:         "c1",
	})
	if strings.Contains(out, "Do not run git commands") {
		t.Error("expected git-forbidden block to be omitted when worktree is enabled")
	}
}

func TestBuildContextIncludesGitForbiddenBlockWhenNeitherEnabled(t *testing.T) {
	l := ledger.New("c1", nil)
	out := BuildContext(Params{
		TriggeringMessage: ledger.Message{Topic: "X"},
		Ledger:            l,
		ClusterID:         "c1",
	})
	if !strings.Contains(out, "Do not run git commands") {
		t.Error("expected git-forbidden block when neither worktree nor isolation is enabled")
	}
}

func TestTriggeringMessageBlockIsByteIdenticalToConstructed(t *testing.T) {
	l := ledger.New("c1", nil)
	trigger := ledger.Message{Topic: "ISSUE_OPENED", Sender: "system", Timestamp: 1700000000000, Content: ledger.Content{Text: "Do X"}}

	out := BuildContext(Params{
		TriggeringMessage: trigger,
		Ledger:            l,
		ClusterID:         "c1",
	})

	want := renderTriggeringMessage(trigger)
	idx := strings.Index(out, "## Triggering Message")
	if idx < 0 {
		t.Fatal("missing triggering message block")
	}
	got := out[idx:]
	if got != want {
		t.Errorf("triggering block mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestTruncationPreservesIssueOpenedAndTriggeringBlock(t *testing.T) {
	l := ledger.New("c1", nil)
	l.Publish(ledger.Message{Topic: "ISSUE_OPENED", Sender: "system", Content: ledger.Content{Text: "Do X"}})

	filler := strings.Repeat("x", 1000)
	for i := 0; i < 700; i++ {
		l.Publish(ledger.Message{Topic: "CHATTER", Sender: "worker", Content: ledger.Content{Text: filler}})
	}

	trigger := ledger.Message{Topic: "TASK_COMPLETED", Sender: "worker", Content: ledger.Content{Text: "done"}}

	out := BuildContext(Params{
		Sources:           []Source{{Topic: "ISSUE_OPENED"}, {Topic: "CHATTER"}},
		TriggeringMessage: trigger,
		Ledger:            l,
		ClusterID:         "c1",
	})

	if len(out) > MAX_CONTEXT_CHARS {
		t.Errorf("expected output <= %d chars, got %d", MAX_CONTEXT_CHARS, len(out))
	}
	if !strings.Contains(out, "Do X") {
		t.Error("expected ISSUE_OPENED message to survive truncation")
	}
	if !strings.Contains(out, "## Triggering Message") {
		t.Error("expected triggering message block to survive truncation")
	}
	if !strings.Contains(out, "truncated") {
		t.Error("expected a truncation marker")
	}
}
