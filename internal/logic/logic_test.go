package logic

import (
	"testing"
	"time"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
)

func TestEvaluateReturnsBooleanCoercion(t *testing.T) {
	s := New()
	ok := s.Evaluate("true", Input{Ledger: ledger.New("c1", nil), ClusterID: "c1"})
	if !ok {
		t.Error("expected true")
	}
	ok = s.Evaluate("1 === 2", Input{Ledger: ledger.New("c1", nil), ClusterID: "c1"})
	if ok {
		t.Error("expected false")
	}
}

func TestEvaluateTimesOutOnInfiniteLoop(t *testing.T) {
	s := &Sandbox{Timeout: 50 * time.Millisecond}
	start := time.Now()
	ok := s.Evaluate("while(true) {}", Input{Ledger: ledger.New("c1", nil), ClusterID: "c1"})
	if ok {
		t.Error("expected false on timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestEvaluateReturnsFalseOnScriptError(t *testing.T) {
	s := New()
	ok := s.Evaluate("throw new Error('boom')", Input{Ledger: ledger.New("c1", nil), ClusterID: "c1"})
	if ok {
		t.Error("expected false on thrown error")
	}
}

func TestLedgerQueryIsScopedToClusterID(t *testing.T) {
	l := ledger.New("c1", nil)
	l.Publish(ledger.Message{Topic: "ISSUE_OPENED", Sender: "system"})

	s := New()
	ok := s.Evaluate(`ledger.count({topic: "ISSUE_OPENED"}) === 1`, Input{Ledger: l, ClusterID: "c1"})
	if !ok {
		t.Error("expected the published message to be visible via ledger.count")
	}
}

func TestPrototypeExtensionOfContainerTypesIsBlocked(t *testing.T) {
	s := New()
	// Attempting to add a property to the frozen cluster object must not
	// throw (freeze makes it silently fail in sloppy mode) and must not
	// persist.
	ok := s.Evaluate(`cluster.injected = true; cluster.injected === undefined`, Input{
		Ledger:    ledger.New("c1", nil),
		ClusterID: "c1",
	})
	if !ok {
		t.Error("expected frozen cluster object to reject property injection")
	}
}

func TestHelpersHasConsensus(t *testing.T) {
	l := ledger.New("c1", nil)
	l.Publish(ledger.Message{Topic: "VALIDATION_RESULT", Sender: "validator", Content: ledger.Content{
		Data: map[string]interface{}{"approved": true},
	}})

	s := New()
	ok := s.Evaluate(`helpers.hasConsensus("VALIDATION_RESULT", 0)`, Input{Ledger: l, ClusterID: "c1"})
	if !ok {
		t.Error("expected consensus to be detected")
	}
}

func TestNoFilesystemOrProcessSurface(t *testing.T) {
	s := New()
	for _, script := range []string{"typeof require", "typeof process", "typeof fetch"} {
		ok := s.Evaluate(script+` === "undefined"`, Input{Ledger: ledger.New("c1", nil), ClusterID: "c1"})
		if !ok {
			t.Errorf("expected %q to be undefined in the sandbox", script)
		}
	}
}
