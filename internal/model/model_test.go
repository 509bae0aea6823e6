package model

import "testing"

func TestMatchRange(t *testing.T) {
	cases := []struct {
		spec      string
		iteration int
		want      bool
	}{
		{"all", 0, true},
		{"all", 99, true},
		{"3", 3, true},
		{"3", 4, false},
		{"1-5", 1, true},
		{"1-5", 5, true},
		{"1-5", 6, false},
		{"10+", 9, false},
		{"10+", 10, true},
		{"10+", 100, true},
	}

	for _, c := range cases {
		got, err := matchRange(c.spec, c.iteration)
		if err != nil {
			t.Fatalf("matchRange(%q, %d): %v", c.spec, c.iteration, err)
		}
		if got != c.want {
			t.Errorf("matchRange(%q, %d) = %v, want %v", c.spec, c.iteration, got, c.want)
		}
	}
}

func TestResolveModelClampsToCeiling(t *testing.T) {
	cfg := ModelConfig{
		Type: "rules",
		Rules: []ModelRule{
			{Iterations: "1-3", Model: "haiku"},
			{Iterations: "4+", Model: "opus"},
		},
	}

	got, err := ResolveModel(cfg, 5, "sonnet")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sonnet" {
		t.Errorf("expected opus clamped to sonnet ceiling, got %q", got)
	}

	got, err = ResolveModel(cfg, 1, "sonnet")
	if err != nil {
		t.Fatal(err)
	}
	if got != "haiku" {
		t.Errorf("expected haiku under the ceiling to pass through, got %q", got)
	}
}

func TestResolvePromptStatic(t *testing.T) {
	cfg := PromptConfig{Literal: "you are an agent"}
	got, err := ResolvePrompt(cfg, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got != "you are an agent" {
		t.Errorf("got %q", got)
	}
}

func TestResolvePromptRules(t *testing.T) {
	cfg := PromptConfig{
		Rules: []PromptRule{
			{Match: "1", System: "first"},
			{Match: "2+", System: "later"},
		},
	}

	got, err := ResolvePrompt(cfg, 1)
	if err != nil || got != "first" {
		t.Errorf("iteration 1: got %q, err %v", got, err)
	}

	got, err = ResolvePrompt(cfg, 4)
	if err != nil || got != "later" {
		t.Errorf("iteration 4: got %q, err %v", got, err)
	}
}
