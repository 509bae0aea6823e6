package router

import "testing"

func TestRouteTaskBaseTemplate(t *testing.T) {
	cases := []struct {
		complexity Complexity
		taskType   TaskType
		wantBase   string
	}{
		{Trivial, Task, "single-worker"},
		{Trivial, Debug, "single-worker"}, // DEBUG+TRIVIAL is still single-worker: ¬TRIVIAL is required
		{Simple, Debug, "debug-workflow"},
		{Standard, Debug, "debug-workflow"},
		{Simple, Task, "worker-validator"},
		{Standard, Task, "full-workflow"},
		{Critical, Inquiry, "full-workflow"},
	}

	for _, c := range cases {
		got := RouteTask(c.complexity, c.taskType)
		if got.Base != c.wantBase {
			t.Errorf("RouteTask(%s, %s).Base = %q, want %q", c.complexity, c.taskType, got.Base, c.wantBase)
		}
	}
}

func TestRouteTaskValidatorCountAndMaxTokens(t *testing.T) {
	cases := []struct {
		complexity      Complexity
		wantValidators  int
		wantMaxTokens   int
	}{
		{Trivial, 0, 50000},
		{Simple, 1, 100000},
		{Standard, 2, 100000},
		{Critical, 4, 150000},
	}

	for _, c := range cases {
		got := RouteTask(c.complexity, Task)
		if got.Params.ValidatorCount != c.wantValidators {
			t.Errorf("%s: ValidatorCount = %d, want %d", c.complexity, got.Params.ValidatorCount, c.wantValidators)
		}
		if got.Params.MaxTokens != c.wantMaxTokens {
			t.Errorf("%s: MaxTokens = %d, want %d", c.complexity, got.Params.MaxTokens, c.wantMaxTokens)
		}
	}
}

func TestRouteTaskModelPerRole(t *testing.T) {
	critical := RouteTask(Critical, Task)
	if critical.Params.ModelByRole["planner"] != "opus" {
		t.Errorf("expected planner@CRITICAL = opus, got %q", critical.Params.ModelByRole["planner"])
	}
	if critical.Params.ModelByRole["worker"] != "sonnet" {
		t.Errorf("expected worker@CRITICAL = sonnet, got %q", critical.Params.ModelByRole["worker"])
	}

	trivial := RouteTask(Trivial, Task)
	if trivial.Params.ModelByRole["worker"] != "haiku" {
		t.Errorf("expected any@TRIVIAL = haiku, got %q", trivial.Params.ModelByRole["worker"])
	}
}

func TestRouteTaskIsPure(t *testing.T) {
	a := RouteTask(Standard, Task)
	b := RouteTask(Standard, Task)
	if a.Base != b.Base || a.Params.ValidatorCount != b.Params.ValidatorCount || a.Params.MaxTokens != b.Params.MaxTokens {
		t.Error("expected identical inputs to yield identical outputs")
	}
}
