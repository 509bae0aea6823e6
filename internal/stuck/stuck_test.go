package stuck

import "testing"

func TestScoreAccumulatesEachIndicator(t *testing.T) {
	stuckAnalysis := Analysis{
		ProcessState:      "S",
		WaitChannel:       "epoll",
		CPUPercent:        0.1,
		CtxSwitchDelta:    2,
		NetworkBytesMoved: 0,
	}
	got := score(stuckAnalysis)
	if got < stuckThreshold {
		t.Errorf("score = %d, want >= %d for a fully-stuck profile", got, stuckThreshold)
	}
}

func TestScoreLowForActiveProcess(t *testing.T) {
	active := Analysis{
		ProcessState:      "R",
		WaitChannel:       "",
		CPUPercent:        45.0,
		CtxSwitchDelta:    500,
		NetworkBytesMoved: 4096,
	}
	got := score(active)
	if got >= stuckThreshold {
		t.Errorf("score = %d, want < %d for an active profile", got, stuckThreshold)
	}
}

func TestIsStuckUsesThreshold(t *testing.T) {
	if IsStuck(Analysis{Score: stuckThreshold - 1}) {
		t.Error("expected score below threshold to not be stuck")
	}
	if !IsStuck(Analysis{Score: stuckThreshold}) {
		t.Error("expected score at threshold to be stuck")
	}
}
