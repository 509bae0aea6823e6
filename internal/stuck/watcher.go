package stuck

import (
	"context"
	"log"
	"time"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
)

// AgentLiveness is the minimal view of a running agent the watcher needs:
// its host PID and the time its last output line was observed.
type AgentLiveness struct {
	AgentID        string
	PID            int
	LastOutputTime func() time.Time
	StaleDuration  time.Duration
}

// Watcher samples a set of running agents on PollInterval and publishes
// AGENT_STALE_WARNING when an agent crosses the stuck threshold.
// Informational only: it never kills anything.
type Watcher struct {
	ledger    *ledger.Ledger
	clusterID string
}

// New creates a Watcher publishing onto ledger, scoped to clusterID. If
// Enabled() is false (non-Linux build), Watch is a no-op.
func New(ledger *ledger.Ledger, clusterID string) *Watcher {
	return &Watcher{ledger: ledger, clusterID: clusterID}
}

// Watch samples agent every PollInterval until ctx is done.
func (w *Watcher) Watch(ctx context.Context, agent AgentLiveness) {
	if !Enabled() {
		return
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Since(agent.LastOutputTime()) < agent.StaleDuration {
			continue
		}

		analysis, err := Sample(agent.PID)
		if err != nil {
			log.Printf("[stuck] sampling agent %s (pid %d): %v", agent.AgentID, agent.PID, err)
			continue
		}
		if analysis.Inconclusive {
			log.Printf("[stuck] agent %s (pid %d) died mid-analysis, inconclusive", agent.AgentID, agent.PID)
			continue
		}
		if !IsStuck(analysis) {
			continue
		}

		w.ledger.Publish(ledger.Message{
			ClusterID: w.clusterID,
			Topic:     "AGENT_STALE_WARNING",
			Sender:    "system",
			Receiver:  "broadcast",
			Content: ledger.Content{Data: map[string]interface{}{
				"agentId":           agent.AgentID,
				"pid":               analysis.PID,
				"processState":      analysis.ProcessState,
				"waitChannel":       analysis.WaitChannel,
				"cpuPercent":        analysis.CPUPercent,
				"ctxSwitchDelta":    analysis.CtxSwitchDelta,
				"networkBytesMoved": analysis.NetworkBytesMoved,
				"score":             analysis.Score,
			}},
		})
	}
}
