// Package ctxbuild assembles the single UTF-8 prompt string an agent hands
// its task runner: identity/iteration headers, fixed operating preambles,
// one block per configured ledger source, and the triggering message,
// all under a hard character ceiling.
//
// Grounded directly on the teacher's agentloop.ContextManager
// (internal/agentloop/context.go): its keep-system/keep-recent/
// summarize-middle/trim-tool-results structure is repurposed here from
// "shrink an LLM conversation" to "shrink a ledger-sourced prompt string" —
// protect the edges, compress the middle, never silently reorder — with
// token-budget-over-messages swapped for char-budget-over-rendered-text
// per MAX_CONTEXT_CHARS.
package ctxbuild

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
)

// MAX_CONTEXT_CHARS is the hard ceiling on the assembled context string.
const MAX_CONTEXT_CHARS = 500000

const (
	autonomousExecutionPreamble = "You are operating autonomously. Complete the assigned task without " +
		"asking the user for confirmation or additional input; make the best reasonable decision yourself " +
		"and proceed."
	minimalOutputPreamble = "Keep your final output minimal: report only what changed and any decisions " +
		"that a reviewer needs to see, not a narration of your process."
	gitOperationsForbiddenBlock = "You are running directly on the host repository outside any worktree " +
		"or isolated clone. Do not run git commands that mutate history or branches (commit, push, " +
		"checkout, merge, rebase, reset). Read-only git inspection is fine."
)

// Source is one entry of contextStrategy.sources.
type Source struct {
	Topic  string
	Sender string
	Since  string // literal ms-epoch string, "cluster_start", or "last_task_end"
	Limit  int
}

// Identity is the agent identity rendered in the header.
type Identity struct {
	ID   string
	Role string
}

// Environment carries the sandbox-mode flags that decide whether the
// git-operations-forbidden block is emitted.
type Environment struct {
	WorktreeEnabled  bool
	IsolationEnabled bool
}

// Params bundles everything BuildContext needs.
type Params struct {
	Agent             Identity
	Iteration         int
	SystemPrompt      string
	Sources           []Source
	Env               Environment
	TriggeringMessage ledger.Message
	Ledger            *ledger.Ledger
	ClusterID         string
	ClusterCreatedAt  int64 // ms epoch
	LastTaskEndTime   int64 // ms epoch, 0 if unset
	MaxTokens         int   // legacy secondary ceiling; 0 disables it
}

// BuildContext assembles the prompt string per Params.
func BuildContext(p Params) string {
	var b strings.Builder

	writeHeader(&b, p)

	for _, src := range p.Sources {
		writeSourceBlock(&b, p, src)
	}

	triggeringBlock := renderTriggeringMessage(p.TriggeringMessage)
	b.WriteString(triggeringBlock)

	result := b.String()
	result = truncate(result, p, triggeringBlock)

	if p.MaxTokens > 0 {
		legacyCeiling := p.MaxTokens * 4
		if len(result) > legacyCeiling {
			const suffix = "\n[Context truncated...]"
			cut := legacyCeiling - len(suffix)
			if cut < 0 {
				cut = 0
			}
			result = result[:cut] + suffix
		}
	}

	return result
}

func writeHeader(b *strings.Builder, p Params) {
	fmt.Fprintf(b, "Agent: %s (%s)\n", p.Agent.ID, p.Agent.Role)
	fmt.Fprintf(b, "Iteration: %d\n\n", p.Iteration)

	if p.SystemPrompt != "" {
		b.WriteString(p.SystemPrompt)
		b.WriteString("\n\n")
	}

	b.WriteString(autonomousExecutionPreamble)
	b.WriteString("\n\n")
	b.WriteString(minimalOutputPreamble)
	b.WriteString("\n\n")

	if !p.Env.WorktreeEnabled && !p.Env.IsolationEnabled {
		b.WriteString(gitOperationsForbiddenBlock)
		b.WriteString("\n\n")
	}
}

func resolveSince(since string, p Params) int64 {
	switch since {
	case "cluster_start":
		return p.ClusterCreatedAt
	case "last_task_end":
		if p.LastTaskEndTime != 0 {
			return p.LastTaskEndTime
		}
		return p.ClusterCreatedAt
	case "":
		return 0
	default:
		var ts int64
		if _, err := fmt.Sscanf(since, "%d", &ts); err == nil {
			return ts
		}
		return 0
	}
}

func writeSourceBlock(b *strings.Builder, p Params, src Source) {
	criteria := ledger.Criteria{
		ClusterID: p.ClusterID,
		Topic:     src.Topic,
		Sender:    src.Sender,
		Since:     resolveSince(src.Since, p),
		Limit:     src.Limit,
	}
	msgs := p.Ledger.Query(criteria)

	fmt.Fprintf(b, "## Messages from topic: %s\n\n", src.Topic)
	for _, m := range msgs {
		writeMessageLine(b, m)
	}
	b.WriteString("\n")
}

func writeMessageLine(b *strings.Builder, m ledger.Message) {
	ts := time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339)
	fmt.Fprintf(b, "[%s] %s: %s\n", ts, m.Sender, m.Content.Text)
	if len(m.Content.Data) > 0 {
		pretty, err := json.MarshalIndent(m.Content.Data, "", "  ")
		if err == nil {
			b.Write(pretty)
			b.WriteString("\n")
		}
	}
}

func renderTriggeringMessage(m ledger.Message) string {
	var b strings.Builder
	b.WriteString("## Triggering Message\n\n")
	writeMessageLine(&b, m)
	return b.String()
}

// truncate enforces MAX_CONTEXT_CHARS. When the assembled string exceeds
// it, it preserves the header/preamble prefix, the first ISSUE_OPENED
// block if present, and the triggering-message block in full, filling
// the remaining budget from the middle with the most recent lines.
func truncate(full string, p Params, triggeringBlock string) string {
	if len(full) <= MAX_CONTEXT_CHARS {
		return full
	}

	headerEnd := strings.Index(full, "## Messages from topic:")
	if headerEnd < 0 {
		headerEnd = 0
	}
	header := full[:headerEnd]

	triggerStart := strings.LastIndex(full, "## Triggering Message")
	if triggerStart < 0 {
		triggerStart = len(full)
	}
	middle := full[headerEnd:triggerStart]

	issueOpenedBlock := extractIssueOpenedBlock(p)

	budget := MAX_CONTEXT_CHARS - len(header) - len(triggeringBlock) - len(issueOpenedBlock)
	marker := ""
	var keptMiddle string
	if budget <= 0 {
		keptMiddle = ""
		marker = fmt.Sprintf("[...%d earlier context messages truncated...]\n", countMessageLines(middle))
	} else {
		lines := strings.SplitAfter(middle, "\n")
		var kept []string
		dropped := 0
		total := 0
		for i := len(lines) - 1; i >= 0; i-- {
			total += len(lines[i])
			if total > budget-64 { // reserve room for the marker itself
				dropped++
				continue
			}
			kept = append([]string{lines[i]}, kept...)
		}
		keptMiddle = strings.Join(kept, "")
		if dropped > 0 {
			marker = fmt.Sprintf("[...%d earlier context messages truncated...]\n", dropped)
		}
	}

	var out strings.Builder
	out.WriteString(header)
	if issueOpenedBlock != "" {
		out.WriteString(issueOpenedBlock)
	}
	out.WriteString(marker)
	out.WriteString(keptMiddle)
	out.WriteString(triggeringBlock)
	return out.String()
}

func countMessageLines(s string) int {
	return strings.Count(s, "\n")
}

// extractIssueOpenedBlock renders the full ISSUE_OPENED topic block (if
// any such message exists) so truncate can preserve it verbatim even when
// it would otherwise fall outside the retained middle window.
func extractIssueOpenedBlock(p Params) string {
	msgs := p.Ledger.Query(ledger.Criteria{ClusterID: p.ClusterID, Topic: "ISSUE_OPENED"})
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Messages from topic: ISSUE_OPENED\n\n")
	for _, m := range msgs {
		writeMessageLine(&b, m)
	}
	b.WriteString("\n")
	return b.String()
}
