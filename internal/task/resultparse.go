package task

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sjennings/zeroshot-sub001/internal/engineerr"
)

// errOutputParse is wrapped with engineerr.OutputParseError when no
// parsing strategy in parseResult produces an object.
var errOutputParse = errors.New("output missing required JSON block")

var (
	bracketPrefixRe = regexp.MustCompile(`^\[(\d+)\]\s?`)
	decorativeRe    = regexp.MustCompile(`^[=\-_*]{3,}$`)
	finishedRe      = regexp.MustCompile(`^(Finished:|Exit code:)`)
	initEventRe     = regexp.MustCompile(`"type"\s*:\s*"(system|init)"`)
	statusErrorRe   = regexp.MustCompile(`(?i)Error:\s*(.+)`)
	tailErrorRe     = regexp.MustCompile(`(?i)(Error:|error:|failed:|Exception:|panic:)\s*(.+)`)
	corruptedTypeRe = regexp.MustCompile(`^(string|number|boolean|object|array)(\s*\|\s*null)?$`)
	fencedJSONRe    = regexp.MustCompile("(?s)```json\\s*(.+?)\\s*```")
)

// parseLogLine implements the per-line filtering from spec.md §4.5's log
// follow: strip an optional [<epoch_ms>] prefix, skip decorative lines,
// require the residue to start with '{' and parse as JSON. Returns
// ok=false for anything that should be dropped silently.
func parseLogLine(line string) (outputLine, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return outputLine{}, false
	}

	var ts int64
	if m := bracketPrefixRe.FindStringSubmatch(trimmed); m != nil {
		ts, _ = strconv.ParseInt(m[1], 10, 64)
		trimmed = strings.TrimSpace(trimmed[len(m[0]):])
	}

	if decorativeRe.MatchString(trimmed) || finishedRe.MatchString(trimmed) {
		return outputLine{}, false
	}
	if !strings.HasPrefix(trimmed, "{") {
		return outputLine{}, false
	}
	if initEventRe.MatchString(trimmed) {
		return outputLine{}, false
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return outputLine{}, false
	}
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	typ, _ := obj["type"].(string)
	return outputLine{timestampMs: ts, raw: json.RawMessage(trimmed), typ: typ}, true
}

// extractTokenUsage scans parsed lines for a type:"result" event and
// decodes its token/cost fields.
func extractTokenUsage(lines []outputLine) *TokenUsage {
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].typ != "result" {
			continue
		}
		var usage TokenUsage
		if err := json.Unmarshal(lines[i].raw, &usage); err != nil {
			return nil
		}
		return &usage
	}
	return nil
}

// extractError implements spec.md §4.5's ordered error-extraction
// strategy: prefer "Error: <msg>" from the status text, else scan the
// last 500 output chars for known error markers, else a generic
// fallback. Results matching corrupted pseudo-type patterns (e.g.
// "string | null") are rejected.
func extractError(statusText, lastOutput string) string {
	if m := statusErrorRe.FindStringSubmatch(statusText); m != nil {
		msg := strings.TrimSpace(m[1])
		if msg != "" && !corruptedTypeRe.MatchString(msg) {
			return msg
		}
	}

	tail := lastOutput
	if len(tail) > 500 {
		tail = tail[len(tail)-500:]
	}
	if m := tailErrorRe.FindStringSubmatch(tail); m != nil {
		msg := strings.TrimSpace(m[2])
		if msg != "" && !corruptedTypeRe.MatchString(msg) {
			return msg
		}
	}

	snippet := lastOutput
	if len(snippet) > 200 {
		snippet = snippet[len(snippet)-200:]
	}
	return "Task failed. Last output: " + snippet
}

// parseResult implements spec.md §4.5's multi-strategy result parser.
// lines are the accepted NDJSON events from the log follow; raw is the
// full captured stdout used as a last resort. schemaConfigured is true
// when the agent declared a JSON schema for structured output.
func parseResult(lines []outputLine, raw string, schemaConfigured bool) (map[string]interface{}, error) {
	var resultLine *outputLine
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].typ == "result" {
			resultLine = &lines[i]
			break
		}
	}
	if resultLine == nil && len(lines) > 0 {
		resultLine = &lines[len(lines)-1]
	}

	if resultLine != nil {
		var event map[string]interface{}
		if err := json.Unmarshal(resultLine.raw, &event); err == nil {
			if obj, ok := extractFromResultEvent(event, schemaConfigured); ok {
				return obj, nil
			}
		}
	}

	if obj, ok := extractFencedJSON(raw); ok {
		return obj, nil
	}

	var whole map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &whole); err == nil {
		return whole, nil
	}

	return nil, engineerr.New(engineerr.OutputParseError, errOutputParse)
}

// extractFromResultEvent implements strategy (1): prefer
// structured_output when a schema is configured, else the object's
// result field (itself an object, a fenced ```json block, or bare
// JSON), else the top-level object if it carries non-meta keys.
func extractFromResultEvent(event map[string]interface{}, schemaConfigured bool) (map[string]interface{}, bool) {
	if schemaConfigured {
		if so, ok := event["structured_output"].(map[string]interface{}); ok {
			return so, true
		}
	}

	switch result := event["result"].(type) {
	case map[string]interface{}:
		return result, true
	case string:
		if obj, ok := extractFencedJSON(result); ok {
			return obj, true
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(result)), &obj); err == nil {
			return obj, true
		}
	}

	if hasNonMetaKeys(event) {
		return event, true
	}
	return nil, false
}

func hasNonMetaKeys(event map[string]interface{}) bool {
	meta := map[string]bool{
		"type": true, "result": true, "structured_output": true,
		"inputTokens": true, "outputTokens": true, "cacheReadInputTokens": true,
		"cacheCreationInputTokens": true, "totalCostUsd": true, "durationMs": true,
		"modelUsage": true,
	}
	for k := range event {
		if !meta[k] {
			return true
		}
	}
	return false
}

func extractFencedJSON(s string) (map[string]interface{}, bool) {
	m := fencedJSONRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
