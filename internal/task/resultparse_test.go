package task

import (
	"testing"

	"github.com/sjennings/zeroshot-sub001/internal/engineerr"
)

func TestParseLogLineStripsEpochPrefixAndParsesJSON(t *testing.T) {
	line, ok := parseLogLine(`[1700000000000] {"type":"stdout","text":"hello"}`)
	if !ok {
		t.Fatal("expected line to be accepted")
	}
	if line.timestampMs != 1700000000000 {
		t.Errorf("timestampMs = %d, want 1700000000000", line.timestampMs)
	}
	if line.typ != "stdout" {
		t.Errorf("typ = %q, want stdout", line.typ)
	}
}

func TestParseLogLineSkipsDecorativeLines(t *testing.T) {
	cases := []string{
		"----------------",
		"========",
		"Finished: ok",
		"Exit code: 0",
		"not json at all",
		`{"type":"system","event":"init"}`,
	}
	for _, c := range cases {
		if _, ok := parseLogLine(c); ok {
			t.Errorf("expected %q to be dropped", c)
		}
	}
}

func TestParseLogLineDropsMalformedJSON(t *testing.T) {
	if _, ok := parseLogLine(`{not valid json`); ok {
		t.Fatal("expected malformed JSON to be dropped")
	}
}

func TestExtractErrorPrefersStatusText(t *testing.T) {
	got := extractError("Status: failed\nError: disk full", "some trailing output")
	if got != "disk full" {
		t.Errorf("got %q, want %q", got, "disk full")
	}
}

func TestExtractErrorRejectsCorruptedPseudoType(t *testing.T) {
	got := extractError("Status: failed\nError: string | null", "panic: real failure here")
	if got != "real failure here" {
		t.Errorf("got %q, want fallback to tail scan", got)
	}
}

func TestExtractErrorFallsBackToGenericMessage(t *testing.T) {
	got := extractError("Status: failed", "nothing interesting happened")
	if got == "" {
		t.Fatal("expected non-empty fallback message")
	}
}

func TestParseResultPrefersStructuredOutputWhenSchemaConfigured(t *testing.T) {
	lines := []outputLine{
		{typ: "result", raw: []byte(`{"type":"result","structured_output":{"ok":true},"result":"ignored"}`)},
	}
	obj, err := parseResult(lines, "", true)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if obj["ok"] != true {
		t.Errorf("expected structured_output to win, got %v", obj)
	}
}

func TestParseResultFallsBackToResultField(t *testing.T) {
	lines := []outputLine{
		{typ: "result", raw: []byte(`{"type":"result","result":{"answer":42}}`)},
	}
	obj, err := parseResult(lines, "", false)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if obj["answer"] != float64(42) {
		t.Errorf("got %v", obj)
	}
}

func TestParseResultExtractsFencedJSONFromResultString(t *testing.T) {
	lines := []outputLine{
		{typ: "result", raw: []byte("{\"type\":\"result\",\"result\":\"here: ```json\\n{\\\"x\\\":1}\\n```\"}")},
	}
	obj, err := parseResult(lines, "", false)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if obj["x"] != float64(1) {
		t.Errorf("got %v", obj)
	}
}

func TestParseResultFailsWhenNoStrategyMatches(t *testing.T) {
	_, err := parseResult(nil, "plain text with no json at all", false)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !engineerr.Is(err, engineerr.OutputParseError) {
		t.Errorf("expected OutputParseError kind, got %v", err)
	}
}

func TestBuildArgvStrictSchemaDefault(t *testing.T) {
	argv := buildArgv(SpawnRequest{
		Context:      "do the thing",
		JSONSchema:   `{"type":"object"}`,
		StrictSchema: true,
	})
	found := false
	for i, a := range argv {
		if a == "--json-schema" && i+1 < len(argv) && argv[i+1] == `{"type":"object"}` {
			found = true
		}
	}
	if !found {
		t.Errorf("expected --json-schema flag in argv, got %v", argv)
	}
	if argv[len(argv)-1] != "do the thing" {
		t.Errorf("expected context as final positional arg, got %v", argv)
	}
}

func TestBuildArgvNonStrictAppendsSchemaToPrompt(t *testing.T) {
	argv := buildArgv(SpawnRequest{
		Context:      "do the thing",
		JSONSchema:   `{"type":"object"}`,
		StrictSchema: false,
	})
	for _, a := range argv {
		if a == "--json-schema" {
			t.Fatal("did not expect --json-schema flag in non-strict mode")
		}
	}
	last := argv[len(argv)-1]
	if last == "do the thing" {
		t.Error("expected schema to be appended to the context in non-strict mode")
	}
}
