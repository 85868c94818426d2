package research

import (
	"testing"
)

func TestDecodeLLMJSONPlain(t *testing.T) {
	var out struct {
		Summary   string  `json:"summary"`
		Relevance float64 `json:"relevance"`
	}
	if err := decodeLLMJSON(`{"summary": "fine", "relevance": 0.9}`, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Summary != "fine" || out.Relevance != 0.9 {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestDecodeLLMJSONCodeFence(t *testing.T) {
	raw := "```json\n{\"key_findings\": [\"a\", \"b\"]}\n```"
	var out struct {
		KeyFindings []string `json:"key_findings"`
	}
	if err := decodeLLMJSON(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.KeyFindings) != 2 {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestDecodeLLMJSONProseWrapped(t *testing.T) {
	raw := `Sure, here is the result: {"assessment": "solid"} hope that helps!`
	var out struct {
		Assessment string `json:"assessment"`
	}
	if err := decodeLLMJSON(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Assessment != "solid" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestDecodeLLMJSONRepairsSloppyOutput(t *testing.T) {
	raw := `{'summary': 'single quotes', 'key_points': ['a', 'b',]}`
	var out struct {
		Summary   string   `json:"summary"`
		KeyPoints []string `json:"key_points"`
	}
	if err := decodeLLMJSON(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Summary != "single quotes" || len(out.KeyPoints) != 2 {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestDecodeLLMJSONArray(t *testing.T) {
	raw := "Here you go:\n```\n[\"one\", \"two\"]\n```"
	var out []string
	if err := decodeLLMJSON(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0] != "one" {
		t.Fatalf("unexpected decode: %v", out)
	}
}

func TestDecodeLLMJSONEmpty(t *testing.T) {
	var out map[string]any
	if err := decodeLLMJSON("   ", &out); err == nil {
		t.Fatalf("expected an error for an empty completion")
	}
}

func TestExtractFirstJSONNested(t *testing.T) {
	raw := `prefix {"outer": {"inner": "value {with} braces"}} suffix {"second": true}`
	got := extractFirstJSON(raw)
	want := `{"outer": {"inner": "value {with} braces"}}`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
