package ingestion

import (
	"strings"
	"testing"
)

const validAnalysisJSON = `{
  "importance": 0.7,
  "summary": "The user committed to training for a spring marathon with their friend Alex.",
  "memory_units": [
    {"title": "Marathon commitment", "content": "Signed up for the spring marathon.", "importance": 0.8, "sentiment": 0.6, "concepts": ["marathon training", "Alex"]}
  ],
  "concepts": [
    {"name": "Marathon Training", "type": "activity", "salience": 0.9},
    {"name": "Alex", "type": "person", "salience": 0.5}
  ],
  "relationships": [
    {"source": "Alex", "target": "Marathon Training", "type": "participates_in", "strength": 0.6}
  ],
  "growth_signals": [
    {"dimension": "act_self", "delta": 0.4, "rationale": "Committed to a concrete physical goal."}
  ]
}`

func TestParseAnalysisAcceptsPlainJSON(t *testing.T) {
	analysis, err := ParseAnalysis(validAnalysisJSON)
	if err != nil {
		t.Fatalf("ParseAnalysis: %v", err)
	}
	if analysis.Importance != 0.7 || len(analysis.Concepts) != 2 {
		t.Fatalf("unexpected analysis %+v", analysis)
	}
}

func TestParseAnalysisStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + validAnalysisJSON + "\n```"
	analysis, err := ParseAnalysis(fenced)
	if err != nil {
		t.Fatalf("ParseAnalysis fenced: %v", err)
	}
	if len(analysis.MemoryUnits) != 1 {
		t.Fatalf("unexpected memory units %+v", analysis.MemoryUnits)
	}
}

func TestParseAnalysisRejectsMalformedOutput(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"prose":              "Here is my analysis of the conversation.",
		"truncated":          validAnalysisJSON[:len(validAnalysisJSON)/2],
		"importance range":   strings.Replace(validAnalysisJSON, `"importance": 0.7`, `"importance": 7`, 1),
		"missing summary":    strings.Replace(validAnalysisJSON, "The user committed to training for a spring marathon with their friend Alex.", "  ", 1),
		"unknown dimension":  strings.Replace(validAnalysisJSON, `"act_self"`, `"act_better"`, 1),
		"sentiment range":    strings.Replace(validAnalysisJSON, `"sentiment": 0.6`, `"sentiment": 2`, 1),
		"dangling reference": strings.Replace(validAnalysisJSON, `"source": "Alex"`, `"source": "Jordan"`, 1),
	}
	for name, raw := range cases {
		if _, err := ParseAnalysis(raw); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestParseAnalysisRejectsSelfEdge(t *testing.T) {
	raw := strings.Replace(validAnalysisJSON, `"target": "Marathon Training"`, `"target": "Alex"`, 1)
	if _, err := ParseAnalysis(raw); err == nil {
		t.Fatal("expected self-edge rejection")
	}
}
