package ontology

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func knownSet(names ...string) map[string]bool {
	out := map[string]bool{}
	for _, n := range names {
		out[n] = true
	}
	return out
}

func TestParsePlanDropsUnknownReferences(t *testing.T) {
	raw := `{
	  "communities": [
	    {"theme": "Fitness", "strategic_importance": 8, "concepts": ["running", "unknown concept"]},
	    {"theme": "Ghost town", "strategic_importance": 5, "concepts": ["nobody"]}
	  ],
	  "merges": [
	    {"survivor": "running", "duplicates": ["jogging", "nobody"]}
	  ],
	  "relationships": [
	    {"source": "running", "target": "jogging", "type": "similar_to", "strength": 0.9},
	    {"source": "running", "target": "nobody", "type": "related_to", "strength": 0.5}
	  ]
	}`
	plan, err := ParsePlan(raw, knownSet("running", "jogging"))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if len(plan.Communities) != 1 || len(plan.Communities[0].Concepts) != 1 {
		t.Fatalf("communities = %+v", plan.Communities)
	}
	if len(plan.Merges) != 1 || len(plan.Merges[0].Duplicates) != 1 || plan.Merges[0].Duplicates[0] != "jogging" {
		t.Fatalf("merges = %+v", plan.Merges)
	}
	if len(plan.Relationships) != 1 {
		t.Fatalf("relationships = %+v", plan.Relationships)
	}
}

func TestParsePlanRejectsStructuralViolations(t *testing.T) {
	known := knownSet("a", "b")
	cases := map[string]string{
		"not json":          "communities: none",
		"importance low":    `{"communities": [{"theme": "x", "strategic_importance": 0, "concepts": ["a"]}]}`,
		"importance high":   `{"communities": [{"theme": "x", "strategic_importance": 11, "concepts": ["a"]}]}`,
		"empty theme":       `{"communities": [{"theme": "  ", "strategic_importance": 5, "concepts": ["a"]}]}`,
		"strength range":    `{"relationships": [{"source": "a", "target": "b", "type": "t", "strength": 1.5}]}`,
		"missing edge type": `{"relationships": [{"source": "a", "target": "b", "type": "", "strength": 0.5}]}`,
	}
	for name, raw := range cases {
		if _, err := ParsePlan(raw, known); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParsePlanClampsToPerCycleBounds(t *testing.T) {
	names := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		names = append(names, fmt.Sprintf("c%02d", i))
	}
	known := knownSet(names...)

	dups := make([]string, 0, 50)
	for _, n := range names[1:51] {
		dups = append(dups, n)
	}
	rels := make([]PlannedRelationship, 0, 60)
	for i := 0; i < 60; i++ {
		rels = append(rels, PlannedRelationship{
			Source: names[i], Target: names[(i+1)%len(names)], Type: "linked_to", Strength: 0.5,
		})
	}
	rawPlan := OptimizationPlan{
		Merges:        []PlannedMerge{{Survivor: names[0], Duplicates: dups}},
		Relationships: rels,
	}
	encoded, err := json.Marshal(rawPlan)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	plan, err := ParsePlan(string(encoded), known)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	totalDups := 0
	for _, m := range plan.Merges {
		totalDups += len(m.Duplicates)
	}
	if totalDups > MaxMergesPerCycle() {
		t.Fatalf("merge cap not enforced: %d", totalDups)
	}
	if len(plan.Relationships) > MaxStrategicRelationships() {
		t.Fatalf("relationship cap not enforced: %d", len(plan.Relationships))
	}
}

func TestParsePlanStripsCodeFence(t *testing.T) {
	raw := "```json\n" + `{"communities": [{"theme": "x", "strategic_importance": 5, "concepts": ["a"]}]}` + "\n```"
	plan, err := ParsePlan(raw, knownSet("a"))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if len(plan.Communities) != 1 || !strings.EqualFold(plan.Communities[0].Theme, "x") {
		t.Fatalf("plan = %+v", plan)
	}
}
