package ingestion

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/types"
)

func testConversation() *types.Conversation {
	return &types.Conversation{
		ID:     uuid.MustParse("0f2e6b1a-4c83-45d9-9e07-6a5b8c2d1f30"),
		UserID: uuid.MustParse("8a1b3c5d-7e90-42f1-a6b8-0c2d4e6f8a90"),
		Status: types.ConversationEnded,
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	analysis, err := ParseAnalysis(validAnalysisJSON)
	if err != nil {
		t.Fatalf("ParseAnalysis: %v", err)
	}
	conv := testConversation()

	units1, concepts1, growth1, edges1 := Derive(conv, analysis)
	units2, concepts2, growth2, edges2 := Derive(conv, analysis)

	if len(units1) != 1 || len(concepts1) != 2 || len(growth1) != 1 {
		t.Fatalf("unexpected cardinality: units=%d concepts=%d growth=%d", len(units1), len(concepts1), len(growth1))
	}
	if units1[0].ID != units2[0].ID {
		t.Fatalf("memory unit id unstable: %s vs %s", units1[0].ID, units2[0].ID)
	}
	for i := range concepts1 {
		if concepts1[i].ID != concepts2[i].ID {
			t.Fatalf("concept id unstable at %d", i)
		}
	}
	if growth1[0].ID != growth2[0].ID {
		t.Fatalf("growth event id unstable")
	}
	if len(edges1) != len(edges2) {
		t.Fatalf("edge count unstable: %d vs %d", len(edges1), len(edges2))
	}
}

func TestDeriveCollapsesDuplicateConceptNames(t *testing.T) {
	conv := testConversation()
	analysis := &ConversationAnalysis{
		Importance: 0.5,
		Summary:    "Talked about running again.",
		Concepts: []ExtractedConcept{
			{Name: "Running", Type: "activity", Salience: 0.4},
			{Name: "running", Type: "activity", Salience: 0.7},
			{Name: " RUNNING ", Type: "activity", Salience: 0.2},
		},
	}
	if err := analysis.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	_, concepts, _, _ := Derive(conv, analysis)
	if len(concepts) != 1 {
		t.Fatalf("expected 1 concept, got %d", len(concepts))
	}
	c := concepts[0]
	if c.Name != "running" {
		t.Fatalf("name not normalized: %q", c.Name)
	}
	if c.Salience != 0.7 {
		t.Fatalf("expected max salience 0.7, got %v", c.Salience)
	}
	if c.ID != ConceptID(conv.UserID, "Running") {
		t.Fatalf("id does not match normalized derivation")
	}
}

func TestDeriveSameContentDifferentConversations(t *testing.T) {
	analysis := &ConversationAnalysis{
		Importance: 0.5,
		Summary:    "s",
		MemoryUnits: []ExtractedMemoryUnit{
			{Title: "t", Content: "Went for a run at sunrise.", Importance: 0.5},
		},
	}
	convA := testConversation()
	convB := testConversation()
	convB.ID = uuid.New()

	unitsA, _, _, _ := Derive(convA, analysis)
	unitsB, _, _, _ := Derive(convB, analysis)
	if unitsA[0].ID == unitsB[0].ID {
		t.Fatal("memory unit ids must be scoped to the conversation")
	}
}

func TestDeriveEdgesReferenceDerivedIDs(t *testing.T) {
	analysis, err := ParseAnalysis(validAnalysisJSON)
	if err != nil {
		t.Fatalf("ParseAnalysis: %v", err)
	}
	conv := testConversation()
	units, concepts, _, edges := Derive(conv, analysis)

	known := map[uuid.UUID]bool{}
	for _, u := range units {
		known[u.ID] = true
	}
	for _, c := range concepts {
		known[c.ID] = true
	}
	if len(edges) == 0 {
		t.Fatal("expected derived edges")
	}
	for _, e := range edges {
		if !known[e.SourceID] || !known[e.TargetID] {
			t.Fatalf("edge references unknown entity: %+v", e)
		}
		if e.CreatedBy != edgeCreatedByIngestion {
			t.Fatalf("edge created_by = %q", e.CreatedBy)
		}
	}
}

func TestAppendRollingKeepsTail(t *testing.T) {
	out := appendRolling("", "first summary", 50)
	if out != "first summary" {
		t.Fatalf("got %q", out)
	}
	out = appendRolling(out, "second summary that is fairly long indeed", 50)
	if len(out) > 50 {
		t.Fatalf("limit exceeded: %d", len(out))
	}
	if want := "second summary that is fairly long indeed"; !strings.Contains(out, want) {
		t.Fatalf("tail lost: %q", out)
	}
}
