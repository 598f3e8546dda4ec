package ontology

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/types"
)

func makeConcepts(n int) []*types.Concept {
	out := make([]*types.Concept, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &types.Concept{
			ID:       uuid.New(),
			Name:     "concept",
			Type:     "theme",
			Salience: 0.5,
		})
	}
	return out
}

func TestSampleForFoundationIsOrderIndependent(t *testing.T) {
	concepts := makeConcepts(50)
	units := []*types.MemoryUnit{
		{ID: uuid.New(), Title: "a", Content: "something happened"},
		{ID: uuid.New(), Title: "b", Content: "something else happened"},
	}

	first := SampleForFoundation(concepts, units, 2000)

	shuffled := make([]*types.Concept, len(concepts))
	copy(shuffled, concepts)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	second := SampleForFoundation(shuffled, units, 2000)

	if len(first) == 0 {
		t.Fatal("empty sample")
	}
	if len(first) != len(second) {
		t.Fatalf("sample size differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("sample order differs at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestSampleForFoundationHonorsBudgetBeforeTheCall(t *testing.T) {
	concepts := makeConcepts(200)
	budget := 500
	sample := SampleForFoundation(concepts, nil, budget)
	total := 0
	for _, e := range sample {
		total += len(e.Text) + 1
	}
	if total > budget {
		t.Fatalf("sample exceeds budget: %d > %d", total, budget)
	}
	if len(sample) == 0 || len(sample) == len(concepts) {
		t.Fatalf("budget had no effect: %d of %d", len(sample), len(concepts))
	}
}

func TestClampRangeBounds(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Oversized window shrinks to the max span.
	start, end := ClampRange(now.AddDate(0, -2, 0), now, now)
	if end != now || end.Sub(start) != 7*24*time.Hour {
		t.Fatalf("oversized window: start=%v end=%v", start, end)
	}

	// Undersized window grows to the min span.
	start, end = ClampRange(now.Add(-time.Hour), now, now)
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("undersized window: %v", end.Sub(start))
	}

	// Zero start defaults to the max lookback.
	start, end = ClampRange(time.Time{}, time.Time{}, now)
	if end != now || end.Sub(start) != 7*24*time.Hour {
		t.Fatalf("default window: start=%v end=%v", start, end)
	}

	// In-bounds windows are untouched.
	wantStart := now.Add(-3 * 24 * time.Hour)
	start, end = ClampRange(wantStart, now, now)
	if start != wantStart || end != now {
		t.Fatalf("in-bounds window modified: start=%v end=%v", start, end)
	}
}

func TestCommunityIDDeterministic(t *testing.T) {
	cycleID := uuid.New()
	if CommunityID(cycleID, "Fitness & Health") != CommunityID(cycleID, "fitness  & health") {
		t.Fatal("theme normalization not applied")
	}
	if CommunityID(cycleID, "fitness") == CommunityID(uuid.New(), "fitness") {
		t.Fatal("community id must be scoped to the cycle")
	}
}
