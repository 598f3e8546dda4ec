package reconciler

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/ingestion"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/platform/vector"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

func entry(entityID uuid.UUID, vectorID string, dim int) vector.Entry {
	return vector.Entry{
		VectorID: vectorID,
		Dim:      dim,
		Payload:  map[string]any{"entity_id": entityID.String()},
	}
}

func TestPlanVectorRepairsDeletesOrphans(t *testing.T) {
	live := uuid.New()
	gone := uuid.New()
	entries := []vector.Entry{
		entry(live, "concept:"+live.String()+":aa", 3072),
		entry(gone, "concept:"+gone.String()+":bb", 3072),
	}
	deletes := PlanVectorRepairs(entries, map[uuid.UUID]bool{live: true})
	if len(deletes) != 1 || deletes[0] != "concept:"+gone.String()+":bb" {
		t.Fatalf("deletes = %v", deletes)
	}
}

func TestPlanVectorRepairsCollapsesDuplicatesKeepingMostComplete(t *testing.T) {
	id := uuid.New()
	entries := []vector.Entry{
		entry(id, "memory_unit:"+id.String()+":partial", 128),
		entry(id, "memory_unit:"+id.String()+":full", 3072),
		entry(id, "memory_unit:"+id.String()+":alsopartial", 512),
	}
	deletes := PlanVectorRepairs(entries, map[uuid.UUID]bool{id: true})
	if len(deletes) != 2 {
		t.Fatalf("expected 2 deletions, got %v", deletes)
	}
	for _, d := range deletes {
		if d == "memory_unit:"+id.String()+":full" {
			t.Fatal("most complete entry was deleted")
		}
	}
}

func TestPlanVectorRepairsDuplicateTieBreakIsDeterministic(t *testing.T) {
	id := uuid.New()
	a := entry(id, "concept:"+id.String()+":aa", 3072)
	b := entry(id, "concept:"+id.String()+":bb", 3072)
	exists := map[uuid.UUID]bool{id: true}

	first := PlanVectorRepairs([]vector.Entry{a, b}, exists)
	second := PlanVectorRepairs([]vector.Entry{b, a}, exists)
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Fatalf("tie-break unstable: %v vs %v", first, second)
	}
	// Lexicographically smaller id survives.
	if first[0] != "concept:"+id.String()+":bb" {
		t.Fatalf("unexpected victim %v", first)
	}
}

func TestPlanVectorRepairsDeletesUnattributableEntries(t *testing.T) {
	entries := []vector.Entry{
		{VectorID: "stray", Dim: 3072, Payload: map[string]any{}},
		{VectorID: "garbled", Dim: 3072, Payload: map[string]any{"entity_id": "not-a-uuid"}},
	}
	deletes := PlanVectorRepairs(entries, map[uuid.UUID]bool{})
	if len(deletes) != 2 {
		t.Fatalf("deletes = %v", deletes)
	}
}

func TestPlanVectorRepairsLeavesHealthyEntriesAlone(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	entries := []vector.Entry{
		entry(a, "concept:"+a.String()+":aa", 3072),
		entry(b, "concept:"+b.String()+":bb", 3072),
	}
	deletes := PlanVectorRepairs(entries, map[uuid.UUID]bool{a: true, b: true})
	if len(deletes) != 0 {
		t.Fatalf("healthy entries deleted: %v", deletes)
	}
}

type pagedVectorStore struct {
	pages   map[string][][]vector.Entry
	deleted map[string][]string
}

func (s *pagedVectorStore) Upsert(context.Context, string, []vector.Point) error { return nil }

func (s *pagedVectorStore) Query(context.Context, string, []float32, int, map[string]any) ([]vector.Match, error) {
	return nil, nil
}

func (s *pagedVectorStore) Scroll(_ context.Context, namespace, offset string, _ int) ([]vector.Entry, string, error) {
	pages := s.pages[namespace]
	idx := 0
	if offset != "" {
		idx, _ = strconv.Atoi(offset)
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = strconv.Itoa(idx + 1)
	}
	return pages[idx], next, nil
}

func (s *pagedVectorStore) DeleteIDs(_ context.Context, namespace string, vectorIDs []string) error {
	if s.deleted == nil {
		s.deleted = map[string][]string{}
	}
	s.deleted[namespace] = append(s.deleted[namespace], vectorIDs...)
	return nil
}

type existingUnits struct{ ids map[uuid.UUID]bool }

func (existingUnits) UpsertBatch(context.Context, *gorm.DB, []*types.MemoryUnit) error { return nil }
func (existingUnits) GetByIDs(context.Context, *gorm.DB, []uuid.UUID) ([]*types.MemoryUnit, error) {
	return nil, nil
}
func (existingUnits) ListByUserRange(context.Context, *gorm.DB, uuid.UUID, time.Time, time.Time, int) ([]*types.MemoryUnit, error) {
	return nil, nil
}
func (existingUnits) ListUnembedded(context.Context, *gorm.DB, time.Time, int) ([]*types.MemoryUnit, error) {
	return nil, nil
}
func (existingUnits) MarkEmbedded(context.Context, *gorm.DB, []uuid.UUID, time.Time) error {
	return nil
}
func (e existingUnits) FilterExisting(_ context.Context, _ *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	for _, id := range ids {
		if e.ids[id] {
			out[id] = true
		}
	}
	return out, nil
}

type existingConcepts struct{ ids map[uuid.UUID]bool }

func (existingConcepts) UpsertBatch(context.Context, *gorm.DB, []*types.Concept) error { return nil }
func (existingConcepts) GetByIDs(context.Context, *gorm.DB, []uuid.UUID) ([]*types.Concept, error) {
	return nil, nil
}
func (existingConcepts) ListActiveByUserRange(context.Context, *gorm.DB, uuid.UUID, time.Time, time.Time, int) ([]*types.Concept, error) {
	return nil, nil
}
func (existingConcepts) ResolveForwarding(context.Context, *gorm.DB, []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	return nil, nil
}
func (existingConcepts) MarkMerged(context.Context, *gorm.DB, []uuid.UUID, uuid.UUID) error {
	return nil
}
func (existingConcepts) AssignCommunity(context.Context, *gorm.DB, []uuid.UUID, uuid.UUID) error {
	return nil
}
func (existingConcepts) ListUnembedded(context.Context, *gorm.DB, time.Time, int) ([]*types.Concept, error) {
	return nil, nil
}
func (existingConcepts) MarkEmbedded(context.Context, *gorm.DB, []uuid.UUID, time.Time) error {
	return nil
}
func (e existingConcepts) FilterExisting(_ context.Context, _ *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	for _, id := range ids {
		if e.ids[id] {
			out[id] = true
		}
	}
	return out, nil
}

func TestRepairVectorsCollapsesDuplicatesAcrossScrollPages(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	dup := uuid.New()
	healthy := uuid.New()
	partialID := "memory_unit:" + dup.String() + ":partial"
	fullID := "memory_unit:" + dup.String() + ":full"
	store := &pagedVectorStore{
		pages: map[string][][]vector.Entry{
			ingestion.NamespaceMemoryUnits: {
				{entry(dup, partialID, 128), entry(healthy, "memory_unit:"+healthy.String()+":aa", 3072)},
				{entry(dup, fullID, 3072)},
			},
		},
	}

	r := New(Deps{
		Concepts:    existingConcepts{},
		MemoryUnits: existingUnits{ids: map[uuid.UUID]bool{dup: true, healthy: true}},
		Vectors:     store,
		Log:         log,
	}, Config{BatchLimit: 2})

	repaired, err := r.repairVectors(context.Background())
	if err != nil {
		t.Fatalf("repairVectors: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("expected 1 repair, got %d", repaired)
	}
	deleted := store.deleted[ingestion.NamespaceMemoryUnits]
	if len(deleted) != 1 || deleted[0] != partialID {
		t.Fatalf("expected the partial duplicate deleted, got %v", deleted)
	}
}
