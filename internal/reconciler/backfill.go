package reconciler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/ingestion"
	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/platform/vector"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type BackfillDeps struct {
	MemoryUnits repos.MemoryUnitRepo
	Concepts    repos.ConceptRepo
	Inference   ingestion.Inference
	Vectors     vector.Store
	Log         *logger.Logger
}

// BackfillHandler embeds one entity the reconciler found past its SLA. An
// entity that disappeared in the meantime is a no-op, not a failure.
type BackfillHandler struct {
	d   BackfillDeps
	log *logger.Logger
}

func NewBackfillHandler(d BackfillDeps) *BackfillHandler {
	return &BackfillHandler{d: d, log: d.Log.With("component", "EmbeddingBackfill")}
}

func (h *BackfillHandler) Type() string { return types.JobTypeEmbeddingBackfill }

func (h *BackfillHandler) Run(jc *jobs.Context) error {
	var payload jobs.EmbeddingBackfillPayload
	if err := jobs.DecodePayload(jc.Job, &payload); err != nil {
		jc.FailPermanent("decode", err)
		return nil
	}
	if h.d.Vectors == nil {
		jc.Succeed("noop")
		return nil
	}
	ctx := jc.Ctx

	var (
		text        string
		fingerprint string
		userID      uuid.UUID
		mark        func() error
	)
	switch payload.EntityType {
	case "memory_unit":
		units, err := h.d.MemoryUnits.GetByIDs(ctx, nil, []uuid.UUID{payload.EntityID})
		if err != nil {
			return err
		}
		if len(units) == 0 || units[0].Status != types.MemoryUnitActive {
			jc.Succeed("noop")
			return nil
		}
		u := units[0]
		text = u.Title + "\n" + u.Content
		fingerprint = u.Fingerprint
		userID = u.UserID
		mark = func() error {
			return h.d.MemoryUnits.MarkEmbedded(ctx, nil, []uuid.UUID{u.ID}, time.Now())
		}
	case "concept":
		concepts, err := h.d.Concepts.GetByIDs(ctx, nil, []uuid.UUID{payload.EntityID})
		if err != nil {
			return err
		}
		if len(concepts) == 0 || concepts[0].Status != types.ConceptActive {
			jc.Succeed("noop")
			return nil
		}
		c := concepts[0]
		text = c.Name + " (" + c.Type + ")"
		fingerprint = c.Fingerprint
		userID = c.UserID
		mark = func() error {
			return h.d.Concepts.MarkEmbedded(ctx, nil, []uuid.UUID{c.ID}, time.Now())
		}
	default:
		jc.FailPermanent("decode", fmt.Errorf("unknown entity_type %q", payload.EntityType))
		return nil
	}

	vectors, err := h.d.Inference.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed %s %s: %w", payload.EntityType, payload.EntityID, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return fmt.Errorf("embed %s %s: empty embedding", payload.EntityType, payload.EntityID)
	}

	namespace := ingestion.NamespaceConcepts
	if payload.EntityType == "memory_unit" {
		namespace = ingestion.NamespaceMemoryUnits
	}
	point := vector.Point{
		ID:     ingestion.VectorID(payload.EntityType, payload.EntityID, fingerprint),
		Values: vectors[0],
		Payload: map[string]any{
			"entity_id":     payload.EntityID.String(),
			"entity_type":   payload.EntityType,
			"owner_user_id": userID.String(),
			"fingerprint":   fingerprint,
		},
	}
	if err := h.d.Vectors.Upsert(ctx, namespace, []vector.Point{point}); err != nil {
		return err
	}
	if err := mark(); err != nil {
		return err
	}
	jc.Succeed("embedded")
	return nil
}
