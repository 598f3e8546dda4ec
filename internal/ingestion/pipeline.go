package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/data/graph"
	"github.com/evermind-ai/evermind-backend/internal/inference"
	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/platform/llm"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/platform/neo4jdb"
	"github.com/evermind-ai/evermind-backend/internal/platform/vector"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

const (
	NamespaceMemoryUnits = "memory_unit"
	NamespaceConcepts    = "concept"

	edgeCreatedByIngestion = "ingestion"
	maxProfileChars        = 4000
)

// Inference is the slice of the invocation layer the pipeline needs.
type Inference interface {
	Invoke(ctx context.Context, req llm.GenerateRequest, meta inference.CallMeta) (llm.GenerateResult, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Deps struct {
	DB            *gorm.DB
	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo
	MemoryUnits   repos.MemoryUnitRepo
	Concepts      repos.ConceptRepo
	GrowthEvents  repos.GrowthEventRepo
	Profiles      repos.UserProfileRepo
	Inference     Inference
	Graph         *neo4jdb.Client
	Vectors       vector.Store
	Log           *logger.Logger
}

// Pipeline turns one ended conversation into relational rows, graph nodes
// and vector embeddings. Every persistence step upserts on deterministic
// ids, so a retried job resumes from whatever already committed; the model
// is consulted at most once per conversation lifetime.
type Pipeline struct {
	d   Deps
	log *logger.Logger
}

func NewPipeline(d Deps) *Pipeline {
	return &Pipeline{d: d, log: d.Log.With("component", "IngestionPipeline")}
}

func (p *Pipeline) Type() string { return types.JobTypeConversationIngest }

func (p *Pipeline) Run(jc *jobs.Context) error {
	var payload jobs.IngestionPayload
	if err := jobs.DecodePayload(jc.Job, &payload); err != nil {
		jc.FailPermanent("decode", err)
		return nil
	}
	ctx := jc.Ctx

	conv, err := p.d.Conversations.GetByID(ctx, nil, payload.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		jc.FailPermanent("load", fmt.Errorf("conversation %s not found", payload.ConversationID))
		return nil
	}
	switch conv.Status {
	case types.ConversationProcessed, types.ConversationArchived:
		// A previous run already committed; nothing left to do.
		jc.Succeed("noop")
		return nil
	case types.ConversationEnded:
	default:
		jc.FailPermanent("load", fmt.Errorf("conversation %s has status %q, expected ended", conv.ID, conv.Status))
		return nil
	}

	analysis, err := p.extract(jc, conv)
	if err != nil {
		return err
	}
	if analysis == nil {
		// Terminal status already settled by extract.
		return nil
	}

	units, concepts, growth, edges := Derive(conv, analysis)

	jc.Progress("relational")
	if err := p.persistRelational(ctx, conv, analysis, units, concepts, growth); err != nil {
		return fmt.Errorf("relational persist: %w", err)
	}

	jc.Progress("graph")
	if err := graph.UpsertExtraction(ctx, p.d.Graph, p.log, conv.UserID, concepts, units, edges); err != nil {
		return fmt.Errorf("graph persist: %w", err)
	}

	jc.Progress("embed")
	if err := p.embed(ctx, conv.UserID, units, concepts); err != nil {
		return fmt.Errorf("vector persist: %w", err)
	}

	jc.Progress("finalize")
	if err := p.finalize(ctx, conv, analysis, concepts); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	jc.Succeed("finalize")
	return nil
}

// extract returns the validated analysis for the conversation, invoking the
// model only when no cached analysis exists on the row. A nil, nil return
// means extract already settled the job's terminal status.
func (p *Pipeline) extract(jc *jobs.Context, conv *types.Conversation) (*ConversationAnalysis, error) {
	ctx := jc.Ctx
	if len(conv.Analysis) > 0 {
		var cached ConversationAnalysis
		if err := json.Unmarshal(conv.Analysis, &cached); err == nil && cached.Validate() == nil {
			p.log.Debug("using cached analysis", "conversation_id", conv.ID)
			return &cached, nil
		}
		p.log.Warn("cached analysis unreadable, re-extracting", "conversation_id", conv.ID)
	}

	jc.Progress("extract")
	messages, err := p.d.Messages.ListByConversation(ctx, nil, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	if len(messages) == 0 {
		jc.FailPermanent("extract", fmt.Errorf("conversation %s has no messages", conv.ID))
		return nil, nil
	}
	profile, err := p.d.Profiles.Get(ctx, nil, conv.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	result, err := p.d.Inference.Invoke(ctx, BuildAnalysisRequest(profile, messages), inference.CallMeta{
		CallType:       "holistic_analysis",
		UserID:         &conv.UserID,
		ConversationID: &conv.ID,
	})
	if err != nil {
		// Provider failure, fatal or exhausted: the queue owns the retry.
		return nil, fmt.Errorf("holistic analysis: %w", err)
	}

	analysis, err := ParseAnalysis(result.Text)
	if err != nil {
		// Malformed model output is never retried against the model.
		jc.FailPermanent("extract", err)
		return nil, nil
	}
	return analysis, nil
}

// persistRelational commits the validated analysis and the derived rows in
// one transaction. Caching the raw analysis alongside the rows is what lets
// a downstream store failure retry without a second model call.
func (p *Pipeline) persistRelational(ctx context.Context, conv *types.Conversation, analysis *ConversationAnalysis, units []*types.MemoryUnit, concepts []*types.Concept, growth []*types.GrowthEvent) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	return p.d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.d.Conversations.SetAnalysis(ctx, tx, conv.ID, datatypes.JSON(raw), analysis.Importance, analysis.Summary); err != nil {
			return err
		}
		if err := p.d.Concepts.UpsertBatch(ctx, tx, concepts); err != nil {
			return err
		}
		if err := p.d.MemoryUnits.UpsertBatch(ctx, tx, units); err != nil {
			return err
		}
		return p.d.GrowthEvents.UpsertBatch(ctx, tx, growth)
	})
}

func (p *Pipeline) embed(ctx context.Context, userID uuid.UUID, units []*types.MemoryUnit, concepts []*types.Concept) error {
	if p.d.Vectors == nil || len(units)+len(concepts) == 0 {
		return nil
	}
	inputs := make([]string, 0, len(units)+len(concepts))
	for _, u := range units {
		inputs = append(inputs, u.Title+"\n"+u.Content)
	}
	for _, c := range concepts {
		inputs = append(inputs, c.Name+" ("+c.Type+")")
	}
	vectors, err := p.d.Inference.Embed(ctx, inputs)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(inputs) {
		return fmt.Errorf("embed returned %d vectors for %d inputs", len(vectors), len(inputs))
	}

	unitPoints := make([]vector.Point, 0, len(units))
	unitIDs := make([]uuid.UUID, 0, len(units))
	for i, u := range units {
		unitPoints = append(unitPoints, vector.Point{
			ID:      VectorID(NamespaceMemoryUnits, u.ID, u.Fingerprint),
			Values:  vectors[i],
			Payload: vectorPayload(NamespaceMemoryUnits, u.ID, userID, u.Fingerprint),
		})
		unitIDs = append(unitIDs, u.ID)
	}
	conceptPoints := make([]vector.Point, 0, len(concepts))
	conceptIDs := make([]uuid.UUID, 0, len(concepts))
	for i, c := range concepts {
		conceptPoints = append(conceptPoints, vector.Point{
			ID:      VectorID(NamespaceConcepts, c.ID, c.Fingerprint),
			Values:  vectors[len(units)+i],
			Payload: vectorPayload(NamespaceConcepts, c.ID, userID, c.Fingerprint),
		})
		conceptIDs = append(conceptIDs, c.ID)
	}

	now := time.Now()
	if len(unitPoints) > 0 {
		if err := p.d.Vectors.Upsert(ctx, NamespaceMemoryUnits, unitPoints); err != nil {
			return err
		}
		if err := p.d.MemoryUnits.MarkEmbedded(ctx, nil, unitIDs, now); err != nil {
			return err
		}
	}
	if len(conceptPoints) > 0 {
		if err := p.d.Vectors.Upsert(ctx, NamespaceConcepts, conceptPoints); err != nil {
			return err
		}
		if err := p.d.Concepts.MarkEmbedded(ctx, nil, conceptIDs, now); err != nil {
			return err
		}
	}
	return nil
}

// NextContextPackage is handed to the next conversation with this user as
// warm-start context.
type NextContextPackage struct {
	Summary     string    `json:"summary"`
	KeyConcepts []string  `json:"key_concepts"`
	Importance  float64   `json:"importance"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (p *Pipeline) finalize(ctx context.Context, conv *types.Conversation, analysis *ConversationAnalysis, concepts []*types.Concept) error {
	pkg := NextContextPackage{
		Summary:     analysis.Summary,
		KeyConcepts: topConceptNames(concepts, 8),
		Importance:  analysis.Importance,
		GeneratedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	if err := p.d.Conversations.MarkProcessed(ctx, nil, conv.ID, datatypes.JSON(raw)); err != nil {
		return err
	}

	profile, err := p.d.Profiles.Get(ctx, nil, conv.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &types.UserProfile{UserID: conv.UserID}
	}
	profile.MemoryProfile = appendRolling(profile.MemoryProfile, analysis.Summary, maxProfileChars)
	return p.d.Profiles.Upsert(ctx, nil, profile)
}

// Derive maps a validated analysis onto persistable entities with
// deterministic ids.
func Derive(conv *types.Conversation, analysis *ConversationAnalysis) ([]*types.MemoryUnit, []*types.Concept, []*types.GrowthEvent, []graph.Edge) {
	conceptByName := map[string]*types.Concept{}
	order := []string{}
	for _, ec := range analysis.Concepts {
		name := NormalizeConceptName(ec.Name)
		existing, ok := conceptByName[name]
		if !ok {
			c := &types.Concept{
				ID:          ConceptID(conv.UserID, ec.Name),
				UserID:      conv.UserID,
				Name:        name,
				Type:        ec.Type,
				Salience:    ec.Salience,
				Status:      types.ConceptActive,
				Fingerprint: Fingerprint(name + "/" + ec.Type),
			}
			conceptByName[name] = c
			order = append(order, name)
			continue
		}
		if ec.Salience > existing.Salience {
			existing.Salience = ec.Salience
		}
	}
	concepts := make([]*types.Concept, 0, len(order))
	for _, name := range order {
		concepts = append(concepts, conceptByName[name])
	}

	units := make([]*types.MemoryUnit, 0, len(analysis.MemoryUnits))
	var edges []graph.Edge
	seenUnits := map[uuid.UUID]bool{}
	for _, em := range analysis.MemoryUnits {
		fp := Fingerprint(em.Content)
		id := MemoryUnitID(conv.ID, fp)
		if seenUnits[id] {
			continue
		}
		seenUnits[id] = true
		units = append(units, &types.MemoryUnit{
			ID:             id,
			ConversationID: conv.ID,
			UserID:         conv.UserID,
			Title:          em.Title,
			Content:        em.Content,
			Importance:     em.Importance,
			Sentiment:      em.Sentiment,
			Fingerprint:    fp,
			Status:         types.MemoryUnitActive,
		})
		for _, name := range em.Concepts {
			c, ok := conceptByName[NormalizeConceptName(name)]
			if !ok {
				continue
			}
			edges = append(edges, graph.Edge{
				SourceID:  id,
				TargetID:  c.ID,
				Type:      "mentions",
				Strength:  em.Importance,
				CreatedBy: edgeCreatedByIngestion,
				UserID:    conv.UserID,
			})
		}
	}

	for _, r := range analysis.Relationships {
		src, sOK := conceptByName[NormalizeConceptName(r.Source)]
		dst, dOK := conceptByName[NormalizeConceptName(r.Target)]
		if !sOK || !dOK {
			continue
		}
		edges = append(edges, graph.Edge{
			SourceID:  src.ID,
			TargetID:  dst.ID,
			Type:      r.Type,
			Strength:  r.Strength,
			CreatedBy: edgeCreatedByIngestion,
			UserID:    conv.UserID,
		})
	}

	growth := make([]*types.GrowthEvent, 0, len(analysis.GrowthSignals))
	seenDims := map[string]bool{}
	for _, g := range analysis.GrowthSignals {
		if seenDims[g.Dimension] {
			continue
		}
		seenDims[g.Dimension] = true
		growth = append(growth, &types.GrowthEvent{
			ID:             GrowthEventID(conv.ID, g.Dimension),
			UserID:         conv.UserID,
			ConversationID: conv.ID,
			Dimension:      g.Dimension,
			Delta:          g.Delta,
			Rationale:      g.Rationale,
		})
	}
	return units, concepts, growth, edges
}

// VectorID is the stable string id for a stored embedding. Including the
// fingerprint means re-embedded content with changed text lands on a new id
// and the reconciler collects the stale one.
func VectorID(entityType string, entityID uuid.UUID, fingerprint string) string {
	return entityType + ":" + entityID.String() + ":" + fingerprint
}

func vectorPayload(entityType string, entityID, userID uuid.UUID, fingerprint string) map[string]any {
	return map[string]any{
		"entity_id":     entityID.String(),
		"entity_type":   entityType,
		"owner_user_id": userID.String(),
		"fingerprint":   fingerprint,
	}
}

func topConceptNames(concepts []*types.Concept, n int) []string {
	sorted := make([]*types.Concept, len(concepts))
	copy(sorted, concepts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Salience > sorted[j].Salience })
	names := make([]string, 0, n)
	for _, c := range sorted {
		if len(names) == n {
			break
		}
		names = append(names, c.Name)
	}
	return names
}

func appendRolling(existing, addition string, limit int) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return existing
	}
	combined := strings.TrimSpace(existing)
	if combined == "" {
		combined = addition
	} else {
		combined = combined + "\n" + addition
	}
	// Keep the tail: recent summaries matter more than old ones.
	if len(combined) > limit {
		combined = combined[len(combined)-limit:]
		if idx := strings.IndexByte(combined, '\n'); idx >= 0 && idx < len(combined)-1 {
			combined = combined[idx+1:]
		}
	}
	return combined
}
