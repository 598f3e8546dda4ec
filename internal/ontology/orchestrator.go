package ontology

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/data/graph"
	"github.com/evermind-ai/evermind-backend/internal/inference"
	"github.com/evermind-ai/evermind-backend/internal/ingestion"
	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/platform/neo4jdb"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

const edgeCreatedByCycle = "ontology_cycle"

type Deps struct {
	DB          *gorm.DB
	Cycles      repos.UserCycleRepo
	Concepts    repos.ConceptRepo
	MemoryUnits repos.MemoryUnitRepo
	Communities repos.CommunityRepo
	Profiles    repos.UserProfileRepo
	Inference   ingestion.Inference
	Graph       *neo4jdb.Client
	Log         *logger.Logger
}

// Orchestrator drives one user's optimization cycle through its four
// ordered stages. A stage's writes commit only after the foundation call
// and validation succeeded; any stage failure marks the whole cycle failed
// with the failing stage recorded, and the retry path is a brand-new cycle,
// never a resume.
type Orchestrator struct {
	d   Deps
	log *logger.Logger
}

func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{d: d, log: d.Log.With("component", "OntologyOrchestrator")}
}

func (o *Orchestrator) Type() string { return types.JobTypeOntologyCycle }

func (o *Orchestrator) Run(jc *jobs.Context) error {
	var payload jobs.OptimizationPayload
	if err := jobs.DecodePayload(jc.Job, &payload); err != nil {
		jc.FailPermanent("decode", err)
		return nil
	}
	ctx := jc.Ctx

	cycle, err := o.d.Cycles.GetByID(ctx, nil, payload.CycleID)
	if err != nil {
		return fmt.Errorf("load cycle: %w", err)
	}
	if cycle == nil {
		jc.FailPermanent("load", fmt.Errorf("cycle %s not found", payload.CycleID))
		return nil
	}
	if types.CycleTerminal(cycle.Status) {
		jc.Succeed("noop")
		return nil
	}
	if cycle.Status != types.CyclePending {
		// A redelivered job found the cycle mid-stage: the previous worker
		// died. Cycles are never resumed; the user starts a fresh one.
		o.failCycle(jc, cycle, cycle.Status, fmt.Errorf("cycle interrupted at stage %s", cycle.Status))
		return nil
	}

	concepts, err := o.d.Concepts.ListActiveByUserRange(ctx, nil, cycle.UserID, cycle.RangeStart, cycle.RangeEnd, 2000)
	if err != nil {
		return fmt.Errorf("list concepts: %w", err)
	}
	units, err := o.d.MemoryUnits.ListByUserRange(ctx, nil, cycle.UserID, cycle.RangeStart, cycle.RangeEnd, 2000)
	if err != nil {
		return fmt.Errorf("list memory units: %w", err)
	}

	conceptsByName := make(map[string]*types.Concept, len(concepts))
	knownNames := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		conceptsByName[c.Name] = c
		knownNames[c.Name] = true
	}

	// Stage 1: foundation.
	jc.Progress("foundation")
	if err := o.setStatus(jc, cycle, types.CycleFoundation); err != nil {
		return err
	}
	plan := &OptimizationPlan{}
	if len(concepts) > 0 {
		plan, err = o.foundation(jc, cycle, concepts, units, knownNames)
		if err != nil || plan == nil {
			// Terminal status already settled on both cycle and job.
			return nil
		}
	} else {
		o.log.Info("cycle has no concepts in range, completing empty", "cycle_id", cycle.ID)
	}

	// Stage 2: community detection.
	jc.Progress("community_detection")
	if err := o.setStatus(jc, cycle, types.CycleCommunityDetection); err != nil {
		return err
	}
	communities, err := o.materializeCommunities(jc, cycle, plan, conceptsByName)
	if err != nil {
		o.failCycle(jc, cycle, types.CycleCommunityDetection, err)
		return nil
	}

	// Stage 3: concept merging.
	jc.Progress("concept_merging")
	if err := o.setStatus(jc, cycle, types.CycleConceptMerging); err != nil {
		return err
	}
	merged, err := o.mergeConcepts(jc, cycle, plan, conceptsByName)
	if err != nil {
		o.failCycle(jc, cycle, types.CycleConceptMerging, err)
		return nil
	}

	// Stage 4: strategic relationship creation.
	jc.Progress("relationship_creation")
	if err := o.setStatus(jc, cycle, types.CycleRelationshipCreation); err != nil {
		return err
	}
	relCount, err := o.createRelationships(jc, cycle, plan, conceptsByName)
	if err != nil {
		o.failCycle(jc, cycle, types.CycleRelationshipCreation, err)
		return nil
	}

	now := time.Now()
	if err := o.d.Cycles.UpdateFields(ctx, nil, cycle.ID, map[string]interface{}{
		"status":   types.CycleCompleted,
		"ended_at": now,
	}); err != nil {
		return fmt.Errorf("complete cycle: %w", err)
	}
	if err := o.updateOntologySummary(jc, cycle, communities, merged, relCount); err != nil {
		o.log.Warn("ontology summary update failed", "cycle_id", cycle.ID, "error", err)
	}
	o.log.Info("cycle completed",
		"cycle_id", cycle.ID, "user_id", cycle.UserID,
		"communities", len(communities), "merged", merged, "relationships", relCount)
	jc.Succeed("completed")
	return nil
}

func (o *Orchestrator) foundation(jc *jobs.Context, cycle *types.UserCycle, concepts []*types.Concept, units []*types.MemoryUnit, knownNames map[string]bool) (*OptimizationPlan, error) {
	sample := SampleForFoundation(concepts, units, SampleCharBudget())
	req := BuildFoundationRequest(sample, MaxMergesPerCycle(), MaxStrategicRelationships())
	result, err := o.d.Inference.Invoke(jc.Ctx, req, inference.CallMeta{
		CallType: "foundation",
		UserID:   &cycle.UserID,
		CycleID:  &cycle.ID,
	})
	if err != nil {
		o.failCycle(jc, cycle, types.CycleFoundation, err)
		return nil, nil
	}
	plan, err := ParsePlan(result.Text, knownNames)
	if err != nil {
		o.failCycle(jc, cycle, types.CycleFoundation, err)
		return nil, nil
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	if err := o.d.Cycles.UpdateFields(jc.Ctx, nil, cycle.ID, map[string]interface{}{
		"plan": datatypes.JSON(raw),
	}); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}
	return plan, nil
}

func (o *Orchestrator) materializeCommunities(jc *jobs.Context, cycle *types.UserCycle, plan *OptimizationPlan, conceptsByName map[string]*types.Concept) ([]*types.Community, error) {
	if len(plan.Communities) == 0 {
		return nil, nil
	}
	ctx := jc.Ctx
	communities := make([]*types.Community, 0, len(plan.Communities))
	members := make(map[uuid.UUID][]uuid.UUID, len(plan.Communities))
	for _, pc := range plan.Communities {
		community := &types.Community{
			ID:                  CommunityID(cycle.ID, pc.Theme),
			UserID:              cycle.UserID,
			CycleID:             cycle.ID,
			Theme:               pc.Theme,
			StrategicImportance: pc.StrategicImportance,
		}
		for _, name := range pc.Concepts {
			if c, ok := conceptsByName[name]; ok {
				members[community.ID] = append(members[community.ID], c.ID)
			}
		}
		communities = append(communities, community)
	}

	err := o.d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.d.Communities.UpsertBatch(ctx, tx, communities); err != nil {
			return err
		}
		for communityID, conceptIDs := range members {
			if err := o.d.Concepts.AssignCommunity(ctx, tx, conceptIDs, communityID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := graph.UpsertCommunities(ctx, o.d.Graph, o.log, communities, members); err != nil {
		return nil, err
	}
	return communities, nil
}

func (o *Orchestrator) mergeConcepts(jc *jobs.Context, cycle *types.UserCycle, plan *OptimizationPlan, conceptsByName map[string]*types.Concept) (int, error) {
	if len(plan.Merges) == 0 {
		return 0, nil
	}
	ctx := jc.Ctx
	graphMerges := map[uuid.UUID]uuid.UUID{}
	total := 0
	err := o.d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range plan.Merges {
			survivor, ok := conceptsByName[m.Survivor]
			if !ok {
				continue
			}
			dupIDs := make([]uuid.UUID, 0, len(m.Duplicates))
			for _, name := range m.Duplicates {
				dup, ok := conceptsByName[name]
				if !ok || dup.ID == survivor.ID {
					continue
				}
				dupIDs = append(dupIDs, dup.ID)
				graphMerges[dup.ID] = survivor.ID
			}
			if len(dupIDs) == 0 {
				continue
			}
			if err := o.d.Concepts.MarkMerged(ctx, tx, dupIDs, survivor.ID); err != nil {
				return err
			}
			total += len(dupIDs)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := graph.RepointMergedConcepts(ctx, o.d.Graph, o.log, graphMerges); err != nil {
		return 0, err
	}
	return total, nil
}

func (o *Orchestrator) createRelationships(jc *jobs.Context, cycle *types.UserCycle, plan *OptimizationPlan, conceptsByName map[string]*types.Concept) (int, error) {
	if len(plan.Relationships) == 0 {
		return 0, nil
	}
	edges := make([]graph.Edge, 0, len(plan.Relationships))
	for _, r := range plan.Relationships {
		src, sOK := conceptsByName[r.Source]
		dst, dOK := conceptsByName[r.Target]
		if !sOK || !dOK || src.ID == dst.ID {
			continue
		}
		edges = append(edges, graph.Edge{
			SourceID:  src.ID,
			TargetID:  dst.ID,
			Type:      r.Type,
			Strength:  r.Strength,
			CreatedBy: edgeCreatedByCycle,
			UserID:    cycle.UserID,
		})
	}
	if err := graph.UpsertEdges(jc.Ctx, o.d.Graph, o.log, edges); err != nil {
		return 0, err
	}
	return len(edges), nil
}

func (o *Orchestrator) updateOntologySummary(jc *jobs.Context, cycle *types.UserCycle, communities []*types.Community, merged, relCount int) error {
	ctx := jc.Ctx
	profile, err := o.d.Profiles.Get(ctx, nil, cycle.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &types.UserProfile{UserID: cycle.UserID}
	}
	themes := make([]string, 0, len(communities))
	for _, c := range communities {
		themes = append(themes, fmt.Sprintf("%s (%d/10)", c.Theme, c.StrategicImportance))
	}
	profile.OntologySummary = fmt.Sprintf("Last cycle %s: %d communities [%s], %d concepts merged, %d strategic relationships.",
		cycle.RangeEnd.UTC().Format("2006-01-02"), len(communities), strings.Join(themes, "; "), merged, relCount)
	return o.d.Profiles.Upsert(ctx, nil, profile)
}

func (o *Orchestrator) setStatus(jc *jobs.Context, cycle *types.UserCycle, status string) error {
	if err := o.d.Cycles.UpdateFields(jc.Ctx, nil, cycle.ID, map[string]interface{}{"status": status}); err != nil {
		return fmt.Errorf("set cycle status %s: %w", status, err)
	}
	cycle.Status = status
	return nil
}

// failCycle records the failing stage on the cycle and settles the job. The
// cycle row is terminal; a retry is a new cycle id.
func (o *Orchestrator) failCycle(jc *jobs.Context, cycle *types.UserCycle, stage string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now()
	if err := o.d.Cycles.UpdateFields(jc.Ctx, nil, cycle.ID, map[string]interface{}{
		"status":       types.CycleFailed,
		"failed_stage": stage,
		"error":        msg,
		"ended_at":     now,
	}); err != nil {
		o.log.Error("cycle fail update failed", "cycle_id", cycle.ID, "error", err)
	}
	jc.FailPermanent(stage, cause)
}
