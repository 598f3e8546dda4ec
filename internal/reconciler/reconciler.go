package reconciler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/data/graph"
	"github.com/evermind-ai/evermind-backend/internal/ingestion"
	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/observability"
	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/platform/neo4jdb"
	"github.com/evermind-ai/evermind-backend/internal/platform/vector"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type Config struct {
	Interval     time.Duration
	EmbeddingSLA time.Duration
	BatchLimit   int
}

func ConfigFromEnv() Config {
	return Config{
		Interval:     envutil.Duration("RECONCILE_INTERVAL", 10*time.Minute),
		EmbeddingSLA: envutil.Duration("RECONCILE_EMBEDDING_SLA", 15*time.Minute),
		BatchLimit:   envutil.Int("RECONCILE_BATCH_LIMIT", 500),
	}
}

type Deps struct {
	DB          *gorm.DB
	Concepts    repos.ConceptRepo
	MemoryUnits repos.MemoryUnitRepo
	Communities repos.CommunityRepo
	JobRuns     repos.JobRunRepo
	Graph       *neo4jdb.Client
	Vectors     vector.Store
	Log         *logger.Logger
}

// Reconciler heals the derivative stores toward the relational source of
// truth. It never writes a relational row: missing embeddings are re-queued
// as jobs, orphaned and duplicated vector entries are deleted, and untyped
// graph nodes get their type re-derived from whichever relational table
// owns the id. Drift is routine, not an error.
type Reconciler struct {
	d     Deps
	cfg   Config
	log   *logger.Logger
	nowFn func() time.Time
}

func New(d Deps, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.EmbeddingSLA <= 0 {
		cfg.EmbeddingSLA = 15 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	return &Reconciler{
		d:     d,
		cfg:   cfg,
		log:   d.Log.With("component", "Reconciler"),
		nowFn: time.Now,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.log.Info("reconciler started", "interval", r.cfg.Interval, "embedding_sla", r.cfg.EmbeddingSLA)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes all four repair rules. Each rule is independent: one
// failing is logged and the rest still run.
func (r *Reconciler) RunOnce(ctx context.Context) {
	rules := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{"missing_embeddings", r.enqueueMissingEmbeddings},
		{"vector_orphans_and_duplicates", r.repairVectors},
		{"untyped_graph_nodes", r.retypeGraphNodes},
	}
	for _, rule := range rules {
		start := time.Now()
		repaired, err := rule.fn(ctx)
		observability.ObserveReconcile(rule.name, repaired, time.Since(start))
		if err != nil {
			r.log.Error("reconcile rule failed", "rule", rule.name, "error", err)
			continue
		}
		if repaired > 0 {
			r.log.Info("reconcile rule repaired drift", "rule", rule.name, "count", repaired)
		}
	}
}

// Rule (a): relational entities unembedded past the SLA window get an
// embedding backfill job. The queue's unique key swallows duplicates from
// overlapping reconciler passes.
func (r *Reconciler) enqueueMissingEmbeddings(ctx context.Context) (int, error) {
	cutoff := r.nowFn().Add(-r.cfg.EmbeddingSLA)
	enqueued := 0

	units, err := r.d.MemoryUnits.ListUnembedded(ctx, nil, cutoff, r.cfg.BatchLimit)
	if err != nil {
		return enqueued, err
	}
	for _, u := range units {
		n, err := r.enqueueBackfill(ctx, "memory_unit", u.ID, u.UserID)
		if err != nil {
			return enqueued, err
		}
		enqueued += n
	}

	concepts, err := r.d.Concepts.ListUnembedded(ctx, nil, cutoff, r.cfg.BatchLimit)
	if err != nil {
		return enqueued, err
	}
	for _, c := range concepts {
		n, err := r.enqueueBackfill(ctx, "concept", c.ID, c.UserID)
		if err != nil {
			return enqueued, err
		}
		enqueued += n
	}
	return enqueued, nil
}

func (r *Reconciler) enqueueBackfill(ctx context.Context, entityType string, entityID, userID uuid.UUID) (int, error) {
	payload, err := jobs.MarshalPayload(jobs.EmbeddingBackfillPayload{
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
	})
	if err != nil {
		return 0, err
	}
	_, err = r.d.JobRuns.Enqueue(ctx, nil, &types.JobRun{
		OwnerUserID: userID,
		JobType:     types.JobTypeEmbeddingBackfill,
		UniqueKey:   jobs.EmbeddingBackfillUniqueKey(entityType, entityID),
		Payload:     datatypes.JSON(payload),
	})
	if errors.Is(err, repos.ErrDuplicateJob) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// Rules (b) and (c): scan each vector namespace, delete entries whose
// relational row is gone, and collapse entries sharing an entity id down to
// the most complete one.
func (r *Reconciler) repairVectors(ctx context.Context) (int, error) {
	if r.d.Vectors == nil {
		return 0, nil
	}
	total := 0
	namespaces := []struct {
		name   string
		exists func(context.Context, []uuid.UUID) (map[uuid.UUID]bool, error)
	}{
		{ingestion.NamespaceMemoryUnits, func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
			return r.d.MemoryUnits.FilterExisting(ctx, nil, ids)
		}},
		{ingestion.NamespaceConcepts, func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
			return r.d.Concepts.FilterExisting(ctx, nil, ids)
		}},
	}
	for _, ns := range namespaces {
		// Duplicates of one entity can land on different scroll pages, so
		// the whole namespace is collected before planning repairs.
		var entries []vector.Entry
		offset := ""
		for {
			page, next, err := r.d.Vectors.Scroll(ctx, ns.name, offset, r.cfg.BatchLimit)
			if err != nil {
				return total, err
			}
			entries = append(entries, page...)
			if next == "" {
				break
			}
			offset = next
		}
		if len(entries) == 0 {
			continue
		}
		ids := entityIDs(entries)
		exists := map[uuid.UUID]bool{}
		for start := 0; start < len(ids); start += r.cfg.BatchLimit {
			end := start + r.cfg.BatchLimit
			if end > len(ids) {
				end = len(ids)
			}
			batch, err := ns.exists(ctx, ids[start:end])
			if err != nil {
				return total, err
			}
			for id, ok := range batch {
				if ok {
					exists[id] = true
				}
			}
		}
		deletes := PlanVectorRepairs(entries, exists)
		for start := 0; start < len(deletes); start += r.cfg.BatchLimit {
			end := start + r.cfg.BatchLimit
			if end > len(deletes) {
				end = len(deletes)
			}
			if err := r.d.Vectors.DeleteIDs(ctx, ns.name, deletes[start:end]); err != nil {
				return total, err
			}
			total += end - start
		}
	}
	return total, nil
}

// Rule (d): graph nodes created as bare edge endpoints carry no type tag;
// re-derive it from whichever relational table owns the id.
func (r *Reconciler) retypeGraphNodes(ctx context.Context) (int, error) {
	if r.d.Graph == nil {
		return 0, nil
	}
	ids, err := graph.ListNodesMissingType(ctx, r.d.Graph, r.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	conceptOwned, err := r.d.Concepts.FilterExisting(ctx, nil, ids)
	if err != nil {
		return 0, err
	}
	unitOwned, err := r.d.MemoryUnits.FilterExisting(ctx, nil, ids)
	if err != nil {
		return 0, err
	}
	communityOwned, err := r.d.Communities.FilterExisting(ctx, nil, ids)
	if err != nil {
		return 0, err
	}

	tags := map[uuid.UUID]string{}
	for _, id := range ids {
		switch {
		case conceptOwned[id]:
			tags[id] = graph.NodeTypeConcept
		case unitOwned[id]:
			tags[id] = graph.NodeTypeMemoryUnit
		case communityOwned[id]:
			tags[id] = graph.NodeTypeCommunity
		}
	}
	if len(tags) == 0 {
		return 0, nil
	}
	if err := graph.SetNodeTypes(ctx, r.d.Graph, tags); err != nil {
		return 0, err
	}
	return len(tags), nil
}

// PlanVectorRepairs decides which vector ids to delete for one fully
// scanned namespace: every entry of a missing entity, plus all but the most
// complete entry of a duplicated entity. The survivor is the entry with the largest
// stored vector; ties break on vector id so reruns pick the same one.
func PlanVectorRepairs(entries []vector.Entry, exists map[uuid.UUID]bool) []string {
	byEntity := map[uuid.UUID][]vector.Entry{}
	var deletes []string
	for _, e := range entries {
		id, ok := entryEntityID(e)
		if !ok {
			// Unattributable entry: nothing relational can own it.
			deletes = append(deletes, e.VectorID)
			continue
		}
		if !exists[id] {
			deletes = append(deletes, e.VectorID)
			continue
		}
		byEntity[id] = append(byEntity[id], e)
	}
	for _, group := range byEntity {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].Dim != group[j].Dim {
				return group[i].Dim > group[j].Dim
			}
			return group[i].VectorID < group[j].VectorID
		})
		for _, e := range group[1:] {
			deletes = append(deletes, e.VectorID)
		}
	}
	sort.Strings(deletes)
	return deletes
}

func entryEntityID(e vector.Entry) (uuid.UUID, bool) {
	raw, _ := e.Payload["entity_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func entityIDs(entries []vector.Entry) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	out := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		id, ok := entryEntityID(e)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
