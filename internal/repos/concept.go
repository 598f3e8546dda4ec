package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type ConceptRepo interface {
	// UpsertBatch inserts concepts keyed by deterministic id; on conflict
	// only salience refreshes, and only while the row is still active so a
	// merged concept is never resurrected.
	UpsertBatch(ctx context.Context, tx *gorm.DB, concepts []*types.Concept) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Concept, error)
	ListActiveByUserRange(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since, until time.Time, limit int) ([]*types.Concept, error)
	// ResolveForwarding follows merged_into chains to the surviving concept.
	ResolveForwarding(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	MarkMerged(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, into uuid.UUID) error
	AssignCommunity(ctx context.Context, tx *gorm.DB, conceptIDs []uuid.UUID, communityID uuid.UUID) error
	ListUnembedded(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]*types.Concept, error)
	MarkEmbedded(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, at time.Time) error
	FilterExisting(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

type conceptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConceptRepo(db *gorm.DB, baseLog *logger.Logger) ConceptRepo {
	return &conceptRepo{db: db, log: baseLog.With("repo", "ConceptRepo")}
}

func (r *conceptRepo) UpsertBatch(ctx context.Context, tx *gorm.DB, concepts []*types.Concept) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(concepts) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"salience":   gorm.Expr("GREATEST(concept.salience, excluded.salience)"),
				"updated_at": time.Now(),
			}),
			Where: clause.Where{Exprs: []clause.Expression{gorm.Expr("concept.status = ?", types.ConceptActive)}},
		}).
		Create(&concepts).Error
}

func (r *conceptRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Concept, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Concept
	if len(ids) == 0 {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conceptRepo) ListActiveByUserRange(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since, until time.Time, limit int) ([]*types.Concept, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 500
	}
	var out []*types.Concept
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND status = ? AND updated_at >= ? AND updated_at < ?", userID, types.ConceptActive, since, until).
		Order("salience DESC, created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conceptRepo) ResolveForwarding(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	out := make(map[uuid.UUID]uuid.UUID, len(ids))
	pending := ids
	// Chains are short (a merge points at an active survivor), but cap the
	// walk so a cyclic pointer cannot hang the caller.
	for hop := 0; hop < 5 && len(pending) > 0; hop++ {
		var rows []*types.Concept
		err := transaction.WithContext(ctx).
			Select("id", "status", "merged_into_id").
			Where("id IN ?", pending).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		next := make([]uuid.UUID, 0)
		byID := make(map[uuid.UUID]*types.Concept, len(rows))
		for _, c := range rows {
			byID[c.ID] = c
		}
		for _, id := range pending {
			c, ok := byID[id]
			if !ok {
				continue
			}
			if c.Status == types.ConceptMerged && c.MergedIntoID != nil && *c.MergedIntoID != id {
				out[id] = *c.MergedIntoID
				next = append(next, *c.MergedIntoID)
			} else if _, seen := out[id]; !seen {
				out[id] = id
			}
		}
		// Re-resolve forwarded targets that are themselves merged.
		for from, to := range out {
			if resolved, ok := out[to]; ok && resolved != to {
				out[from] = resolved
			}
		}
		pending = next
	}
	return out, nil
}

func (r *conceptRepo) MarkMerged(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, into uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 || into == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Concept{}).
		Where("id IN ? AND id <> ? AND status = ?", ids, into, types.ConceptActive).
		Updates(map[string]interface{}{
			"status":         types.ConceptMerged,
			"merged_into_id": into,
			"updated_at":     time.Now(),
		}).Error
}

func (r *conceptRepo) AssignCommunity(ctx context.Context, tx *gorm.DB, conceptIDs []uuid.UUID, communityID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(conceptIDs) == 0 || communityID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Concept{}).
		Where("id IN ? AND status = ?", conceptIDs, types.ConceptActive).
		Updates(map[string]interface{}{
			"community_id": communityID,
			"updated_at":   time.Now(),
		}).Error
}

func (r *conceptRepo) ListUnembedded(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]*types.Concept, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 200
	}
	var out []*types.Concept
	err := transaction.WithContext(ctx).
		Where("embedded_at IS NULL AND status = ? AND created_at < ?", types.ConceptActive, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conceptRepo) MarkEmbedded(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Concept{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"embedded_at": at, "updated_at": at}).Error
}

func (r *conceptRepo) FilterExisting(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []uuid.UUID
	err := transaction.WithContext(ctx).
		Model(&types.Concept{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}
