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

type MemoryUnitRepo interface {
	// UpsertBatch inserts memory units keyed by deterministic id. Existing
	// rows are left untouched: memory units are immutable once created.
	UpsertBatch(ctx context.Context, tx *gorm.DB, units []*types.MemoryUnit) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.MemoryUnit, error)
	ListByUserRange(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since, until time.Time, limit int) ([]*types.MemoryUnit, error)
	ListUnembedded(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]*types.MemoryUnit, error)
	MarkEmbedded(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, at time.Time) error
	FilterExisting(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

type memoryUnitRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMemoryUnitRepo(db *gorm.DB, baseLog *logger.Logger) MemoryUnitRepo {
	return &memoryUnitRepo{db: db, log: baseLog.With("repo", "MemoryUnitRepo")}
}

func (r *memoryUnitRepo) UpsertBatch(ctx context.Context, tx *gorm.DB, units []*types.MemoryUnit) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(units) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&units).Error
}

func (r *memoryUnitRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.MemoryUnit, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.MemoryUnit
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

func (r *memoryUnitRepo) ListByUserRange(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since, until time.Time, limit int) ([]*types.MemoryUnit, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 500
	}
	var out []*types.MemoryUnit
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND status = ? AND created_at >= ? AND created_at < ?", userID, types.MemoryUnitActive, since, until).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *memoryUnitRepo) ListUnembedded(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]*types.MemoryUnit, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 200
	}
	var out []*types.MemoryUnit
	err := transaction.WithContext(ctx).
		Where("embedded_at IS NULL AND status = ? AND created_at < ?", types.MemoryUnitActive, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *memoryUnitRepo) MarkEmbedded(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.MemoryUnit{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"embedded_at": at, "updated_at": at}).Error
}

func (r *memoryUnitRepo) FilterExisting(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
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
		Model(&types.MemoryUnit{}).
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
