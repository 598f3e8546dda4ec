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

type GrowthEventRepo interface {
	UpsertBatch(ctx context.Context, tx *gorm.DB, events []*types.GrowthEvent) error
	ListByUserRange(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since, until time.Time) ([]*types.GrowthEvent, error)
}

type growthEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGrowthEventRepo(db *gorm.DB, baseLog *logger.Logger) GrowthEventRepo {
	return &growthEventRepo{db: db, log: baseLog.With("repo", "GrowthEventRepo")}
}

func (r *growthEventRepo) UpsertBatch(ctx context.Context, tx *gorm.DB, events []*types.GrowthEvent) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(events) == 0 {
		return nil
	}
	// Deterministic ids make re-ingestion converge instead of duplicating.
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&events).Error
}

func (r *growthEventRepo) ListByUserRange(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since, until time.Time) ([]*types.GrowthEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.GrowthEvent
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, since, until).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
