package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type CommunityRepo interface {
	UpsertBatch(ctx context.Context, tx *gorm.DB, communities []*types.Community) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Community, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Community, error)
	FilterExisting(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

type communityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCommunityRepo(db *gorm.DB, baseLog *logger.Logger) CommunityRepo {
	return &communityRepo{db: db, log: baseLog.With("repo", "CommunityRepo")}
}

func (r *communityRepo) UpsertBatch(ctx context.Context, tx *gorm.DB, communities []*types.Community) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(communities) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"theme", "strategic_importance", "updated_at",
			}),
		}).
		Create(&communities).Error
}

func (r *communityRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Community, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Community
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

func (r *communityRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Community, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Community
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("strategic_importance DESC, created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *communityRepo) FilterExisting(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
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
		Model(&types.Community{}).
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
