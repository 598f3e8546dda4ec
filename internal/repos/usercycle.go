package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

// ErrCycleActive is returned when a user already holds a non-terminal
// optimization cycle. Violations are rejected at enqueue time, never
// silently merged.
var ErrCycleActive = errors.New("user already has an active optimization cycle")

type UserCycleRepo interface {
	// CreateIfNoneActive inserts the cycle only when the user holds no
	// non-terminal cycle; otherwise ErrCycleActive.
	CreateIfNoneActive(ctx context.Context, tx *gorm.DB, cycle *types.UserCycle) (*types.UserCycle, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.UserCycle, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.UserCycle, error)
}

type userCycleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserCycleRepo(db *gorm.DB, baseLog *logger.Logger) UserCycleRepo {
	return &userCycleRepo{db: db, log: baseLog.With("repo", "UserCycleRepo")}
}

func (r *userCycleRepo) CreateIfNoneActive(ctx context.Context, tx *gorm.DB, cycle *types.UserCycle) (*types.UserCycle, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cycle.ID == uuid.Nil {
		cycle.ID = uuid.New()
	}
	if cycle.Status == "" {
		cycle.Status = types.CyclePending
	}
	now := time.Now()
	res := transaction.WithContext(ctx).Exec(`
		INSERT INTO "user_cycle"
			(id, user_id, status, range_start, range_end, triggered_by, started_at, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM "user_cycle"
			WHERE user_id = ? AND status NOT IN ('completed', 'failed')
		)
	`, cycle.ID, cycle.UserID, cycle.Status, cycle.RangeStart, cycle.RangeEnd,
		cycle.TriggeredBy, now, now, now, cycle.UserID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrCycleActive
	}
	return r.GetByID(ctx, transaction, cycle.ID)
}

func (r *userCycleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.UserCycle, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var cycle types.UserCycle
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == uuid.Nil {
		return nil, nil
	}
	return &cycle, nil
}

func (r *userCycleRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.UserCycle{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *userCycleRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.UserCycle, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	var out []*types.UserCycle
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
