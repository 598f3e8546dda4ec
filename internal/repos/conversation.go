package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type ConversationRepo interface {
	Touch(ctx context.Context, tx *gorm.DB, conversationID, userID uuid.UUID, now time.Time) (*types.Conversation, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error)
	ListActive(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Conversation, error)
	// ClaimEnded conditionally transitions active -> ended. Returns false
	// when another detector already claimed the conversation.
	ClaimEnded(ctx context.Context, tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error)
	SetAnalysis(ctx context.Context, tx *gorm.DB, id uuid.UUID, analysis datatypes.JSON, importance float64, summary string) error
	MarkProcessed(ctx context.Context, tx *gorm.DB, id uuid.UUID, nextContext datatypes.JSON) error
	ListProcessedUserIDs(ctx context.Context, tx *gorm.DB, since time.Time) ([]uuid.UUID, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Touch(ctx context.Context, tx *gorm.DB, conversationID, userID uuid.UUID, now time.Time) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	conv := &types.Conversation{
		ID:           conversationID,
		UserID:       userID,
		Status:       types.ConversationActive,
		StartedAt:    now,
		LastActiveAt: now,
	}
	// First message creates the row; later messages only refresh activity,
	// and never resurrect an ended or processed conversation.
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"last_active_at": now, "updated_at": now}),
			Where:     clause.Where{Exprs: []clause.Expression{gorm.Expr("conversation.status = ?", types.ConversationActive)}},
		}).
		Create(conv).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, transaction, conversationID)
}

func (r *conversationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var conv types.Conversation
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&conv).Error
	if err != nil {
		return nil, err
	}
	if conv.ID == uuid.Nil {
		return nil, nil
	}
	return &conv, nil
}

func (r *conversationRepo) ListActive(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 500
	}
	var out []*types.Conversation
	err := transaction.WithContext(ctx).
		Where("status = ?", types.ConversationActive).
		Order("last_active_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) ClaimEnded(ctx context.Context, tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ? AND status = ?", id, types.ConversationActive).
		Updates(map[string]interface{}{
			"status":     types.ConversationEnded,
			"ended_at":   now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *conversationRepo) SetAnalysis(ctx context.Context, tx *gorm.DB, id uuid.UUID, analysis datatypes.JSON, importance float64, summary string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"analysis":   analysis,
			"importance": importance,
			"summary":    summary,
			"updated_at": time.Now(),
		}).Error
}

func (r *conversationRepo) MarkProcessed(ctx context.Context, tx *gorm.DB, id uuid.UUID, nextContext datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ? AND status = ?", id, types.ConversationEnded).
		Updates(map[string]interface{}{
			"status":       types.ConversationProcessed,
			"next_context": nextContext,
			"updated_at":   time.Now(),
		}).Error
}

func (r *conversationRepo) ListProcessedUserIDs(ctx context.Context, tx *gorm.DB, since time.Time) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []uuid.UUID
	err := transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Distinct("user_id").
		Where("status = ? AND updated_at >= ?", types.ConversationProcessed, since).
		Pluck("user_id", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
