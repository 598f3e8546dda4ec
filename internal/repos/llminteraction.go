package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

// LLMInteractionRepo is append-only. There is deliberately no update or
// delete surface: audit rows are immutable once written.
type LLMInteractionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.LLMInteraction) (*types.LLMInteraction, error)
	ListByConversation(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]*types.LLMInteraction, error)
}

type llmInteractionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLLMInteractionRepo(db *gorm.DB, baseLog *logger.Logger) LLMInteractionRepo {
	return &llmInteractionRepo{db: db, log: baseLog.With("repo", "LLMInteractionRepo")}
}

func (r *llmInteractionRepo) Create(ctx context.Context, tx *gorm.DB, row *types.LLMInteraction) (*types.LLMInteraction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *llmInteractionRepo) ListByConversation(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]*types.LLMInteraction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.LLMInteraction
	err := transaction.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
