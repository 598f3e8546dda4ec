package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	LLMStatusSuccess = "success"
	LLMStatusError   = "error"
)

// LLMInteraction is an append-only audit row, one per model call attempt.
// Rows are never mutated after creation.
type LLMInteraction struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	ConversationID *uuid.UUID `gorm:"type:uuid;index" json:"conversation_id,omitempty"`
	CycleID        *uuid.UUID `gorm:"type:uuid;index" json:"cycle_id,omitempty"`
	CallType       string     `gorm:"column:call_type;not null;index" json:"call_type"`
	Model          string     `gorm:"column:model;not null;index" json:"model"`
	Attempt        int        `gorm:"column:attempt;not null;default:1" json:"attempt"`
	Status         string     `gorm:"column:status;not null;index" json:"status"`
	ErrorCode      string     `gorm:"column:error_code" json:"error_code"`
	Error          string     `gorm:"column:error" json:"error"`
	PromptChars    int        `gorm:"column:prompt_chars;not null;default:0" json:"prompt_chars"`
	ResponseChars  int        `gorm:"column:response_chars;not null;default:0" json:"response_chars"`
	LatencyMs      int64      `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`
	CreatedAt      time.Time  `gorm:"not null;default:now();index" json:"created_at"`
}

func (LLMInteraction) TableName() string { return "llm_interaction" }
