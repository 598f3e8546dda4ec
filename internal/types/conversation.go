package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ConversationActive    = "active"
	ConversationEnded     = "ended"
	ConversationProcessed = "processed"
	ConversationArchived  = "archived"
)

type Conversation struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Status       string     `gorm:"column:status;not null;index;default:active" json:"status"`
	StartedAt    time.Time  `gorm:"column:started_at;not null;default:now()" json:"started_at"`
	EndedAt      *time.Time `gorm:"column:ended_at" json:"ended_at,omitempty"`
	LastActiveAt time.Time  `gorm:"column:last_active_at;not null;index" json:"last_active_at"`
	Importance   float64    `gorm:"column:importance;not null;default:0" json:"importance"`
	Summary      string     `gorm:"column:summary" json:"summary"`
	// Analysis holds the validated extraction result so downstream store
	// retries never re-invoke the model.
	Analysis    datatypes.JSON `gorm:"type:jsonb;column:analysis" json:"analysis,omitempty"`
	NextContext datatypes.JSON `gorm:"type:jsonb;column:next_context" json:"next_context,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversation" }

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Role           string    `gorm:"column:role;not null" json:"role"` // user|assistant
	Content        string    `gorm:"column:content;not null" json:"content"`
	CreatedAt      time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Message) TableName() string { return "message" }
