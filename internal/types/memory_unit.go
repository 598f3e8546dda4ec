package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	MemoryUnitActive   = "active"
	MemoryUnitArchived = "archived"
)

// MemoryUnit is an atomic recollection extracted from one conversation.
// Immutable once created except for archival and embedding bookkeeping.
type MemoryUnit struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"conversation_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Title          string     `gorm:"column:title;not null" json:"title"`
	Content        string     `gorm:"column:content;not null" json:"content"`
	Importance     float64    `gorm:"column:importance;not null;default:0" json:"importance"` // 0..1
	Sentiment      float64    `gorm:"column:sentiment;not null;default:0" json:"sentiment"`   // -1..1
	Fingerprint    string     `gorm:"column:fingerprint;not null;index" json:"fingerprint"`
	Status         string     `gorm:"column:status;not null;index;default:active" json:"status"`
	EmbeddedAt     *time.Time `gorm:"column:embedded_at;index" json:"embedded_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (MemoryUnit) TableName() string { return "memory_unit" }
