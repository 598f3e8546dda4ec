package types

import (
	"time"

	"github.com/google/uuid"
)

// UserProfile carries the rolling per-user memory profile and ontology
// summary used as extraction context for the next conversation.
type UserProfile struct {
	UserID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	MemoryProfile   string    `gorm:"column:memory_profile" json:"memory_profile"`
	OntologySummary string    `gorm:"column:ontology_summary" json:"ontology_summary"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (UserProfile) TableName() string { return "user_profile" }
