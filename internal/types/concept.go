package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ConceptActive   = "active"
	ConceptMerged   = "merged"
	ConceptArchived = "archived"
)

// Concept is a named abstraction (person, place, theme, value, goal, ...).
// A merged concept keeps MergedIntoID as a forwarding pointer to its
// surviving successor.
type Concept struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Name         string     `gorm:"column:name;not null;index" json:"name"`
	Type         string     `gorm:"column:type;not null;index" json:"type"`
	Salience     float64    `gorm:"column:salience;not null;default:0" json:"salience"` // 0..1
	Status       string     `gorm:"column:status;not null;index;default:active" json:"status"`
	CommunityID  *uuid.UUID `gorm:"type:uuid;index" json:"community_id,omitempty"`
	MergedIntoID *uuid.UUID `gorm:"type:uuid;index" json:"merged_into_id,omitempty"`
	Fingerprint  string     `gorm:"column:fingerprint;not null;index" json:"fingerprint"`
	EmbeddedAt   *time.Time `gorm:"column:embedded_at;index" json:"embedded_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Concept) TableName() string { return "concept" }
