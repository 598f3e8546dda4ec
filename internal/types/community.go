package types

import (
	"time"

	"github.com/google/uuid"
)

// Community is a cluster of related concepts produced by an ontology cycle.
// StrategicImportance is on a 1..10 scale.
type Community struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	CycleID             uuid.UUID `gorm:"type:uuid;not null;index" json:"cycle_id"`
	Theme               string    `gorm:"column:theme;not null" json:"theme"`
	StrategicImportance int       `gorm:"column:strategic_importance;not null;default:1" json:"strategic_importance"`
	CreatedAt           time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Community) TableName() string { return "community" }
