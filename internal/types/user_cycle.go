package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// UserCycle statuses. Transitions are one-directional: pending -> foundation
// -> community_detection -> concept_merging -> relationship_creation ->
// completed, with failed reachable from any working stage.
const (
	CyclePending              = "pending"
	CycleFoundation           = "foundation"
	CycleCommunityDetection   = "community_detection"
	CycleConceptMerging       = "concept_merging"
	CycleRelationshipCreation = "relationship_creation"
	CycleCompleted            = "completed"
	CycleFailed               = "failed"
)

func CycleTerminal(status string) bool {
	return status == CycleCompleted || status == CycleFailed
}

// UserCycle is one ontology-optimization run for one user over one date
// range. At most one non-terminal cycle may exist per user.
type UserCycle struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Status      string         `gorm:"column:status;not null;index;default:pending" json:"status"`
	RangeStart  time.Time      `gorm:"column:range_start;not null" json:"range_start"`
	RangeEnd    time.Time      `gorm:"column:range_end;not null" json:"range_end"`
	TriggeredBy string         `gorm:"column:triggered_by;not null;default:manual" json:"triggered_by"`
	Plan        datatypes.JSON `gorm:"type:jsonb;column:plan" json:"plan,omitempty"`
	FailedStage string         `gorm:"column:failed_stage" json:"failed_stage,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	StartedAt   time.Time      `gorm:"column:started_at;not null;default:now()" json:"started_at"`
	EndedAt     *time.Time     `gorm:"column:ended_at" json:"ended_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (UserCycle) TableName() string { return "user_cycle" }
