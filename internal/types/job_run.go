package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job types handled by the worker registry.
const (
	JobTypeConversationIngest = "conversation_ingest"
	JobTypeOntologyCycle      = "ontology_cycle"
	JobTypeEmbeddingBackfill  = "embedding_backfill"
)

// JobRun is one row in the Postgres-backed job queue. UniqueKey guards
// against duplicate enqueue while a job for the same work item is still
// queued or running.
type JobRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobType     string         `gorm:"column:job_type;not null;index" json:"job_type"`
	UniqueKey   string         `gorm:"column:unique_key;not null;index" json:"unique_key"`
	Status      string         `gorm:"column:status;not null;index;default:queued" json:"status"`
	Stage       string         `gorm:"column:stage;not null;default:''" json:"stage"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }
