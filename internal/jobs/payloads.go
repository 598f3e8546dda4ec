package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/types"
)

// Job payloads are tagged variants with a fixed schema per queue, validated
// at dequeue time rather than trusted implicitly.

type IngestionPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func (p IngestionPayload) Validate() error {
	if p.ConversationID == uuid.Nil {
		return fmt.Errorf("ingestion payload: conversation_id required")
	}
	if p.UserID == uuid.Nil {
		return fmt.Errorf("ingestion payload: user_id required")
	}
	return nil
}

type OptimizationPayload struct {
	CycleID     uuid.UUID `json:"cycle_id"`
	UserID      uuid.UUID `json:"user_id"`
	RangeStart  time.Time `json:"range_start"`
	RangeEnd    time.Time `json:"range_end"`
	TriggeredBy string    `json:"triggered_by"`
}

func (p OptimizationPayload) Validate() error {
	if p.CycleID == uuid.Nil {
		return fmt.Errorf("optimization payload: cycle_id required")
	}
	if p.UserID == uuid.Nil {
		return fmt.Errorf("optimization payload: user_id required")
	}
	if !p.RangeEnd.After(p.RangeStart) {
		return fmt.Errorf("optimization payload: range_end must be after range_start")
	}
	return nil
}

type EmbeddingBackfillPayload struct {
	EntityType string    `json:"entity_type"` // concept|memory_unit
	EntityID   uuid.UUID `json:"entity_id"`
	UserID     uuid.UUID `json:"user_id"`
}

func (p EmbeddingBackfillPayload) Validate() error {
	if p.EntityID == uuid.Nil {
		return fmt.Errorf("embedding backfill payload: entity_id required")
	}
	switch p.EntityType {
	case "concept", "memory_unit":
	default:
		return fmt.Errorf("embedding backfill payload: unknown entity_type %q", p.EntityType)
	}
	return nil
}

// IngestionUniqueKey keys the queue so one conversation can hold at most
// one live ingestion job.
func IngestionUniqueKey(conversationID uuid.UUID) string {
	return "ingest:" + conversationID.String()
}

func OptimizationUniqueKey(userID uuid.UUID) string {
	return "cycle:" + userID.String()
}

func EmbeddingBackfillUniqueKey(entityType string, entityID uuid.UUID) string {
	return "embed:" + entityType + ":" + entityID.String()
}

// DecodePayload unmarshals and validates the payload for the job's type.
func DecodePayload(job *types.JobRun, dst interface{ Validate() error }) error {
	if job == nil || len(job.Payload) == 0 {
		return fmt.Errorf("job payload is empty")
	}
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.JobType, err)
	}
	return dst.Validate()
}

func MarshalPayload(p interface{ Validate() error }) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}
