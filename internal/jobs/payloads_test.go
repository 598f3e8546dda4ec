package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/evermind-ai/evermind-backend/internal/types"
)

func TestDecodePayloadValidatesAtDequeue(t *testing.T) {
	convID := uuid.New()
	userID := uuid.New()

	raw, err := MarshalPayload(IngestionPayload{
		ConversationID: convID,
		UserID:         userID,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	job := &types.JobRun{JobType: types.JobTypeConversationIngest, Payload: datatypes.JSON(raw)}
	var got IngestionPayload
	if err := DecodePayload(job, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConversationID != convID || got.UserID != userID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodePayloadRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"conversation_id": `,
		"missing conv id":   `{"user_id":"` + uuid.NewString() + `"}`,
		"missing user id":   `{"conversation_id":"` + uuid.NewString() + `"}`,
		"wrong value types": `{"conversation_id":42,"user_id":true}`,
	}
	for name, raw := range cases {
		job := &types.JobRun{JobType: types.JobTypeConversationIngest, Payload: datatypes.JSON(raw)}
		var p IngestionPayload
		if err := DecodePayload(job, &p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	var p IngestionPayload
	if err := DecodePayload(&types.JobRun{JobType: types.JobTypeConversationIngest}, &p); err == nil {
		t.Fatalf("empty payload: expected error")
	}
}

func TestMarshalPayloadRefusesInvalid(t *testing.T) {
	if _, err := MarshalPayload(IngestionPayload{UserID: uuid.New()}); err == nil {
		t.Fatalf("expected error for missing conversation_id")
	}
	if _, err := MarshalPayload(OptimizationPayload{
		CycleID:    uuid.New(),
		UserID:     uuid.New(),
		RangeStart: time.Now(),
		RangeEnd:   time.Now().Add(-time.Hour),
	}); err == nil {
		t.Fatalf("expected error for inverted range")
	}
	if _, err := MarshalPayload(EmbeddingBackfillPayload{
		EntityType: "community",
		EntityID:   uuid.New(),
	}); err == nil {
		t.Fatalf("expected error for unknown entity_type")
	}
}

func TestUniqueKeysScopePerQueue(t *testing.T) {
	convID := uuid.New()
	userID := uuid.New()
	entityID := uuid.New()

	if got := IngestionUniqueKey(convID); !strings.HasSuffix(got, convID.String()) {
		t.Fatalf("ingestion key %q missing conversation id", got)
	}
	if IngestionUniqueKey(convID) != IngestionUniqueKey(convID) {
		t.Fatalf("ingestion key not stable")
	}
	if OptimizationUniqueKey(userID) == IngestionUniqueKey(userID) {
		t.Fatalf("queues must not share key space")
	}
	if EmbeddingBackfillUniqueKey("concept", entityID) == EmbeddingBackfillUniqueKey("memory_unit", entityID) {
		t.Fatalf("backfill key must include entity type")
	}
}
