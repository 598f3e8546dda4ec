package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

const aliveKeyPrefix = "conv:alive:"

// AliveKey is the ephemeral liveness key for a conversation. Only expiry
// removes it; nothing in the codebase deletes it directly.
func AliveKey(conversationID uuid.UUID) string {
	return aliveKeyPrefix + conversationID.String()
}

// DefaultTTL reads the heartbeat TTL from the environment (seconds).
func DefaultTTL() time.Duration {
	return envutil.Duration("HEARTBEAT_TTL", 600*time.Second)
}

// Tracker refreshes the per-conversation liveness key on every inbound
// message and keeps the conversation row's last_active_at in step. The
// Redis write is best-effort: when Redis is down the detector's database
// sweep still observes the lapse through last_active_at.
type Tracker struct {
	rdb      *goredis.Client
	convRepo repos.ConversationRepo
	ttl      time.Duration
	log      *logger.Logger
}

func NewTracker(rdb *goredis.Client, convRepo repos.ConversationRepo, baseLog *logger.Logger) *Tracker {
	return &Tracker{
		rdb:      rdb,
		convRepo: convRepo,
		ttl:      DefaultTTL(),
		log:      baseLog.With("component", "HeartbeatTracker"),
	}
}

// Touch creates the conversation on its first message and refreshes its
// activity on every later one. Ended or processed conversations are never
// resurrected; touching one is reported so the caller can reject the message.
func (t *Tracker) Touch(ctx context.Context, conversationID, userID uuid.UUID) (*types.Conversation, error) {
	now := time.Now()
	conv, err := t.convRepo.Touch(ctx, nil, conversationID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found after touch", conversationID)
	}
	if conv.Status != types.ConversationActive {
		return conv, fmt.Errorf("conversation %s is %s and cannot accept messages", conversationID, conv.Status)
	}
	if t.rdb != nil {
		if err := t.rdb.Set(ctx, AliveKey(conversationID), now.Unix(), t.ttl).Err(); err != nil {
			t.log.Warn("liveness key refresh failed (sweep will cover)", "conversation_id", conversationID, "error", err)
		}
	}
	return conv, nil
}

// TTL reports the configured heartbeat TTL.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}
