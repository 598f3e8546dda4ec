package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/evermind-ai/evermind-backend/internal/heartbeat"
	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type ConversationHandler struct {
	tracker       *heartbeat.Tracker
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
	interactions  repos.LLMInteractionRepo
	jobRuns       repos.JobRunRepo
	log           *logger.Logger
}

func NewConversationHandler(
	tracker *heartbeat.Tracker,
	conversations repos.ConversationRepo,
	messages repos.MessageRepo,
	interactions repos.LLMInteractionRepo,
	jobRuns repos.JobRunRepo,
	baseLog *logger.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		tracker:       tracker,
		conversations: conversations,
		messages:      messages,
		interactions:  interactions,
		jobRuns:       jobRuns,
		log:           baseLog.With("handler", "ConversationHandler"),
	}
}

type postMessageRequest struct {
	UserID  uuid.UUID `json:"user_id" binding:"required"`
	Role    string    `json:"role" binding:"required,oneof=user assistant"`
	Content string    `json:"content" binding:"required"`
}

// PostMessage records one inbound message. The first message of an id
// creates the conversation; every message refreshes its heartbeat.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	conv, err := h.tracker.Touch(c.Request.Context(), conversationID, req.UserID)
	if err != nil {
		if conv != nil && conv.Status != types.ConversationActive {
			RespondError(c, http.StatusConflict, "conversation_not_active", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "touch_failed", err)
		return
	}

	msg, err := h.messages.Create(c.Request.Context(), nil, &types.Message{
		ConversationID: conversationID,
		UserID:         req.UserID,
		Role:           req.Role,
		Content:        req.Content,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "message_create_failed", err)
		return
	}
	RespondOK(c, gin.H{"conversation": conv, "message": msg})
}

// EndConversation force-ends an active conversation without waiting for the
// heartbeat to lapse, enqueueing ingestion exactly as the detector would.
func (h *ConversationHandler) EndConversation(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	ctx := c.Request.Context()
	conv, err := h.conversations.GetByID(ctx, nil, conversationID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if conv == nil {
		RespondError(c, http.StatusNotFound, "conversation_not_found", errors.New("conversation not found"))
		return
	}

	now := time.Now()
	claimed, err := h.conversations.ClaimEnded(ctx, nil, conversationID, now)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "claim_failed", err)
		return
	}
	if !claimed {
		RespondError(c, http.StatusConflict, "conversation_not_active", errors.New("conversation already ended"))
		return
	}

	payload, err := jobs.MarshalPayload(jobs.IngestionPayload{
		ConversationID: conversationID,
		UserID:         conv.UserID,
		Timestamp:      now,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	_, err = h.jobRuns.Enqueue(ctx, nil, &types.JobRun{
		OwnerUserID: conv.UserID,
		JobType:     types.JobTypeConversationIngest,
		UniqueKey:   jobs.IngestionUniqueKey(conversationID),
		Payload:     datatypes.JSON(payload),
	})
	if err != nil && !errors.Is(err, repos.ErrDuplicateJob) {
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	RespondOK(c, gin.H{"conversation_id": conversationID, "status": types.ConversationEnded})
}

// GetConversation returns the conversation with its transcript.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	ctx := c.Request.Context()
	conv, err := h.conversations.GetByID(ctx, nil, conversationID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if conv == nil {
		RespondError(c, http.StatusNotFound, "conversation_not_found", errors.New("conversation not found"))
		return
	}
	messages, err := h.messages.ListByConversation(ctx, nil, conversationID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"conversation": conv, "messages": messages})
}

// GetInteractions returns the immutable model-call audit trail for a
// conversation.
func (h *ConversationHandler) GetInteractions(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	rows, err := h.interactions.ListByConversation(c.Request.Context(), nil, conversationID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"interactions": rows})
}
