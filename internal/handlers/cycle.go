package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/ontology"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
)

type CycleHandler struct {
	cycles  *ontology.CycleService
	records repos.UserCycleRepo
	log     *logger.Logger
}

func NewCycleHandler(cycles *ontology.CycleService, records repos.UserCycleRepo, baseLog *logger.Logger) *CycleHandler {
	return &CycleHandler{cycles: cycles, records: records, log: baseLog.With("handler", "CycleHandler")}
}

type startCycleRequest struct {
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
}

// StartCycle triggers an ontology optimization cycle for the user. Rejected
// with 409 while a previous cycle is still non-terminal.
func (h *CycleHandler) StartCycle(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	var req startCycleRequest
	// An empty or missing body is fine; the range defaults.
	_ = c.ShouldBindJSON(&req)
	cycle, err := h.cycles.Start(c.Request.Context(), userID, req.RangeStart, req.RangeEnd, "manual")
	if err != nil {
		if errors.Is(err, repos.ErrCycleActive) || errors.Is(err, repos.ErrDuplicateJob) {
			RespondError(c, http.StatusConflict, "cycle_already_active", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "cycle_start_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cycle": cycle})
}

// GetCycle returns one cycle with its stored plan and stage outcome.
func (h *CycleHandler) GetCycle(c *gin.Context) {
	cycleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_cycle_id", err)
		return
	}
	cycle, err := h.records.GetByID(c.Request.Context(), nil, cycleID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if cycle == nil {
		RespondError(c, http.StatusNotFound, "cycle_not_found", errors.New("cycle not found"))
		return
	}
	RespondOK(c, gin.H{"cycle": cycle})
}

// ListCycles returns the user's cycle history, newest first.
func (h *CycleHandler) ListCycles(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	cycles, err := h.records.ListByUser(c.Request.Context(), nil, userID, 50)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"cycles": cycles})
}
