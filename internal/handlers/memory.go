package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/data/graph"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/platform/neo4jdb"
	"github.com/evermind-ai/evermind-backend/internal/repos"
)

// MemoryHandler serves the read side of a user's extracted knowledge:
// memory units, concepts, growth events and the graph neighborhood used by
// visualization.
type MemoryHandler struct {
	memoryUnits  repos.MemoryUnitRepo
	concepts     repos.ConceptRepo
	communities  repos.CommunityRepo
	growthEvents repos.GrowthEventRepo
	profiles     repos.UserProfileRepo
	graph        *neo4jdb.Client
	log          *logger.Logger
}

func NewMemoryHandler(
	memoryUnits repos.MemoryUnitRepo,
	concepts repos.ConceptRepo,
	communities repos.CommunityRepo,
	growthEvents repos.GrowthEventRepo,
	profiles repos.UserProfileRepo,
	graphClient *neo4jdb.Client,
	baseLog *logger.Logger,
) *MemoryHandler {
	return &MemoryHandler{
		memoryUnits:  memoryUnits,
		concepts:     concepts,
		communities:  communities,
		growthEvents: growthEvents,
		profiles:     profiles,
		graph:        graphClient,
		log:          baseLog.With("handler", "MemoryHandler"),
	}
}

func (h *MemoryHandler) userAndRange(c *gin.Context) (uuid.UUID, time.Time, time.Time, bool) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return uuid.Nil, time.Time{}, time.Time{}, false
	}
	until := time.Now().UTC()
	since := until.AddDate(0, 0, -30)
	if raw := c.Query("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		}
	}
	if raw := c.Query("until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			until = t
		}
	}
	return userID, since, until, true
}

func (h *MemoryHandler) ListMemoryUnits(c *gin.Context) {
	userID, since, until, ok := h.userAndRange(c)
	if !ok {
		return
	}
	units, err := h.memoryUnits.ListByUserRange(c.Request.Context(), nil, userID, since, until, 500)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"memory_units": units})
}

func (h *MemoryHandler) ListConcepts(c *gin.Context) {
	userID, since, until, ok := h.userAndRange(c)
	if !ok {
		return
	}
	concepts, err := h.concepts.ListActiveByUserRange(c.Request.Context(), nil, userID, since, until, 500)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"concepts": concepts})
}

func (h *MemoryHandler) ListCommunities(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	communities, err := h.communities.ListByUser(c.Request.Context(), nil, userID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"communities": communities})
}

func (h *MemoryHandler) ListGrowthEvents(c *gin.Context) {
	userID, since, until, ok := h.userAndRange(c)
	if !ok {
		return
	}
	events, err := h.growthEvents.ListByUserRange(c.Request.Context(), nil, userID, since, until)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"growth_events": events})
}

func (h *MemoryHandler) GetProfile(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	profile, err := h.profiles.Get(c.Request.Context(), nil, userID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"profile": profile})
}

// GetGraph returns the user's graph neighborhood for visualization. Reads
// are expected to be briefly stale relative to the relational store.
func (h *MemoryHandler) GetGraph(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	limit := 500
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	nodes, edges, err := graph.UserNeighborhood(c.Request.Context(), h.graph, userID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "graph_unavailable", err)
		return
	}
	RespondOK(c, gin.H{"nodes": nodes, "edges": edges})
}
