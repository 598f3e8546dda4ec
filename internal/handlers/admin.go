package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/reconciler"
)

// AdminHandler exposes operator actions outside the collaborator surface.
type AdminHandler struct {
	reconciler *reconciler.Reconciler
	log        *logger.Logger
}

func NewAdminHandler(rec *reconciler.Reconciler, baseLog *logger.Logger) *AdminHandler {
	return &AdminHandler{
		reconciler: rec,
		log:        baseLog.With("handler", "AdminHandler"),
	}
}

// RunReconcile executes one reconciliation pass inline and returns once it
// finishes. Rule failures are logged by the reconciler, not surfaced here.
func (h *AdminHandler) RunReconcile(c *gin.Context) {
	h.reconciler.RunOnce(c.Request.Context())
	RespondOK(c, gin.H{"status": "completed"})
}
