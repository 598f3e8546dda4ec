package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evermind-ai/evermind-backend/internal/observability"
)

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Metrics dumps the in-process counter snapshot.
func Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, observability.Snapshot())
}
