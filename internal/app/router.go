package app

import (
	"github.com/gin-gonic/gin"

	"github.com/evermind-ai/evermind-backend/internal/server"
)

func wireRouter(cfg Config, handlerset Handlers) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	return server.NewRouter(server.RouterConfig{
		ServiceName:         cfg.ServiceName,
		AllowedOrigins:      cfg.AllowedOrigins,
		ConversationHandler: handlerset.Conversation,
		CycleHandler:        handlerset.Cycle,
		MemoryHandler:       handlerset.Memory,
		AdminHandler:        handlerset.Admin,
	})
}
