package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/evermind-ai/evermind-backend/internal/handlers"
)

type RouterConfig struct {
	ServiceName         string
	AllowedOrigins      []string
	ConversationHandler *handlers.ConversationHandler
	CycleHandler        *handlers.CycleHandler
	MemoryHandler       *handlers.MemoryHandler
	AdminHandler        *handlers.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(cfg.ServiceName))

	// Cors
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5174"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/metrics", handlers.Metrics)

	api := router.Group("/api")
	{
		// Conversations
		api.POST("/conversations/:id/messages", cfg.ConversationHandler.PostMessage)
		api.POST("/conversations/:id/end", cfg.ConversationHandler.EndConversation)
		api.GET("/conversations/:id", cfg.ConversationHandler.GetConversation)
		api.GET("/conversations/:id/interactions", cfg.ConversationHandler.GetInteractions)

		// Optimization cycles
		api.POST("/users/:id/cycles", cfg.CycleHandler.StartCycle)
		api.GET("/users/:id/cycles", cfg.CycleHandler.ListCycles)
		api.GET("/cycles/:id", cfg.CycleHandler.GetCycle)

		// Extracted memory
		api.GET("/users/:id/memory-units", cfg.MemoryHandler.ListMemoryUnits)
		api.GET("/users/:id/concepts", cfg.MemoryHandler.ListConcepts)
		api.GET("/users/:id/communities", cfg.MemoryHandler.ListCommunities)
		api.GET("/users/:id/growth-events", cfg.MemoryHandler.ListGrowthEvents)
		api.GET("/users/:id/profile", cfg.MemoryHandler.GetProfile)
		api.GET("/users/:id/graph", cfg.MemoryHandler.GetGraph)

		// Operator actions
		api.POST("/admin/reconcile", cfg.AdminHandler.RunReconcile)
	}

	return router
}
