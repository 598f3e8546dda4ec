package app

import (
	"github.com/evermind-ai/evermind-backend/internal/handlers"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
)

type Handlers struct {
	Conversation *handlers.ConversationHandler
	Cycle        *handlers.CycleHandler
	Memory       *handlers.MemoryHandler
	Admin        *handlers.AdminHandler
}

func wireHandlers(log *logger.Logger, clients Clients, reposet Repos, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Conversation: handlers.NewConversationHandler(
			services.Tracker,
			reposet.Conversation,
			reposet.Message,
			reposet.LLMInteraction,
			reposet.JobRun,
			log,
		),
		Cycle: handlers.NewCycleHandler(services.Cycles, reposet.UserCycle, log),
		Memory: handlers.NewMemoryHandler(
			reposet.MemoryUnit,
			reposet.Concept,
			reposet.Community,
			reposet.GrowthEvent,
			reposet.UserProfile,
			clients.Graph,
			log,
		),
		Admin: handlers.NewAdminHandler(services.Reconciler, log),
	}
}
