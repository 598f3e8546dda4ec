package app

import (
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
)

type Repos struct {
	Conversation   repos.ConversationRepo
	Message        repos.MessageRepo
	MemoryUnit     repos.MemoryUnitRepo
	Concept        repos.ConceptRepo
	Community      repos.CommunityRepo
	GrowthEvent    repos.GrowthEventRepo
	UserProfile    repos.UserProfileRepo
	UserCycle      repos.UserCycleRepo
	LLMInteraction repos.LLMInteractionRepo
	JobRun         repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Conversation:   repos.NewConversationRepo(db, log),
		Message:        repos.NewMessageRepo(db, log),
		MemoryUnit:     repos.NewMemoryUnitRepo(db, log),
		Concept:        repos.NewConceptRepo(db, log),
		Community:      repos.NewCommunityRepo(db, log),
		GrowthEvent:    repos.NewGrowthEventRepo(db, log),
		UserProfile:    repos.NewUserProfileRepo(db, log),
		UserCycle:      repos.NewUserCycleRepo(db, log),
		LLMInteraction: repos.NewLLMInteractionRepo(db, log),
		JobRun:         repos.NewJobRunRepo(db, log),
	}
}
