package ontology

import (
	"context"
	"errors"
	"time"

	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
)

// Scheduler periodically starts cycles for users with freshly processed
// conversations. A user already holding a live cycle is skipped; their next
// scheduled window picks them up again.
type Scheduler struct {
	conversations repos.ConversationRepo
	cycles        *CycleService
	interval      time.Duration
	log           *logger.Logger
}

func NewScheduler(conversations repos.ConversationRepo, cycles *CycleService, baseLog *logger.Logger) *Scheduler {
	return &Scheduler{
		conversations: conversations,
		cycles:        cycles,
		interval:      envutil.Duration("CYCLE_SCHEDULE_INTERVAL", 24*time.Hour),
		log:           baseLog.With("component", "CycleScheduler"),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("cycle scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("cycle scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	start, end := ClampRange(time.Time{}, now, now)
	userIDs, err := s.conversations.ListProcessedUserIDs(ctx, nil, start)
	if err != nil {
		s.log.Error("list processed users failed", "error", err)
		return
	}
	started := 0
	for _, userID := range userIDs {
		if _, err := s.cycles.Start(ctx, userID, start, end, "schedule"); err != nil {
			if errors.Is(err, repos.ErrCycleActive) || errors.Is(err, repos.ErrDuplicateJob) {
				continue
			}
			s.log.Error("scheduled cycle start failed", "user_id", userID, "error", err)
			continue
		}
		started++
	}
	if started > 0 {
		s.log.Info("scheduled cycles started", "count", started, "candidates", len(userIDs))
	}
}
