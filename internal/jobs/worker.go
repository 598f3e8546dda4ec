package jobs

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/observability"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
)

type WorkerConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 1 * time.Second,
		MaxAttempts:  5,
		RetryDelay:   30 * time.Second,
		StaleRunning: 5 * time.Minute,
	}
}

// Worker pulls one job at a time off the queue and dispatches it to the
// registry. Jobs within a worker process are strictly serial; scale-out is
// horizontal.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *Registry
	cfg      WorkerConfig
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *Registry, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg = DefaultWorkerConfig()
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		cfg:      cfg,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	job, err := w.repo.ClaimNextRunnable(ctx, w.db, w.cfg.MaxAttempts, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil {
		w.log.Warn("ClaimNextRunnable failed", "error", err)
		return
	}
	if job == nil {
		return
	}

	start := time.Now()
	jc := NewContext(ctx, w.db, job, w.repo, w.log)
	h, ok := w.registry.Get(job.JobType)
	if !ok {
		jc.FailPermanent("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				jc.Fail("panic", fmt.Errorf("panic: %v", r))
			}
		}()
		if err := h.Run(jc); err != nil {
			// Handlers normally settle status themselves; an error return
			// is the escape hatch for infrastructure failures.
			jc.Fail(job.Stage, err)
		}
	}()

	refreshed, gErr := w.repo.GetByID(ctx, w.db, job.ID)
	status := job.Status
	if gErr == nil && refreshed != nil {
		status = refreshed.Status
	}
	observability.ObserveJob(job.JobType, status, time.Since(start))
}
