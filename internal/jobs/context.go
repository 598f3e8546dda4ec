package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

// Context is the capability-scoped execution handle for a single claimed
// job run. Handlers never touch the job_run row directly; progress and
// terminal status flow through this object.
type Context struct {
	Ctx context.Context
	DB  *gorm.DB
	Job *types.JobRun
	Log *logger.Logger

	repo repos.JobRunRepo
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, log *logger.Logger) *Context {
	return &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Log:  log.With("job_id", job.ID, "job_type", job.JobType),
		repo: repo,
	}
}

// Progress records the stage a handler has reached and refreshes the
// heartbeat so a live job is not reclaimed as stale.
func (c *Context) Progress(stage string) {
	if c == nil || c.Job == nil {
		return
	}
	c.Job.Stage = stage
	now := time.Now()
	if err := c.repo.UpdateFields(c.Ctx, c.DB, c.Job.ID, map[string]interface{}{
		"stage":        stage,
		"heartbeat_at": now,
	}); err != nil {
		c.Log.Warn("job progress update failed", "stage", stage, "error", err)
	}
}

// Fail marks the job failed at the given stage. The queue's retry policy
// decides whether it runs again.
func (c *Context) Fail(stage string, jobErr error) {
	if c == nil || c.Job == nil {
		return
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	now := time.Now()
	if err := c.repo.UpdateFields(c.Ctx, c.DB, c.Job.ID, map[string]interface{}{
		"status":        types.JobFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
	}); err != nil {
		c.Log.Error("job fail update failed", "stage", stage, "error", err)
	}
	c.Log.Warn("job failed", "stage", stage, "error", msg)
}

// FailPermanent marks the job failed and exhausts its attempt budget so the
// queue never retries it. Used for malformed model output, which manual
// reprocessing must resolve.
func (c *Context) FailPermanent(stage string, jobErr error) {
	if c == nil || c.Job == nil {
		return
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	now := time.Now()
	if err := c.repo.UpdateFields(c.Ctx, c.DB, c.Job.ID, map[string]interface{}{
		"status":        types.JobFailed,
		"stage":         stage,
		"error":         msg,
		"attempts":      1 << 20,
		"last_error_at": now,
	}); err != nil {
		c.Log.Error("job permanent-fail update failed", "stage", stage, "error", err)
	}
	c.Log.Error("job failed permanently", "stage", stage, "error", msg)
}

// Succeed marks the job succeeded.
func (c *Context) Succeed(stage string) {
	if c == nil || c.Job == nil {
		return
	}
	if err := c.repo.UpdateFields(c.Ctx, c.DB, c.Job.ID, map[string]interface{}{
		"status": types.JobSucceeded,
		"stage":  stage,
		"error":  "",
	}); err != nil {
		c.Log.Error("job succeed update failed", "stage", stage, "error", err)
	}
}
