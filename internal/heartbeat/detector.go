package heartbeat

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type DetectorConfig struct {
	PollInterval time.Duration
	TTL          time.Duration
	BatchLimit   int
}

func DetectorConfigFromEnv() DetectorConfig {
	return DetectorConfig{
		PollInterval: envutil.Duration("DETECTOR_POLL_INTERVAL", 60*time.Second),
		TTL:          DefaultTTL(),
		BatchLimit:   envutil.Int("DETECTOR_BATCH_LIMIT", 500),
	}
}

// Detector periodically sweeps active conversations for lapsed heartbeats.
// A conversation lapses when its liveness key has expired and its
// last_active_at is older than the TTL. The conditional status claim
// (active -> ended) is the idempotency boundary: concurrent detector
// instances race the same lapse and at most one wins, so at most one
// ingestion job is ever enqueued per conversation lifetime.
type Detector struct {
	db       *gorm.DB
	rdb      *goredis.Client
	convRepo repos.ConversationRepo
	jobRepo  repos.JobRunRepo
	cfg      DetectorConfig
	log      *logger.Logger
	nowFn    func() time.Time
	txFn     func(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// errClaimLost marks a lapse another detector instance already claimed.
var errClaimLost = errors.New("conversation claim lost")

func NewDetector(db *gorm.DB, rdb *goredis.Client, convRepo repos.ConversationRepo, jobRepo repos.JobRunRepo, cfg DetectorConfig, baseLog *logger.Logger) *Detector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 600 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	return &Detector{
		db:       db,
		rdb:      rdb,
		convRepo: convRepo,
		jobRepo:  jobRepo,
		cfg:      cfg,
		log:      baseLog.With("component", "TimeoutDetector"),
		nowFn:    time.Now,
		txFn: func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		},
	}
}

func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	d.log.Info("timeout detector started", "poll_interval", d.cfg.PollInterval, "ttl", d.cfg.TTL)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("timeout detector stopped")
			return
		case <-ticker.C:
			if n, err := d.Sweep(ctx); err != nil {
				d.log.Error("detector sweep failed", "error", err)
			} else if n > 0 {
				d.log.Info("detector sweep ended conversations", "count", n)
			}
		}
	}
}

// Sweep runs one detection pass and returns the number of conversations it
// ended and enqueued.
func (d *Detector) Sweep(ctx context.Context) (int, error) {
	now := d.nowFn()
	cutoff := now.Add(-d.cfg.TTL)
	active, err := d.convRepo.ListActive(ctx, nil, d.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, conv := range active {
		if conv.LastActiveAt.After(cutoff) {
			continue
		}
		if d.keyAlive(ctx, conv) {
			// Key refreshed after the row was read; still live.
			continue
		}
		// One transaction: a failed enqueue rolls the status claim back,
		// so the conversation stays active and the next sweep retries
		// the whole lapse instead of stranding an ended row with no job.
		err := d.txFn(ctx, func(tx *gorm.DB) error {
			claimed, cErr := d.convRepo.ClaimEnded(ctx, tx, conv.ID, now)
			if cErr != nil {
				return cErr
			}
			if !claimed {
				return errClaimLost
			}
			return d.enqueueIngestion(ctx, tx, conv, now)
		})
		if errors.Is(err, errClaimLost) {
			continue
		}
		if err != nil {
			d.log.Error("end conversation failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		ended++
	}
	return ended, nil
}

func (d *Detector) keyAlive(ctx context.Context, conv *types.Conversation) bool {
	if d.rdb == nil {
		return false
	}
	n, err := d.rdb.Exists(ctx, AliveKey(conv.ID)).Result()
	if err != nil {
		d.log.Warn("liveness key check failed (using database state)", "conversation_id", conv.ID, "error", err)
		return false
	}
	return n > 0
}

func (d *Detector) enqueueIngestion(ctx context.Context, tx *gorm.DB, conv *types.Conversation, now time.Time) error {
	payload, err := jobs.MarshalPayload(jobs.IngestionPayload{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Timestamp:      now,
	})
	if err != nil {
		return err
	}
	_, err = d.jobRepo.Enqueue(ctx, tx, &types.JobRun{
		OwnerUserID: conv.UserID,
		JobType:     types.JobTypeConversationIngest,
		UniqueKey:   jobs.IngestionUniqueKey(conv.ID),
		Payload:     datatypes.JSON(payload),
	})
	if errors.Is(err, repos.ErrDuplicateJob) {
		d.log.Debug("ingestion job already pending", "conversation_id", conv.ID)
		return nil
	}
	return err
}
