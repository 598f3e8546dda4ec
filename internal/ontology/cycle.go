package ontology

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

var communityIDNamespace = uuid.MustParse("c4d81e2f-7a35-49b0-8c6d-5e9f0a1b2c3d")

// CommunityID derives the community id from its cycle and normalized theme,
// so re-running a cycle's materialization converges instead of duplicating.
func CommunityID(cycleID uuid.UUID, theme string) uuid.UUID {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(theme))), " ")
	return uuid.NewSHA1(communityIDNamespace, []byte(cycleID.String()+"/"+normalized))
}

// ClampRange bounds a requested optimization window to the configured
// minimum and maximum day span, anchored at the range end.
func ClampRange(start, end time.Time, now time.Time) (time.Time, time.Time) {
	minDays := envutil.Int("CYCLE_RANGE_MIN_DAYS", 1)
	maxDays := envutil.Int("CYCLE_RANGE_MAX_DAYS", 7)
	if end.IsZero() || end.After(now) {
		end = now
	}
	span := end.Sub(start)
	if start.IsZero() || span > time.Duration(maxDays)*24*time.Hour {
		start = end.Add(-time.Duration(maxDays) * 24 * time.Hour)
	} else if span < time.Duration(minDays)*24*time.Hour {
		start = end.Add(-time.Duration(minDays) * 24 * time.Hour)
	}
	return start, end
}

// CycleService starts optimization cycles. Creating the cycle row and
// enqueueing its job happen in one transaction so neither exists without
// the other.
type CycleService struct {
	db     *gorm.DB
	cycles repos.UserCycleRepo
	jobs   repos.JobRunRepo
	log    *logger.Logger
}

func NewCycleService(db *gorm.DB, cycles repos.UserCycleRepo, jobRepo repos.JobRunRepo, baseLog *logger.Logger) *CycleService {
	return &CycleService{db: db, cycles: cycles, jobs: jobRepo, log: baseLog.With("service", "CycleService")}
}

// Start creates a pending cycle for the user unless one is already live.
// Returns repos.ErrCycleActive when the serialization invariant rejects it.
func (s *CycleService) Start(ctx context.Context, userID uuid.UUID, rangeStart, rangeEnd time.Time, triggeredBy string) (*types.UserCycle, error) {
	now := time.Now().UTC()
	rangeStart, rangeEnd = ClampRange(rangeStart, rangeEnd, now)
	if triggeredBy == "" {
		triggeredBy = "manual"
	}
	cycle := &types.UserCycle{
		ID:          uuid.New(),
		UserID:      userID,
		Status:      types.CyclePending,
		RangeStart:  rangeStart,
		RangeEnd:    rangeEnd,
		TriggeredBy: triggeredBy,
		StartedAt:   now,
	}
	payload, err := jobs.MarshalPayload(jobs.OptimizationPayload{
		CycleID:     cycle.ID,
		UserID:      userID,
		RangeStart:  rangeStart,
		RangeEnd:    rangeEnd,
		TriggeredBy: triggeredBy,
	})
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.cycles.CreateIfNoneActive(ctx, tx, cycle); err != nil {
			return err
		}
		_, err := s.jobs.Enqueue(ctx, tx, &types.JobRun{
			OwnerUserID: userID,
			JobType:     types.JobTypeOntologyCycle,
			UniqueKey:   jobs.OptimizationUniqueKey(userID),
			Payload:     datatypes.JSON(payload),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("optimization cycle started",
		"user_id", userID, "cycle_id", cycle.ID, "triggered_by", triggeredBy,
		"range_start", rangeStart, "range_end", rangeEnd)
	return cycle, nil
}
