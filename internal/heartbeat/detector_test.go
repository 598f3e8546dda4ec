package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type memConversations struct {
	byID map[uuid.UUID]*types.Conversation
}

func newMemConversations(convs ...*types.Conversation) *memConversations {
	m := &memConversations{byID: map[uuid.UUID]*types.Conversation{}}
	for _, c := range convs {
		m.byID[c.ID] = c
	}
	return m
}

func (m *memConversations) Touch(_ context.Context, _ *gorm.DB, id, userID uuid.UUID, now time.Time) (*types.Conversation, error) {
	conv, ok := m.byID[id]
	if !ok {
		conv = &types.Conversation{ID: id, UserID: userID, Status: types.ConversationActive, StartedAt: now}
		m.byID[id] = conv
	}
	if conv.Status == types.ConversationActive {
		conv.LastActiveAt = now
	}
	return conv, nil
}

func (m *memConversations) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.Conversation, error) {
	return m.byID[id], nil
}

func (m *memConversations) ListActive(_ context.Context, _ *gorm.DB, _ int) ([]*types.Conversation, error) {
	var out []*types.Conversation
	for _, c := range m.byID {
		if c.Status == types.ConversationActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memConversations) ClaimEnded(_ context.Context, _ *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	conv, ok := m.byID[id]
	if !ok || conv.Status != types.ConversationActive {
		return false, nil
	}
	conv.Status = types.ConversationEnded
	conv.EndedAt = &now
	return true, nil
}

func (m *memConversations) SetAnalysis(_ context.Context, _ *gorm.DB, id uuid.UUID, analysis datatypes.JSON, importance float64, summary string) error {
	conv := m.byID[id]
	conv.Analysis = analysis
	conv.Importance = importance
	conv.Summary = summary
	return nil
}

func (m *memConversations) MarkProcessed(_ context.Context, _ *gorm.DB, id uuid.UUID, nextContext datatypes.JSON) error {
	conv := m.byID[id]
	if conv.Status == types.ConversationEnded {
		conv.Status = types.ConversationProcessed
		conv.NextContext = nextContext
	}
	return nil
}

func (m *memConversations) ListProcessedUserIDs(_ context.Context, _ *gorm.DB, _ time.Time) ([]uuid.UUID, error) {
	return nil, nil
}

type memJobs struct {
	jobs    []*types.JobRun
	byKey   map[string]*types.JobRun
	enqueue int
}

func newMemJobs() *memJobs {
	return &memJobs{byKey: map[string]*types.JobRun{}}
}

func (m *memJobs) Enqueue(_ context.Context, _ *gorm.DB, job *types.JobRun) (*types.JobRun, error) {
	if live, ok := m.byKey[job.UniqueKey]; ok && (live.Status == types.JobQueued || live.Status == types.JobRunning) {
		return nil, repos.ErrDuplicateJob
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = types.JobQueued
	m.jobs = append(m.jobs, job)
	m.byKey[job.UniqueKey] = job
	m.enqueue++
	return job, nil
}

func (m *memJobs) ClaimNextRunnable(_ context.Context, _ *gorm.DB, _ int, _, _ time.Duration) (*types.JobRun, error) {
	for _, j := range m.jobs {
		if j.Status == types.JobQueued {
			j.Status = types.JobRunning
			j.Attempts++
			return j, nil
		}
	}
	return nil, nil
}

func (m *memJobs) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	for _, j := range m.jobs {
		if j.ID == id {
			if s, ok := updates["status"].(string); ok {
				j.Status = s
			}
		}
	}
	return nil
}

func (m *memJobs) Heartbeat(_ context.Context, _ *gorm.DB, _ uuid.UUID) error { return nil }

func (m *memJobs) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	for _, j := range m.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, nil
}

func testDetector(t *testing.T, convs repos.ConversationRepo, jobsRepo *memJobs, now time.Time) *Detector {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	d := NewDetector(nil, nil, convs, jobsRepo, DetectorConfig{
		PollInterval: time.Minute,
		TTL:          600 * time.Second,
		BatchLimit:   100,
	}, log)
	d.nowFn = func() time.Time { return now }
	d.txFn = func(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }
	return d
}

func TestSweepEndsLapsedConversationExactlyOnce(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()
	conv := &types.Conversation{
		ID:           uuid.New(),
		UserID:       userID,
		Status:       types.ConversationActive,
		StartedAt:    start,
		LastActiveAt: start,
	}
	convs := newMemConversations(conv)
	jobsRepo := newMemJobs()

	// 601s after the last message the TTL has lapsed.
	d := testDetector(t, convs, jobsRepo, start.Add(601*time.Second))

	n, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 ended conversation, got %d", n)
	}
	if conv.Status != types.ConversationEnded {
		t.Fatalf("conversation status = %q", conv.Status)
	}
	if jobsRepo.enqueue != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", jobsRepo.enqueue)
	}
	job := jobsRepo.jobs[0]
	if job.JobType != types.JobTypeConversationIngest || job.OwnerUserID != userID {
		t.Fatalf("unexpected job %+v", job)
	}

	// A duplicate sweep one second later must enqueue nothing further.
	d2 := testDetector(t, convs, jobsRepo, start.Add(602*time.Second))
	n2, err := d2.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if n2 != 0 || jobsRepo.enqueue != 1 {
		t.Fatalf("duplicate sweep enqueued extra work: n=%d enqueues=%d", n2, jobsRepo.enqueue)
	}
}

func TestSweepSkipsRecentlyActiveConversation(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := &types.Conversation{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Status:       types.ConversationActive,
		StartedAt:    start,
		LastActiveAt: start,
	}
	convs := newMemConversations(conv)
	jobsRepo := newMemJobs()

	// 599s: still inside the TTL.
	d := testDetector(t, convs, jobsRepo, start.Add(599*time.Second))
	n, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 || conv.Status != types.ConversationActive || jobsRepo.enqueue != 0 {
		t.Fatalf("live conversation was ended: n=%d status=%q enqueues=%d", n, conv.Status, jobsRepo.enqueue)
	}
}

// staleListConversations serves a read snapshot taken before another
// detector instance won the claim race.
type staleListConversations struct {
	*memConversations
	stale []*types.Conversation
}

func (s *staleListConversations) ListActive(_ context.Context, _ *gorm.DB, _ int) ([]*types.Conversation, error) {
	return s.stale, nil
}

func TestSweepToleratesLostClaimRace(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := &types.Conversation{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Status:       types.ConversationActive,
		StartedAt:    start,
		LastActiveAt: start,
	}
	convs := newMemConversations(conv)
	jobsRepo := newMemJobs()
	stale := &staleListConversations{
		memConversations: convs,
		stale:            []*types.Conversation{{ID: conv.ID, UserID: conv.UserID, Status: types.ConversationActive, LastActiveAt: start}},
	}
	d := testDetector(t, stale, jobsRepo, start.Add(700*time.Second))

	// Another detector instance ended the conversation after our snapshot.
	conv.Status = types.ConversationEnded

	n, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 || jobsRepo.enqueue != 0 {
		t.Fatalf("lost race still enqueued: n=%d enqueues=%d", n, jobsRepo.enqueue)
	}
}

// failingJobs rejects the first n Enqueue calls the way a dropped database
// connection would.
type failingJobs struct {
	*memJobs
	failures int
}

func (f *failingJobs) Enqueue(ctx context.Context, tx *gorm.DB, job *types.JobRun) (*types.JobRun, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	return f.memJobs.Enqueue(ctx, tx, job)
}

func TestSweepRollsBackClaimWhenEnqueueFails(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := &types.Conversation{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Status:       types.ConversationActive,
		StartedAt:    start,
		LastActiveAt: start,
	}
	convs := newMemConversations(conv)
	jobsRepo := &failingJobs{memJobs: newMemJobs(), failures: 1}

	d := testDetector(t, convs, jobsRepo.memJobs, start.Add(700*time.Second))
	d.jobRepo = jobsRepo
	d.txFn = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		snapshot := *conv
		if err := fn(nil); err != nil {
			*conv = snapshot
			return err
		}
		return nil
	}

	n, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("failed enqueue counted as ended: n=%d", n)
	}
	if conv.Status != types.ConversationActive {
		t.Fatalf("claim must roll back with the enqueue, status = %q", conv.Status)
	}
	if jobsRepo.enqueue != 0 {
		t.Fatalf("expected no committed jobs, got %d", jobsRepo.enqueue)
	}

	// The conversation is still active, so the next sweep retries the
	// whole lapse and succeeds.
	n, err = d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if n != 1 || conv.Status != types.ConversationEnded || jobsRepo.enqueue != 1 {
		t.Fatalf("recovery sweep: n=%d status=%q enqueues=%d", n, conv.Status, jobsRepo.enqueue)
	}
}
