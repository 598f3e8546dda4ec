package ontology

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/inference"
	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/platform/llm"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type memCycles struct {
	cycle    *types.UserCycle
	statuses []string
}

func (m *memCycles) CreateIfNoneActive(_ context.Context, _ *gorm.DB, cycle *types.UserCycle) (*types.UserCycle, error) {
	if m.cycle != nil && !types.CycleTerminal(m.cycle.Status) {
		return nil, repos.ErrCycleActive
	}
	m.cycle = cycle
	return cycle, nil
}

func (m *memCycles) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.UserCycle, error) {
	if m.cycle != nil && m.cycle.ID == id {
		return m.cycle, nil
	}
	return nil, nil
}

func (m *memCycles) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	if m.cycle == nil || m.cycle.ID != id {
		return nil
	}
	if s, ok := updates["status"].(string); ok {
		m.cycle.Status = s
		m.statuses = append(m.statuses, s)
	}
	if s, ok := updates["failed_stage"].(string); ok {
		m.cycle.FailedStage = s
	}
	if s, ok := updates["error"].(string); ok {
		m.cycle.Error = s
	}
	if p, ok := updates["plan"].(datatypes.JSON); ok {
		m.cycle.Plan = p
	}
	return nil
}

func (m *memCycles) ListByUser(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ int) ([]*types.UserCycle, error) {
	if m.cycle == nil {
		return nil, nil
	}
	return []*types.UserCycle{m.cycle}, nil
}

type emptyConcepts struct{}

func (emptyConcepts) UpsertBatch(context.Context, *gorm.DB, []*types.Concept) error { return nil }
func (emptyConcepts) GetByIDs(context.Context, *gorm.DB, []uuid.UUID) ([]*types.Concept, error) {
	return nil, nil
}
func (emptyConcepts) ListActiveByUserRange(context.Context, *gorm.DB, uuid.UUID, time.Time, time.Time, int) ([]*types.Concept, error) {
	return nil, nil
}
func (emptyConcepts) ResolveForwarding(context.Context, *gorm.DB, []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	return nil, nil
}
func (emptyConcepts) MarkMerged(context.Context, *gorm.DB, []uuid.UUID, uuid.UUID) error { return nil }
func (emptyConcepts) AssignCommunity(context.Context, *gorm.DB, []uuid.UUID, uuid.UUID) error {
	return nil
}
func (emptyConcepts) ListUnembedded(context.Context, *gorm.DB, time.Time, int) ([]*types.Concept, error) {
	return nil, nil
}
func (emptyConcepts) MarkEmbedded(context.Context, *gorm.DB, []uuid.UUID, time.Time) error {
	return nil
}
func (emptyConcepts) FilterExisting(context.Context, *gorm.DB, []uuid.UUID) (map[uuid.UUID]bool, error) {
	return nil, nil
}

type emptyUnits struct{}

func (emptyUnits) UpsertBatch(context.Context, *gorm.DB, []*types.MemoryUnit) error { return nil }
func (emptyUnits) GetByIDs(context.Context, *gorm.DB, []uuid.UUID) ([]*types.MemoryUnit, error) {
	return nil, nil
}
func (emptyUnits) ListByUserRange(context.Context, *gorm.DB, uuid.UUID, time.Time, time.Time, int) ([]*types.MemoryUnit, error) {
	return nil, nil
}
func (emptyUnits) ListUnembedded(context.Context, *gorm.DB, time.Time, int) ([]*types.MemoryUnit, error) {
	return nil, nil
}
func (emptyUnits) MarkEmbedded(context.Context, *gorm.DB, []uuid.UUID, time.Time) error { return nil }
func (emptyUnits) FilterExisting(context.Context, *gorm.DB, []uuid.UUID) (map[uuid.UUID]bool, error) {
	return nil, nil
}

type emptyCommunities struct{}

func (emptyCommunities) UpsertBatch(context.Context, *gorm.DB, []*types.Community) error { return nil }
func (emptyCommunities) GetByIDs(context.Context, *gorm.DB, []uuid.UUID) ([]*types.Community, error) {
	return nil, nil
}
func (emptyCommunities) ListByUser(context.Context, *gorm.DB, uuid.UUID) ([]*types.Community, error) {
	return nil, nil
}
func (emptyCommunities) FilterExisting(context.Context, *gorm.DB, []uuid.UUID) (map[uuid.UUID]bool, error) {
	return nil, nil
}

type memProfiles struct {
	profile *types.UserProfile
}

func (m *memProfiles) Get(context.Context, *gorm.DB, uuid.UUID) (*types.UserProfile, error) {
	return m.profile, nil
}

func (m *memProfiles) Upsert(_ context.Context, _ *gorm.DB, p *types.UserProfile) error {
	m.profile = p
	return nil
}

type trackingJobs struct {
	status string
	stage  string
}

func (t *trackingJobs) Enqueue(_ context.Context, _ *gorm.DB, job *types.JobRun) (*types.JobRun, error) {
	return job, nil
}
func (t *trackingJobs) ClaimNextRunnable(context.Context, *gorm.DB, int, time.Duration, time.Duration) (*types.JobRun, error) {
	return nil, nil
}
func (t *trackingJobs) UpdateFields(_ context.Context, _ *gorm.DB, _ uuid.UUID, updates map[string]interface{}) error {
	if s, ok := updates["status"].(string); ok {
		t.status = s
	}
	if s, ok := updates["stage"].(string); ok {
		t.stage = s
	}
	return nil
}
func (t *trackingJobs) Heartbeat(context.Context, *gorm.DB, uuid.UUID) error { return nil }
func (t *trackingJobs) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.JobRun, error) {
	return nil, nil
}

type recordingInference struct {
	calls int
	text  string
	err   error
}

func (r *recordingInference) Invoke(context.Context, llm.GenerateRequest, inference.CallMeta) (llm.GenerateResult, error) {
	r.calls++
	if r.err != nil {
		return llm.GenerateResult{}, r.err
	}
	return llm.GenerateResult{Text: r.text, FinishReason: "stop"}, nil
}

func (r *recordingInference) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	return make([][]float32, len(inputs)), nil
}

func runCycle(t *testing.T, cycles *memCycles, inf *recordingInference) *trackingJobs {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	o := NewOrchestrator(Deps{
		Cycles:      cycles,
		Concepts:    emptyConcepts{},
		MemoryUnits: emptyUnits{},
		Communities: emptyCommunities{},
		Profiles:    &memProfiles{},
		Inference:   inf,
		Log:         log,
	})
	payload, err := jobs.MarshalPayload(jobs.OptimizationPayload{
		CycleID:    cycles.cycle.ID,
		UserID:     cycles.cycle.UserID,
		RangeStart: cycles.cycle.RangeStart,
		RangeEnd:   cycles.cycle.RangeEnd,
	})
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	tracker := &trackingJobs{}
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: cycles.cycle.UserID,
		JobType:     types.JobTypeOntologyCycle,
		Status:      types.JobRunning,
		Payload:     datatypes.JSON(payload),
	}
	jc := jobs.NewContext(context.Background(), nil, job, tracker, log)
	if err := o.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return tracker
}

func pendingCycle() *memCycles {
	now := time.Now().UTC()
	return &memCycles{cycle: &types.UserCycle{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Status:     types.CyclePending,
		RangeStart: now.AddDate(0, 0, -7),
		RangeEnd:   now,
	}}
}

func TestCycleWalksAllStagesInOrder(t *testing.T) {
	cycles := pendingCycle()
	inf := &recordingInference{text: "{}"}
	tracker := runCycle(t, cycles, inf)

	want := []string{
		types.CycleFoundation,
		types.CycleCommunityDetection,
		types.CycleConceptMerging,
		types.CycleRelationshipCreation,
		types.CycleCompleted,
	}
	if len(cycles.statuses) != len(want) {
		t.Fatalf("statuses = %v", cycles.statuses)
	}
	for i, s := range want {
		if cycles.statuses[i] != s {
			t.Fatalf("stage %d = %q, want %q (full: %v)", i, cycles.statuses[i], s, cycles.statuses)
		}
	}
	if tracker.status != types.JobSucceeded {
		t.Fatalf("job status = %q", tracker.status)
	}
}

func TestCycleNeverJumpsFoundationToCompleted(t *testing.T) {
	cycles := pendingCycle()
	runCycle(t, cycles, &recordingInference{text: "{}"})

	for i := 1; i < len(cycles.statuses); i++ {
		if cycles.statuses[i-1] == types.CycleFoundation && cycles.statuses[i] == types.CycleCompleted {
			t.Fatalf("illegal transition foundation -> completed: %v", cycles.statuses)
		}
	}
}

func TestInterruptedCycleFailsInsteadOfResuming(t *testing.T) {
	cycles := pendingCycle()
	cycles.cycle.Status = types.CycleConceptMerging

	inf := &recordingInference{text: "{}"}
	tracker := runCycle(t, cycles, inf)

	if cycles.cycle.Status != types.CycleFailed {
		t.Fatalf("cycle status = %q", cycles.cycle.Status)
	}
	if cycles.cycle.FailedStage != types.CycleConceptMerging {
		t.Fatalf("failed_stage = %q", cycles.cycle.FailedStage)
	}
	if inf.calls != 0 {
		t.Fatalf("interrupted cycle invoked the model %d times", inf.calls)
	}
	if tracker.status != types.JobFailed {
		t.Fatalf("job status = %q", tracker.status)
	}
}

func TestTerminalCycleJobIsNoop(t *testing.T) {
	cycles := pendingCycle()
	cycles.cycle.Status = types.CycleCompleted

	inf := &recordingInference{text: "{}"}
	tracker := runCycle(t, cycles, inf)
	if inf.calls != 0 || tracker.status != types.JobSucceeded {
		t.Fatalf("noop redelivery misbehaved: calls=%d status=%q", inf.calls, tracker.status)
	}
}
