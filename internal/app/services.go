package app

import (
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/heartbeat"
	"github.com/evermind-ai/evermind-backend/internal/inference"
	"github.com/evermind-ai/evermind-backend/internal/ingestion"
	"github.com/evermind-ai/evermind-backend/internal/jobs"
	"github.com/evermind-ai/evermind-backend/internal/ontology"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/reconciler"
)

type Services struct {
	Invoker    *inference.Invoker
	Tracker    *heartbeat.Tracker
	Detector   *heartbeat.Detector
	Cycles     *ontology.CycleService
	Scheduler  *ontology.Scheduler
	Reconciler *reconciler.Reconciler
	JobWorker  *jobs.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, clients Clients, reposet Repos) (Services, error) {
	log.Info("Wiring services...")

	invoker := inference.NewInvoker(clients.Provider, reposet.LLMInteraction, inference.InvokerConfigFromEnv(), log)

	tracker := heartbeat.NewTracker(clients.Redis, reposet.Conversation, log)
	detector := heartbeat.NewDetector(db, clients.Redis, reposet.Conversation, reposet.JobRun, heartbeat.DetectorConfigFromEnv(), log)

	pipeline := ingestion.NewPipeline(ingestion.Deps{
		DB:            db,
		Conversations: reposet.Conversation,
		Messages:      reposet.Message,
		MemoryUnits:   reposet.MemoryUnit,
		Concepts:      reposet.Concept,
		GrowthEvents:  reposet.GrowthEvent,
		Profiles:      reposet.UserProfile,
		Inference:     invoker,
		Graph:         clients.Graph,
		Vectors:       clients.Vectors,
		Log:           log,
	})

	orchestrator := ontology.NewOrchestrator(ontology.Deps{
		DB:          db,
		Cycles:      reposet.UserCycle,
		Concepts:    reposet.Concept,
		MemoryUnits: reposet.MemoryUnit,
		Communities: reposet.Community,
		Profiles:    reposet.UserProfile,
		Inference:   invoker,
		Graph:       clients.Graph,
		Log:         log,
	})

	backfill := reconciler.NewBackfillHandler(reconciler.BackfillDeps{
		MemoryUnits: reposet.MemoryUnit,
		Concepts:    reposet.Concept,
		Inference:   invoker,
		Vectors:     clients.Vectors,
		Log:         log,
	})

	cycles := ontology.NewCycleService(db, reposet.UserCycle, reposet.JobRun, log)
	scheduler := ontology.NewScheduler(reposet.Conversation, cycles, log)

	rec := reconciler.New(reconciler.Deps{
		DB:          db,
		Concepts:    reposet.Concept,
		MemoryUnits: reposet.MemoryUnit,
		Communities: reposet.Community,
		JobRuns:     reposet.JobRun,
		Graph:       clients.Graph,
		Vectors:     clients.Vectors,
		Log:         log,
	}, reconciler.ConfigFromEnv())

	registry := jobs.NewRegistry()
	for _, h := range []jobs.Handler{pipeline, orchestrator, backfill} {
		if err := registry.Register(h); err != nil {
			return Services{}, err
		}
	}
	worker := jobs.NewWorker(db, log, reposet.JobRun, registry, jobs.DefaultWorkerConfig())

	return Services{
		Invoker:    invoker,
		Tracker:    tracker,
		Detector:   detector,
		Cycles:     cycles,
		Scheduler:  scheduler,
		Reconciler: rec,
		JobWorker:  worker,
	}, nil
}
