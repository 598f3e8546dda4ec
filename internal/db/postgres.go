package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.Str("POSTGRES_HOST", "localhost")
	port := envutil.Str("POSTGRES_PORT", "5432")
	user := envutil.Str("POSTGRES_USER", "postgres")
	password := envutil.Str("POSTGRES_PASSWORD", "")
	name := envutil.Str("POSTGRES_NAME", "evermind")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	log.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		log.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Conversation{},
		&types.Message{},
		&types.MemoryUnit{},
		&types.Concept{},
		&types.Community{},
		&types.GrowthEvent{},
		&types.LLMInteraction{},
		&types.UserCycle{},
		&types.UserProfile{},
		&types.JobRun{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	// Enqueue-time guards that gorm tags cannot express: a unique key may
	// only repeat once its prior job reached a terminal status, and a user
	// may hold at most one non-terminal ontology cycle.
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_job_run_unique_key_live
		ON "job_run" ("unique_key")
		WHERE status IN ('queued', 'running')
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_unique_key_live: %w", err)
	}
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_user_cycle_single_active
		ON "user_cycle" ("user_id")
		WHERE status NOT IN ('completed', 'failed')
	`).Error; err != nil {
		return fmt.Errorf("create idx_user_cycle_single_active: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
