package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/evermind-ai/evermind-backend/internal/data/graph"
	"github.com/evermind-ai/evermind-backend/internal/platform/llm"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/platform/neo4jdb"
	"github.com/evermind-ai/evermind-backend/internal/platform/redisx"
	"github.com/evermind-ai/evermind-backend/internal/platform/vector"
)

// Clients holds the external stores beyond Postgres. Redis, Neo4j and the
// vector store are each optional: their constructors return (nil, nil) when
// unconfigured and every consumer degrades to a no-op for that store.
type Clients struct {
	Redis    *goredis.Client
	Graph    *neo4jdb.Client
	Vectors  vector.Store
	Provider llm.Provider
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	rdb, err := redisx.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}

	graphClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init neo4j: %w", err)
	}
	if graphClient != nil {
		graph.EnsureSchema(context.Background(), graphClient, log)
	}

	vectors, err := vector.NewStore(log, vector.ConfigFromEnv())
	if err != nil {
		return Clients{}, fmt.Errorf("init vector store: %w", err)
	}

	provider, err := llm.NewOpenAIProvider(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init llm provider: %w", err)
	}

	return Clients{
		Redis:    rdb,
		Graph:    graphClient,
		Vectors:  vectors,
		Provider: provider,
	}, nil
}
