package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/platform/neo4jdb"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

// Node type tags. Every node carries the Entity label plus a type property;
// the reconciler re-derives the property for nodes that were created as bare
// edge endpoints.
const (
	NodeTypeConcept    = "concept"
	NodeTypeMemoryUnit = "memory_unit"
	NodeTypeCommunity  = "community"
)

// Edge is a typed, directed relationship derivative. Relationships are
// graph-store-only: they are never the source of truth for an entity's
// existence, only for its connections.
type Edge struct {
	SourceID  uuid.UUID
	TargetID  uuid.UUID
	Type      string
	Strength  float64
	CreatedBy string
	UserID    uuid.UUID
}

// EnsureSchema creates uniqueness constraints. Best effort: failures are
// logged and skipped so a missing admin permission never blocks ingestion.
func EnsureSchema(ctx context.Context, client *neo4jdb.Client, log *logger.Logger) {
	if client == nil || client.Driver == nil {
		return
	}
	session := client.WriteSession(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			if log != nil {
				log.Warn("neo4j schema init failed (continuing)", "error", err)
			}
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

// UpsertExtraction merges the concept and memory-unit nodes plus the edges
// derived from one ingested conversation. Safe to repeat: every node merges
// on id and every edge merges on type plus endpoints.
func UpsertExtraction(
	ctx context.Context,
	client *neo4jdb.Client,
	log *logger.Logger,
	userID uuid.UUID,
	concepts []*types.Concept,
	units []*types.MemoryUnit,
	edges []Edge,
) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	conceptNodes := make([]map[string]any, 0, len(concepts))
	for _, c := range concepts {
		if c == nil || c.ID == uuid.Nil {
			continue
		}
		conceptNodes = append(conceptNodes, map[string]any{
			"id":           c.ID.String(),
			"user_id":      c.UserID.String(),
			"type":         NodeTypeConcept,
			"name":         c.Name,
			"concept_type": c.Type,
			"salience":     c.Salience,
			"status":       c.Status,
			"synced_at":    now,
		})
	}

	unitNodes := make([]map[string]any, 0, len(units))
	for _, u := range units {
		if u == nil || u.ID == uuid.Nil {
			continue
		}
		unitNodes = append(unitNodes, map[string]any{
			"id":              u.ID.String(),
			"user_id":         u.UserID.String(),
			"type":            NodeTypeMemoryUnit,
			"title":           u.Title,
			"importance":      u.Importance,
			"sentiment":       u.Sentiment,
			"conversation_id": u.ConversationID.String(),
			"synced_at":       now,
		})
	}

	edgeRows := edgeParams(edges, now)

	session := client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(conceptNodes) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $nodes AS c
MERGE (n:Entity {id: c.id})
SET n += c
WITH n
SET n:Concept
`, map[string]any{"nodes": conceptNodes}); err != nil {
				return nil, err
			}
		}
		if len(unitNodes) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $nodes AS m
MERGE (n:Entity {id: m.id})
SET n += m
WITH n
SET n:MemoryUnit
`, map[string]any{"nodes": unitNodes}); err != nil {
				return nil, err
			}
		}
		if len(edgeRows) > 0 {
			if err := mergeEdges(ctx, tx, edgeRows); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil && log != nil {
		log.Error("graph extraction upsert failed", "user_id", userID, "error", err)
	}
	return err
}

// UpsertCommunities merges community nodes and their MEMBER_OF edges.
// Strength on the member edge is the clamped linear mapping of the
// community's 1..10 strategic importance onto [0.1, 1.0].
func UpsertCommunities(
	ctx context.Context,
	client *neo4jdb.Client,
	log *logger.Logger,
	communities []*types.Community,
	members map[uuid.UUID][]uuid.UUID,
) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodes := make([]map[string]any, 0, len(communities))
	memberRows := make([]map[string]any, 0)
	for _, c := range communities {
		if c == nil || c.ID == uuid.Nil {
			continue
		}
		nodes = append(nodes, map[string]any{
			"id":                   c.ID.String(),
			"user_id":              c.UserID.String(),
			"type":                 NodeTypeCommunity,
			"theme":                c.Theme,
			"strategic_importance": c.StrategicImportance,
			"synced_at":            now,
		})
		strength := MemberStrength(c.StrategicImportance)
		for _, conceptID := range members[c.ID] {
			if conceptID == uuid.Nil {
				continue
			}
			memberRows = append(memberRows, map[string]any{
				"source_id": conceptID.String(),
				"target_id": c.ID.String(),
				"strength":  strength,
				"synced_at": now,
			})
		}
	}
	if len(nodes) == 0 {
		return nil
	}

	session := client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
UNWIND $nodes AS c
MERGE (n:Entity {id: c.id})
SET n += c
WITH n
SET n:Community
`, map[string]any{"nodes": nodes}); err != nil {
			return nil, err
		}
		if len(memberRows) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rels AS r
MERGE (c:Entity {id: r.source_id})
MERGE (g:Entity {id: r.target_id})
MERGE (c)-[e:MEMBER_OF]->(g)
SET e.strength = r.strength,
    e.synced_at = r.synced_at
`, map[string]any{"rels": memberRows}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil && log != nil {
		log.Error("graph community upsert failed", "error", err)
	}
	return err
}

// MemberStrength maps a 1..10 strategic importance onto a [0.1, 1.0] edge
// strength with clamping at both ends.
func MemberStrength(importance int) float64 {
	s := float64(importance) / 10.0
	if s < 0.1 {
		return 0.1
	}
	if s > 1.0 {
		return 1.0
	}
	return s
}

// RepointMergedConcepts rewrites every incoming and outgoing edge of each
// duplicate onto its survivor, then tags the duplicate node as merged. Edges
// are repointed, not duplicated: the MERGE on the survivor collapses an edge
// that already exists there.
func RepointMergedConcepts(
	ctx context.Context,
	client *neo4jdb.Client,
	log *logger.Logger,
	merges map[uuid.UUID]uuid.UUID,
) error {
	if client == nil || client.Driver == nil || len(merges) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := make([]map[string]any, 0, len(merges))
	for dup, survivor := range merges {
		if dup == uuid.Nil || survivor == uuid.Nil || dup == survivor {
			continue
		}
		rows = append(rows, map[string]any{
			"dup_id":      dup.String(),
			"survivor_id": survivor.String(),
			"synced_at":   now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	session := client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MATCH (dup:Entity {id: r.dup_id})
MATCH (sur:Entity {id: r.survivor_id})
OPTIONAL MATCH (dup)-[out]->(other)
WHERE other.id <> r.survivor_id
FOREACH (_ IN CASE WHEN out IS NULL THEN [] ELSE [1] END |
	MERGE (sur)-[moved:RELATES_TO {edge_type: coalesce(out.edge_type, type(out))}]->(other)
	SET moved += properties(out), moved.synced_at = r.synced_at
)
WITH DISTINCT dup, sur, r
OPTIONAL MATCH (other)-[in]->(dup)
WHERE other.id <> r.survivor_id
FOREACH (_ IN CASE WHEN in IS NULL THEN [] ELSE [1] END |
	MERGE (other)-[moved:RELATES_TO {edge_type: coalesce(in.edge_type, type(in))}]->(sur)
	SET moved += properties(in), moved.synced_at = r.synced_at
)
WITH DISTINCT dup, r
OPTIONAL MATCH (dup)-[old]-()
DELETE old
SET dup.status = 'merged',
    dup.merged_into_id = r.survivor_id,
    dup.synced_at = r.synced_at
`, map[string]any{"rows": rows}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil && log != nil {
		log.Error("graph merge repoint failed", "error", err)
	}
	return err
}

// UpsertEdges merges a batch of typed edges on their own.
func UpsertEdges(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, edges []Edge) error {
	if client == nil || client.Driver == nil || len(edges) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := edgeParams(edges, now)
	if len(rows) == 0 {
		return nil
	}

	session := client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, mergeEdges(ctx, tx, rows)
	})
	if err != nil && log != nil {
		log.Error("graph edge upsert failed", "error", err)
	}
	return err
}

func edgeParams(edges []Edge, syncedAt string) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		if e.SourceID == uuid.Nil || e.TargetID == uuid.Nil || e.Type == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"source_id":  e.SourceID.String(),
			"target_id":  e.TargetID.String(),
			"edge_type":  e.Type,
			"strength":   e.Strength,
			"created_by": e.CreatedBy,
			"user_id":    e.UserID.String(),
			"synced_at":  syncedAt,
		})
	}
	return rows
}

// mergeEdges merges by type plus endpoints. Endpoint nodes are merged on id
// alone; a node created here before its relational sync lands is exactly the
// missing-type drift the reconciler heals.
func mergeEdges(ctx context.Context, tx neo4j.ManagedTransaction, rows []map[string]any) error {
	return runConsume(ctx, tx, `
UNWIND $rels AS r
MERGE (a:Entity {id: r.source_id})
MERGE (b:Entity {id: r.target_id})
MERGE (a)-[e:RELATES_TO {edge_type: r.edge_type}]->(b)
SET e.strength = r.strength,
    e.created_by = r.created_by,
    e.user_id = r.user_id,
    e.synced_at = r.synced_at
`, map[string]any{"rels": rows})
}

func runConsume(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}
