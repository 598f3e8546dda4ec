package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/evermind-ai/evermind-backend/internal/platform/neo4jdb"
)

// NeighborhoodNode is a read-model node for downstream visualization.
type NeighborhoodNode struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Props map[string]any `json:"props"`
}

type NeighborhoodEdge struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// UserNeighborhood returns the user's entity nodes and the typed edges
// between them. Read-only traversal for the visualization collaborator.
func UserNeighborhood(ctx context.Context, client *neo4jdb.Client, userID uuid.UUID, limit int) ([]NeighborhoodNode, []NeighborhoodEdge, error) {
	if client == nil || client.Driver == nil {
		return nil, nil, nil
	}
	if limit <= 0 {
		limit = 500
	}
	session := client.ReadSession(ctx)
	defer session.Close(ctx)

	nodesAny, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n:Entity {user_id: $user_id})
RETURN n.id AS id, n.type AS type, properties(n) AS props
LIMIT $limit
`, map[string]any{"user_id": userID.String(), "limit": limit})
		if err != nil {
			return nil, err
		}
		var nodes []NeighborhoodNode
		for res.Next(ctx) {
			rec := res.Record()
			node := NeighborhoodNode{}
			if v, ok := rec.Get("id"); ok {
				node.ID, _ = v.(string)
			}
			if v, ok := rec.Get("type"); ok {
				node.Type, _ = v.(string)
			}
			if v, ok := rec.Get("props"); ok {
				node.Props, _ = v.(map[string]any)
			}
			nodes = append(nodes, node)
		}
		return nodes, res.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	edgesAny, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Entity {user_id: $user_id})-[e]->(b:Entity)
RETURN a.id AS source_id, b.id AS target_id,
       coalesce(e.edge_type, type(e)) AS type,
       coalesce(e.strength, 0.0) AS strength
LIMIT $limit
`, map[string]any{"user_id": userID.String(), "limit": limit * 4})
		if err != nil {
			return nil, err
		}
		var edges []NeighborhoodEdge
		for res.Next(ctx) {
			rec := res.Record()
			edge := NeighborhoodEdge{}
			if v, ok := rec.Get("source_id"); ok {
				edge.SourceID, _ = v.(string)
			}
			if v, ok := rec.Get("target_id"); ok {
				edge.TargetID, _ = v.(string)
			}
			if v, ok := rec.Get("type"); ok {
				edge.Type, _ = v.(string)
			}
			if v, ok := rec.Get("strength"); ok {
				switch s := v.(type) {
				case float64:
					edge.Strength = s
				case int64:
					edge.Strength = float64(s)
				}
			}
			edges = append(edges, edge)
		}
		return edges, res.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	nodes, _ := nodesAny.([]NeighborhoodNode)
	edges, _ := edgesAny.([]NeighborhoodEdge)
	return nodes, edges, nil
}

// ListNodesMissingType returns ids of Entity nodes that lack a type tag,
// typically bare endpoints created by an edge merge racing the node sync.
func ListNodesMissingType(ctx context.Context, client *neo4jdb.Client, limit int) ([]uuid.UUID, error) {
	if client == nil || client.Driver == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}
	session := client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n:Entity)
WHERE n.type IS NULL
RETURN n.id AS id
LIMIT $limit
`, map[string]any{"limit": limit})
		if err != nil {
			return nil, err
		}
		var ids []uuid.UUID
		for res.Next(ctx) {
			rec := res.Record()
			v, ok := rec.Get("id")
			if !ok {
				continue
			}
			raw, _ := v.(string)
			id, parseErr := uuid.Parse(raw)
			if parseErr != nil {
				continue
			}
			ids = append(ids, id)
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	ids, _ := out.([]uuid.UUID)
	return ids, nil
}

// SetNodeTypes writes the re-derived type tags back onto the graph.
func SetNodeTypes(ctx context.Context, client *neo4jdb.Client, tags map[uuid.UUID]string) error {
	if client == nil || client.Driver == nil || len(tags) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(tags))
	for id, nodeType := range tags {
		if id == uuid.Nil || nodeType == "" {
			continue
		}
		rows = append(rows, map[string]any{"id": id.String(), "type": nodeType})
	}
	if len(rows) == 0 {
		return nil
	}

	session := client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
UNWIND $rows AS r
MATCH (n:Entity {id: r.id})
SET n.type = r.type
`, map[string]any{"rows": rows})
	})
	return err
}
