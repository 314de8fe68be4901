package graph

import (
	"context"
	"fmt"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// GraphStore provides knowledge-graph operations on top of the generic
// Neo4j repository. One Neo4j database holds every document's graph;
// graph_id scopes queries to a single document's projection so concurrent
// extractions never see each other's half-written nodes.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	entities *repo.Neo4jRepo[Entity, string]
}

// New creates a new GraphStore.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		driver:   driver,
		entities: newEntityRepo(driver),
	}
}

func (g *GraphStore) session(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{})
}

// GetEntity returns an entity by ID.
func (g *GraphStore) GetEntity(ctx context.Context, id string) (Entity, error) {
	return g.entities.Get(ctx, id)
}

// SaveEntity creates or updates an entity node.
func (g *GraphStore) SaveEntity(ctx context.Context, e Entity) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Entity {id: $id}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id":    e.ID,
		"props": entityToMap(e),
	})
	return err
}

// SaveEdge creates or updates an edge between two entities.
func (g *GraphStore) SaveEdge(ctx context.Context, e Edge) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:Entity {id: $from}), (b:Entity {id: $to})
		 MERGE (a)-[r:%s {id: $id}]->(b)
		 SET r += $props`,
		sanitizeRelType(e.Type),
	)
	_, err := sess.Run(ctx, cypher, map[string]any{
		"from":  e.Source,
		"to":    e.Target,
		"id":    e.ID,
		"props": e.Properties,
	})
	return err
}

// SaveBatch saves a document's extracted entities and edges in a single
// transaction, so a reader never observes a half-written graph.
func (g *GraphStore) SaveBatch(ctx context.Context, entities []Entity, edges []Edge) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range entities {
			cypher := `MERGE (n:Entity {id: $id}) SET n += $props`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"id":    e.ID,
				"props": entityToMap(e),
			}); err != nil {
				return nil, err
			}
		}
		for _, e := range edges {
			cypher := fmt.Sprintf(
				`MATCH (a:Entity {id: $from}), (b:Entity {id: $to})
				 MERGE (a)-[r:%s {id: $id}]->(b)
				 SET r += $props`,
				sanitizeRelType(e.Type),
			)
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"from":  e.Source,
				"to":    e.Target,
				"id":    e.ID,
				"props": e.Properties,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// Neighbors returns entities within the given traversal depth from a node.
func (g *GraphStore) Neighbors(ctx context.Context, nodeID string, depth int) ([]Entity, error) {
	if depth <= 0 {
		depth = 1
	}
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (start:Entity {id: $id})-[*1..%d]-(n:Entity)
		 WHERE n.id <> $id
		 RETURN DISTINCT n`, depth)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": nodeID})
	if err != nil {
		return nil, err
	}
	return collectEntities(ctx, result)
}

// FindByType returns every entity of a given type within one document's graph.
func (g *GraphStore) FindByType(ctx context.Context, graphID string, entityType domain.EntityType) ([]Entity, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity {graph_id: $graph_id, type: $type}) RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"graph_id": graphID, "type": string(entityType)})
	if err != nil {
		return nil, err
	}
	return collectEntities(ctx, result)
}

// FindByTypeAny returns every entity of a given type across all graphs,
// used by the analytics engine when a graph-id filter yields no rows and
// it falls back to an unfiltered query.
func (g *GraphStore) FindByTypeAny(ctx context.Context, entityType domain.EntityType) ([]Entity, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity {type: $type}) RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"type": string(entityType)})
	if err != nil {
		return nil, err
	}
	return collectEntities(ctx, result)
}

// PatternMatch returns entities within one graph that have at least
// minRelationships edges (in either direction), used by the chat agent's
// graph_pattern tool to find highly-connected entities.
func (g *GraphStore) PatternMatch(ctx context.Context, graphID string, minRelationships int) ([]Entity, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity {graph_id: $graph_id})
		OPTIONAL MATCH (n)-[r]-()
		WITH n, count(r) AS degree
		WHERE degree >= $min
		RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"graph_id": graphID, "min": int64(minRelationships)})
	if err != nil {
		return nil, err
	}
	return collectEntities(ctx, result)
}

// FindByDocument returns every entity extracted from a single document.
func (g *GraphStore) FindByDocument(ctx context.Context, documentID string) ([]Entity, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity {document_id: $doc_id}) RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"doc_id": documentID})
	if err != nil {
		return nil, err
	}
	return collectEntities(ctx, result)
}

// TracePath finds the shortest path between two entities.
func (g *GraphStore) TracePath(ctx context.Context, fromID, toID string) ([]Entity, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH p = shortestPath((a:Entity {id: $from})-[*]-(b:Entity {id: $to}))
				RETURN nodes(p) AS nodes`
	result, err := sess.Run(ctx, cypher, map[string]any{"from": fromID, "to": toID})
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		return nil, fmt.Errorf("no path from %s to %s", fromID, toID)
	}

	nodesVal, ok := result.Record().Get("nodes")
	if !ok {
		return nil, fmt.Errorf("no nodes in path result")
	}
	nodeList, ok := nodesVal.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected nodes type")
	}

	var entities []Entity
	for _, raw := range nodeList {
		node, ok := raw.(dbtype.Node)
		if !ok {
			continue
		}
		entities = append(entities, entityFromProps(node.Props))
	}
	return entities, nil
}

// DeleteByDocument removes every node and relationship belonging to a
// document's graph. Called before re-running extraction so superseded
// runs never leave stale nodes behind.
func (g *GraphStore) DeleteByDocument(ctx context.Context, documentID string) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity {document_id: $doc_id}) DETACH DELETE n`
	_, err := sess.Run(ctx, cypher, map[string]any{"doc_id": documentID})
	return err
}

// collectEntities reads all Entity nodes from a result set.
func collectEntities(ctx context.Context, result neo4j.ResultWithContext) ([]Entity, error) {
	var items []Entity
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		items = append(items, entityFromProps(node.Props))
	}
	return items, nil
}
