package graph

import "context"

// TypeStats holds aggregate counts for one entity type.
type TypeStats struct {
	Type   string `json:"type"`
	Count  int64  `json:"count"`
	Degree int64  `json:"degree"`
}

// NodeCounts returns entity counts grouped by type.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity) RETURN n.type AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, nil
}

// RelationshipCounts returns relationship counts grouped by type.
func (g *GraphStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, nil
}

// TopEntitiesByDegree returns the entities with the most relationships,
// grouped by type, for dashboard summaries.
func (g *GraphStore) TopEntitiesByDegree(ctx context.Context, limit int) ([]TypeStats, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity)
		OPTIONAL MATCH (n)-[r]-()
		WITH n.type AS type, count(DISTINCT n) AS count, count(r) AS degree
		RETURN type, count, degree
		ORDER BY degree DESC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	var stats []TypeStats
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		deg, _ := rec.Get("degree")
		s := TypeStats{}
		if t, ok := typ.(string); ok {
			s.Type = t
		}
		if c, ok := cnt.(int64); ok {
			s.Count = c
		}
		if d, ok := deg.(int64); ok {
			s.Degree = d
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// DocumentGraphSize returns the entity and edge counts for one document's
// graph projection, used to populate Document.EntityCount/EdgeCount after
// indexing completes.
func (g *GraphStore) DocumentGraphSize(ctx context.Context, documentID string) (entities int64, edges int64, err error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity {document_id: $doc_id})
		OPTIONAL MATCH (n)-[r]->(:Entity {document_id: $doc_id})
		RETURN count(DISTINCT n) AS entities, count(DISTINCT r) AS edges`
	result, err := sess.Run(ctx, cypher, map[string]any{"doc_id": documentID})
	if err != nil {
		return 0, 0, err
	}
	if !result.Next(ctx) {
		return 0, 0, nil
	}
	rec := result.Record()
	if e, ok := rec.Get("entities"); ok {
		if ei, ok := e.(int64); ok {
			entities = ei
		}
	}
	if e, ok := rec.Get("edges"); ok {
		if ei, ok := e.(int64); ok {
			edges = ei
		}
	}
	return entities, edges, nil
}
