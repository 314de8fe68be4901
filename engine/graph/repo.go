package graph

import (
	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// newEntityRepo creates a Neo4j-backed repository for Entity nodes. All
// entities share the Entity label; the closed EntityType is carried as a
// property rather than a second label so an untyped match (e.g. "all
// entities in this document") needs no label union.
func newEntityRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Entity, string] {
	return repo.NewNeo4jRepo[Entity, string](
		driver,
		"Entity",
		entityToMap,
		entityFromRecord,
	)
}

func entityToMap(e Entity) map[string]any {
	m := map[string]any{
		"id":            e.ID,
		"type":          string(e.Type),
		"name":          e.Name,
		"display_type":  e.DisplayType,
		"original_type": e.OriginalType,
		"document_id":   e.DocumentID,
		"graph_id":      e.GraphID,
	}
	for k, v := range e.Properties {
		m["prop_"+k] = v
	}
	return m
}

func entityFromProps(props map[string]any) Entity {
	e := Entity{
		ID:           strProp(props, "id"),
		Type:         domain.EntityType(strProp(props, "type")),
		Name:         strProp(props, "name"),
		DisplayType:  strProp(props, "display_type"),
		OriginalType: strProp(props, "original_type"),
		DocumentID:   strProp(props, "document_id"),
		GraphID:      strProp(props, "graph_id"),
		Properties:   make(map[string]domain.PropValue),
	}
	for k, v := range props {
		if len(k) > 5 && k[:5] == "prop_" {
			e.Properties[k[5:]] = v
		}
	}
	return e
}

func entityFromRecord(rec *neo4j.Record) (Entity, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Entity{}, err
	}
	return entityFromProps(node.Props), nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// sanitizeRelType ensures the relationship type is a valid Cypher
// identifier. The closed EdgeType set never needs this in practice, but
// any caller-constructed type still goes through it before reaching Cypher.
func sanitizeRelType(t domain.EdgeType) string {
	raw := string(t)
	safe := make([]byte, 0, len(raw))
	for i := range raw {
		c := raw[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
