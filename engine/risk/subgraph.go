package risk

import (
	"context"
	"encoding/json"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/llmclient"
	"github.com/finkg-labs/finkg/pkg/jsonx"
)

// subgraphSelection is the shape of the LLM's relevance response.
type subgraphSelection struct {
	EntityIDs   []string `json:"entity_ids"`
	EdgeIndices []int    `json:"edge_indices"`
}

// Subgraph synthesizes the Risk's graph_data: an LLM call asks which
// entity ids and edge indices (by position in edges) from the current
// graph are relevant to the risk; on failure or when no LLM is
// configured, it falls back to the one-hop transitive closure of the
// risk's affected entities.
func (d *Detector) Subgraph(ctx context.Context, risk domain.Risk, entities []domain.Entity, edges []domain.Edge) domain.Subgraph {
	if d.llm != nil {
		if sub, ok := d.llmSubgraph(ctx, risk, entities, edges); ok {
			return sub
		}
	}
	return oneHopClosure(risk.AffectedEntityIDs, entities, edges)
}

func (d *Detector) llmSubgraph(ctx context.Context, risk domain.Risk, entities []domain.Entity, edges []domain.Edge) (domain.Subgraph, bool) {
	prompt, err := subgraphPrompt(risk, entities, edges)
	if err != nil {
		return domain.Subgraph{}, false
	}
	resp, err := d.llm.Complete(ctx, subgraphSystemPrompt(), []llmclient.Message{{
		Role:    "user",
		Content: prompt,
	}}, nil)
	if err != nil {
		d.log.Warn("risk: subgraph LLM call failed, falling back to one-hop closure", "risk_id", risk.ID, "err", err)
		return domain.Subgraph{}, false
	}

	var selection subgraphSelection
	if err := jsonx.Extract(resp.Text, &selection); err != nil {
		d.log.Warn("risk: could not parse subgraph selection, falling back to one-hop closure", "risk_id", risk.ID, "err", err)
		return domain.Subgraph{}, false
	}

	byID := make(map[string]domain.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	var selEntities []domain.Entity
	for _, id := range selection.EntityIDs {
		if e, ok := byID[id]; ok {
			selEntities = append(selEntities, e)
		}
	}
	var selEdges []domain.Edge
	for _, idx := range selection.EdgeIndices {
		if idx >= 0 && idx < len(edges) {
			selEdges = append(selEdges, edges[idx])
		}
	}
	if len(selEntities) == 0 {
		return domain.Subgraph{}, false
	}
	return domain.Subgraph{Entities: selEntities, Edges: selEdges}, true
}

type subgraphEntityPayload struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Type domain.EntityType `json:"type"`
}

type subgraphEdgePayload struct {
	Index  int             `json:"index"`
	Source string          `json:"source_id"`
	Target string          `json:"target_id"`
	Type   domain.EdgeType `json:"type"`
}

func subgraphPrompt(risk domain.Risk, entities []domain.Entity, edges []domain.Edge) (string, error) {
	entityPayload := make([]subgraphEntityPayload, len(entities))
	for i, e := range entities {
		entityPayload[i] = subgraphEntityPayload{ID: e.ID, Name: e.Name, Type: e.Type}
	}
	edgePayload := make([]subgraphEdgePayload, len(edges))
	for i, e := range edges {
		edgePayload[i] = subgraphEdgePayload{Index: i, Source: e.Source, Target: e.Target, Type: e.Type}
	}

	body, err := json.Marshal(map[string]any{
		"risk":     risk.Description,
		"affected": risk.AffectedEntityIDs,
		"entities": entityPayload,
		"edges":    edgePayload,
	})
	if err != nil {
		return "", err
	}
	return "Risk context:\n" + string(body) + "\n\nReturn the JSON object of relevant ids now.", nil
}

func subgraphSystemPrompt() string {
	return "You select the entities and relationships from a financial knowledge graph that are " +
		"relevant context for explaining one detected risk. Given the risk description, its " +
		"directly affected entity ids, and the full list of entities and indexed edges in the " +
		"graph, return a JSON object {\"entity_ids\":[...],\"edge_indices\":[...]} naming the " +
		"entity ids and the integer edge indices (matching the \"index\" field of each edge) worth " +
		"including. Always include the affected entities themselves. Respond with the JSON object " +
		"only."
}

// oneHopClosure returns the affected entities plus any entity directly
// connected to one of them by an edge, and the edges between them.
func oneHopClosure(affectedIDs []string, entities []domain.Entity, edges []domain.Edge) domain.Subgraph {
	affected := make(map[string]bool, len(affectedIDs))
	for _, id := range affectedIDs {
		affected[id] = true
	}

	included := make(map[string]bool, len(affectedIDs))
	for id := range affected {
		included[id] = true
	}

	var relevantEdges []domain.Edge
	for _, e := range edges {
		if affected[e.Source] || affected[e.Target] {
			relevantEdges = append(relevantEdges, e)
			included[e.Source] = true
			included[e.Target] = true
		}
	}

	var subEntities []domain.Entity
	for _, e := range entities {
		if included[e.ID] {
			subEntities = append(subEntities, e)
		}
	}

	return domain.Subgraph{Entities: subEntities, Edges: relevantEdges}
}
