package chatagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/llmclient"
)

// toolDefs returns the seven-tool surface presented to the model.
func toolDefs() []llmclient.ToolDef {
	return []llmclient.ToolDef{
		{
			Name:        "graph_query",
			Description: "Look up entities by type and optional property filters, e.g. {\"accounts_payable\":{\"$gt\":500000}}.",
			InputSchema: schema(map[string]any{
				"entity_types": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"property_filters": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
				},
			}),
		},
		{
			Name:        "document_search",
			Description: "Semantic search over indexed document text chunks, optionally scoped to one document.",
			InputSchema: schema(map[string]any{
				"query":       map[string]any{"type": "string"},
				"document_id": map[string]any{"type": "string"},
				"limit":       map[string]any{"type": "integer"},
			}),
		},
		{
			Name:        "doc_lookup",
			Description: "Synthesize an evidence URL for a document, optionally anchored to a page.",
			InputSchema: schema(map[string]any{
				"document_id": map[string]any{"type": "string"},
				"page":        map[string]any{"type": "integer"},
			}),
		},
		{
			Name:        "metric_compute",
			Description: "Run a named Analytics Engine metric (property_threshold, property_comparison, grouped_aggregation, sequential_drop, liquidity_analysis, debt_risk, loan_maturity).",
			InputSchema: schema(map[string]any{
				"metric_name": map[string]any{"type": "string"},
				"parameters":  map[string]any{"type": "object", "additionalProperties": true},
			}),
		},
		{
			Name:        "graph_traverse",
			Description: "Expand the neighbors of an entity up to a bounded depth.",
			InputSchema: schema(map[string]any{
				"entity_id": map[string]any{"type": "string"},
				"depth":     map[string]any{"type": "integer"},
			}),
		},
		{
			Name:        "graph_path",
			Description: "Find the shortest path between two entities, if one exists.",
			InputSchema: schema(map[string]any{
				"from_entity_id": map[string]any{"type": "string"},
				"to_entity_id":   map[string]any{"type": "string"},
			}),
		},
		{
			Name:        "graph_pattern",
			Description: "Find entities with at least N relationships.",
			InputSchema: schema(map[string]any{
				"min_relationships": map[string]any{"type": "integer"},
			}),
		},
	}
}

func schema(properties map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": properties}
}

// dispatch executes one tool call against the current process state and
// returns its result serialized as a JSON string (the shape the tool
// result message carries back to the model).
func (a *Agent) dispatch(ctx context.Context, call llmclient.ToolCall, chatCtx Context) string {
	var result any
	var err error

	switch call.Name {
	case "graph_query":
		result, err = a.toolGraphQuery(ctx, call.Input, chatCtx)
	case "document_search":
		result, err = a.toolDocumentSearch(ctx, call.Input, chatCtx)
	case "doc_lookup":
		result, err = a.toolDocLookup(call.Input, chatCtx)
	case "metric_compute":
		result, err = a.toolMetricCompute(ctx, call.Input, chatCtx)
	case "graph_traverse":
		result, err = a.toolGraphTraverse(ctx, call.Input)
	case "graph_path":
		result, err = a.toolGraphPath(ctx, call.Input)
	case "graph_pattern":
		result, err = a.toolGraphPattern(ctx, call.Input, chatCtx)
	default:
		err = fmt.Errorf("unknown tool %q", call.Name)
	}

	if err != nil {
		a.log.Warn("chatagent: tool call failed", "tool", call.Name, "err", err)
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	body, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return fmt.Sprintf(`{"error":%q}`, marshalErr.Error())
	}
	return string(body)
}

type graphQueryInput struct {
	EntityTypes     []string                  `json:"entity_types"`
	PropertyFilters map[string]map[string]any `json:"property_filters"`
}

func (a *Agent) toolGraphQuery(ctx context.Context, raw json.RawMessage, chatCtx Context) (any, error) {
	if a.graph == nil {
		return map[string]any{"entities": []any{}, "message": "graph store unavailable"}, nil
	}
	var in graphQueryInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}

	known := propertyVocabulary(chatCtx.Entities)
	filters := make(map[string]map[string]any, len(in.PropertyFilters))
	for field, cond := range in.PropertyFilters {
		filters[normalizeProperty(field, known)] = cond
	}

	var all []domain.Entity
	if len(in.EntityTypes) == 0 {
		all = chatCtx.Entities
	} else {
		for _, t := range in.EntityTypes {
			et := domain.EntityType(t)
			var found []domain.Entity
			var err error
			if chatCtx.GraphID != "" {
				found, err = a.graph.FindByType(ctx, chatCtx.GraphID, et)
			}
			if err == nil && len(found) == 0 {
				found, err = a.graph.FindByTypeAny(ctx, et)
			}
			if err != nil {
				return nil, err
			}
			all = append(all, found...)
		}
	}

	matched := filterEntities(all, filters)
	return map[string]any{"entities": matched, "count": len(matched)}, nil
}

type documentSearchInput struct {
	Query      string `json:"query"`
	DocumentID string `json:"document_id"`
	Limit      int    `json:"limit"`
}

func (a *Agent) toolDocumentSearch(ctx context.Context, raw json.RawMessage, chatCtx Context) (any, error) {
	if a.search == nil {
		return map[string]any{"chunks": []any{}, "message": "search unavailable"}, nil
	}
	var in documentSearchInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	if in.Limit <= 0 {
		in.Limit = 5
	}
	docID := in.DocumentID
	if docID == "" {
		docID = chatCtx.DocumentID
	}
	hits, err := a.search.SearchChunks(ctx, in.Query, docID, in.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chunks": hits, "count": len(hits)}, nil
}

type docLookupInput struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
}

func (a *Agent) toolDocLookup(raw json.RawMessage, chatCtx Context) (any, error) {
	var in docLookupInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	docID := in.DocumentID
	if docID == "" {
		docID = chatCtx.DocumentID
	}
	url := fmt.Sprintf("/documents/%s/pdf", docID)
	if in.Page > 0 {
		url = fmt.Sprintf("%s#page=%d", url, in.Page)
	}
	return map[string]any{"document_id": docID, "url": url}, nil
}

type metricComputeInput struct {
	MetricName string         `json:"metric_name"`
	Parameters map[string]any `json:"parameters"`
}

func (a *Agent) toolMetricCompute(ctx context.Context, raw json.RawMessage, chatCtx Context) (any, error) {
	if a.metrics == nil {
		return map[string]any{"message": "analytics engine unavailable"}, nil
	}
	var in metricComputeInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	return a.metrics.Compute(ctx, in.MetricName, chatCtx.GraphID, in.Parameters)
}

type graphTraverseInput struct {
	EntityID string `json:"entity_id"`
	Depth    int    `json:"depth"`
}

func (a *Agent) toolGraphTraverse(ctx context.Context, raw json.RawMessage) (any, error) {
	if a.graph == nil {
		return map[string]any{"entities": []any{}, "message": "graph store unavailable"}, nil
	}
	var in graphTraverseInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	if in.Depth <= 0 {
		in.Depth = 1
	}
	entities, err := a.graph.Neighbors(ctx, in.EntityID, in.Depth)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entities": entities, "count": len(entities)}, nil
}

type graphPathInput struct {
	FromEntityID string `json:"from_entity_id"`
	ToEntityID   string `json:"to_entity_id"`
}

func (a *Agent) toolGraphPath(ctx context.Context, raw json.RawMessage) (any, error) {
	if a.graph == nil {
		return map[string]any{"exists": false, "message": "graph store unavailable"}, nil
	}
	var in graphPathInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	if in.FromEntityID == "" || in.ToEntityID == "" {
		return map[string]any{"exists": false, "message": "both from_entity_id and to_entity_id are required"}, nil
	}
	path, err := a.graph.TracePath(ctx, in.FromEntityID, in.ToEntityID)
	if err != nil {
		return map[string]any{"exists": false, "message": "no path found"}, nil
	}
	return map[string]any{"exists": true, "path": path, "length": len(path)}, nil
}

type graphPatternInput struct {
	MinRelationships int `json:"min_relationships"`
}

func (a *Agent) toolGraphPattern(ctx context.Context, raw json.RawMessage, chatCtx Context) (any, error) {
	if a.graph == nil {
		return map[string]any{"entities": []any{}, "message": "graph store unavailable"}, nil
	}
	var in graphPatternInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	if in.MinRelationships <= 0 {
		in.MinRelationships = 1
	}
	entities, err := a.graph.PatternMatch(ctx, chatCtx.GraphID, in.MinRelationships)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entities": entities, "count": len(entities)}, nil
}

// filterEntities applies a set of {"$gt"|"$gte"|"$lt"|"$lte"|"$eq": value}
// property conditions to a list of entities.
func filterEntities(entities []domain.Entity, filters map[string]map[string]any) []domain.Entity {
	if len(filters) == 0 {
		return entities
	}
	var out []domain.Entity
	for _, e := range entities {
		if matchesFilters(e, filters) {
			out = append(out, e)
		}
	}
	return out
}

func matchesFilters(e domain.Entity, filters map[string]map[string]any) bool {
	for field, cond := range filters {
		v, ok := e.Properties[field]
		if !ok {
			return false
		}
		for op, want := range cond {
			if !matchesCondition(v, op, want) {
				return false
			}
		}
	}
	return true
}

func matchesCondition(actual any, op string, want any) bool {
	af, aok := toFloat(actual)
	wf, wok := toFloat(want)
	if aok && wok {
		switch op {
		case "$gt":
			return af > wf
		case "$gte":
			return af >= wf
		case "$lt":
			return af < wf
		case "$lte":
			return af <= wf
		case "$eq":
			return af == wf
		}
	}
	if op == "$eq" {
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", want)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
