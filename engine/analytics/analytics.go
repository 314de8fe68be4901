// Package analytics implements the Analytics Engine: a registry of named
// metrics over the entities in a document's graph, each declaring its
// allowed entity types and default parameters, composed into the
// domain-specific liquidity/debt/loan-maturity metrics on top.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/finkg-labs/finkg/engine/domain"
)

// entityFetcher is the graph-read surface the engine needs; satisfied by
// *engine/graph.GraphStore.
type entityFetcher interface {
	FindByType(ctx context.Context, graphID string, entityType domain.EntityType) ([]domain.Entity, error)
	FindByTypeAny(ctx context.Context, entityType domain.EntityType) ([]domain.Entity, error)
}

// Metric declares one named computation: the entity types it reads, its
// default parameters, and the handler that runs over the fetched entities.
type Metric struct {
	Name              string
	AllowedTypes      []domain.EntityType
	DefaultParameters map[string]any
	Handler           func(entities []domain.Entity, params map[string]any) []map[string]any
}

// Response is the contract every metric call returns.
type Response struct {
	MetricName string           `json:"metric_name"`
	Parameters map[string]any   `json:"parameters"`
	Results    []map[string]any `json:"results"`
	Count      int              `json:"count"`
	Message    string           `json:"message,omitempty"`
}

// Engine holds the metric registry and dispatches Compute calls.
type Engine struct {
	graph   entityFetcher
	metrics map[string]Metric
}

// New creates an Engine with the full built-in metric registry.
func New(graph entityFetcher) *Engine {
	e := &Engine{graph: graph, metrics: map[string]Metric{}}
	for _, m := range builtinMetrics() {
		e.metrics[m.Name] = m
	}
	return e
}

// Compute merges caller parameters over a metric's defaults, fetches the
// relevant entities (graph-id filtered, falling back to unfiltered when
// that yields nothing), and runs the handler.
func (e *Engine) Compute(ctx context.Context, metricName, graphID string, params map[string]any) (Response, error) {
	metric, ok := e.metrics[metricName]
	if !ok {
		return Response{}, fmt.Errorf("analytics: unknown metric %q", metricName)
	}

	merged := mergeParams(metric.DefaultParameters, params)

	entities, err := e.fetchEntities(ctx, graphID, metric.AllowedTypes)
	if err != nil {
		return Response{}, fmt.Errorf("analytics: fetching entities for %q: %w", metricName, err)
	}

	results := metric.Handler(entities, merged)
	resp := Response{MetricName: metricName, Parameters: merged, Results: results, Count: len(results)}
	if len(results) == 0 {
		resp.Message = fmt.Sprintf("no results for metric %q over the requested entities", metricName)
	}
	return resp, nil
}

func (e *Engine) fetchEntities(ctx context.Context, graphID string, types []domain.EntityType) ([]domain.Entity, error) {
	if e.graph == nil {
		return nil, nil
	}
	var all []domain.Entity
	for _, t := range types {
		found, err := e.graph.FindByType(ctx, graphID, t)
		if err != nil {
			return nil, err
		}
		all = append(all, found...)
	}
	if len(all) == 0 {
		for _, t := range types {
			found, err := e.graph.FindByTypeAny(ctx, t)
			if err != nil {
				return nil, err
			}
			all = append(all, found...)
		}
	}
	return all, nil
}

func mergeParams(defaults, caller map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(caller))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range caller {
		merged[k] = v
	}
	return merged
}

func propFloat(e domain.Entity, field string) (float64, bool) {
	v, ok := e.Properties[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func propString(e domain.Entity, field string) (string, bool) {
	v, ok := e.Properties[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func paramFloat(params map[string]any, key string, fallback float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return fallback
}

func sortedKeys(m map[string][]domain.Entity) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func entityResult(e domain.Entity, extra map[string]any) map[string]any {
	out := map[string]any{
		"entity_id": e.ID,
		"name":      e.Name,
		"type":      string(e.Type),
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func allEntityTypes() []domain.EntityType {
	types := make([]domain.EntityType, 0, len(domain.ValidEntityTypes))
	for t := range domain.ValidEntityTypes {
		types = append(types, t)
	}
	return types
}
