package analytics

import (
	"context"
	"testing"

	"github.com/finkg-labs/finkg/engine/domain"
)

type fakeGraph struct {
	byGraph map[string][]domain.Entity
	any     map[domain.EntityType][]domain.Entity
}

func (f *fakeGraph) FindByType(ctx context.Context, graphID string, entityType domain.EntityType) ([]domain.Entity, error) {
	var out []domain.Entity
	for _, e := range f.byGraph[graphID] {
		if e.Type == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeGraph) FindByTypeAny(ctx context.Context, entityType domain.EntityType) ([]domain.Entity, error) {
	return f.any[entityType], nil
}

func TestComputeUnknownMetricErrors(t *testing.T) {
	e := New(&fakeGraph{})
	if _, err := e.Compute(context.Background(), "not_a_metric", "g1", nil); err == nil {
		t.Fatal("expected error for unknown metric")
	}
}

func TestPropertyThresholdFiltersByOperator(t *testing.T) {
	entities := []domain.Entity{
		{ID: "e1", Name: "Loan A", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{"debt_to_equity": 3.5}},
		{ID: "e2", Name: "Loan B", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{"debt_to_equity": 1.0}},
	}
	g := &fakeGraph{any: map[domain.EntityType][]domain.Entity{domain.EntityLoan: entities}}
	e := New(g)

	resp, err := e.Compute(context.Background(), "debt_risk", "g1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 result over threshold, got %d: %+v", resp.Count, resp.Results)
	}
	if resp.Results[0]["entity_id"] != "e1" {
		t.Fatalf("expected e1 to be flagged, got %+v", resp.Results[0])
	}
}

func TestComputeFallsBackToUnfilteredWhenGraphEmpty(t *testing.T) {
	entities := []domain.Entity{
		{ID: "e1", Name: "Loan A", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{"debt_to_equity": 5.0}},
	}
	g := &fakeGraph{
		byGraph: map[string][]domain.Entity{}, // empty for graph "g1"
		any:     map[domain.EntityType][]domain.Entity{domain.EntityLoan: entities},
	}
	e := New(g)

	resp, err := e.Compute(context.Background(), "debt_risk", "g1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected fallback fetch to find 1 result, got %d", resp.Count)
	}
}

func TestPropertyComparisonRatio(t *testing.T) {
	entities := []domain.Entity{
		{ID: "e1", Name: "Co", Type: domain.EntityCompany, Properties: map[string]domain.PropValue{
			"current_assets":      200.0,
			"current_liabilities": 100.0,
		}},
	}
	g := &fakeGraph{any: map[domain.EntityType][]domain.Entity{domain.EntityCompany: entities}}
	e := New(g)

	resp, err := e.Compute(context.Background(), "property_comparison", "g1", map[string]any{
		"left": "current_assets", "right": "current_liabilities", "mode": "ratio",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 result, got %d", resp.Count)
	}
	if v := resp.Results[0]["value"].(float64); v != 2.0 {
		t.Fatalf("expected ratio 2.0, got %v", v)
	}
}

func TestGroupedAggregationSumsPerGroup(t *testing.T) {
	entities := []domain.Entity{
		{ID: "e1", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{"maturity_date": "2026", "principal": 100.0}},
		{ID: "e2", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{"maturity_date": "2026", "principal": 50.0}},
		{ID: "e3", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{"maturity_date": "2027", "principal": 10.0}},
	}
	g := &fakeGraph{any: map[domain.EntityType][]domain.Entity{domain.EntityLoan: entities}}
	e := New(g)

	resp, err := e.Compute(context.Background(), "loan_maturity", "g1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", resp.Count, resp.Results)
	}
	for _, r := range resp.Results {
		if r["group"] == "2026" && r["value"] != 150.0 {
			t.Fatalf("expected 2026 group sum 150, got %v", r["value"])
		}
	}
}

func TestSequentialDropDetectsAdjacentDrop(t *testing.T) {
	entities := []domain.Entity{
		{ID: "e1", Name: "Q1", Type: domain.EntityMetric, Properties: map[string]domain.PropValue{"value": 100.0}},
		{ID: "e2", Name: "Q2", Type: domain.EntityMetric, Properties: map[string]domain.PropValue{"value": 60.0}},
		{ID: "e3", Name: "Q3", Type: domain.EntityMetric, Properties: map[string]domain.PropValue{"value": 55.0}},
	}
	g := &fakeGraph{any: map[domain.EntityType][]domain.Entity{domain.EntityMetric: entities}}
	e := New(g)

	resp, err := e.Compute(context.Background(), "sequential_drop", "g1", map[string]any{
		"group_by": "type", "order_by": "value", "ratio_threshold": 0.3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 flagged drop (100->60), got %d: %+v", resp.Count, resp.Results)
	}
	if resp.Results[0]["entity_id"] != "e2" {
		t.Fatalf("expected e2 (the post-drop value) flagged, got %+v", resp.Results[0])
	}
}

func TestComputeEmptyResultsIncludesMessage(t *testing.T) {
	e := New(&fakeGraph{})
	resp, err := e.Compute(context.Background(), "property_threshold", "g1", map[string]any{
		"property": "value", "operator": "gt", "threshold": 0.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 0 || resp.Message == "" {
		t.Fatalf("expected empty result with human-readable message, got %+v", resp)
	}
}

func TestLiquidityAnalysisUsesPropertyThreshold(t *testing.T) {
	entities := []domain.Entity{
		{ID: "e1", Name: "Co", Type: domain.EntityMetric, Properties: map[string]domain.PropValue{"current_ratio": 0.8}},
		{ID: "e2", Name: "Co2", Type: domain.EntityMetric, Properties: map[string]domain.PropValue{"current_ratio": 1.5}},
	}
	g := &fakeGraph{any: map[domain.EntityType][]domain.Entity{domain.EntityMetric: entities}}
	e := New(g)

	resp, err := e.Compute(context.Background(), "liquidity_analysis", "g1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 1 || resp.Results[0]["entity_id"] != "e1" {
		t.Fatalf("expected only the sub-1.0 current_ratio flagged, got %+v", resp.Results)
	}
}
