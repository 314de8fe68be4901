package risk

import (
	"context"
	"testing"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/llmclient"
)

type fakeCompleter struct {
	resp *llmclient.Response
	err  error
	fn   func(ctx context.Context, system string, messages []llmclient.Message, tools []llmclient.ToolDef) (*llmclient.Response, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, system string, messages []llmclient.Message, tools []llmclient.ToolDef) (*llmclient.Response, error) {
	if f.fn != nil {
		return f.fn(ctx, system, messages, tools)
	}
	return f.resp, f.err
}

func TestRulePassFlagsHighVariableRateLoan(t *testing.T) {
	entities := []domain.Entity{
		{ID: "loan1", Name: "Term Loan A", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{"rate": 0.09}},
	}
	d := New(nil, nil)
	risks, err := d.Detect(context.Background(), "g1", "doc1", entities, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var found *domain.Risk
	for i := range risks {
		if risks[i].Type == "high_variable_rate" {
			found = &risks[i]
		}
	}
	if found == nil {
		t.Fatalf("expected high_variable_rate risk, got %+v", risks)
	}
	if found.Severity != domain.SeverityHigh {
		t.Fatalf("expected high severity, got %s", found.Severity)
	}
	if found.Score != 1.0 {
		t.Fatalf("expected score min(0.09/0.08,1)=1.0, got %v", found.Score)
	}
	if len(found.AffectedEntityIDs) != 1 || found.AffectedEntityIDs[0] != "loan1" {
		t.Fatalf("expected loan1 affected, got %v", found.AffectedEntityIDs)
	}
}

func TestRulePassSkipsEntitiesWithoutProperty(t *testing.T) {
	entities := []domain.Entity{
		{ID: "loan1", Name: "Term Loan A", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{}},
	}
	d := New(nil, nil)
	risks, err := d.Detect(context.Background(), "g1", "doc1", entities, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range risks {
		if r.Type == "high_variable_rate" {
			t.Fatalf("did not expect rate-based risk without a rate property")
		}
	}
}

func TestMissingCovenantHeuristicFiresWhenNoClauses(t *testing.T) {
	entities := []domain.Entity{
		{ID: "loan1", Name: "Term Loan A", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{}},
		{ID: "loan2", Name: "Term Loan B", Type: domain.EntityLoan, Properties: map[string]domain.PropValue{}},
	}
	d := New(nil, nil)
	risks, err := d.Detect(context.Background(), "g1", "doc1", entities, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var count int
	for _, r := range risks {
		if r.Type == "missing_covenants" {
			count++
			if r.Severity != domain.SeverityMedium {
				t.Fatalf("expected medium severity, got %s", r.Severity)
			}
		}
	}
	if count != 2 {
		t.Fatalf("expected one missing-covenant risk per loan, got %d", count)
	}
}

func TestMissingCovenantHeuristicSkipsWhenClausesPresent(t *testing.T) {
	entities := []domain.Entity{
		{ID: "loan1", Name: "Term Loan A", Type: domain.EntityLoan},
		{ID: "clause1", Name: "Covenant", Type: domain.EntityClause},
	}
	d := New(nil, nil)
	risks, err := d.Detect(context.Background(), "g1", "doc1", entities, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range risks {
		if r.Type == "missing_covenants" {
			t.Fatalf("did not expect missing-covenant risk when clauses exist")
		}
	}
}

func TestAnomalyPassParsesLLMRisks(t *testing.T) {
	entities := []domain.Entity{
		{ID: "e1", Name: "Acme Corp", Type: domain.EntityCompany},
	}
	completer := &fakeCompleter{resp: &llmclient.Response{Text: `[{"type":"concentration_risk","severity":"high","description":"Single customer concentration","affected_entities":["e1"],"score":0.8,"recommendation":"Diversify customer base."}]`}}
	d := New(completer, nil)

	risks, err := d.Detect(context.Background(), "g1", "doc1", entities, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var found bool
	for _, r := range risks {
		if r.Type == "concentration_risk" {
			found = true
			if r.Severity != domain.SeverityHigh || r.Score != 0.8 {
				t.Fatalf("unexpected risk shape: %+v", r)
			}
		}
	}
	if !found {
		t.Fatalf("expected concentration_risk from LLM pass, got %+v", risks)
	}
}

func TestAnomalyPassDropsRisksWithUnknownAffectedEntities(t *testing.T) {
	entities := []domain.Entity{{ID: "e1", Name: "Acme Corp", Type: domain.EntityCompany}}
	completer := &fakeCompleter{resp: &llmclient.Response{Text: `[{"type":"x","severity":"low","description":"d","affected_entities":["does_not_exist"],"score":0.1,"recommendation":"r"}]`}}
	d := New(completer, nil)

	risks, err := d.Detect(context.Background(), "g1", "doc1", entities, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range risks {
		if r.Type == "x" {
			t.Fatalf("expected risk referencing unknown entity to be dropped")
		}
	}
}

func TestAnomalyPassContinuesOnUnparsableResponse(t *testing.T) {
	entities := []domain.Entity{{ID: "e1", Name: "Acme Corp", Type: domain.EntityCompany}}
	completer := &fakeCompleter{resp: &llmclient.Response{Text: "not json at all"}}
	d := New(completer, nil)

	risks, err := d.Detect(context.Background(), "g1", "doc1", entities, nil)
	if err != nil {
		t.Fatalf("unparsable LLM response should degrade gracefully, got error: %v", err)
	}
	_ = risks
}

func TestOneHopClosureIncludesConnectedEntities(t *testing.T) {
	entities := []domain.Entity{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C"},
	}
	edges := []domain.Edge{
		{ID: "e1", Source: "a", Target: "b", Type: domain.EdgeRelatedTo},
		{ID: "e2", Source: "b", Target: "c", Type: domain.EdgeRelatedTo},
	}
	sub := oneHopClosure([]string{"a"}, entities, edges)
	if len(sub.Entities) != 2 {
		t.Fatalf("expected a and b (one hop), got %d entities: %+v", len(sub.Entities), sub.Entities)
	}
	if len(sub.Edges) != 1 {
		t.Fatalf("expected one edge a->b, got %+v", sub.Edges)
	}
}

func TestSubgraphFallsBackToOneHopOnLLMFailure(t *testing.T) {
	entities := []domain.Entity{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
	}
	edges := []domain.Edge{{ID: "e1", Source: "a", Target: "b", Type: domain.EdgeRelatedTo}}
	risk := domain.Risk{ID: "risk1", AffectedEntityIDs: []string{"a"}}

	completer := &fakeCompleter{err: context.DeadlineExceeded}
	d := New(completer, nil)

	sub := d.Subgraph(context.Background(), risk, entities, edges)
	if len(sub.Entities) != 2 {
		t.Fatalf("expected fallback one-hop closure with 2 entities, got %d", len(sub.Entities))
	}
}

func TestSubgraphUsesLLMSelectionWhenAvailable(t *testing.T) {
	entities := []domain.Entity{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C"},
	}
	edges := []domain.Edge{{ID: "e1", Source: "a", Target: "b", Type: domain.EdgeRelatedTo}}
	risk := domain.Risk{ID: "risk1", AffectedEntityIDs: []string{"a"}}

	completer := &fakeCompleter{resp: &llmclient.Response{Text: `{"entity_ids":["a","b"],"edge_indices":[0]}`}}
	d := New(completer, nil)

	sub := d.Subgraph(context.Background(), risk, entities, edges)
	if len(sub.Entities) != 2 || len(sub.Edges) != 1 {
		t.Fatalf("expected LLM-selected subgraph of 2 entities and 1 edge, got %+v", sub)
	}
}

func TestDetectWithNoEntitiesReturnsNoRisks(t *testing.T) {
	d := New(nil, nil)
	risks, err := d.Detect(context.Background(), "g1", "doc1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(risks) != 0 {
		t.Fatalf("expected no risks for empty entity list, got %+v", risks)
	}
}
