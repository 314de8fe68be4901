// Package risk implements the Risk Detector: a rule pass over the
// entities of a graph, an LLM anomaly pass over the same entities, a
// missing-covenant heuristic, and per-risk subgraph synthesis.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/llmclient"
	"github.com/finkg-labs/finkg/pkg/fn"
	"github.com/finkg-labs/finkg/pkg/jsonx"
	"github.com/google/uuid"
)

const (
	anomalyGroupSize = 50
)

// completer is the subset of *llmclient.Client the detector needs; tests
// substitute a fake.
type completer interface {
	Complete(ctx context.Context, system string, messages []llmclient.Message, tools []llmclient.ToolDef) (*llmclient.Response, error)
}

// Detector runs the rule pass, LLM anomaly pass, and missing-covenant
// heuristic over a graph's entities, producing Risks.
type Detector struct {
	llm completer
	log *slog.Logger
}

// New creates a Detector. llm may be nil, in which case only the rule
// pass and missing-covenant heuristic run.
func New(llm completer, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{llm: llm, log: log}
}

// Detect runs the full risk-detection pass over one graph's entities and
// edges, returning Risks with graph_data left unattached (see Subgraph).
func (d *Detector) Detect(ctx context.Context, graphID, documentID string, entities []domain.Entity, edges []domain.Edge) ([]domain.Risk, error) {
	var risks []domain.Risk

	risks = append(risks, d.rulePass(graphID, documentID, entities)...)

	if d.llm != nil {
		anomalies, err := d.anomalyPass(ctx, graphID, documentID, entities)
		if err != nil {
			d.log.Warn("risk: LLM anomaly pass failed, continuing without it", "err", err)
		} else {
			risks = append(risks, anomalies...)
		}
	}

	risks = append(risks, missingCovenantRisks(graphID, documentID, entities)...)

	return risks, nil
}

// rulePass scans entities against the fixed rule table, emitting one Risk
// per violation with a computed score.
func (d *Detector) rulePass(graphID, documentID string, entities []domain.Entity) []domain.Risk {
	var risks []domain.Risk
	for _, r := range ruleTable() {
		for _, e := range entities {
			if e.Type != r.entityType {
				continue
			}
			actual, ok := propFloat(e, r.property)
			if !ok || !r.violates(actual) {
				continue
			}
			risks = append(risks, domain.Risk{
				ID:                "risk_" + uuid.NewString()[:12],
				Type:              r.riskType,
				Severity:          r.severity,
				Description:       r.describe(e, actual),
				AffectedEntityIDs: []string{e.ID},
				Citations:         e.Citations,
				Score:             r.score(actual, r.threshold),
				Threshold:         r.threshold,
				ActualValue:       actual,
				Recommendation:    r.recommendation,
				DocumentID:        documentID,
				GraphID:           graphID,
				DetectedAt:        detectedAt(),
			})
		}
	}
	return risks
}

// anomalyRisk is the shape of one entry in the LLM's JSON array response.
type anomalyRisk struct {
	Type             string   `json:"type"`
	Severity         string   `json:"severity"`
	Description      string   `json:"description"`
	AffectedEntities []string `json:"affected_entities"`
	Score            float64  `json:"score"`
	Recommendation   string   `json:"recommendation"`
}

// anomalyPass groups entities up to anomalyGroupSize, summarizes each
// group, and asks the LLM to return anomalies as a JSON array.
func (d *Detector) anomalyPass(ctx context.Context, graphID, documentID string, entities []domain.Entity) ([]domain.Risk, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	byID := make(map[string]domain.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	var risks []domain.Risk
	for _, group := range fn.Chunk(entities, anomalyGroupSize) {
		summary := summarizeGroup(group)
		resp, err := d.llm.Complete(ctx, anomalySystemPrompt(), []llmclient.Message{{
			Role:    "user",
			Content: "Entities:\n" + summary + "\n\nReturn the JSON array of risks now.",
		}}, nil)
		if err != nil {
			return risks, err
		}

		var candidates []anomalyRisk
		if err := jsonx.Extract(resp.Text, &candidates); err != nil {
			d.log.Warn("risk: could not parse LLM anomaly response", "err", err)
			continue
		}

		for _, c := range candidates {
			affected := fn.Filter(c.AffectedEntities, func(id string) bool {
				_, ok := byID[id]
				return ok
			})
			if len(affected) == 0 {
				continue
			}
			risks = append(risks, domain.Risk{
				ID:                "risk_" + uuid.NewString()[:12],
				Type:              c.Type,
				Severity:          severityOf(c.Severity),
				Description:       c.Description,
				AffectedEntityIDs: affected,
				Citations:         citationsFor(affected, byID),
				Score:             clamp01(c.Score),
				Recommendation:    c.Recommendation,
				DocumentID:        documentID,
				GraphID:           graphID,
				DetectedAt:        detectedAt(),
			})
		}
	}
	return risks, nil
}

func summarizeGroup(entities []domain.Entity) string {
	type entityPayload struct {
		ID         string                      `json:"id"`
		Name       string                      `json:"name"`
		Type       domain.EntityType           `json:"type"`
		Properties map[string]domain.PropValue `json:"properties,omitempty"`
	}
	payload := fn.Map(entities, func(e domain.Entity) entityPayload {
		return entityPayload{ID: e.ID, Name: e.Name, Type: e.Type, Properties: e.Properties}
	})
	body, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(body)
}

func anomalySystemPrompt() string {
	return "You analyze financial entities extracted from a document for risks and anomalies not " +
		"captured by simple threshold rules: unusual concentrations, inconsistent figures, missing " +
		"expected counterparties, or suspicious patterns. Given a JSON array of entities with id, " +
		"name, type, and properties, return a JSON array of risks, each shaped as " +
		"{\"type\":..,\"severity\":\"low|medium|high|critical\",\"description\":..," +
		"\"affected_entities\":[entity ids],\"score\":0-1,\"recommendation\":..}. " +
		"Only flag genuine concerns; return an empty array if none are found. Respond with the JSON " +
		"array only."
}

func severityOf(s string) domain.Severity {
	switch domain.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		return domain.Severity(strings.ToLower(strings.TrimSpace(s)))
	default:
		return domain.SeverityMedium
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// citationsFor lifts citations from the first three affected entities.
func citationsFor(affected []string, byID map[string]domain.Entity) []domain.Citation {
	var citations []domain.Citation
	for i, id := range affected {
		if i >= 3 {
			break
		}
		if e, ok := byID[id]; ok {
			citations = append(citations, e.Citations...)
		}
	}
	return citations
}

// missingCovenantRisks emits one medium-severity risk per Loan entity
// that has zero Clause entities in the same graph.
func missingCovenantRisks(graphID, documentID string, entities []domain.Entity) []domain.Risk {
	hasClause := fn.Reduce(entities, false, func(acc bool, e domain.Entity) bool {
		return acc || e.Type == domain.EntityClause
	})
	if hasClause {
		return nil
	}
	loans := fn.Filter(entities, func(e domain.Entity) bool { return e.Type == domain.EntityLoan })
	return fn.Map(loans, func(e domain.Entity) domain.Risk {
		return missingCovenantRisk(graphID, documentID, e)
	})
}

func missingCovenantRisk(graphID, documentID string, loan domain.Entity) domain.Risk {
	return domain.Risk{
		ID:                "risk_" + uuid.NewString()[:12],
		Type:              "missing_covenants",
		Severity:          domain.SeverityMedium,
		Description:       fmt.Sprintf("Missing Covenants: loan %q has no associated covenant clauses.", loan.Name),
		AffectedEntityIDs: []string{loan.ID},
		Citations:         loan.Citations,
		Score:             0.5,
		Recommendation:    "Confirm covenant terms were captured; request the loan agreement's covenant schedule.",
		DocumentID:        documentID,
		GraphID:           graphID,
		DetectedAt:        detectedAt(),
	}
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

func detectedAt() time.Time {
	return time.Now().UTC()
}
