// Package relate implements the Relationship Detector: a chunked LLM pass
// over an entity list, followed by heuristic enrichment over
// shared-property clusters, followed by deduplication. It is the edge
// half of the normalizer's cascade (engine/normalize supplies entities;
// this package supplies edges for them).
package relate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/llmclient"
	"github.com/finkg-labs/finkg/pkg/fn"
	"github.com/finkg-labs/finkg/pkg/jsonx"
	"github.com/google/uuid"
)

const (
	chunkSize           = 20
	confidenceThreshold = 0.6
)

// completer is the subset of *llmclient.Client the detector needs; tests
// substitute a fake.
type completer interface {
	Complete(ctx context.Context, system string, messages []llmclient.Message, tools []llmclient.ToolDef) (*llmclient.Response, error)
}

// Detector runs the chunked-LLM-plus-heuristic relationship pass.
type Detector struct {
	llm completer
	log *slog.Logger
}

// New creates a Detector. llm may be nil (the normalizer passes nil when it
// has no LLM configured), in which case the LLM pass is skipped and only
// heuristic enrichment runs.
func New(llm completer, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{llm: llm, log: log}
}

// candidateEdge is the shape of one entry in the LLM's JSON array response.
type candidateEdge struct {
	SourceID   string  `json:"source_id"`
	TargetID   string  `json:"target_id"`
	EdgeType   string  `json:"edge_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// entityPayload is what each chunk sends the LLM, per entity.
type entityPayload struct {
	ID         string                      `json:"id"`
	Name       string                      `json:"name"`
	Type       domain.EntityType           `json:"type"`
	Properties map[string]domain.PropValue `json:"properties,omitempty"`
}

// Detect returns the deduplicated edge list for a graph's entities. An
// empty entity list returns immediately without any LLM call.
func (d *Detector) Detect(ctx context.Context, graphID string, entities []domain.Entity) ([]domain.Edge, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	var edges []domain.Edge
	if d.llm != nil {
		llmEdges, err := d.runLLMPass(ctx, graphID, entities)
		if err != nil {
			d.log.Warn("relate: LLM pass failed, continuing with heuristics only", "err", err)
		} else {
			edges = llmEdges
		}
	}

	edges = append(edges, d.heuristicEdges(graphID, entities, edges)...)
	return dedupEdges(edges), nil
}

func (d *Detector) runLLMPass(ctx context.Context, graphID string, entities []domain.Entity) ([]domain.Edge, error) {
	var edges []domain.Edge
	for _, chunk := range fn.Chunk(entities, chunkSize) {
		chunkEdges, err := d.detectChunk(ctx, graphID, chunk)
		if err != nil {
			return edges, err
		}
		edges = append(edges, chunkEdges...)
	}
	return edges, nil
}

func (d *Detector) detectChunk(ctx context.Context, graphID string, chunk []domain.Entity) ([]domain.Edge, error) {
	payload := fn.Map(chunk, func(e domain.Entity) entityPayload {
		return entityPayload{ID: e.ID, Name: e.Name, Type: e.Type, Properties: e.Properties}
	})
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := d.llm.Complete(ctx, systemPrompt(), []llmclient.Message{{
		Role:    "user",
		Content: "Entities:\n" + string(body) + "\n\nReturn the JSON array of relationships now.",
	}}, nil)
	if err != nil {
		return nil, err
	}

	var candidates []candidateEdge
	if err := jsonx.Extract(resp.Text, &candidates); err != nil {
		return nil, fmt.Errorf("relate: parsing LLM response: %w", err)
	}

	known := make(map[string]bool, len(chunk))
	for _, e := range chunk {
		known[e.ID] = true
	}

	var edges []domain.Edge
	for _, c := range candidates {
		if c.Confidence < confidenceThreshold {
			continue
		}
		if !known[c.SourceID] || !known[c.TargetID] || c.SourceID == c.TargetID {
			continue
		}
		edges = append(edges, domain.Edge{
			ID:      "edge_" + uuid.NewString()[:12],
			Source:  c.SourceID,
			Target:  c.TargetID,
			Type:    canonicalize(c.EdgeType),
			GraphID: graphID,
		})
	}
	return edges, nil
}

func systemPrompt() string {
	var types []string
	for t := range domain.ValidEdgeTypes {
		types = append(types, string(t))
	}
	return "You identify relationships between financial entities extracted from a document. " +
		"Given a JSON array of entities with id, name, type, and properties, return a JSON array " +
		"of relationships, each shaped as {\"source_id\":..,\"target_id\":..,\"edge_type\":..," +
		"\"confidence\":0-1,\"reasoning\":..}. Only use source_id/target_id values from the given " +
		"entities. edge_type must be one of: " + strings.Join(types, ", ") + ". " +
		"Return only entries you are reasonably confident about; omit speculative relationships. " +
		"Respond with the JSON array only."
}

// canonicalizationTable maps common LLM-returned aliases onto the closed
// EdgeType set; anything absent degrades to RELATED_TO.
var canonicalizationTable = map[string]domain.EdgeType{
	"OWNER_OF":     domain.EdgeOwns,
	"OWNED_BY":     domain.EdgeOwns,
	"PARTNER_OF":   domain.EdgePartnersWith,
	"SUBSIDIARY":   domain.EdgeSubsidiaryOf,
	"PARENT_OF":    domain.EdgeOwns,
	"LENDS_TO":     domain.EdgeFinancedBy,
	"BORROWS_FROM": domain.EdgeOwes,
	"EMPLOYED_BY":  domain.EdgeWorksFor,
	"SUPPLIES":     domain.EdgeSuppliesTo,
	"GUARANTEE":    domain.EdgeGuarantees,
	"GUARANTOR_OF": domain.EdgeGuarantees,
	"LOCATED_AT":   domain.EdgeLocatedIn,
	"REGULATES":    domain.EdgeRegulatedBy,
	"ACQUIRES":     domain.EdgeAcquired,
	"INVESTS_IN":   domain.EdgeInvestedIn,
}

// Canonicalize maps a free-form relation-kind string (as returned by an
// LLM) onto the closed EdgeType set, falling through to RELATED_TO. It is
// exported so the narrative parser's LLM mode can reuse the same mapping.
func Canonicalize(raw string) domain.EdgeType {
	return canonicalize(raw)
}

func canonicalize(raw string) domain.EdgeType {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if domain.ValidEdgeTypes[domain.EdgeType(key)] {
		return domain.EdgeType(key)
	}
	if mapped, ok := canonicalizationTable[key]; ok {
		return mapped
	}
	return domain.EdgeRelatedTo
}

// groupingFields is the fixed set of property names the heuristic pass
// clusters entities on.
var groupingFields = []string{
	"county", "state", "country", "region", "industry", "sector",
	"parent_company", "lender", "guarantor", "creditor", "party",
	"vendor", "supplier",
}

func (d *Detector) heuristicEdges(graphID string, entities []domain.Entity, existing []domain.Edge) []domain.Edge {
	present := make(map[string]bool, len(existing))
	for _, e := range existing {
		present[edgeKey(e.Source, e.Target, e.Type)] = true
	}

	var edges []domain.Edge
	for _, field := range groupingFields {
		clusters := make(map[string][]domain.Entity)
		for _, e := range entities {
			v, ok := e.Properties[field]
			s, ok2 := v.(string)
			if !ok || !ok2 || strings.TrimSpace(s) == "" {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(s))
			clusters[key] = append(clusters[key], e)
		}
		edgeType := domain.EdgeRelatedTo
		if field == "county" {
			edgeType = domain.EdgeLocatedIn
		}
		for _, members := range clusters {
			if len(members) < 2 {
				continue
			}
			for i := 0; i < len(members); i++ {
				for j := i + 1; j < len(members); j++ {
					a, b := members[i], members[j]
					if present[edgeKey(a.ID, b.ID, edgeType)] {
						continue
					}
					present[edgeKey(a.ID, b.ID, edgeType)] = true
					edges = append(edges, domain.Edge{
						ID:      "edge_" + uuid.NewString()[:12],
						Source:  a.ID,
						Target:  b.ID,
						Type:    edgeType,
						GraphID: graphID,
						Properties: map[string]domain.PropValue{
							"grouping_field": field,
						},
					})
				}
			}
		}
	}
	return edges
}

func edgeKey(source, target string, t domain.EdgeType) string {
	return source + "|" + target + "|" + string(t)
}

func dedupEdges(edges []domain.Edge) []domain.Edge {
	return fn.UniqueBy(edges, func(e domain.Edge) string {
		return edgeKey(e.Source, e.Target, e.Type)
	})
}
