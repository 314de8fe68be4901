// Package normalize implements the Normalizer: the cascade that turns one
// document's Extraction record into a graph's worth of Entities and
// Edges, selecting among schema-based, deterministic, and narrative
// candidates by entity count and falling through to the Relationship
// Detector for edge assembly.
package normalize

import (
	"context"
	"log/slog"
	"strings"

	"github.com/finkg-labs/finkg/engine/detparse"
	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/relate"
	"github.com/google/uuid"
)

const (
	// schemaKeepThreshold is the entity count at which the schema-based
	// candidate is kept outright.
	schemaKeepThreshold = 20
	// narrativeEntityFloor and narrativeCharFloor gate the narrative-parser
	// fallback: too few entities from a long enough document.
	narrativeEntityFloor = 5
	narrativeCharFloor   = 10000
)

// Result is the Normalizer's output: a fresh graph-id plus its entities
// and edges.
type Result struct {
	GraphID  string
	Entities []domain.Entity
	Edges    []domain.Edge
}

// Normalizer runs the candidate-selection cascade.
type Normalizer struct {
	relate *relate.Detector
	llm    completer
	log    *slog.Logger
}

// New creates a Normalizer. llm may be nil; callers without an LLM
// configured still get deterministic and heuristic candidates.
func New(llm completer, log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{relate: relate.New(llm, log), llm: llm, log: log}
}

// Normalize runs the full cascade against one document's extraction
// record and returns a freshly assigned graph with entities and edges.
func (n *Normalizer) Normalize(ctx context.Context, doc domain.Document, extraction domain.Extraction) (Result, error) {
	graphID := "graph_" + uuid.NewString()[:12]

	schemaSet := tagGraph(schemaEntities(extraction, doc.ID), graphID)
	lookup := derivedLookup(extraction.Markdown)

	var chosen []domain.Entity
	var narrativeEdges []domain.Edge
	usedNarrativeEdges := false

	switch {
	case len(schemaSet) >= schemaKeepThreshold:
		detSet := tagGraph(detparse.Parse(extraction.Markdown, doc.ID), graphID)
		chosen = mergeByName(schemaSet, detSet, lookup)

	default:
		detSet := tagGraph(detparse.Parse(extraction.Markdown, doc.ID), graphID)
		tableSet := tagGraph(detparse.ParseTables(extraction.Markdown, doc.ID), graphID)
		chosen = bestOf(schemaSet, detSet, tableSet)
		fillGroupingFields(chosen, lookup)

		if len(chosen) < narrativeEntityFloor && len(extraction.Markdown) > narrativeCharFloor {
			narrative := parseNarrative(ctx, n.llm, extraction.Markdown, doc.ID, graphID)
			chosen = tagGraph(narrative.Entities, graphID)
			narrativeEdges = narrative.Edges
			usedNarrativeEdges = true
		}
	}

	var edges []domain.Edge
	if usedNarrativeEdges {
		edges = narrativeEdges
	} else {
		detected, err := n.relate.Detect(ctx, graphID, chosen)
		if err != nil {
			n.log.Warn("normalize: relationship detection failed, proceeding without edges", "document_id", doc.ID, "err", err)
		}
		edges = detected
	}

	return Result{GraphID: graphID, Entities: chosen, Edges: edges}, nil
}

func tagGraph(entities []domain.Entity, graphID string) []domain.Entity {
	for i := range entities {
		entities[i].GraphID = graphID
	}
	return entities
}

// mergeByName keeps the schema set and fills properties missing on a
// schema entity from the deterministic candidate's same-named entity.
func mergeByName(schema, det []domain.Entity, lookup map[string]string) []domain.Entity {
	byName := make(map[string]domain.Entity, len(det))
	for _, e := range det {
		byName[normalizeName(e.Name)] = e
	}
	for i := range schema {
		if other, ok := byName[normalizeName(schema[i].Name)]; ok {
			for k, v := range other.Properties {
				if _, exists := schema[i].Properties[k]; !exists {
					if schema[i].Properties == nil {
						schema[i].Properties = map[string]domain.PropValue{}
					}
					schema[i].Properties[k] = v
				}
			}
		}
	}
	fillGroupingFields(schema, lookup)
	return schema
}

func fillGroupingFields(entities []domain.Entity, lookup map[string]string) {
	for i := range entities {
		if entities[i].Properties == nil {
			entities[i].Properties = map[string]domain.PropValue{}
		}
		for field, value := range lookup {
			if _, exists := entities[i].Properties[field]; !exists {
				entities[i].Properties[field] = value
			}
		}
	}
}

// bestOf adopts whichever candidate produced the most entities.
func bestOf(candidates ...[]domain.Entity) []domain.Entity {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if len(c) > len(best) {
			best = c
		}
	}
	return best
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
