package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/llmclient"
	"github.com/finkg-labs/finkg/engine/relate"
	"github.com/finkg-labs/finkg/pkg/jsonx"
	"github.com/google/uuid"
)

// narrativeChunkSize is the default paragraph-boundary chunk length for
// the LLM narrative mode.
const narrativeChunkSize = 1000

var (
	orgPattern      = regexp.MustCompile(`\b([A-Z][A-Za-z&]*(?:\s+[A-Z][A-Za-z&]*){0,4}\s+(?:Inc|LLC|Corp|Corporation|Ltd|Company|Holdings|Group|Partners|LP|LLP)\.?)\b`)
	moneyPattern    = regexp.MustCompile(`\$\s?[\d,]+(?:\.\d+)?\s?(?:million|billion|thousand|M|B|K)?`)
	datePattern     = regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	personPattern   = regexp.MustCompile(`\b(?:Mr\.|Ms\.|Mrs\.|Dr\.)\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`)
	locationPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:,\s*[A-Z]{2})\b`)
)

// NarrativeResult is the entity+edge pair the narrative parser produces;
// unlike the rest of the cascade, its edges are adopted directly rather
// than run back through the relationship detector.
type NarrativeResult struct {
	Entities []domain.Entity
	Edges    []domain.Edge
}

type completer interface {
	Complete(ctx context.Context, system string, messages []llmclient.Message, tools []llmclient.ToolDef) (*llmclient.Response, error)
}

// parseNarrative runs pattern mode always, and LLM mode additionally when
// an LLM client is configured; LLM-mode entities/edges are appended to
// the pattern-mode output and deduplicated by name.
func parseNarrative(ctx context.Context, llm completer, markdown, documentID, graphID string) NarrativeResult {
	result := narrativePatternMode(markdown, documentID)
	if llm == nil {
		return result
	}
	llmEntities, llmEdges, err := narrativeLLMMode(ctx, llm, markdown, documentID, graphID)
	if err != nil {
		return result
	}
	result.Entities = dedupByName(append(result.Entities, llmEntities...))
	result.Edges = append(result.Edges, llmEdges...)
	return result
}

func narrativePatternMode(markdown, documentID string) NarrativeResult {
	var entities []domain.Entity
	add := func(t domain.EntityType, name, section string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       t,
			Name:       name,
			Properties: map[string]domain.PropValue{},
			Citations:  []domain.Citation{{Section: section}},
			DocumentID: documentID,
		})
	}
	for _, m := range orgPattern.FindAllString(markdown, -1) {
		add(domain.EntityCompany, m, "narrative_org")
	}
	for i, m := range moneyPattern.FindAllString(markdown, -1) {
		add(domain.EntityMetric, fmt.Sprintf("Amount %d", i+1), "narrative_amount")
		entities[len(entities)-1].Properties["raw_value"] = m
	}
	for i, m := range datePattern.FindAllString(markdown, -1) {
		add(domain.EntityMetric, fmt.Sprintf("Date %d", i+1), "narrative_date")
		entities[len(entities)-1].Properties["raw_value"] = m
	}
	for _, m := range personPattern.FindAllString(markdown, -1) {
		add(domain.EntityPerson, m, "narrative_person")
	}
	for _, m := range locationPattern.FindAllString(markdown, -1) {
		add(domain.EntityLocation, m, "narrative_location")
	}

	for _, para := range paragraphs(markdown) {
		if len(para) < 50 {
			continue
		}
		sentence := firstSentence(para)
		if sentence == "" {
			continue
		}
		add(domain.EntityMetric, truncate(sentence, 80), "narrative_topic")
	}

	return NarrativeResult{Entities: dedupByName(entities)}
}

type narrativeLLMEntity struct {
	Name       string                      `json:"name"`
	Type       string                      `json:"type"`
	Properties map[string]domain.PropValue `json:"properties,omitempty"`
}

type narrativeLLMRelationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

type narrativeLLMChunkResult struct {
	Entities      []narrativeLLMEntity       `json:"entities"`
	Relationships []narrativeLLMRelationship `json:"relationships"`
}

// narrativeLLMMode chunks text at paragraph boundaries (~1000 chars),
// issues one LLM call per chunk, and deduplicates entities by name across
// chunks before mapping relationships onto the accumulated id map.
func narrativeLLMMode(ctx context.Context, llm completer, markdown, documentID, graphID string) ([]domain.Entity, []domain.Edge, error) {
	chunks := chunkByParagraph(markdown, narrativeChunkSize)
	byName := map[string]*domain.Entity{}
	var order []string
	var relationships []narrativeLLMRelationship

	for _, chunk := range chunks {
		resp, err := llm.Complete(ctx, narrativeSystemPrompt(), []llmclient.Message{{Role: "user", Content: chunk}}, nil)
		if err != nil {
			continue
		}
		var parsed narrativeLLMChunkResult
		if err := jsonx.Extract(resp.Text, &parsed); err != nil {
			continue
		}
		for _, e := range parsed.Entities {
			name := strings.TrimSpace(e.Name)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if _, exists := byName[key]; exists {
				continue
			}
			props := e.Properties
			if props == nil {
				props = map[string]domain.PropValue{}
			}
			entity := &domain.Entity{
				ID:           newEntityID(),
				Type:         mapRawType(e.Type),
				Name:         name,
				OriginalType: e.Type,
				Properties:   props,
				Citations:    []domain.Citation{{Section: "narrative_llm"}},
				DocumentID:   documentID,
			}
			byName[key] = entity
			order = append(order, key)
		}
		relationships = append(relationships, parsed.Relationships...)
	}

	entities := make([]domain.Entity, 0, len(order))
	for _, k := range order {
		entities = append(entities, *byName[k])
	}

	var edges []domain.Edge
	for _, r := range relationships {
		src, ok1 := byName[strings.ToLower(strings.TrimSpace(r.Source))]
		dst, ok2 := byName[strings.ToLower(strings.TrimSpace(r.Target))]
		if !ok1 || !ok2 {
			continue
		}
		edges = append(edges, domain.Edge{
			ID:      "edge_" + uuid.NewString()[:12],
			Source:  src.ID,
			Target:  dst.ID,
			Type:    relate.Canonicalize(r.Kind),
			GraphID: graphID,
		})
	}
	return entities, edges, nil
}

func narrativeSystemPrompt() string {
	return "Extract entities and relationships from this passage of a financial document. " +
		"Return JSON shaped as {\"entities\":[{\"name\":..,\"type\":..,\"properties\":{}}]," +
		"\"relationships\":[{\"source\":<entity name>,\"target\":<entity name>,\"kind\":..}]}. " +
		"Use entity names exactly as they appear so relationships can reference them. Respond with JSON only."
}

func paragraphs(text string) []string {
	return strings.Split(text, "\n\n")
}

func chunkByParagraph(text string, size int) []string {
	paras := paragraphs(text)
	var chunks []string
	var current strings.Builder
	for _, p := range paras {
		if current.Len() > 0 && current.Len()+len(p) > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func firstSentence(para string) string {
	idx := strings.IndexAny(para, ".!?")
	if idx == -1 {
		return strings.TrimSpace(para)
	}
	return strings.TrimSpace(para[:idx+1])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func dedupByName(entities []domain.Entity) []domain.Entity {
	seen := make(map[string]bool, len(entities))
	out := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		key := strings.ToLower(e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
