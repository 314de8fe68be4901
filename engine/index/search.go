package index

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/semantic"
)

// EntityHit is the normalized shape a semantic entity search returns.
type EntityHit struct {
	ID         string                      `json:"id"`
	Name       string                      `json:"name"`
	Type       string                      `json:"type"`
	Properties map[string]domain.PropValue `json:"properties,omitempty"`
	Citations  []domain.Citation           `json:"citations,omitempty"`
	Score      float32                     `json:"score"`
}

// ChunkHit is the normalized shape a document-chunk search returns.
type ChunkHit struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Content    string   `json:"content"`
	PageNumber int      `json:"page_number"`
	Filename   string   `json:"filename"`
	EntityRefs []string `json:"entity_refs,omitempty"`
	Score      float32  `json:"score"`
}

// SearchEntities runs nearest-neighbor search over the FinancialEntity
// collection. Returns an empty slice (never an error) when the vector
// store or embedder is unavailable.
func (ix *Indexer) SearchEntities(ctx context.Context, query string, limit int) ([]EntityHit, error) {
	if ix.entityVectors == nil || ix.embedder == nil {
		return nil, nil
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		ix.log.Warn("index: embed entity query failed", "err", err)
		return nil, nil
	}
	results, err := ix.entityVectors.Search(ctx, vec, limit)
	if err != nil {
		ix.log.Warn("index: entity search failed", "err", err)
		return nil, nil
	}
	hits := make([]EntityHit, 0, len(results))
	for _, r := range results {
		hit := EntityHit{ID: r.Meta["entity_id"], Name: r.Meta["name"], Type: r.Meta["type"], Score: r.Score}
		if hit.ID == "" {
			hit.ID = r.ID
		}
		if raw := r.Meta["properties"]; raw != "" {
			var props map[string]domain.PropValue
			if json.Unmarshal([]byte(raw), &props) == nil {
				hit.Properties = props
			}
		}
		if raw := r.Meta["citations"]; raw != "" {
			var citations []domain.Citation
			if json.Unmarshal([]byte(raw), &citations) == nil {
				hit.Citations = citations
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// SearchChunks runs nearest-neighbor search over the DocumentChunk
// collection, optionally scoped to one document.
func (ix *Indexer) SearchChunks(ctx context.Context, query, documentID string, limit int) ([]ChunkHit, error) {
	if ix.chunkVectors == nil || ix.embedder == nil {
		return nil, nil
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		ix.log.Warn("index: embed chunk query failed", "err", err)
		return nil, nil
	}

	var results []searchResult
	if documentID != "" {
		filtered, err := ix.chunkVectors.SearchFiltered(ctx, vec, limit, map[string]string{"doc_id": documentID})
		if err != nil {
			ix.log.Warn("index: chunk search failed", "err", err)
			return nil, nil
		}
		results = toSearchResults(filtered)
	} else {
		plain, err := ix.chunkVectors.Search(ctx, vec, limit)
		if err != nil {
			ix.log.Warn("index: chunk search failed", "err", err)
			return nil, nil
		}
		results = toSearchResults(plain)
	}

	hits := make([]ChunkHit, 0, len(results))
	for _, r := range results {
		page, _ := strconv.Atoi(r.meta["page_number"])
		var refs []string
		if raw := r.meta["entity_refs"]; raw != "" {
			refs = strings.Split(raw, ",")
		}
		hits = append(hits, ChunkHit{
			ChunkID:    r.id,
			DocumentID: r.meta["doc_id"],
			Content:    r.content,
			PageNumber: page,
			Filename:   r.meta["filename"],
			EntityRefs: refs,
			Score:      r.score,
		})
	}
	return hits, nil
}

// searchResult is a store-agnostic projection of semantic.SearchResult so
// this file doesn't need two nearly-identical loops for the filtered and
// unfiltered search paths.
type searchResult struct {
	id      string
	content string
	score   float32
	meta    map[string]string
}

func toSearchResults(in []semantic.SearchResult) []searchResult {
	out := make([]searchResult, len(in))
	for i, r := range in {
		meta := make(map[string]string, len(r.Meta)+2)
		for k, v := range r.Meta {
			meta[k] = v
		}
		meta["doc_id"] = r.DocID
		out[i] = searchResult{id: r.ID, content: r.Content, score: r.Score, meta: meta}
	}
	return out
}
