// Package index implements the Indexer: the write side of both the
// vector store (engine/semantic) and the graph store (engine/graph),
// plus the document-text chunking that feeds DocumentChunk search.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/graph"
	"github.com/finkg-labs/finkg/engine/semantic"
	"github.com/google/uuid"
)

// Embedder turns text into a vector. It is a small seam over whatever
// embedding model backs the deployment; engine/index never calls a
// provider directly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	chunkWords            = 500
	chunkOverlapWords     = 100
	fallbackChunksPerPage = 2
)

// Result counts are returned to the pipeline coordinator so Document
// progress/analytics fields can be updated without a second read.
type EntityResult struct {
	VectorCount int
	GraphCount  int
}

type EdgeResult struct {
	GraphCount int
}

type TextResult struct {
	ChunksIndexed int
}

// Indexer writes normalized entities/edges/document text into the vector
// and graph stores. Any store being nil (unavailable) degrades each
// method to a zero-count no-op rather than failing the caller.
type Indexer struct {
	entityVectors *semantic.VectorStore
	chunkVectors  *semantic.VectorStore
	graphStore    *graph.GraphStore
	embedder      Embedder
	log           *slog.Logger
}

// New creates an Indexer. Any of entityVectors/chunkVectors/graphStore
// may be nil.
func New(entityVectors, chunkVectors *semantic.VectorStore, graphStore *graph.GraphStore, embedder Embedder, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{entityVectors: entityVectors, chunkVectors: chunkVectors, graphStore: graphStore, embedder: embedder, log: log}
}

// IndexEntities upserts entities into the FinancialEntity vector
// collection (vectorized on name+properties) and the graph store.
func (ix *Indexer) IndexEntities(ctx context.Context, entities []domain.Entity) EntityResult {
	var result EntityResult

	if ix.graphStore != nil {
		for _, e := range entities {
			if err := ix.graphStore.SaveEntity(ctx, e); err != nil {
				ix.log.Warn("index: save entity failed", "entity_id", e.ID, "err", err)
				continue
			}
			result.GraphCount++
		}
	}

	if ix.entityVectors != nil && ix.embedder != nil {
		for _, e := range entities {
			vec, err := ix.embedder.Embed(ctx, entityEmbeddingText(e))
			if err != nil {
				ix.log.Warn("index: embed entity failed", "entity_id", e.ID, "err", err)
				continue
			}
			record := semantic.VectorRecord{
				ID:        entityVectorID(e.ID),
				Embedding: vec,
				Payload: map[string]any{
					"entity_id":  e.ID,
					"doc_id":     e.DocumentID,
					"source":     "entity",
					"name":       e.Name,
					"type":       string(e.Type),
					"properties": serializeProps(e.Properties),
					"citations":  serializeCitations(e.Citations),
				},
			}
			if err := ix.entityVectors.Upsert(ctx, []semantic.VectorRecord{record}); err != nil {
				ix.log.Warn("index: upsert entity vector failed", "entity_id", e.ID, "err", err)
				continue
			}
			result.VectorCount++
		}
	}

	return result
}

// IndexEdges upserts edges into the graph store.
func (ix *Indexer) IndexEdges(ctx context.Context, edges []domain.Edge) EdgeResult {
	var result EdgeResult
	if ix.graphStore == nil {
		return result
	}
	for _, e := range edges {
		if err := ix.graphStore.SaveEdge(ctx, e); err != nil {
			ix.log.Warn("index: save edge failed", "edge_id", e.ID, "err", err)
			continue
		}
		result.GraphCount++
	}
	return result
}

// IndexDocumentText chunks markdown into ~500-word, 100-word-overlap
// DocumentChunk vectors, distributing page numbers evenly across
// totalPages (falling back to an estimate of 2 chunks per page when
// totalPages is zero), and cross-links entities whose name appears in a
// chunk by case-insensitive substring match.
func (ix *Indexer) IndexDocumentText(ctx context.Context, documentID, markdown, filename string, entities []domain.Entity, totalPages int) TextResult {
	chunks := chunkWordsOverlap(markdown, chunkWords, chunkOverlapWords)
	if len(chunks) == 0 {
		return TextResult{}
	}
	if totalPages <= 0 {
		totalPages = (len(chunks) + fallbackChunksPerPage - 1) / fallbackChunksPerPage
		if totalPages == 0 {
			totalPages = 1
		}
	}

	var indexed int
	for i, chunk := range chunks {
		page := pageForChunk(i, len(chunks), totalPages)
		refs := entityRefsIn(chunk, entities)

		if ix.chunkVectors == nil || ix.embedder == nil {
			continue
		}
		vec, err := ix.embedder.Embed(ctx, chunk)
		if err != nil {
			ix.log.Warn("index: embed chunk failed", "document_id", documentID, "chunk_index", i, "err", err)
			continue
		}
		record := semantic.VectorRecord{
			ID:        chunkVectorID(documentID, i),
			Embedding: vec,
			Payload: map[string]any{
				"content":     chunk,
				"doc_id":      documentID,
				"source":      "chunk",
				"filename":    filename,
				"page_number": strconv.Itoa(page),
				"chunk_index": strconv.Itoa(i),
				"entity_refs": strings.Join(refs, ","),
			},
		}
		if err := ix.chunkVectors.Upsert(ctx, []semantic.VectorRecord{record}); err != nil {
			ix.log.Warn("index: upsert chunk vector failed", "document_id", documentID, "chunk_index", i, "err", err)
			continue
		}
		indexed++
	}
	return TextResult{ChunksIndexed: indexed}
}

func entityEmbeddingText(e domain.Entity) string {
	var sb strings.Builder
	sb.WriteString(e.Name)
	sb.WriteString(" ")
	sb.WriteString(serializeProps(e.Properties))
	return sb.String()
}

func serializeProps(props map[string]domain.PropValue) string {
	if len(props) == 0 {
		return ""
	}
	data, err := json.Marshal(props)
	if err != nil {
		return ""
	}
	return string(data)
}

func serializeCitations(citations []domain.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	data, err := json.Marshal(citations)
	if err != nil {
		return ""
	}
	return string(data)
}

func entityVectorID(entityID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("entity:"+entityID)).String()
}

func chunkVectorID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("chunk:%s:%d", documentID, index))).String()
}

// chunkWordsOverlap splits text into overlapping word windows.
func chunkWordsOverlap(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// pageForChunk distributes a chunk index evenly across totalPages.
func pageForChunk(index, totalChunks, totalPages int) int {
	if totalChunks <= 1 {
		return 1
	}
	page := (index*totalPages)/totalChunks + 1
	if page > totalPages {
		page = totalPages
	}
	return page
}

func entityRefsIn(chunk string, entities []domain.Entity) []string {
	lower := strings.ToLower(chunk)
	var refs []string
	for _, e := range entities {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			continue
		}
		if strings.Contains(lower, name) {
			refs = append(refs, e.ID)
		}
	}
	return refs
}
