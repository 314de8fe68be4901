// Package pipeline implements the Pipeline Coordinator: the sole owner
// of Document.Status, threading a document through ingest, extract,
// normalize, index, and risk-detection as five idempotent stage
// operations.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/index"
	"github.com/finkg-labs/finkg/engine/normalize"
	"github.com/finkg-labs/finkg/engine/state"
)

// The stage components are addressed through small local interfaces
// rather than their concrete types, matching the llmclient.Client
// completer convention used in engine/relate, engine/normalize, and
// engine/risk: tests substitute fakes with no mocking framework, and
// *ingest.Ingestor, *extract.Orchestrator, *normalize.Normalizer,
// *index.Indexer, and *risk.Detector already satisfy these structurally.

type ingester interface {
	Ingest(filename string, mediaType domain.MediaType, size int64, r io.Reader) (domain.Document, error)
}

type extractor interface {
	Run(ctx context.Context, doc domain.Document) (domain.Extraction, error)
}

type normalizer interface {
	Normalize(ctx context.Context, doc domain.Document, extraction domain.Extraction) (normalize.Result, error)
}

type indexer interface {
	IndexEntities(ctx context.Context, entities []domain.Entity) index.EntityResult
	IndexEdges(ctx context.Context, edges []domain.Edge) index.EdgeResult
	IndexDocumentText(ctx context.Context, documentID, markdown, filename string, entities []domain.Entity, totalPages int) index.TextResult
}

type riskDetector interface {
	Detect(ctx context.Context, graphID, documentID string, entities []domain.Entity, edges []domain.Edge) ([]domain.Risk, error)
	Subgraph(ctx context.Context, risk domain.Risk, entities []domain.Entity, edges []domain.Edge) domain.Subgraph
}

type graphPurger interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Coordinator wires the five stage components together over the shared
// Store, enforcing the document status lattice (engine/domain.CanAdvance)
// on every transition.
type Coordinator struct {
	ingestor   ingester
	extractor  extractor
	normalizer normalizer
	indexer    indexer
	graph      graphPurger
	risk       riskDetector
	store      *state.Store
	log        *slog.Logger
}

// New creates a Coordinator. graph may be nil when no graph store is
// configured; supersession then only purges in-memory state.
func New(ingestor ingester, extractor extractor, normalizer normalizer, indexer indexer, graphStore graphPurger, riskDetector riskDetector, store *state.Store, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		ingestor: ingestor, extractor: extractor, normalizer: normalizer,
		indexer: indexer, graph: graphStore, risk: riskDetector,
		store: store, log: log,
	}
}

// Ingest writes the uploaded blob and records a new Document with
// status=uploaded. It is the pipeline's entry point; there is no prior
// document id to resume from.
func (c *Coordinator) Ingest(filename string, mediaType domain.MediaType, size int64, r io.Reader) (domain.Document, error) {
	doc, err := c.ingestor.Ingest(filename, mediaType, size, r)
	if err != nil {
		return domain.Document{}, err
	}
	c.store.PutDocument(doc)
	return doc, nil
}

// Extract runs the Extraction Orchestrator for documentID. If the
// document is already extracted (or further along), it returns the
// cached extraction without issuing a new remote call, per the
// round-trip property every stage must hold.
func (c *Coordinator) Extract(ctx context.Context, documentID string) (domain.Document, error) {
	doc, ok := c.store.GetDocument(documentID)
	if !ok {
		return domain.Document{}, fmt.Errorf("pipeline: unknown document %q", documentID)
	}
	if domain.AtLeast(doc.Status, domain.StatusExtracted) && doc.Extraction != nil {
		return doc, nil
	}

	doc = c.advance(doc, domain.StatusExtracting)

	extraction, err := c.extractor.Run(ctx, doc)
	if err != nil {
		return c.fail(doc, fmt.Errorf("pipeline: extract: %w", err)), err
	}

	doc.Extraction = &extraction
	doc.ExtractionID = extraction.ExtractionID
	doc.PageCount = extraction.TotalPages
	doc.Confidence = extraction.Confidence
	doc = c.advance(doc, domain.StatusExtracted)
	return doc, nil
}

// Normalize runs the Normalizer cascade and the Relationship Detector
// for documentID, superseding any prior graph for the same document
// (purging its entities, edges, and risks) before installing the new
// one, per the ownership/supersession rule: a normalized document has
// exactly one current graph.
func (c *Coordinator) Normalize(ctx context.Context, documentID string) (domain.Document, error) {
	doc, ok := c.store.GetDocument(documentID)
	if !ok {
		return domain.Document{}, fmt.Errorf("pipeline: unknown document %q", documentID)
	}
	if doc.Extraction == nil {
		return doc, fmt.Errorf("pipeline: document %q has not been extracted", documentID)
	}

	doc = c.advance(doc, domain.StatusNormalizing)

	c.supersede(documentID)

	result, err := c.normalizer.Normalize(ctx, doc, *doc.Extraction)
	if err != nil {
		return c.fail(doc, fmt.Errorf("pipeline: normalize: %w", err)), err
	}

	c.store.PutGraph(state.Graph{ID: result.GraphID, DocumentID: documentID, Entities: result.Entities, Edges: result.Edges})
	c.store.PutEntities(result.Entities)

	doc.GraphID = result.GraphID
	doc.EntityCount = len(result.Entities)
	doc.EdgeCount = len(result.Edges)
	doc = c.advance(doc, domain.StatusNormalized)
	return doc, nil
}

// supersede purges every prior graph, its entities, and its risks for a
// document, both from in-memory state and the graph store, ahead of a
// fresh Normalize run.
func (c *Coordinator) supersede(documentID string) {
	for _, g := range c.store.GraphsByDocument(documentID) {
		c.store.DeleteRisksByGraph(g.ID)
		c.store.DeleteGraph(g.ID)
	}
	c.store.DeleteEntitiesByDocument(documentID)
	if c.graph != nil {
		if err := c.graph.DeleteByDocument(context.Background(), documentID); err != nil {
			c.log.Warn("pipeline: superseding graph store entries failed", "document_id", documentID, "err", err)
		}
	}
}

// Index pushes the current graph's entities, edges, and document text
// into the vector and graph stores. The indexer degrades each of these
// to a zero count on its own when a backing store is unavailable, so
// Index never fails the pipeline.
func (c *Coordinator) Index(ctx context.Context, documentID string) (domain.Document, error) {
	doc, ok := c.store.GetDocument(documentID)
	if !ok {
		return domain.Document{}, fmt.Errorf("pipeline: unknown document %q", documentID)
	}
	if doc.GraphID == "" {
		return doc, fmt.Errorf("pipeline: document %q has not been normalized", documentID)
	}

	g, ok := c.store.GetGraph(doc.GraphID)
	if !ok {
		return doc, fmt.Errorf("pipeline: graph %q not found", doc.GraphID)
	}

	doc = c.advance(doc, domain.StatusIndexing)

	c.indexer.IndexEntities(ctx, g.Entities)
	c.indexer.IndexEdges(ctx, g.Edges)
	markdown := ""
	if doc.Extraction != nil {
		markdown = doc.Extraction.Markdown
	}
	c.indexer.IndexDocumentText(ctx, documentID, markdown, doc.Filename, g.Entities, doc.PageCount)

	doc = c.advance(doc, domain.StatusIndexed)
	return doc, nil
}

// DetectRisks runs the rule pass, LLM anomaly pass, and missing-covenant
// heuristic over the document's current graph, synthesizes each risk's
// subgraph, and stores the results, superseding any risks left over
// from a prior run against the same graph.
func (c *Coordinator) DetectRisks(ctx context.Context, documentID string) ([]domain.Risk, error) {
	doc, ok := c.store.GetDocument(documentID)
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown document %q", documentID)
	}
	if doc.GraphID == "" {
		return nil, fmt.Errorf("pipeline: document %q has not been normalized", documentID)
	}
	g, ok := c.store.GetGraph(doc.GraphID)
	if !ok {
		return nil, fmt.Errorf("pipeline: graph %q not found", doc.GraphID)
	}

	c.store.DeleteRisksByGraph(doc.GraphID)

	risks, err := c.risk.Detect(ctx, doc.GraphID, documentID, g.Entities, g.Edges)
	if err != nil {
		return nil, fmt.Errorf("pipeline: detect risks: %w", err)
	}

	for i := range risks {
		sub := c.risk.Subgraph(ctx, risks[i], g.Entities, g.Edges)
		risks[i].GraphData = &sub
	}

	c.store.PutRisks(risks)
	return risks, nil
}

// advance moves doc to the given status (enforcing the lattice via
// domain.CanAdvance; a non-monotonic request leaves status unchanged
// but still persists any other field changes the caller already made),
// stamps UpdatedAt, and persists it.
func (c *Coordinator) advance(doc domain.Document, to domain.DocStatus) domain.Document {
	if domain.CanAdvance(doc.Status, to) {
		doc.Status = to
	}
	doc.UpdatedAt = currentTime()
	c.store.PutDocument(doc)
	return doc
}

// fail records a stage failure: status becomes failed with an error
// message, leaving the prior terminal artifact (extraction/graph) in
// place so retry can resume from it.
func (c *Coordinator) fail(doc domain.Document, err error) domain.Document {
	doc.Status = domain.StatusFailed
	doc.Error = err.Error()
	doc.UpdatedAt = currentTime()
	c.store.PutDocument(doc)
	return doc
}

// Retry restores a failed document to the terminal status implied by
// its already-populated artifacts (graph present means prior-normalized,
// extraction present means prior-extracted, else prior-uploaded) and
// clears the error, so the next call to the corresponding stage re-runs
// instead of short-circuiting on a stale failed status. domain.Document
// carries no dedicated status-history field, so the prior terminal
// status is inferred rather than looked up.
func (c *Coordinator) Retry(documentID string) (domain.Document, error) {
	doc, ok := c.store.GetDocument(documentID)
	if !ok {
		return domain.Document{}, fmt.Errorf("pipeline: unknown document %q", documentID)
	}
	if doc.Status != domain.StatusFailed {
		return doc, nil
	}
	doc.Status = priorTerminalStatus(doc)
	doc.Error = ""
	doc.UpdatedAt = currentTime()
	c.store.PutDocument(doc)
	return doc, nil
}

func priorTerminalStatus(doc domain.Document) domain.DocStatus {
	switch {
	case doc.GraphID != "":
		return domain.StatusNormalized
	case doc.Extraction != nil:
		return domain.StatusExtracted
	default:
		return domain.StatusUploaded
	}
}

var currentTime = func() time.Time { return time.Now().UTC() }
