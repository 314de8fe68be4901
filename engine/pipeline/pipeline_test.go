package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/index"
	"github.com/finkg-labs/finkg/engine/normalize"
	"github.com/finkg-labs/finkg/engine/state"
)

type fakeIngestor struct {
	doc domain.Document
	err error
}

func (f *fakeIngestor) Ingest(filename string, mediaType domain.MediaType, size int64, r io.Reader) (domain.Document, error) {
	return f.doc, f.err
}

type fakeExtractor struct {
	extraction domain.Extraction
	err        error
	calls      int
}

func (f *fakeExtractor) Run(ctx context.Context, doc domain.Document) (domain.Extraction, error) {
	f.calls++
	return f.extraction, f.err
}

type fakeNormalizer struct {
	result normalize.Result
	err    error
	calls  int
}

func (f *fakeNormalizer) Normalize(ctx context.Context, doc domain.Document, extraction domain.Extraction) (normalize.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeIndexer struct{}

func (f *fakeIndexer) IndexEntities(ctx context.Context, entities []domain.Entity) index.EntityResult {
	return index.EntityResult{VectorCount: len(entities)}
}
func (f *fakeIndexer) IndexEdges(ctx context.Context, edges []domain.Edge) index.EdgeResult {
	return index.EdgeResult{GraphCount: len(edges)}
}
func (f *fakeIndexer) IndexDocumentText(ctx context.Context, documentID, markdown, filename string, entities []domain.Entity, totalPages int) index.TextResult {
	return index.TextResult{}
}

type fakeRisk struct {
	risks []domain.Risk
	err   error
}

func (f *fakeRisk) Detect(ctx context.Context, graphID, documentID string, entities []domain.Entity, edges []domain.Edge) ([]domain.Risk, error) {
	return f.risks, f.err
}
func (f *fakeRisk) Subgraph(ctx context.Context, risk domain.Risk, entities []domain.Entity, edges []domain.Edge) domain.Subgraph {
	return domain.Subgraph{}
}

type fakeGraphPurger struct {
	deletedFor string
	err        error
}

func (f *fakeGraphPurger) DeleteByDocument(ctx context.Context, documentID string) error {
	f.deletedFor = documentID
	return f.err
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	dir := t.TempDir()
	return state.New(dir, nil)
}

func TestExtractIsIdempotentOnAlreadyExtractedDocument(t *testing.T) {
	store := newTestStore(t)
	doc := domain.Document{ID: "doc1", Status: domain.StatusExtracted, Extraction: &domain.Extraction{ExtractionID: "x1"}}
	store.PutDocument(doc)

	ext := &fakeExtractor{}
	c := New(nil, ext, nil, nil, nil, nil, store, nil)

	got, err := c.Extract(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.calls != 0 {
		t.Fatalf("expected no extractor call on already-extracted document, got %d calls", ext.calls)
	}
	if got.Status != domain.StatusExtracted {
		t.Fatalf("expected status to remain extracted, got %s", got.Status)
	}
}

func TestExtractAdvancesStatusAndPersistsExtraction(t *testing.T) {
	store := newTestStore(t)
	store.PutDocument(domain.Document{ID: "doc1", Status: domain.StatusUploaded})

	ext := &fakeExtractor{extraction: domain.Extraction{ExtractionID: "x1", TotalPages: 3, Confidence: 0.9}}
	c := New(nil, ext, nil, nil, nil, nil, store, nil)

	got, err := c.Extract(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusExtracted {
		t.Fatalf("expected status extracted, got %s", got.Status)
	}
	if got.ExtractionID != "x1" || got.PageCount != 3 {
		t.Fatalf("unexpected document state: %+v", got)
	}
	if ext.calls != 1 {
		t.Fatalf("expected exactly one extractor call, got %d", ext.calls)
	}
}

func TestExtractFailureSetsStatusFailedAndKeepsError(t *testing.T) {
	store := newTestStore(t)
	store.PutDocument(domain.Document{ID: "doc1", Status: domain.StatusUploaded})

	ext := &fakeExtractor{err: errors.New("remote timeout")}
	c := New(nil, ext, nil, nil, nil, nil, store, nil)

	_, err := c.Extract(context.Background(), "doc1")
	if err == nil {
		t.Fatal("expected error")
	}
	doc, _ := store.GetDocument("doc1")
	if doc.Status != domain.StatusFailed {
		t.Fatalf("expected status failed, got %s", doc.Status)
	}
	if doc.Error == "" {
		t.Fatal("expected error message to be recorded")
	}
}

func TestNormalizeSupersedesPriorGraphEntitiesAndRisks(t *testing.T) {
	store := newTestStore(t)
	store.PutGraph(state.Graph{ID: "graph_old", DocumentID: "doc1", Entities: []domain.Entity{{ID: "e_old"}}})
	store.PutEntity(domain.Entity{ID: "e_old"})
	store.PutRisk(domain.Risk{ID: "r_old", GraphID: "graph_old"})
	store.PutDocument(domain.Document{
		ID: "doc1", Status: domain.StatusExtracted, GraphID: "graph_old",
		Extraction: &domain.Extraction{ExtractionID: "x1"},
	})

	norm := &fakeNormalizer{result: normalize.Result{
		GraphID:  "graph_new",
		Entities: []domain.Entity{{ID: "e_new", Type: domain.EntityCompany}},
	}}
	purger := &fakeGraphPurger{}
	c := New(nil, nil, norm, nil, purger, nil, store, nil)

	got, err := c.Normalize(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.GraphID != "graph_new" {
		t.Fatalf("expected new graph id, got %s", got.GraphID)
	}
	if _, ok := store.GetGraph("graph_old"); ok {
		t.Fatal("expected prior graph to be purged")
	}
	if _, ok := store.GetEntity("e_old"); ok {
		t.Fatal("expected prior entity to be purged")
	}
	if len(store.RisksByGraph("graph_old")) != 0 {
		t.Fatal("expected prior risks to be purged")
	}
	if purger.deletedFor != "doc1" {
		t.Fatalf("expected graph store purge for doc1, got %q", purger.deletedFor)
	}
	if got.Status != domain.StatusNormalized {
		t.Fatalf("expected status normalized, got %s", got.Status)
	}
}

func TestIndexDegradesWithoutError(t *testing.T) {
	store := newTestStore(t)
	store.PutGraph(state.Graph{ID: "graph1", DocumentID: "doc1", Entities: []domain.Entity{{ID: "e1"}}})
	store.PutDocument(domain.Document{ID: "doc1", Status: domain.StatusNormalized, GraphID: "graph1"})

	c := New(nil, nil, nil, &fakeIndexer{}, nil, nil, store, nil)

	got, err := c.Index(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusIndexed {
		t.Fatalf("expected status indexed, got %s", got.Status)
	}
}

func TestDetectRisksStoresSynthesizedSubgraphs(t *testing.T) {
	store := newTestStore(t)
	store.PutGraph(state.Graph{ID: "graph1", DocumentID: "doc1", Entities: []domain.Entity{{ID: "e1"}}})
	store.PutDocument(domain.Document{ID: "doc1", Status: domain.StatusIndexed, GraphID: "graph1"})

	rd := &fakeRisk{risks: []domain.Risk{{ID: "r1", GraphID: "graph1"}}}
	c := New(nil, nil, nil, nil, nil, rd, store, nil)

	got, err := c.DetectRisks(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].GraphData == nil {
		t.Fatalf("expected one risk with a synthesized subgraph, got %+v", got)
	}
	stored := store.RisksByGraph("graph1")
	if len(stored) != 1 {
		t.Fatalf("expected risk persisted in store, got %d", len(stored))
	}
}

func TestRetryInfersPriorTerminalStatusFromPopulatedFields(t *testing.T) {
	store := newTestStore(t)
	store.PutDocument(domain.Document{ID: "doc1", Status: domain.StatusFailed, GraphID: "graph1", Error: "normalize: boom"})
	c := New(nil, nil, nil, nil, nil, nil, store, nil)

	got, err := c.Retry("doc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusNormalized {
		t.Fatalf("expected retry to restore normalized status, got %s", got.Status)
	}
	if got.Error != "" {
		t.Fatalf("expected error to be cleared, got %q", got.Error)
	}
}

func TestRetryFallsBackToUploadedWithNoArtifacts(t *testing.T) {
	store := newTestStore(t)
	store.PutDocument(domain.Document{ID: "doc1", Status: domain.StatusFailed, Error: "extract: boom"})
	c := New(nil, nil, nil, nil, nil, nil, store, nil)

	got, err := c.Retry("doc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusUploaded {
		t.Fatalf("expected retry to restore uploaded status, got %s", got.Status)
	}
}

func TestRetryIsNoOpOnNonFailedDocument(t *testing.T) {
	store := newTestStore(t)
	store.PutDocument(domain.Document{ID: "doc1", Status: domain.StatusExtracted})
	c := New(nil, nil, nil, nil, nil, nil, store, nil)

	got, err := c.Retry("doc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusExtracted {
		t.Fatalf("expected status unchanged, got %s", got.Status)
	}
}
