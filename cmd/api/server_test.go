package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/finkg-labs/finkg/engine/chatagent"
	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/index"
	"github.com/finkg-labs/finkg/engine/ingest"
	"github.com/finkg-labs/finkg/engine/llmclient"
	"github.com/finkg-labs/finkg/engine/normalize"
	"github.com/finkg-labs/finkg/engine/pipeline"
	"github.com/finkg-labs/finkg/engine/state"
)

// fakeExtractor satisfies pipeline's unexported extractor interface
// structurally; it never calls the ADE API.
type fakeExtractor struct{}

func (fakeExtractor) Run(ctx context.Context, doc domain.Document) (domain.Extraction, error) {
	return domain.Extraction{
		ExtractionID: "ext-1",
		Markdown:     "# fixture",
		TotalPages:   1,
		StructuredExtraction: &domain.StructuredRecord{
			Entities: []domain.RawEntity{{Name: "Acme Corp", Type: string(domain.EntityCompany)}},
		},
	}, nil
}

// fakeNormalizer satisfies pipeline's unexported normalizer interface.
type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(ctx context.Context, doc domain.Document, extraction domain.Extraction) (normalize.Result, error) {
	return normalize.Result{
		GraphID:  "graph-1",
		Entities: []domain.Entity{{ID: "e1", Name: "Acme Corp", Type: domain.EntityCompany}},
	}, nil
}

// fakeRiskDetector satisfies pipeline's unexported riskDetector interface.
type fakeRiskDetector struct{}

func (fakeRiskDetector) Detect(ctx context.Context, graphID, documentID string, entities []domain.Entity, edges []domain.Edge) ([]domain.Risk, error) {
	return nil, nil
}

func (fakeRiskDetector) Subgraph(ctx context.Context, risk domain.Risk, entities []domain.Entity, edges []domain.Edge) domain.Subgraph {
	return domain.Subgraph{}
}

// fakeCompleter satisfies chatagent's unexported completer interface.
type fakeCompleter struct {
	text string
}

func (f fakeCompleter) Complete(ctx context.Context, system string, messages []llmclient.Message, tools []llmclient.ToolDef) (*llmclient.Response, error) {
	return &llmclient.Response{Text: f.text}, nil
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := state.New(t.TempDir(), log)

	ingestor := ingest.New(ingest.Config{UploadDir: t.TempDir()}, log)
	indexer := index.New(nil, nil, nil, nil, log)
	coord := pipeline.New(ingestor, fakeExtractor{}, fakeNormalizer{}, indexer, nil, fakeRiskDetector{}, store, log)
	agent := chatagent.New(fakeCompleter{text: "hello from the fixture assistant"}, nil, nil, nil, log)

	return &server{
		cfg:     Config{AppVersion: "test"},
		store:   store,
		coord:   coord,
		indexer: indexer,
		agent:   agent,
		log:     log,
	}
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	newTestServer(t).routes(mux)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	mux := newTestMux(t)
	rec := doRequest(t, mux, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", resp["status"])
	}
	if resp["graph_store"] != "disabled" {
		t.Fatalf("expected graph_store disabled when graph is nil, got %v", resp["graph_store"])
	}
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestIngestListGetDeleteDocumentLifecycle(t *testing.T) {
	mux := newTestMux(t)

	body, contentType := multipartUpload(t, "report.pdf", "%PDF-1.4 fixture")
	req := httptest.NewRequest("POST", "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from ingest, got %d: %s", rec.Code, rec.Body.String())
	}
	var doc domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("expected a document id")
	}
	if doc.Status != domain.StatusUploaded {
		t.Fatalf("expected status uploaded, got %s", doc.Status)
	}

	rec = doRequest(t, mux, "GET", "/documents", nil)
	var docs []domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	rec = doRequest(t, mux, "GET", "/documents/"+doc.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from get, got %d", rec.Code)
	}

	rec = doRequest(t, mux, "DELETE", "/documents/"+doc.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from delete, got %d", rec.Code)
	}

	rec = doRequest(t, mux, "GET", "/documents/"+doc.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestExtractNormalizeIndexPipeline(t *testing.T) {
	mux := newTestMux(t)

	body, contentType := multipartUpload(t, "report.pdf", "%PDF-1.4 fixture")
	req := httptest.NewRequest("POST", "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var doc domain.Document
	json.Unmarshal(rec.Body.Bytes(), &doc)

	rec = doRequest(t, mux, "POST", "/extract?document_id="+doc.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from extract, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, "POST", "/normalize?document_id="+doc.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from normalize, got %d: %s", rec.Code, rec.Body.String())
	}
	var normalized domain.Document
	json.Unmarshal(rec.Body.Bytes(), &normalized)
	if normalized.GraphID == "" {
		t.Fatal("expected a graph id after normalize")
	}

	rec = doRequest(t, mux, "POST", "/index?graph_id="+normalized.GraphID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from index, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChatSessionLifecycle(t *testing.T) {
	mux := newTestMux(t)

	rec := doRequest(t, mux, "POST", "/chat/sessions", bytes.NewBufferString(`{"name":"Q1 review"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 creating session, got %d: %s", rec.Code, rec.Body.String())
	}
	var session domain.ChatSession
	json.Unmarshal(rec.Body.Bytes(), &session)
	if session.ID == "" {
		t.Fatal("expected a session id")
	}

	rec = doRequest(t, mux, "POST", "/chat/sessions/"+session.ID+"/messages", bytes.NewBufferString(`{"content":"what is the debt to equity ratio?"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 posting message, got %d: %s", rec.Code, rec.Body.String())
	}
	var reply domain.ChatMessage
	json.Unmarshal(rec.Body.Bytes(), &reply)
	if reply.Content != "hello from the fixture assistant" {
		t.Fatalf("expected fixture assistant reply, got %q", reply.Content)
	}

	rec = doRequest(t, mux, "GET", "/chat/sessions/"+session.ID+"/messages", nil)
	var messages []domain.ChatMessage
	json.Unmarshal(rec.Body.Bytes(), &messages)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages (user + assistant), got %d", len(messages))
	}
}

func TestAnalyticsDashboardDegradesWithoutGraphStore(t *testing.T) {
	mux := newTestMux(t)
	rec := doRequest(t, mux, "GET", "/analytics/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if _, present := resp["node_counts"]; present {
		t.Fatal("expected node_counts to be absent when graph store is disabled")
	}
}

func TestRiskEndpointsWithNoRisksReturnEmptyLists(t *testing.T) {
	mux := newTestMux(t)
	rec := doRequest(t, mux, "GET", "/risks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var risks []domain.Risk
	json.Unmarshal(rec.Body.Bytes(), &risks)
	if len(risks) != 0 {
		t.Fatalf("expected no risks, got %d", len(risks))
	}
}
