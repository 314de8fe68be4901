package main

import (
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"

	"github.com/finkg-labs/finkg/engine/analytics"
	"github.com/finkg-labs/finkg/engine/chatagent"
	"github.com/finkg-labs/finkg/engine/graph"
	"github.com/finkg-labs/finkg/engine/index"
	"github.com/finkg-labs/finkg/engine/pipeline"
	"github.com/finkg-labs/finkg/engine/risk"
	"github.com/finkg-labs/finkg/engine/state"
)

// server bundles everything an HTTP handler needs: the shared state
// store, the pipeline coordinator, and the read-side components
// (graph store, indexer, analytics engine, risk detector, chat agent).
type server struct {
	cfg       Config
	store     *state.Store
	coord     *pipeline.Coordinator
	graph     *graph.GraphStore
	indexer   *index.Indexer
	analytics *analytics.Engine
	risk      *risk.Detector
	agent     *chatagent.Agent
	nc        *nats.Conn
	log       *slog.Logger
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("GET /documents/{id}/pdf", s.handleDocumentBlob)

	mux.HandleFunc("POST /extract", s.handleExtract)
	mux.HandleFunc("GET /extract/status", s.handleExtractStatus)
	mux.HandleFunc("GET /extract/stream", s.handleExtractStream)
	mux.HandleFunc("GET /extract/jobs", s.handleListJobs)
	mux.HandleFunc("GET /extract/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /extract/jobs/{id}/result", s.handleJobResult)

	mux.HandleFunc("POST /normalize", s.handleNormalize)
	mux.HandleFunc("POST /index", s.handleIndex)

	mux.HandleFunc("POST /risk", s.handleDetectRisks)
	mux.HandleFunc("GET /risks", s.handleListRisks)
	mux.HandleFunc("GET /risks/document/{id}", s.handleRisksByDocument)
	mux.HandleFunc("POST /risks/analyze/{graph_id}", s.handleDetectRisksByGraph)
	// /risks/graph/{id} and /risks/{id}/graph overlap, which ServeMux
	// rejects at registration, so one pattern serves both.
	mux.HandleFunc("GET /risks/{first}/{second}", func(w http.ResponseWriter, r *http.Request) {
		switch first, second := r.PathValue("first"), r.PathValue("second"); {
		case first == "graph":
			r.SetPathValue("id", second)
			s.handleRisksByGraph(w, r)
		case second == "graph":
			r.SetPathValue("id", first)
			s.handleRiskSubgraph(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("GET /graph/{id}", s.handleGetGraph)
	mux.HandleFunc("POST /graph/query", s.handleGraphQuery)
	mux.HandleFunc("GET /entities", s.handleListEntities)
	mux.HandleFunc("GET /entities/graph/{id}", s.handleEntitiesByGraph)
	mux.HandleFunc("GET /entities/{id}", s.handleGetEntity)
	mux.HandleFunc("GET /entities/search", s.handleSearchEntities)
	mux.HandleFunc("GET /relationships", s.handleListRelationships)
	mux.HandleFunc("GET /relationships/graph/{id}", s.handleRelationshipsByGraph)

	mux.HandleFunc("GET /analytics/dashboard", s.handleAnalyticsDashboard)
	mux.HandleFunc("GET /analytics/risk-trends", s.handleRiskTrends)

	mux.HandleFunc("GET /chat/sessions", s.handleListSessions)
	mux.HandleFunc("POST /chat/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /chat/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /chat/sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("DELETE /chat/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /chat/sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /chat/sessions/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("PUT /chat/sessions/{id}/documents/{doc_id}", s.handleAddSessionDocument)
	mux.HandleFunc("DELETE /chat/sessions/{id}/documents/{doc_id}", s.handleRemoveSessionDocument)

	mux.HandleFunc("POST /ask", s.handleAsk)
}

// progressSubject is the per-document NATS subject progress updates are
// published to and subscribed from.
func progressSubject(documentID string) string {
	return "extract.progress." + documentID
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": s.cfg.AppVersion,
	}
	if s.graph != nil {
		if _, err := s.graph.NodeCounts(r.Context()); err != nil {
			status["graph_store"] = "unreachable"
		} else {
			status["graph_store"] = "connected"
		}
	} else {
		status["graph_store"] = "disabled"
	}
	switch {
	case s.nc == nil:
		status["message_bus"] = "disabled"
	case s.nc.IsConnected():
		status["message_bus"] = "connected"
	default:
		status["message_bus"] = "unreachable"
	}
	writeJSON(w, status)
}
