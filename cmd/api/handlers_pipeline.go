package main

import (
	"net/http"
)

func (s *server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("document_id")
	if documentID == "" {
		jsonError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	doc, err := s.coord.Normalize(r.Context(), documentID)
	if err != nil {
		jsonError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, doc)
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	graphID := r.URL.Query().Get("graph_id")
	if graphID == "" {
		jsonError(w, http.StatusBadRequest, "graph_id is required")
		return
	}
	g, ok := s.store.GetGraph(graphID)
	if !ok {
		jsonError(w, http.StatusNotFound, "graph not found")
		return
	}
	doc, err := s.coord.Index(r.Context(), g.DocumentID)
	if err != nil {
		jsonError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, doc)
}

func (s *server) handleDetectRisks(w http.ResponseWriter, r *http.Request) {
	graphID := r.URL.Query().Get("graph_id")
	if graphID == "" {
		jsonError(w, http.StatusBadRequest, "graph_id is required")
		return
	}
	s.detectRisksForGraph(w, r, graphID)
}

func (s *server) handleDetectRisksByGraph(w http.ResponseWriter, r *http.Request) {
	s.detectRisksForGraph(w, r, r.PathValue("graph_id"))
}

func (s *server) detectRisksForGraph(w http.ResponseWriter, r *http.Request, graphID string) {
	g, ok := s.store.GetGraph(graphID)
	if !ok {
		jsonError(w, http.StatusNotFound, "graph not found")
		return
	}
	risks, err := s.coord.DetectRisks(r.Context(), g.DocumentID)
	if err != nil {
		jsonError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, map[string]any{"risks": risks, "count": len(risks)})
}

func (s *server) handleListRisks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.ListRisks())
}

func (s *server) handleRisksByGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.RisksByGraph(r.PathValue("id")))
}

func (s *server) handleRisksByDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.RisksByDocument(r.PathValue("id")))
}

func (s *server) handleRiskSubgraph(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	risk, ok := s.store.GetRisk(id)
	if !ok {
		jsonError(w, http.StatusNotFound, "risk not found")
		return
	}
	if risk.GraphData == nil {
		writeJSON(w, map[string]any{"entities": []any{}, "edges": []any{}})
		return
	}
	writeJSON(w, risk.GraphData)
}
