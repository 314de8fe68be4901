package main

import (
	"net/http"
	"strconv"

	"github.com/finkg-labs/finkg/engine/domain"
)

type graphResponse struct {
	GraphID  string          `json:"graph_id"`
	Entities []domain.Entity `json:"entities"`
	Edges    []domain.Edge   `json:"edges"`
}

func (s *server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g, ok := s.store.GetGraph(id)
	if !ok {
		jsonError(w, http.StatusNotFound, "graph not found")
		return
	}
	writeJSON(w, graphResponse{GraphID: g.ID, Entities: g.Entities, Edges: g.Edges})
}

type graphQueryRequest struct {
	GraphID          string            `json:"graph_id"`
	EntityType       domain.EntityType `json:"entity_type"`
	NodeID           string            `json:"node_id"`
	Depth            int               `json:"depth"`
	FromID           string            `json:"from_id"`
	ToID             string            `json:"to_id"`
	MinRelationships int               `json:"min_relationships"`
	Mode             string            `json:"mode"`
}

// handleGraphQuery dispatches to one of the graph store's read patterns
// per the "mode" field: by_type, neighbors, trace_path, or pattern_match.
func (s *server) handleGraphQuery(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		writeJSON(w, map[string]any{"entities": []domain.Entity{}, "message": "graph store unavailable"})
		return
	}
	var req graphQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		entities []domain.Entity
		err      error
	)
	switch req.Mode {
	case "neighbors":
		depth := req.Depth
		if depth <= 0 {
			depth = 1
		}
		entities, err = s.graph.Neighbors(r.Context(), req.NodeID, depth)
	case "trace_path":
		entities, err = s.graph.TracePath(r.Context(), req.FromID, req.ToID)
	case "pattern_match":
		entities, err = s.graph.PatternMatch(r.Context(), req.GraphID, req.MinRelationships)
	default:
		if req.GraphID != "" {
			entities, err = s.graph.FindByType(r.Context(), req.GraphID, req.EntityType)
		} else {
			entities, err = s.graph.FindByTypeAny(r.Context(), req.EntityType)
		}
	}
	if err != nil {
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{"entities": entities, "count": len(entities)})
}

func (s *server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		writeJSON(w, []domain.Entity{})
		return
	}
	entityType := domain.EntityType(r.URL.Query().Get("type"))
	entities, err := s.graph.FindByTypeAny(r.Context(), entityType)
	if err != nil {
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, entities)
}

func (s *server) handleEntitiesByGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.EntitiesByGraph(r.PathValue("id")))
}

func (s *server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if e, ok := s.store.GetEntity(id); ok {
		writeJSON(w, e)
		return
	}
	if s.graph != nil {
		e, err := s.graph.GetEntity(r.Context(), id)
		if err == nil {
			writeJSON(w, e)
			return
		}
	}
	jsonError(w, http.StatusNotFound, "entity not found")
}

func (s *server) handleSearchEntities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		jsonError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if s.indexer == nil {
		writeJSON(w, []any{})
		return
	}
	hits, err := s.indexer.SearchEntities(r.Context(), query, limit)
	if err != nil {
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, hits)
}

func (s *server) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	edges := make([]domain.Edge, 0)
	for _, doc := range s.store.ListDocuments() {
		if doc.GraphID == "" {
			continue
		}
		if g, ok := s.store.GetGraph(doc.GraphID); ok {
			edges = append(edges, g.Edges...)
		}
	}
	writeJSON(w, edges)
}

func (s *server) handleRelationshipsByGraph(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g, ok := s.store.GetGraph(id)
	if !ok {
		jsonError(w, http.StatusNotFound, "graph not found")
		return
	}
	writeJSON(w, g.Edges)
}
