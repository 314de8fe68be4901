package main

import (
	"net/http"
	"time"

	"github.com/finkg-labs/finkg/engine/chatagent"
	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/pkg/sse"
)

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.ListSessions())
}

type createSessionRequest struct {
	Name        string   `json:"name"`
	DocumentIDs []string `json:"document_ids"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := time.Now().UTC()
	session := domain.ChatSession{
		ID:          newID("session"),
		Name:        req.Name,
		DocumentIDs: req.DocumentIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.store.PutSession(session)
	writeJSON(w, session)
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok := s.store.GetSession(id)
	if !ok {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, session)
}

type updateSessionRequest struct {
	Name string `json:"name"`
}

func (s *server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok := s.store.GetSession(id)
	if !ok {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name != "" {
		session.Name = req.Name
	}
	session.UpdatedAt = time.Now().UTC()
	s.store.PutSession(session)
	writeJSON(w, session)
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.store.DeleteMessagesBySession(id)
	s.store.DeleteSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, s.store.MessagesBySession(id))
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// handlePostMessage appends a user turn to the session's transcript and
// runs the chat agent synchronously, appending its answer as the
// assistant turn. Streaming turns go through /ask instead.
func (s *server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, ok := s.store.GetSession(sessionID)
	if !ok {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	userMsg := domain.ChatMessage{ID: newID("msg"), SessionID: sessionID, Role: domain.RoleUser, Content: req.Content, CreatedAt: now}
	s.store.PutMessage(userMsg)

	var answer string
	var graphData *domain.Subgraph
	err := s.agent.Chat(r.Context(), req.Content, s.chatContext(session), func(frame sse.ChatFrame) {
		answer += frame.Content
	})
	if err != nil {
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}

	assistantMsg := domain.ChatMessage{
		ID:        newID("msg"),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   answer,
		GraphData: graphData,
		CreatedAt: time.Now().UTC(),
	}
	s.store.PutMessage(assistantMsg)

	session.MessageCount += 2
	session.UpdatedAt = assistantMsg.CreatedAt
	s.store.PutSession(session)

	writeJSON(w, assistantMsg)
}

func (s *server) handleAddSessionDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	docID := r.PathValue("doc_id")
	session, ok := s.store.GetSession(id)
	if !ok {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	for _, existing := range session.DocumentIDs {
		if existing == docID {
			writeJSON(w, session)
			return
		}
	}
	session.DocumentIDs = append(session.DocumentIDs, docID)
	session.UpdatedAt = time.Now().UTC()
	s.store.PutSession(session)
	writeJSON(w, session)
}

func (s *server) handleRemoveSessionDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	docID := r.PathValue("doc_id")
	session, ok := s.store.GetSession(id)
	if !ok {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	kept := session.DocumentIDs[:0]
	for _, existing := range session.DocumentIDs {
		if existing != docID {
			kept = append(kept, existing)
		}
	}
	session.DocumentIDs = kept
	session.UpdatedAt = time.Now().UTC()
	s.store.PutSession(session)
	writeJSON(w, session)
}

// chatContext resolves a session's scoped documents and entities into a
// chatagent.Context, pulling entities from the local snapshot for each
// distinct graph the session's documents belong to.
func (s *server) chatContext(session domain.ChatSession) chatagent.Context {
	ctx := chatagent.Context{DocumentIDs: session.DocumentIDs}
	for _, docID := range session.DocumentIDs {
		doc, ok := s.store.GetDocument(docID)
		if !ok || doc.GraphID == "" {
			continue
		}
		if ctx.GraphID == "" {
			ctx.GraphID = doc.GraphID
		}
		ctx.Entities = append(ctx.Entities, s.store.EntitiesByGraph(doc.GraphID)...)
	}
	if len(session.DocumentIDs) == 1 {
		ctx.DocumentID = session.DocumentIDs[0]
	}
	return ctx
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleAsk streams the chat agent's answer as SSE chunks. The full
// answer is also persisted to the session's transcript once streaming
// completes.
func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == "" {
		jsonError(w, http.StatusBadRequest, "message is required")
		return
	}

	var chatCtx chatagent.Context
	session, hasSession := s.store.GetSession(req.SessionID)
	if hasSession {
		chatCtx = s.chatContext(session)
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if hasSession {
		s.store.PutMessage(domain.ChatMessage{
			ID: newID("msg"), SessionID: session.ID, Role: domain.RoleUser,
			Content: req.Message, CreatedAt: time.Now().UTC(),
		})
	}

	var answer string
	chatErr := s.agent.Chat(r.Context(), req.Message, chatCtx, func(frame sse.ChatFrame) {
		answer += frame.Content
		_ = writer.Send(frame)
	})
	if chatErr != nil {
		s.log.Warn("chat turn failed", "session_id", req.SessionID, "err", chatErr)
		return
	}

	if hasSession {
		now := time.Now().UTC()
		s.store.PutMessage(domain.ChatMessage{
			ID: newID("msg"), SessionID: session.ID, Role: domain.RoleAssistant,
			Content: answer, CreatedAt: now,
		})
		session.MessageCount += 2
		session.UpdatedAt = now
		s.store.PutSession(session)
	}
}
