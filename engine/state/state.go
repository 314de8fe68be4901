// Package state holds the process's in-memory record of documents,
// graphs, entities, chat sessions, chat messages, risks, and extraction
// jobs, and persists all but the last of those as JSON snapshots so a
// restart can recover without replaying the graph and vector stores.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/finkg-labs/finkg/engine/domain"
)

const (
	documentsFile    = "documents.json"
	graphsFile       = "graphs.json"
	entitiesFile     = "entities.json"
	chatSessionsFile = "chat_sessions.json"
	chatMessagesFile = "chat_messages.json"
	risksFile        = "risks.json"
)

// Graph is the persisted shape of one document's subgraph: its entity and
// edge lists inlined, so a snapshot reload never depends on the graph
// store being reachable.
type Graph struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Entities   []domain.Entity `json:"entities"`
	Edges      []domain.Edge   `json:"edges"`
}

// Store is the single process-wide bundle of in-memory state. Each map
// is guarded by its own mutex; no critical section spans I/O.
type Store struct {
	dir string
	log *slog.Logger

	docsMu sync.RWMutex
	docs   map[string]domain.Document

	graphsMu sync.RWMutex
	graphs   map[string]Graph

	entitiesMu sync.RWMutex
	entities   map[string]domain.Entity

	sessionsMu sync.RWMutex
	sessions   map[string]domain.ChatSession

	messagesMu sync.RWMutex
	messages   map[string]domain.ChatMessage

	risksMu sync.RWMutex
	risks   map[string]domain.Risk

	jobsMu sync.RWMutex
	jobs   map[string]domain.Job

	progressMu sync.RWMutex
	progress   map[string]domain.Progress

	onProgress func(documentID string, p domain.Progress)
}

// New creates an empty Store rooted at dir for its JSON snapshots.
func New(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		dir:      dir,
		log:      log,
		docs:     make(map[string]domain.Document),
		graphs:   make(map[string]Graph),
		entities: make(map[string]domain.Entity),
		sessions: make(map[string]domain.ChatSession),
		messages: make(map[string]domain.ChatMessage),
		risks:    make(map[string]domain.Risk),
		jobs:     make(map[string]domain.Job),
		progress: make(map[string]domain.Progress),
	}
}

// --- Documents ---

func (s *Store) PutDocument(d domain.Document) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	s.docs[d.ID] = d
}

func (s *Store) GetDocument(id string) (domain.Document, bool) {
	s.docsMu.RLock()
	defer s.docsMu.RUnlock()
	d, ok := s.docs[id]
	return d, ok
}

func (s *Store) DeleteDocument(id string) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	delete(s.docs, id)
}

func (s *Store) ListDocuments() []domain.Document {
	s.docsMu.RLock()
	defer s.docsMu.RUnlock()
	out := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out
}

// PruneMissingBlobs drops documents whose file_path no longer exists on
// disk, so a reloaded snapshot never lists documents whose blobs were
// removed out-of-band.
func (s *Store) PruneMissingBlobs() (pruned []string) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	for id, d := range s.docs {
		if d.FilePath == "" {
			continue
		}
		if _, err := os.Stat(d.FilePath); os.IsNotExist(err) {
			delete(s.docs, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

// --- Graphs ---

func (s *Store) PutGraph(g Graph) {
	s.graphsMu.Lock()
	defer s.graphsMu.Unlock()
	s.graphs[g.ID] = g
}

func (s *Store) GetGraph(id string) (Graph, bool) {
	s.graphsMu.RLock()
	defer s.graphsMu.RUnlock()
	g, ok := s.graphs[id]
	return g, ok
}

// DeleteGraph removes a graph together with every entity it lists.
func (s *Store) DeleteGraph(id string) {
	s.graphsMu.Lock()
	g, ok := s.graphs[id]
	delete(s.graphs, id)
	s.graphsMu.Unlock()
	if !ok {
		return
	}
	s.entitiesMu.Lock()
	defer s.entitiesMu.Unlock()
	for _, e := range g.Entities {
		delete(s.entities, e.ID)
	}
}

// GraphsByDocument returns every graph ever produced for a document. Under
// the supersession rule (see engine/pipeline) there is normally at most
// one current graph, but prior ones may still be present until purged.
func (s *Store) GraphsByDocument(documentID string) []Graph {
	s.graphsMu.RLock()
	defer s.graphsMu.RUnlock()
	var out []Graph
	for _, g := range s.graphs {
		if g.DocumentID == documentID {
			out = append(out, g)
		}
	}
	return out
}

// --- Entities ---

func (s *Store) PutEntity(e domain.Entity) {
	s.entitiesMu.Lock()
	defer s.entitiesMu.Unlock()
	s.entities[e.ID] = e
}

func (s *Store) PutEntities(es []domain.Entity) {
	s.entitiesMu.Lock()
	defer s.entitiesMu.Unlock()
	for _, e := range es {
		s.entities[e.ID] = e
	}
}

func (s *Store) GetEntity(id string) (domain.Entity, bool) {
	s.entitiesMu.RLock()
	defer s.entitiesMu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

func (s *Store) EntitiesByGraph(graphID string) []domain.Entity {
	s.entitiesMu.RLock()
	defer s.entitiesMu.RUnlock()
	var out []domain.Entity
	for _, e := range s.entities {
		if e.GraphID == graphID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) DeleteEntitiesByDocument(documentID string) {
	s.entitiesMu.Lock()
	defer s.entitiesMu.Unlock()
	for id, e := range s.entities {
		if e.DocumentID == documentID {
			delete(s.entities, id)
		}
	}
}

// --- Chat sessions ---

func (s *Store) PutSession(cs domain.ChatSession) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[cs.ID] = cs
}

func (s *Store) GetSession(id string) (domain.ChatSession, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	cs, ok := s.sessions[id]
	return cs, ok
}

func (s *Store) DeleteSession(id string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) ListSessions() []domain.ChatSession {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	out := make([]domain.ChatSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		out = append(out, cs)
	}
	return out
}

// --- Chat messages ---

func (s *Store) PutMessage(m domain.ChatMessage) {
	s.messagesMu.Lock()
	defer s.messagesMu.Unlock()
	s.messages[m.ID] = m
}

func (s *Store) MessagesBySession(sessionID string) []domain.ChatMessage {
	s.messagesMu.RLock()
	defer s.messagesMu.RUnlock()
	var out []domain.ChatMessage
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) DeleteMessagesBySession(sessionID string) {
	s.messagesMu.Lock()
	defer s.messagesMu.Unlock()
	for id, m := range s.messages {
		if m.SessionID == sessionID {
			delete(s.messages, id)
		}
	}
}

// --- Risks ---

func (s *Store) PutRisk(r domain.Risk) {
	s.risksMu.Lock()
	defer s.risksMu.Unlock()
	s.risks[r.ID] = r
}

func (s *Store) PutRisks(rs []domain.Risk) {
	s.risksMu.Lock()
	defer s.risksMu.Unlock()
	for _, r := range rs {
		s.risks[r.ID] = r
	}
}

func (s *Store) GetRisk(id string) (domain.Risk, bool) {
	s.risksMu.RLock()
	defer s.risksMu.RUnlock()
	r, ok := s.risks[id]
	return r, ok
}

func (s *Store) RisksByGraph(graphID string) []domain.Risk {
	s.risksMu.RLock()
	defer s.risksMu.RUnlock()
	var out []domain.Risk
	for _, r := range s.risks {
		if r.GraphID == graphID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) RisksByDocument(documentID string) []domain.Risk {
	s.risksMu.RLock()
	defer s.risksMu.RUnlock()
	var out []domain.Risk
	for _, r := range s.risks {
		if r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) DeleteRisksByGraph(graphID string) {
	s.risksMu.Lock()
	defer s.risksMu.Unlock()
	for id, r := range s.risks {
		if r.GraphID == graphID {
			delete(s.risks, id)
		}
	}
}

func (s *Store) ListRisks() []domain.Risk {
	s.risksMu.RLock()
	defer s.risksMu.RUnlock()
	out := make([]domain.Risk, 0, len(s.risks))
	for _, r := range s.risks {
		out = append(out, r)
	}
	return out
}

// --- Jobs (transient; not persisted) ---

func (s *Store) PutJob(j domain.Job) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs[j.ID] = j
}

func (s *Store) GetJob(id string) (domain.Job, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *Store) ListJobs() []domain.Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// --- Progress (not persisted; rebuilt per extraction run) ---

// OnProgress registers fn to be called, outside the progress lock, every
// time SetProgress records a new value. The API server uses this to
// publish progress updates onto NATS for out-of-process subscribers; a
// nil fn (the default) disables publishing entirely.
func (s *Store) OnProgress(fn func(documentID string, p domain.Progress)) {
	s.progressMu.Lock()
	s.onProgress = fn
	s.progressMu.Unlock()
}

func (s *Store) SetProgress(documentID string, p domain.Progress) {
	s.progressMu.Lock()
	s.progress[documentID] = p
	fn := s.onProgress
	s.progressMu.Unlock()
	if fn != nil {
		fn(documentID, p)
	}
}

func (s *Store) GetProgress(documentID string) (domain.Progress, bool) {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()
	p, ok := s.progress[documentID]
	return p, ok
}

// --- Persistence ---

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Save writes the six durable collections to JSON files under dir. Jobs
// and progress are intentionally excluded: they are transient
// orchestration state the Extraction Orchestrator re-derives after a
// restart rather than replays.
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("state: create dir: %w", err)
	}

	s.docsMu.RLock()
	docs := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	s.docsMu.RUnlock()

	s.graphsMu.RLock()
	graphs := make([]Graph, 0, len(s.graphs))
	for _, g := range s.graphs {
		graphs = append(graphs, g)
	}
	s.graphsMu.RUnlock()

	s.entitiesMu.RLock()
	entities := make([]domain.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	s.entitiesMu.RUnlock()

	s.sessionsMu.RLock()
	sessions := make([]domain.ChatSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		sessions = append(sessions, cs)
	}
	s.sessionsMu.RUnlock()

	s.messagesMu.RLock()
	messages := make([]domain.ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		messages = append(messages, m)
	}
	s.messagesMu.RUnlock()

	s.risksMu.RLock()
	risks := make([]domain.Risk, 0, len(s.risks))
	for _, r := range s.risks {
		risks = append(risks, r)
	}
	s.risksMu.RUnlock()

	writes := []struct {
		name string
		v    any
	}{
		{documentsFile, docs},
		{graphsFile, graphs},
		{entitiesFile, entities},
		{chatSessionsFile, sessions},
		{chatMessagesFile, messages},
		{risksFile, risks},
	}
	for _, w := range writes {
		if err := writeJSON(s.path(w.name), w.v); err != nil {
			return fmt.Errorf("state: write %s: %w", w.name, err)
		}
	}
	s.log.Info("state snapshot written", "dir", s.dir)
	return nil
}

// Load reads the six durable collections from JSON files under dir,
// tolerating missing files (a fresh install has none). Documents whose
// blob no longer exists are dropped.
func (s *Store) Load() error {
	var docs []domain.Document
	if err := readJSON(s.path(documentsFile), &docs); err != nil {
		return fmt.Errorf("state: read documents: %w", err)
	}
	var graphs []Graph
	if err := readJSON(s.path(graphsFile), &graphs); err != nil {
		return fmt.Errorf("state: read graphs: %w", err)
	}
	var entities []domain.Entity
	if err := readJSON(s.path(entitiesFile), &entities); err != nil {
		return fmt.Errorf("state: read entities: %w", err)
	}
	var sessions []domain.ChatSession
	if err := readJSON(s.path(chatSessionsFile), &sessions); err != nil {
		return fmt.Errorf("state: read chat sessions: %w", err)
	}
	var messages []domain.ChatMessage
	if err := readJSON(s.path(chatMessagesFile), &messages); err != nil {
		return fmt.Errorf("state: read chat messages: %w", err)
	}
	var risks []domain.Risk
	if err := readJSON(s.path(risksFile), &risks); err != nil {
		return fmt.Errorf("state: read risks: %w", err)
	}

	s.docsMu.Lock()
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	s.docsMu.Unlock()

	s.graphsMu.Lock()
	for _, g := range graphs {
		s.graphs[g.ID] = g
	}
	s.graphsMu.Unlock()

	s.entitiesMu.Lock()
	for _, e := range entities {
		s.entities[e.ID] = e
	}
	s.entitiesMu.Unlock()

	s.sessionsMu.Lock()
	for _, cs := range sessions {
		s.sessions[cs.ID] = cs
	}
	s.sessionsMu.Unlock()

	s.messagesMu.Lock()
	for _, m := range messages {
		s.messages[m.ID] = m
	}
	s.messagesMu.Unlock()

	s.risksMu.Lock()
	for _, r := range risks {
		s.risks[r.ID] = r
	}
	s.risksMu.Unlock()

	if rebuilt := s.rebuildMissingGraphs(); rebuilt > 0 {
		s.log.Info("reconstructed graphs from entity snapshot", "count", rebuilt)
	}

	pruned := s.PruneMissingBlobs()
	if len(pruned) > 0 {
		s.log.Info("pruned documents with missing blobs", "count", len(pruned))
	}
	s.log.Info("state snapshot loaded", "dir", s.dir, "documents", len(docs), "graphs", len(graphs))
	return nil
}

// rebuildMissingGraphs reconstructs a Graph record for any graph id that
// appears on loaded entities but has no entry in graphs.json, so a
// partially written snapshot (for instance one from a crash between the
// entities and graphs writes) still reloads into a usable state. Edges
// cannot be recovered this way; a rebuilt graph starts with none.
func (s *Store) rebuildMissingGraphs() int {
	s.entitiesMu.RLock()
	byGraph := make(map[string][]domain.Entity)
	for _, e := range s.entities {
		if e.GraphID != "" {
			byGraph[e.GraphID] = append(byGraph[e.GraphID], e)
		}
	}
	s.entitiesMu.RUnlock()

	rebuilt := 0
	s.graphsMu.Lock()
	for graphID, entities := range byGraph {
		if _, ok := s.graphs[graphID]; ok {
			continue
		}
		s.graphs[graphID] = Graph{ID: graphID, DocumentID: entities[0].DocumentID, Entities: entities}
		rebuilt++
	}
	s.graphsMu.Unlock()
	return rebuilt
}
