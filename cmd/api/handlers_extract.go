package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/pkg/natsutil"
	"github.com/finkg-labs/finkg/pkg/sse"
)

type extractResponse struct {
	ExtractionID  string             `json:"extraction_id"`
	EntitiesCount int                `json:"entities_count"`
	ADEOutput     *domain.Extraction `json:"ade_output,omitempty"`
}

func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("document_id")
	if documentID == "" {
		jsonError(w, http.StatusBadRequest, "document_id is required")
		return
	}

	doc, err := s.coord.Extract(r.Context(), documentID)
	if err != nil {
		jsonError(w, statusForError(err), err.Error())
		return
	}

	resp := extractResponse{ExtractionID: doc.ExtractionID, ADEOutput: doc.Extraction}
	if doc.Extraction != nil && doc.Extraction.StructuredExtraction != nil {
		resp.EntitiesCount = len(doc.Extraction.StructuredExtraction.Entities)
	}
	writeJSON(w, resp)
}

func (s *server) handleExtractStatus(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("document_id")
	if documentID == "" {
		jsonError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	progress, ok := s.store.GetProgress(documentID)
	if !ok {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("no progress recorded for document %q", documentID))
		return
	}
	writeJSON(w, progress)
}

func progressFrame(p domain.Progress) sse.ProgressFrame {
	return sse.ProgressFrame{
		Status:    string(p.Status),
		Total:     p.Total,
		Completed: p.Completed,
		Failed:    p.Failed,
	}
}

// handleExtractStream streams extraction progress as SSE frames until the
// progress record reaches a terminal state. When a NATS connection is
// available it subscribes to the per-document progress subject that
// state.Store.OnProgress publishes to; otherwise it falls back to polling
// the shared Store directly.
func (s *server) handleExtractStream(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("document_id")
	if documentID == "" {
		jsonError(w, http.StatusBadRequest, "document_id is required")
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if progress, ok := s.store.GetProgress(documentID); ok {
		if err := writer.Send(progressFrame(progress)); err != nil || progress.Done() {
			return
		}
	}

	if s.nc != nil {
		s.streamProgressViaNATS(r, documentID, writer)
		return
	}
	s.streamProgressViaPolling(r, documentID, writer)
}

func (s *server) streamProgressViaNATS(r *http.Request, documentID string, writer *sse.Writer) {
	frames := make(chan domain.Progress, 8)
	sub, err := natsutil.Subscribe(s.nc, progressSubject(documentID), func(_ context.Context, p domain.Progress) {
		select {
		case frames <- p:
		default: // slow consumer, drop and rely on the next publish
		}
	})
	if err != nil {
		s.streamProgressViaPolling(r, documentID, writer)
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-frames:
			if err := writer.Send(progressFrame(p)); err != nil {
				return
			}
			if p.Done() {
				return
			}
		}
	}
}

func (s *server) streamProgressViaPolling(r *http.Request, documentID string, writer *sse.Writer) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			progress, ok := s.store.GetProgress(documentID)
			if !ok {
				continue
			}
			if err := writer.Send(progressFrame(progress)); err != nil {
				return
			}
			if progress.Done() {
				return
			}
		}
	}
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.ListJobs())
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.store.GetJob(id)
	if !ok {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", id))
		return
	}
	writeJSON(w, job)
}

func (s *server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.store.GetJob(id)
	if !ok {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", id))
		return
	}
	doc, ok := s.store.GetDocument(job.DocumentID)
	if !ok || doc.Extraction == nil {
		jsonError(w, http.StatusNotFound, "job result not yet available")
		return
	}
	writeJSON(w, doc.Extraction)
}
