package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/finkg-labs/finkg/engine/domain"
)

const maxMultipartMemory = 32 << 20 // 32 MiB held in memory before spilling to disk

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	mediaType := detectMediaType(header.Filename, header.Header.Get("Content-Type"))
	doc, err := s.coord.Ingest(header.Filename, mediaType, header.Size, file)
	if err != nil {
		s.log.Warn("ingest failed", "filename", header.Filename, "err", err)
		jsonError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, doc)
}

func (s *server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	pruned := s.store.PruneMissingBlobs()
	if len(pruned) > 0 {
		s.log.Info("pruned documents with missing blobs", "count", len(pruned))
	}
	writeJSON(w, s.store.ListDocuments())
}

func (s *server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, ok := s.store.GetDocument(id)
	if !ok {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("document %q not found", id))
		return
	}
	resp := documentResponse{Document: doc}
	if doc.Extraction != nil {
		resp.Markdown = doc.Extraction.Markdown
	}
	writeJSON(w, resp)
}

func (s *server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, ok := s.store.GetDocument(id)
	if !ok {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("document %q not found", id))
		return
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove document blob", "document_id", id, "err", err)
		}
	}
	if doc.GraphID != "" {
		s.store.DeleteRisksByGraph(doc.GraphID)
		s.store.DeleteGraph(doc.GraphID)
		s.store.DeleteEntitiesByDocument(id)
		if s.graph != nil {
			if err := s.graph.DeleteByDocument(r.Context(), id); err != nil {
				s.log.Warn("failed to purge graph store entries", "document_id", id, "err", err)
			}
		}
	}
	s.store.DeleteDocument(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDocumentBlob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, ok := s.store.GetDocument(id)
	if !ok || doc.FilePath == "" {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("document %q not found", id))
		return
	}
	http.ServeFile(w, r, doc.FilePath)
}

// documentResponse adds the extraction markdown inline on
// GET /documents/{id} when an extraction is present.
type documentResponse struct {
	domain.Document
	Markdown string `json:"markdown,omitempty"`
}
