// Package ingest validates an uploaded byte stream, writes the blob to
// the configured upload directory, and assigns the Document its initial
// uploaded status. It never reaches into the later pipeline stages.
package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finkg-labs/finkg/engine/domain"
)

// DefaultMaxUploadBytes is the default accepted upload ceiling (100 MiB).
const DefaultMaxUploadBytes = 100 * 1024 * 1024

// Config configures an Ingestor.
type Config struct {
	UploadDir     string
	MaxUploadSize int64 // bytes; 0 means DefaultMaxUploadBytes
}

// Ingestor validates and persists uploaded blobs.
type Ingestor struct {
	dir     string
	maxSize int64
	log     *slog.Logger
}

// New creates an Ingestor rooted at cfg.UploadDir.
func New(cfg Config, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	maxSize := cfg.MaxUploadSize
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadBytes
	}
	return &Ingestor{dir: cfg.UploadDir, maxSize: maxSize, log: log}
}

// extByMediaType maps an accepted MediaType to its stored file extension.
var extByMediaType = map[domain.MediaType]string{
	domain.MediaPDF:  "pdf",
	domain.MediaDOC:  "doc",
	domain.MediaDOCX: "docx",
	domain.MediaPPT:  "ppt",
	domain.MediaPPTX: "pptx",
	domain.MediaODT:  "odt",
	domain.MediaODP:  "odp",
	domain.MediaJPEG: "jpg",
	domain.MediaPNG:  "png",
	domain.MediaZIP:  "zip",
	domain.MediaXLS:  "xls",
	domain.MediaXLSX: "xlsx",
	domain.MediaCSV:  "csv",
}

// Ingest validates mediaType/size (the filename is not checked), writes the blob atomically to
// the upload directory under "{id}.{ext}", and returns a Document with
// status=uploaded. The caller supplies size because it is known from the
// multipart header before the body is fully read; Ingest still enforces
// the limit while copying so a lying Content-Length cannot bypass it.
func (n *Ingestor) Ingest(filename string, mediaType domain.MediaType, size int64, r io.Reader) (domain.Document, error) {
	if !domain.AcceptedMediaTypes[mediaType] {
		return domain.Document{}, domain.NewValidationError("media_type", string(mediaType), domain.ErrUnsupportedMedia)
	}
	if size > n.maxSize {
		return domain.Document{}, domain.NewValidationError("size_bytes", fmt.Sprintf("%d", size), domain.ErrFileTooLarge)
	}
	if size <= 0 {
		return domain.Document{}, domain.NewValidationError("size_bytes", "0", domain.ErrEmptyFile)
	}

	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return domain.Document{}, fmt.Errorf("ingest: create upload dir: %w", err)
	}

	id := newDocumentID()
	ext := extByMediaType[mediaType]
	path := filepath.Join(n.dir, fmt.Sprintf("%s.%s", id, ext))

	if err := n.writeAtomic(path, r, size); err != nil {
		return domain.Document{}, fmt.Errorf("ingest: write blob: %w", err)
	}

	now := time.Now()
	doc := domain.Document{
		ID:        id,
		Filename:  filename,
		FilePath:  path,
		SizeBytes: size,
		MediaType: mediaType,
		Status:    domain.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	n.log.Info("ingest: document uploaded", "id", id, "filename", filename, "size_bytes", size)
	return doc, nil
}

// writeAtomic copies up to maxSize+1 bytes from r into a temp file next to
// path, then renames into place. A body longer than declared size trips
// ErrFileTooLarge instead of silently truncating.
func (n *Ingestor) writeAtomic(path string, r io.Reader, declaredSize int64) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	limited := io.LimitReader(r, n.maxSize+1)
	written, err := io.Copy(f, limited)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if written > n.maxSize || written > declaredSize {
		return domain.NewValidationError("size_bytes", fmt.Sprintf("%d", written), domain.ErrFileTooLarge)
	}
	return os.Rename(tmp, path)
}

// newDocumentID assigns an id with a stable prefix and random suffix.
func newDocumentID() string {
	return "doc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// Delete removes a document's blob from disk. Missing files are not an error.
func (n *Ingestor) Delete(doc domain.Document) error {
	if doc.FilePath == "" {
		return nil
	}
	if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ingest: delete blob %s: %w", doc.FilePath, err)
	}
	return nil
}
