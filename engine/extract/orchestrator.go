// Package extract implements the Extraction Orchestrator: it routes a
// Document to the remote extraction service either synchronously, via a
// polled job, or via bounded-concurrency ZIP fan-out, and tracks progress
// for SSE observers along the way.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/schemaanalyzer"
	"github.com/finkg-labs/finkg/engine/state"
)

const (
	DefaultSyncMaxBytes    = 15 * 1024 * 1024
	DefaultPollMaxAttempts = 60
	DefaultZipConcurrency  = 20
)

// Config configures an Orchestrator.
type Config struct {
	SyncMaxBytes    int64
	PollMaxAttempts int
	ZipConcurrency  int
	AdaptiveSchema  bool
}

// Orchestrator drives the remote Parse/Extract round trip for one
// Document at a time, recording progress into the shared Store as it goes.
type Orchestrator struct {
	client ADEClient
	schema *schemaanalyzer.Analyzer
	store  *state.Store
	cfg    Config
	log    *slog.Logger
}

// New creates an Orchestrator. Zero-valued Config fields take the defaults above.
func New(client ADEClient, schema *schemaanalyzer.Analyzer, store *state.Store, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.SyncMaxBytes <= 0 {
		cfg.SyncMaxBytes = DefaultSyncMaxBytes
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = DefaultPollMaxAttempts
	}
	if cfg.ZipConcurrency <= 0 {
		cfg.ZipConcurrency = DefaultZipConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{client: client, schema: schema, store: store, cfg: cfg, log: log}
}

// Run produces the extraction record for one document, routing by media
// type and size, and leaves a terminal Progress record behind for
// /extract/status and /extract/stream observers.
func (o *Orchestrator) Run(ctx context.Context, doc domain.Document) (domain.Extraction, error) {
	if doc.MediaType == domain.MediaZIP {
		return o.runZip(ctx, doc)
	}

	o.store.SetProgress(doc.ID, domain.Progress{Status: domain.JobProcessing, Total: 1})

	f, err := os.Open(doc.FilePath)
	if err != nil {
		o.store.SetProgress(doc.ID, domain.Progress{Status: domain.JobFailed, Total: 1, Failed: 1})
		return domain.Extraction{}, fmt.Errorf("extract: open blob: %w", err)
	}
	defer f.Close()

	var extraction domain.Extraction
	if doc.SizeBytes <= o.cfg.SyncMaxBytes {
		extraction, err = o.runSync(ctx, doc.Filename, f)
	} else {
		extraction, err = o.runAsync(ctx, doc.ID, doc.Filename, f)
	}
	if err != nil {
		o.store.SetProgress(doc.ID, domain.Progress{Status: domain.JobFailed, Total: 1, Failed: 1})
		return domain.Extraction{}, err
	}
	o.store.SetProgress(doc.ID, domain.Progress{Status: domain.JobCompleted, Total: 1, Completed: 1})
	return extraction, nil
}

// runSync performs the synchronous Parse→Extract call pair for one file
// under the sync-size threshold.
func (o *Orchestrator) runSync(ctx context.Context, filename string, body io.Reader) (domain.Extraction, error) {
	parseRes, err := o.parseWithRetry(ctx, filename, body)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract: parse: %w", err)
	}
	return o.extractFromMarkdown(ctx, parseRes)
}

// runAsync submits a parse job, polls it to completion with exponential
// backoff bounded by PollMaxAttempts, and runs Extract on the result.
func (o *Orchestrator) runAsync(ctx context.Context, documentID, filename string, body io.Reader) (domain.Extraction, error) {
	jobID, err := o.submitJobWithRetry(ctx, filename, body)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract: submit job: %w", err)
	}

	job := domain.Job{ID: jobID, DocumentID: documentID, Status: domain.JobProcessing, Total: 1}
	o.store.PutJob(job)

	backoff := newPollBackoff()
	for attempt := 0; attempt < o.cfg.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return domain.Extraction{}, ctx.Err()
		case <-time.After(backoff.next()):
		}

		status, err := o.pollWithRetry(ctx, jobID)
		if err != nil {
			continue // transient polling error; keep trying within the attempt budget
		}
		switch status.Status {
		case "completed":
			job.Status = domain.JobCompleted
			o.store.PutJob(job)
			if status.Parse == nil {
				return domain.Extraction{}, fmt.Errorf("extract: job %s completed without a result", jobID)
			}
			return o.extractFromMarkdown(ctx, *status.Parse)
		case "failed":
			job.Status = domain.JobFailed
			o.store.PutJob(job)
			return domain.Extraction{}, fmt.Errorf("extract: job %s failed: %s", jobID, status.Error)
		}
	}
	// Poll budget exhausted. Documents can legitimately take longer than
	// this; raise PollMaxAttempts for slow extraction backends.
	job.Status = domain.JobFailed
	o.store.PutJob(job)
	return domain.Extraction{}, fmt.Errorf("extract: job %s did not complete within %d poll attempts", jobID, o.cfg.PollMaxAttempts)
}

// extractFromMarkdown runs the adaptive-or-default Extract call on
// already-parsed markdown, degrading to a parse-only record on failure.
func (o *Orchestrator) extractFromMarkdown(ctx context.Context, parsed ParseResult) (domain.Extraction, error) {
	schema := schemaanalyzer.DefaultSchema()
	if o.cfg.AdaptiveSchema {
		schema = o.schema.Infer(parsed.Markdown)
	}

	extractRes, err := o.extractWithRetry(ctx, parsed.Markdown, schema)
	if err != nil {
		o.log.Warn("extract: extract step failed, falling back to parse-only record", "err", err)
		return domain.Extraction{
			Markdown:   parsed.Markdown,
			TotalPages: parsed.TotalPages,
		}, nil
	}

	return domain.Extraction{
		Markdown:             parsed.Markdown,
		StructuredExtraction: toStructuredRecord(extractRes.Structured),
		Tables:               toDomainTables(extractRes.Tables),
		KeyValues:            extractRes.KeyValues,
		TotalPages:           parsed.TotalPages,
		Confidence:           extractRes.Confidence,
	}, nil
}

func (o *Orchestrator) parseWithRetry(ctx context.Context, filename string, body io.Reader) (ParseResult, error) {
	var out ParseResult
	err := withRetry(ctx, defaultHTTPRetry, isRetryableHTTP, func(ctx context.Context) error {
		var err error
		out, err = o.client.Parse(ctx, filename, body)
		return err
	})
	return out, err
}

func (o *Orchestrator) extractWithRetry(ctx context.Context, markdown string, schema map[string]any) (ExtractResult, error) {
	var out ExtractResult
	err := withRetry(ctx, defaultHTTPRetry, isRetryableHTTP, func(ctx context.Context) error {
		var err error
		out, err = o.client.Extract(ctx, markdown, schema)
		return err
	})
	return out, err
}

func (o *Orchestrator) submitJobWithRetry(ctx context.Context, filename string, body io.Reader) (string, error) {
	var jobID string
	err := withRetry(ctx, defaultHTTPRetry, isRetryableHTTP, func(ctx context.Context) error {
		var err error
		jobID, err = o.client.SubmitParseJob(ctx, filename, body)
		return err
	})
	return jobID, err
}

func (o *Orchestrator) pollWithRetry(ctx context.Context, jobID string) (JobStatusResult, error) {
	var out JobStatusResult
	err := withRetry(ctx, defaultHTTPRetry, isRetryableHTTP, func(ctx context.Context) error {
		var err error
		out, err = o.client.PollParseJob(ctx, jobID)
		return err
	})
	return out, err
}

// --- ZIP fan-out ---

// member is one filtered, supported archive entry ready for extraction.
type member struct {
	name string
	size int64
	open func() (io.ReadCloser, error)
}

func (o *Orchestrator) runZip(ctx context.Context, doc domain.Document) (domain.Extraction, error) {
	files, closeArchive, err := zipMembers(doc.FilePath)
	if err != nil {
		o.store.SetProgress(doc.ID, domain.Progress{Status: domain.JobFailed})
		return domain.Extraction{}, fmt.Errorf("extract: open zip: %w", err)
	}
	defer closeArchive()

	var members []member
	for _, zf := range files {
		if zf.FileInfo().IsDir() {
			continue
		}
		if !supportedZipMember(zf.Name) {
			continue
		}
		zf := zf
		members = append(members, member{
			name: zf.Name,
			size: int64(zf.UncompressedSize64),
			open: func() (io.ReadCloser, error) { return zf.Open() },
		})
	}

	if len(members) == 0 {
		o.store.SetProgress(doc.ID, domain.Progress{Status: domain.JobCompleted, Total: 0, Completed: 0, Failed: 0})
		return domain.Extraction{}, nil
	}

	o.store.SetProgress(doc.ID, domain.Progress{Status: domain.JobProcessing, Total: len(members)})

	var (
		mu          sync.Mutex
		completed   int
		failed      int
		extractions []domain.Extraction
	)
	recordResult := func(e *domain.Extraction) {
		mu.Lock()
		defer mu.Unlock()
		if e != nil {
			extractions = append(extractions, *e)
			completed++
		} else {
			failed++
		}
		o.store.SetProgress(doc.ID, domain.Progress{
			Status: domain.JobProcessing, Total: len(members), Completed: completed, Failed: failed,
		})
	}

	sem := make(chan struct{}, o.cfg.ZipConcurrency)
	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		sem <- struct{}{}
		go func(m member) {
			defer wg.Done()
			defer func() { <-sem }()

			rc, err := m.open()
			if err != nil {
				o.log.Warn("extract: zip member open failed", "name", m.name, "err", err)
				recordResult(nil)
				return
			}
			defer rc.Close()

			var e domain.Extraction
			if m.size <= o.cfg.SyncMaxBytes {
				e, err = o.runSync(ctx, m.name, rc)
			} else {
				e, err = o.runAsync(ctx, doc.ID+"/"+m.name, m.name, rc)
			}
			if err != nil {
				o.log.Warn("extract: zip member extraction failed", "name", m.name, "err", err)
				recordResult(nil)
				return
			}
			recordResult(&e)
		}(m)
	}
	wg.Wait()

	final := domain.JobCompleted
	if failed == len(members) {
		final = domain.JobFailed
	}
	o.store.SetProgress(doc.ID, domain.Progress{Status: final, Total: len(members), Completed: completed, Failed: failed})

	return aggregateExtractions(extractions), nil
}

// supportedZipMember filters archive entries to the accepted media set
// by file extension.
func supportedZipMember(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "pdf", "doc", "docx", "ppt", "pptx", "odt", "odp", "jpg", "jpeg", "png", "xls", "xlsx", "csv":
		return true
	default:
		return false
	}
}

// aggregateExtractions concatenates entities/tables/key-values, sums page
// counts, and averages confidence across a ZIP's members.
func aggregateExtractions(all []domain.Extraction) domain.Extraction {
	if len(all) == 0 {
		return domain.Extraction{}
	}
	var (
		markdowns  []string
		entities   []domain.RawEntity
		tables     []domain.Table
		keyValues  = make(map[string]string)
		totalPages int
		confSum    float64
		confCount  int
	)
	for _, e := range all {
		markdowns = append(markdowns, e.Markdown)
		if e.StructuredExtraction != nil {
			entities = append(entities, e.StructuredExtraction.Entities...)
		}
		tables = append(tables, e.Tables...)
		for k, v := range e.KeyValues {
			keyValues[k] = v
		}
		totalPages += e.TotalPages
		if e.Confidence > 0 {
			confSum += e.Confidence
			confCount++
		}
	}
	var avgConf float64
	if confCount > 0 {
		avgConf = confSum / float64(confCount)
	}
	var structured *domain.StructuredRecord
	if len(entities) > 0 {
		structured = &domain.StructuredRecord{Entities: entities}
	}
	return domain.Extraction{
		Markdown:             strings.Join(markdowns, "\n\n---\n\n"),
		StructuredExtraction: structured,
		Tables:               tables,
		KeyValues:            keyValues,
		TotalPages:           totalPages,
		Confidence:           avgConf,
	}
}

func toDomainTables(raw []RawTable) []domain.Table {
	if raw == nil {
		return nil
	}
	out := make([]domain.Table, len(raw))
	for i, t := range raw {
		out[i] = domain.Table{ID: t.ID, Headers: t.Headers, Rows: t.Rows, Page: t.Page}
	}
	return out
}

// toStructuredRecord decodes the remote Extract response's structured
// payload into the normalizer's expected shape: an entities array when
// present, a bare summary string, or the raw map for anything else so
// nothing is silently discarded.
func toStructuredRecord(m map[string]any) *domain.StructuredRecord {
	if m == nil {
		return nil
	}
	rec := &domain.StructuredRecord{}
	if summary, ok := m["summary"].(string); ok {
		rec.Summary = summary
	}
	if rawEntities, ok := m["entities"].([]any); ok {
		for _, re := range rawEntities {
			if em, ok := re.(map[string]any); ok {
				rec.Entities = append(rec.Entities, decodeRawEntity(em))
			}
		}
	}
	if rec.Summary == "" && rec.Entities == nil {
		rec.Raw = m
	}
	return rec
}

func decodeRawEntity(m map[string]any) domain.RawEntity {
	e := domain.RawEntity{Properties: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				e.Type = s
			}
		case "name":
			if s, ok := v.(string); ok {
				e.Name = s
			}
		default:
			e.Properties[k] = v
		}
	}
	return e
}
