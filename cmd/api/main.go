// Package main implements the finkg API server: the pipeline REST
// surface, graph and analytics reads, risk detection, and the chat
// agent.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/finkg-labs/finkg/engine/analytics"
	"github.com/finkg-labs/finkg/engine/chatagent"
	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/extract"
	"github.com/finkg-labs/finkg/engine/graph"
	"github.com/finkg-labs/finkg/engine/index"
	"github.com/finkg-labs/finkg/engine/ingest"
	"github.com/finkg-labs/finkg/engine/llmclient"
	"github.com/finkg-labs/finkg/engine/normalize"
	"github.com/finkg-labs/finkg/engine/pipeline"
	"github.com/finkg-labs/finkg/engine/risk"
	"github.com/finkg-labs/finkg/engine/schemaanalyzer"
	"github.com/finkg-labs/finkg/engine/semantic"
	"github.com/finkg-labs/finkg/engine/state"
	"github.com/finkg-labs/finkg/pkg/metrics"
	"github.com/finkg-labs/finkg/pkg/mid"
	"github.com/finkg-labs/finkg/pkg/natsutil"
	"github.com/finkg-labs/finkg/pkg/ollama"
	"github.com/google/uuid"
)

// Config holds all environment-based configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Host        string
	Port        string
	CORSOrigin  string

	ExtractBaseURL string
	ExtractAPIKey  string

	LLMAPIKey         string
	LLMPrimaryModel   string
	LLMFallbackModels []string

	QdrantURL     string
	QdrantAPIKey  string
	QdrantEnabled bool

	Neo4jURL      string
	Neo4jUser     string
	Neo4jPass     string
	Neo4jEnabled  bool

	NatsURL string

	OllamaURL   string
	OllamaModel string

	UploadDir      string
	StateDir       string
	MaxUploadSize  int64
	AsyncThreshold int64

	LogLevel string
	LogFile  string
}

func loadConfig() Config {
	return Config{
		AppName:    envOr("APP_NAME", "finkg"),
		AppVersion: envOr("APP_VERSION", "0.1.0"),
		Host:       envOr("HOST", ""),
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),

		ExtractBaseURL: envOr("EXTRACT_BASE_URL", "http://localhost:8090"),
		ExtractAPIKey:  envOr("EXTRACT_API_KEY", ""),

		LLMAPIKey:         envOr("ANTHROPIC_API_KEY", ""),
		LLMPrimaryModel:   envOr("LLM_PRIMARY_MODEL", "claude-sonnet-4-5"),
		LLMFallbackModels: splitCSV(envOr("LLM_FALLBACK_MODELS", "claude-haiku-4-5")),

		QdrantURL:     envOr("QDRANT_URL", "localhost:6334"),
		QdrantAPIKey:  envOr("QDRANT_API_KEY", ""),
		QdrantEnabled: envOr("QDRANT_ENABLED", "true") == "true",

		Neo4jURL:     envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		Neo4jEnabled: envOr("NEO4J_ENABLED", "true") == "true",

		NatsURL: envOr("NATS_URL", nats.DefaultURL),

		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envOr("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		UploadDir:      envOr("UPLOAD_DIR", "/tmp/finkg-data/uploads"),
		StateDir:       envOr("STATE_DIR", "/tmp/finkg-data/state"),
		MaxUploadSize:  envInt64("MAX_UPLOAD_SIZE", ingest.DefaultMaxUploadBytes),
		AsyncThreshold: envInt64("ASYNC_EXTRACT_THRESHOLD", extract.DefaultSyncMaxBytes),

		LogLevel: envOr("LOG_LEVEL", "info"),
		LogFile:  envOr("LOG_FILE", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	cfg := loadConfig()

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	out := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", cfg.LogFile, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	var handler slog.Handler
	if cfg.LogLevel == "debug" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}

	store := state.New(cfg.StateDir, logger)
	if err := store.Load(); err != nil {
		logger.Warn("no prior state snapshot loaded", "err", err)
	}

	var graphStore *graph.GraphStore
	if cfg.Neo4jEnabled {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		graphStore = graph.New(driver)
	}

	var entityVectors, chunkVectors *semantic.VectorStore
	if cfg.QdrantEnabled {
		var err error
		entityVectors, err = semantic.NewWithAPIKey(cfg.QdrantURL, "FinancialEntity", cfg.QdrantAPIKey)
		if err != nil {
			return fmt.Errorf("qdrant entity collection: %w", err)
		}
		defer entityVectors.Close()
		chunkVectors, err = semantic.NewWithAPIKey(cfg.QdrantURL, "DocumentChunk", cfg.QdrantAPIKey)
		if err != nil {
			return fmt.Errorf("qdrant chunk collection: %w", err)
		}
		defer chunkVectors.Close()
	}

	var nc *nats.Conn
	if conn, err := nats.Connect(cfg.NatsURL); err != nil {
		logger.Warn("nats unavailable, extraction job events will not be published", "err", err)
	} else {
		nc = conn
		defer nc.Close()
		store.OnProgress(func(documentID string, p domain.Progress) {
			if err := natsutil.Publish(context.Background(), nc, progressSubject(documentID), p); err != nil {
				logger.Warn("progress publish failed", "document_id", documentID, "err", err)
			}
		})
	}

	llm := llmclient.New(llmclient.Config{
		APIKey:         cfg.LLMAPIKey,
		PrimaryModel:   cfg.LLMPrimaryModel,
		FallbackModels: cfg.LLMFallbackModels,
	}, logger)

	embedder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel)

	ingestor := ingest.New(ingest.Config{UploadDir: cfg.UploadDir, MaxUploadSize: cfg.MaxUploadSize}, logger)

	adeClient := extract.NewHTTPClient(extract.HTTPClientConfig{BaseURL: cfg.ExtractBaseURL, APIKey: cfg.ExtractAPIKey})
	orchestrator := extract.New(adeClient, schemaanalyzer.New(), store, extract.Config{
		SyncMaxBytes:   cfg.AsyncThreshold,
		AdaptiveSchema: true,
	}, logger)

	normalizer := normalize.New(llm, logger)
	indexer := index.New(entityVectors, chunkVectors, graphStore, embedder, logger)
	riskDetector := risk.New(llm, logger)

	var analyticsEngine *analytics.Engine
	if graphStore != nil {
		analyticsEngine = analytics.New(graphStore)
	}

	var purger pipelinePurger
	if graphStore != nil {
		purger = graphStore
	}
	coord := pipeline.New(ingestor, orchestrator, normalizer, indexer, purger, riskDetector, store, logger)

	// chatagent.New's graph/metrics parameters are unexported interfaces;
	// pass the concrete nil literal (not a typed nil pointer) when a
	// backing store is unconfigured, so the agent's own `== nil` guards
	// see a truly nil interface rather than a non-nil interface wrapping
	// a nil *graph.GraphStore / *analytics.Engine.
	var agent *chatagent.Agent
	switch {
	case graphStore != nil && analyticsEngine != nil:
		agent = chatagent.New(llm, graphStore, indexer, analyticsEngine, logger)
	case graphStore != nil:
		agent = chatagent.New(llm, graphStore, indexer, nil, logger)
	case analyticsEngine != nil:
		agent = chatagent.New(llm, nil, indexer, analyticsEngine, logger)
	default:
		agent = chatagent.New(llm, nil, indexer, nil, logger)
	}

	srv := &server{
		cfg:       cfg,
		store:     store,
		coord:     coord,
		graph:     graphStore,
		indexer:   indexer,
		analytics: analyticsEngine,
		risk:      riskDetector,
		agent:     agent,
		nc:        nc,
		log:       logger,
	}

	registry := metrics.New()

	mux := http.NewServeMux()
	srv.routes(mux)
	mux.Handle("GET /metrics", registry.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Metrics(registry),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel(cfg.AppName),
	)

	httpSrv := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "version", cfg.AppVersion)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	if err := store.Save(); err != nil {
		logger.Error("state snapshot flush failed", "err", err)
		return err
	}
	return nil
}

// pipelinePurger narrows *graph.GraphStore to the supersession method the
// Coordinator needs.
type pipelinePurger interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// jsonError writes a structured {"error": message} body.
func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// statusForError maps a pipeline/validation error to an HTTP status:
// validation failures and unknown ids are the caller's fault (4xx),
// everything else surfaces as a 5xx.
func statusForError(err error) int {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, domain.ErrUnsupportedMedia) || errors.Is(err, domain.ErrFileTooLarge) || errors.Is(err, domain.ErrEmptyFile) {
		return http.StatusBadRequest
	}
	if strings.Contains(err.Error(), "unknown document") || strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// detectMediaType maps a filename/content-type pair onto the closed
// domain.MediaType set the Ingestor accepts.
func detectMediaType(filename, contentType string) domain.MediaType {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mt {
			case "application/pdf":
				return domain.MediaPDF
			case "application/zip", "application/x-zip-compressed":
				return domain.MediaZIP
			}
		}
	}
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return domain.MediaPDF
	case strings.HasSuffix(lower, ".zip"):
		return domain.MediaZIP
	default:
		return domain.MediaType(contentType)
	}
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
