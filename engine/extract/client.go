package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/finkg-labs/finkg/pkg/resilience"
)

// ParseResult is the markdown-producing half of a Parse+Extract call pair.
type ParseResult struct {
	Markdown   string `json:"markdown"`
	TotalPages int    `json:"total_pages"`
}

// ExtractResult is the structured half of a Parse+Extract call pair.
type ExtractResult struct {
	Structured map[string]any    `json:"structured_extraction,omitempty"`
	Tables     []RawTable        `json:"tables,omitempty"`
	KeyValues  map[string]string `json:"key_values,omitempty"`
	Confidence float64           `json:"confidence"`
}

// RawTable mirrors domain.Table on the wire.
type RawTable struct {
	ID      string     `json:"id"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Page    int        `json:"page,omitempty"`
}

// JobStatusResult is the shape of a job-polling response.
type JobStatusResult struct {
	Status string       `json:"status"` // "processing" | "completed" | "failed"
	Parse  *ParseResult `json:"parse,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// ADEClient is the remote document-extraction service's interface, as far
// as the orchestrator needs it. httpADEClient below is the one concrete
// adapter; tests substitute a local fake.
type ADEClient interface {
	Parse(ctx context.Context, filename string, body io.Reader) (ParseResult, error)
	Extract(ctx context.Context, markdown string, schema map[string]any) (ExtractResult, error)
	SubmitParseJob(ctx context.Context, filename string, body io.Reader) (jobID string, err error)
	PollParseJob(ctx context.Context, jobID string) (JobStatusResult, error)
}

// HTTPClientConfig configures httpADEClient.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
}

// httpADEClient is a plain net/http adapter to the remote extraction
// service: multipart upload for Parse/job submission, JSON POST for
// Extract, JSON GET for job polling. Every call is throttled by a token
// bucket (outbound request pacing) and gated by a circuit breaker
// (tripping after repeated remote failures rather than piling up
// timeouts against a service that is already down).
type httpADEClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// defaultADERateLimit caps outbound calls to the remote extraction
// service at 5/s with a burst of 10, well under typical per-tenant API
// quotas for a document-processing backend.
const (
	defaultADERateLimit = 5
	defaultADEBurst     = 10
)

// NewHTTPClient creates the default ADEClient: 480s total request
// timeout, 10s connect.
func NewHTTPClient(cfg HTTPClientConfig) ADEClient {
	return &httpADEClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		hc: &http.Client{
			Timeout: 480 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultADERateLimit), defaultADEBurst),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// guarded runs f through the rate limiter and circuit breaker before
// letting it reach the network.
func (c *httpADEClient) guarded(ctx context.Context, f func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Call(ctx, f)
}

func (c *httpADEClient) authedRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *httpADEClient) multipartBody(filename string, body io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *httpADEClient) Parse(ctx context.Context, filename string, body io.Reader) (ParseResult, error) {
	var out ParseResult
	mpBody, contentType, err := c.multipartBody(filename, body)
	if err != nil {
		return out, err
	}
	req, err := c.authedRequest(ctx, http.MethodPost, "/parse", contentType, mpBody)
	if err != nil {
		return out, err
	}
	err = c.guarded(ctx, func(ctx context.Context) error { return doJSON(c.hc, req, &out) })
	return out, err
}

func (c *httpADEClient) Extract(ctx context.Context, markdown string, schema map[string]any) (ExtractResult, error) {
	var out ExtractResult
	payload, err := json.Marshal(map[string]any{"markdown": markdown, "schema": schema})
	if err != nil {
		return out, err
	}
	req, err := c.authedRequest(ctx, http.MethodPost, "/extract", "application/json", bytes.NewReader(payload))
	if err != nil {
		return out, err
	}
	err = c.guarded(ctx, func(ctx context.Context) error { return doJSON(c.hc, req, &out) })
	return out, err
}

func (c *httpADEClient) SubmitParseJob(ctx context.Context, filename string, body io.Reader) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	mpBody, contentType, err := c.multipartBody(filename, body)
	if err != nil {
		return "", err
	}
	req, err := c.authedRequest(ctx, http.MethodPost, "/parse/jobs", contentType, mpBody)
	if err != nil {
		return "", err
	}
	if err := c.guarded(ctx, func(ctx context.Context) error { return doJSON(c.hc, req, &out) }); err != nil {
		return "", err
	}
	return out.JobID, nil
}

func (c *httpADEClient) PollParseJob(ctx context.Context, jobID string) (JobStatusResult, error) {
	var out JobStatusResult
	req, err := c.authedRequest(ctx, http.MethodGet, "/parse/jobs/"+jobID, "", nil)
	if err != nil {
		return out, err
	}
	err = c.guarded(ctx, func(ctx context.Context) error { return doJSON(c.hc, req, &out) })
	return out, err
}

// statusError carries the HTTP status code so the retry policy can
// classify it without re-parsing the error string.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("extract: remote returned %d: %s", e.Code, e.Body)
}

func doJSON(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode, Body: string(data)}
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// zipMembers returns every file in a ZIP archive's central directory,
// opened for reading, paired with its declared name.
func zipMembers(path string) ([]*zip.File, func() error, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	return r.File, r.Close, nil
}
