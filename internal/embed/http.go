package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// HTTP embedder defaults
const (
	// DefaultHTTPEndpoint is the default late-interaction server address
	DefaultHTTPEndpoint = "http://localhost:9917"

	// DefaultHTTPModel is requested when the config names no model
	DefaultHTTPModel = "colbert-small-v2"

	// DefaultRequestsPerSecond throttles requests to the embedding server
	DefaultRequestsPerSecond = 10.0

	// DefaultBurst is the rate limiter burst size
	DefaultBurst = 4

	// DefaultMaxInFlight bounds concurrent requests. The model serializes
	// on the accelerator anyway; extra in-flight requests only queue
	// inside the server and inflate tail latency.
	DefaultMaxInFlight = 2

	// httpConnectTimeout bounds the health check on startup
	httpConnectTimeout = 5 * time.Second
)

// HTTPConfig configures the HTTP token embedder.
type HTTPConfig struct {
	Endpoint          string
	Model             string
	Dimensions        int // 0 = auto-detect from first response
	BatchSize         int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
	MaxInFlight       int64
	SkipHealthCheck   bool // for tests against fake servers
}

// DefaultHTTPConfig returns the default HTTP embedder configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Endpoint:          DefaultHTTPEndpoint,
		Model:             DefaultHTTPModel,
		BatchSize:         DefaultBatchSize,
		Timeout:           DefaultTimeout,
		MaxRetries:        DefaultMaxRetries,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		MaxInFlight:       DefaultMaxInFlight,
	}
}

// embedRequest is the JSON body for POST /embed.
type embedRequest struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

// embedResult is one text's embedding in the server response.
type embedResult struct {
	Tokens  []string    `json:"tokens"`
	Vectors [][]float32 `json:"vectors"`
}

// embedResponse is the JSON body returned by POST /embed.
type embedResponse struct {
	Model      string        `json:"model"`
	Dimensions int           `json:"dimensions"`
	Results    []embedResult `json:"results"`
}

// HTTPTokenEmbedder is a client for a late-interaction embedding server.
// Requests are rate limited and bounded by an in-process semaphore so a
// daemon serving many projects cannot swamp the model.
type HTTPTokenEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPConfig
	limiter   *rate.Limiter
	inflight  *semaphore.Weighted
	modelTag  string

	mu     sync.RWMutex
	closed bool
	dims   int
}

var _ TokenEmbedder = (*HTTPTokenEmbedder)(nil)

// NewHTTPTokenEmbedder creates a client for the configured server and,
// unless skipped, verifies it is reachable.
func NewHTTPTokenEmbedder(ctx context.Context, cfg HTTPConfig) (*HTTPTokenEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultHTTPEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultHTTPModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	// Short idle timeout: CLI runs are short-lived and connections should
	// not linger after Ctrl+C.
	transport := &http.Transport{
		MaxIdleConns:        int(cfg.MaxInFlight),
		MaxIdleConnsPerHost: int(cfg.MaxInFlight),
		MaxConnsPerHost:     int(cfg.MaxInFlight) * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-level timeout: each request carries its own context
	// deadline so retries can outlive a single attempt.
	e := &HTTPTokenEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		inflight:  semaphore.NewWeighted(cfg.MaxInFlight),
		modelTag:  cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, httpConnectTimeout)
		defer cancel()
		if err := e.healthCheck(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("embedding server unreachable at %s: %w", cfg.Endpoint, err)
		}
	}

	return e, nil
}

func (e *HTTPTokenEmbedder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// EmbedTokens embeds a single text.
func (e *HTTPTokenEmbedder) EmbedTokens(ctx context.Context, text string) (*TokenMatrix, error) {
	matrices, err := e.EmbedTokensBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(matrices) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(matrices))
	}
	return matrices[0], nil
}

// EmbedTokensBatch embeds multiple texts, splitting into server-sized
// batches and retrying transient failures.
func (e *HTTPTokenEmbedder) EmbedTokensBatch(ctx context.Context, texts []string) ([]*TokenMatrix, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return []*TokenMatrix{}, nil
	}

	results := make([]*TokenMatrix, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		matrices, err := e.doEmbedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		copy(results[start:], matrices)
	}

	return results, nil
}

// doEmbedWithRetry performs one batch with exponential backoff retry.
func (e *HTTPTokenEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([]*TokenMatrix, error) {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			slog.Debug("embedding_retry",
				slog.Int("attempt", attempt+1),
				slog.Int("texts", len(texts)),
				slog.String("error", lastErr.Error()))
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		matrices, err := e.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			return matrices, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", e.config.MaxRetries, lastErr)
}

// doEmbed performs a single POST /embed request. The semaphore bounds
// concurrent requests; the limiter paces them.
func (e *HTTPTokenEmbedder) doEmbed(ctx context.Context, texts []string) ([]*TokenMatrix, error) {
	if err := e.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.inflight.Release(1)

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(apiResp.Results) != len(texts) {
		return nil, fmt.Errorf("server returned %d results for %d inputs", len(apiResp.Results), len(texts))
	}

	dims := e.rememberDimensions(apiResp.Dimensions)

	matrices := make([]*TokenMatrix, len(apiResp.Results))
	for i, res := range apiResp.Results {
		for _, vec := range res.Vectors {
			if dims > 0 && len(vec) != dims {
				return nil, fmt.Errorf("server returned %d-dim vector, expected %d", len(vec), dims)
			}
		}
		matrices[i] = &TokenMatrix{Tokens: res.Tokens, Vectors: res.Vectors}
	}

	return matrices, nil
}

// rememberDimensions pins the vector width the first time the server
// reports it, then returns the pinned value.
func (e *HTTPTokenEmbedder) rememberDimensions(reported int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 && reported > 0 {
		e.dims = reported
	}
	return e.dims
}

// Dimensions returns the embedding dimension, or 0 before the first
// response when auto-detecting.
func (e *HTTPTokenEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelTag returns the model identifier.
func (e *HTTPTokenEmbedder) ModelTag() string {
	return e.modelTag
}

// Available checks if the embedding server responds.
func (e *HTTPTokenEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, httpConnectTimeout)
	defer cancel()
	return e.healthCheck(checkCtx) == nil
}

// Close releases resources.
func (e *HTTPTokenEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}
