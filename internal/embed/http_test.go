package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedServer serves /health and /embed with two fixed vectors per
// input text.
type fakeEmbedServer struct {
	t          *testing.T
	dims       int
	requests   atomic.Int64
	failBefore int64 // requests numbered below this return 500
}

func (f *fakeEmbedServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/embed", func(w http.ResponseWriter, r *http.Request) {
		n := f.requests.Add(1)
		if n <= f.failBefore {
			http.Error(w, "model loading", http.StatusInternalServerError)
			return
		}

		var req embedRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

		resp := embedResponse{Model: req.Model, Dimensions: f.dims}
		for _, input := range req.Inputs {
			vec := make([]float32, f.dims)
			vec[0] = float32(len(input))
			resp.Results = append(resp.Results, embedResult{
				Tokens:  strings.Fields(input),
				Vectors: [][]float32{vec, vec},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(f.t, json.NewEncoder(w).Encode(resp))
	})
	return mux
}

func newTestHTTPEmbedder(t *testing.T, fake *fakeEmbedServer, mutate func(*HTTPConfig)) *HTTPTokenEmbedder {
	t.Helper()

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := DefaultHTTPConfig()
	cfg.Endpoint = srv.URL
	cfg.Model = "test-model"
	cfg.Timeout = 5 * time.Second
	cfg.RequestsPerSecond = 1000 // keep tests fast
	cfg.Burst = 100
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := NewHTTPTokenEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestHTTPEmbedderSingleText(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 8}
	e := newTestHTTPEmbedder(t, fake, nil)

	matrix, err := e.EmbedTokens(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, []string{"hello", "world"}, matrix.Tokens)
	require.Len(t, matrix.Vectors, 2)
	assert.Len(t, matrix.Vectors[0], 8)
}

func TestHTTPEmbedderBatchAlignsWithInputs(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 4}
	e := newTestHTTPEmbedder(t, fake, nil)

	texts := []string{"a", "bb", "ccc"}
	matrices, err := e.EmbedTokensBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, matrices, 3)

	// The fake encodes input length into the first component
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), matrices[i].Vectors[0][0], "text %q", text)
	}
}

func TestHTTPEmbedderSplitsLargeBatches(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 4}
	e := newTestHTTPEmbedder(t, fake, func(cfg *HTTPConfig) {
		cfg.BatchSize = 2
	})

	matrices, err := e.EmbedTokensBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, matrices, 5)
	assert.Equal(t, int64(3), fake.requests.Load(), "5 texts at batch size 2 should take 3 requests")
}

func TestHTTPEmbedderRetriesTransientFailure(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 4, failBefore: 1}
	e := newTestHTTPEmbedder(t, fake, nil)

	matrix, err := e.EmbedTokens(context.Background(), "retry me")
	require.NoError(t, err)
	assert.False(t, matrix.Empty())
	assert.GreaterOrEqual(t, fake.requests.Load(), int64(2))
}

func TestHTTPEmbedderGivesUpAfterRetries(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 4, failBefore: 100}
	e := newTestHTTPEmbedder(t, fake, func(cfg *HTTPConfig) {
		cfg.MaxRetries = 2
	})

	_, err := e.EmbedTokens(context.Background(), "doomed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int64(2), fake.requests.Load())
}

func TestHTTPEmbedderPinsDimensionsFromResponse(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 16}
	e := newTestHTTPEmbedder(t, fake, nil)

	assert.Equal(t, 0, e.Dimensions(), "dimensions unknown before first response")

	_, err := e.EmbedTokens(context.Background(), "probe")
	require.NoError(t, err)
	assert.Equal(t, 16, e.Dimensions())
}

func TestHTTPEmbedderRejectsWrongVectorWidth(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 16}
	e := newTestHTTPEmbedder(t, fake, func(cfg *HTTPConfig) {
		cfg.Dimensions = 8
	})

	_, err := e.EmbedTokens(context.Background(), "probe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 8")
}

func TestHTTPEmbedderRejectsResultCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Always one result regardless of input count
		_ = json.NewEncoder(w).Encode(embedResponse{
			Dimensions: 4,
			Results:    []embedResult{{Tokens: []string{"x"}, Vectors: [][]float32{{1, 0, 0, 0}}}},
		})
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.Endpoint = srv.URL
	cfg.MaxRetries = 1
	cfg.RequestsPerSecond = 1000
	e, err := NewHTTPTokenEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.EmbedTokensBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 results for 2 inputs")
}

func TestHTTPEmbedderHealthCheckFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "starting up", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.Endpoint = srv.URL

	_, err := NewHTTPTokenEmbedder(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestHTTPEmbedderAvailable(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 4}
	e := newTestHTTPEmbedder(t, fake, nil)

	assert.True(t, e.Available(context.Background()))

	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))

	_, err := e.EmbedTokens(context.Background(), "closed")
	assert.Error(t, err)
}

func TestHTTPEmbedderEmptyBatch(t *testing.T) {
	fake := &fakeEmbedServer{t: t, dims: 4}
	e := newTestHTTPEmbedder(t, fake, nil)

	matrices, err := e.EmbedTokensBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, matrices)
	assert.Equal(t, int64(0), fake.requests.Load())
}
