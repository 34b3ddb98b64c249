package embedding

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string, dimensions int) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "text-embedding-3-small",
		Dimensions: dimensions,
		MaxRetries: 1,
	}, testLogger())
	require.NoError(t, err)
	return client
}

func embeddingHandler(t *testing.T, vector []float32) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)

		resp := embeddingResponse{}
		resp.Data = append(resp.Data, struct {
			Embedding []float32 `json:"embedding"`
		}{Embedding: vector})
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestEmbedSuccess(t *testing.T) {
	server := httptest.NewServer(embeddingHandler(t, []float32{0.1, 0.2, 0.3}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	vector, err := client.Embed(context.Background(), "what is the refund window")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestEmbedServerErrorRetriesThenUnavailable(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.Embed(context.Background(), "query")
	require.True(t, apperrors.IsCode(err, apperrors.CodeEmbeddingUnavailable), "got %v", err)
	require.Equal(t, int64(2), calls.Load(), "5xx should be retried")
}

func TestEmbedRecoversAfterTransientError(t *testing.T) {
	var calls atomic.Int64
	success := embeddingHandler(t, []float32{1, 0, 0})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try again", http.StatusTooManyRequests)
			return
		}
		success(w, r)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	vector, err := client.Embed(context.Background(), "query")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0, 0}, vector)
	require.Equal(t, int64(2), calls.Load())
}

func TestEmbedClientErrorRejectsWithoutRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "input invalid", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.Embed(context.Background(), "query")
	require.True(t, apperrors.IsCode(err, apperrors.CodeEmbeddingRejected), "got %v", err)
	require.Equal(t, int64(1), calls.Load(), "4xx must not be retried")
}

func TestEmbedDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(embeddingHandler(t, []float32{0.1, 0.2}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.Embed(context.Background(), "query")
	require.True(t, apperrors.IsCode(err, apperrors.CodeDimensionMismatch), "got %v", err)
}

func TestEmbedRejectsEmptyAndOversizedText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("rejected texts must not reach the backend")
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		MaxTokens: 1,
	}, testLogger())
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "   ")
	require.True(t, apperrors.IsCode(err, apperrors.CodeEmbeddingRejected))

	_, err = client.Embed(context.Background(), "this sentence is comfortably past a single token limit")
	require.True(t, apperrors.IsCode(err, apperrors.CodeEmbeddingRejected), "got %v", err)
}

func TestDeterministicEmbedderIsStable(t *testing.T) {
	embedder := NewDeterministic(8)

	first, err := embedder.Embed(context.Background(), "refund policy")
	require.NoError(t, err)
	require.Len(t, first, 8)

	second, err := embedder.Embed(context.Background(), "refund policy")
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := embedder.Embed(context.Background(), "shipping times")
	require.NoError(t, err)
	require.NotEqual(t, first, other)

	_, err = embedder.Embed(context.Background(), "")
	require.True(t, apperrors.IsCode(err, apperrors.CodeEmbeddingRejected))
}
