package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkoukk/tiktoken-go"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/lumoqi/trainbase/internal/domain/training"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ClientConfig tunes the remote embedding client.
type ClientConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Dimensions    int
	MaxConcurrent int64
	MaxTokens     int
	MaxRetries    uint64
	Timeout       time.Duration
}

// Client calls an OpenAI-compatible embeddings endpoint. Concurrency towards
// the backend is bounded by a semaphore; transient failures are retried with
// exponential backoff behind a circuit breaker. Failures classify as
// embedding_rejected (permanent) or embedding_unavailable (transient).
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	sem        *semaphore.Weighted
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger

	encOnce sync.Once
	encoder *tiktoken.Tiktoken
}

// NewClient constructs the client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("embedding api key cannot be empty")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embeddings",
		Timeout: 20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		breaker:    breaker,
		logger:     logger.With("component", "embedding.client"),
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed converts text into a fixed-dimension vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.Wrap(apperrors.CodeEmbeddingRejected, "text cannot be empty", nil)
	}
	if c.cfg.MaxTokens > 0 && c.countTokens(text) > c.cfg.MaxTokens {
		return nil, apperrors.Wrap(apperrors.CodeEmbeddingRejected,
			fmt.Sprintf("text exceeds embedding limit of %d tokens", c.cfg.MaxTokens), nil)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEmbeddingUnavailable, "embedding slot unavailable", err)
	}
	defer c.sem.Release(1)

	result, err := c.breaker.Execute(func() (any, error) {
		var vector []float32
		op := func() error {
			v, err := c.request(ctx, text)
			if err != nil {
				return err
			}
			vector = v
			return nil
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
		if err := backoff.Retry(op, policy); err != nil {
			return nil, err
		}
		return vector, nil
	})
	if err != nil {
		switch {
		case apperrors.IsCode(err, apperrors.CodeEmbeddingRejected),
			apperrors.IsCode(err, apperrors.CodeDimensionMismatch):
			return nil, err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, apperrors.Wrap(apperrors.CodeEmbeddingUnavailable, "embedding backend circuit open", err)
		default:
			return nil, apperrors.Wrap(apperrors.CodeEmbeddingUnavailable, "embedding backend unavailable", err)
		}
	}
	return result.([]float32), nil
}

func (c *Client) request(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("embedding backend status=%d body=%s", resp.StatusCode, string(body))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, backoff.Permanent(apperrors.Wrap(apperrors.CodeEmbeddingRejected,
			fmt.Sprintf("embedding backend rejected request: status=%d body=%s", resp.StatusCode, string(body)), nil))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(decoded.Data) != 1 {
		return nil, fmt.Errorf("embedding backend returned %d vectors for one input", len(decoded.Data))
	}
	vector := decoded.Data[0].Embedding
	if c.cfg.Dimensions > 0 && len(vector) != c.cfg.Dimensions {
		return nil, backoff.Permanent(apperrors.Wrap(apperrors.CodeDimensionMismatch,
			fmt.Sprintf("backend returned %d dimensions, configured %d", len(vector), c.cfg.Dimensions), nil))
	}
	out := make([]float32, len(vector))
	copy(out, vector)
	return out, nil
}

func (c *Client) countTokens(text string) int {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("tiktoken unavailable, falling back to rune estimate", "error", err)
			return
		}
		c.encoder = enc
	})
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	// Upper-biased estimate so oversized texts still get rejected.
	return (utf8.RuneCountInString(text) + 1) / 2
}

var _ training.Embedder = (*Client)(nil)
