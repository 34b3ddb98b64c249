package training

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// RetrieveService answers similarity queries against a model's vector entries.
// It is independent of worker timing: only done records are searchable.
type RetrieveService struct {
	cfg      Config
	vectors  VectorStore
	embedder Embedder
	logger   *slog.Logger
}

// NewRetrieveService constructs the service.
func NewRetrieveService(cfg Config, vectors VectorStore, embedder Embedder, logger *slog.Logger) *RetrieveService {
	return &RetrieveService{
		cfg:      cfg.withDefaults(),
		vectors:  vectors,
		embedder: embedder,
		logger:   logger.With("component", "training.retrieve"),
	}
}

// Retrieve embeds the query and returns the best matches for the model.
// Embedding outages and blown latency budgets surface as retrieval_unavailable
// so a chat turn can degrade to answering without retrieved context.
func (s *RetrieveService) Retrieve(ctx context.Context, modelID uuid.UUID, query string, topK int) ([]Match, error) {
	if modelID == uuid.Nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "model id is required", nil)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "query cannot be empty", nil)
	}
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRetrievalUnavailable, "query embedding failed", err)
	}

	matches, err := s.vectors.Search(ctx, modelID, vector, topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.CodeRetrievalUnavailable, "search exceeded latency budget", err)
		}
		if apperrors.IsCode(err, apperrors.CodeDimensionMismatch) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeStorage, "similarity search failed", err)
	}
	return matches, nil
}
