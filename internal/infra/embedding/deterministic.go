package embedding

import (
	"context"
	"hash/fnv"

	"github.com/lumoqi/trainbase/internal/domain/training"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// Deterministic hashes text into a pseudo-random vector. It keeps the
// pipeline runnable without an embedding backend: identical texts map to
// identical vectors, so similarity search still round-trips in tests and
// local runs.
type Deterministic struct {
	dim int
}

// NewDeterministic constructs the embedder.
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 32
	}
	return &Deterministic{dim: dim}
}

// Embed converts text into a stable vector derived from its hash.
func (e *Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, apperrors.Wrap(apperrors.CodeEmbeddingRejected, "text cannot be empty", nil)
	}
	vector := make([]float32, e.dim)
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(text))
	seed := hash.Sum64()
	for i := 0; i < e.dim; i++ {
		seed = seed*1099511628211 + 1469598103934665603
		vector[i] = float32(seed%997)/997.0 - 0.5
	}
	return vector, nil
}

var _ training.Embedder = (*Deterministic)(nil)
