package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lumoqi/trainbase/internal/domain/training"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// MemoryStore is an in-memory cosine-similarity vector store for tests and
// DSN-less dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]training.VectorEntry
	dim     int
}

// NewMemoryStore constructs the store with a fixed dimensionality.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]training.VectorEntry), dim: dim}
}

func (s *MemoryStore) checkDim(vector []float32) error {
	if s.dim > 0 && len(vector) != s.dim {
		return apperrors.Wrap(apperrors.CodeDimensionMismatch,
			fmt.Sprintf("vector has %d dimensions, store expects %d", len(vector), s.dim), nil)
	}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, entry training.VectorEntry) error {
	if err := s.checkDim(entry.Vector); err != nil {
		return err
	}
	vector := make([]float32, len(entry.Vector))
	copy(vector, entry.Vector)
	entry.Vector = vector

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.RecordID] = entry
	return nil
}

func (s *MemoryStore) Search(_ context.Context, modelID uuid.UUID, vector []float32, topK int) ([]training.Match, error) {
	if err := s.checkDim(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []training.Match
	for _, entry := range s.entries {
		if entry.ModelID != modelID {
			continue
		}
		matches = append(matches, training.Match{
			RecordID: entry.RecordID,
			Question: entry.Payload.Question,
			Answer:   entry.Payload.Answer,
			Score:    cosine(vector, entry.Vector),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) Delete(_ context.Context, recordID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, recordID)
	return nil
}

func (s *MemoryStore) DeleteByModel(_ context.Context, modelID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if entry.ModelID == modelID {
			delete(s.entries, id)
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ training.VectorStore = (*MemoryStore)(nil)
