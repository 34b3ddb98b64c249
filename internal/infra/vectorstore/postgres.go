package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lumoqi/trainbase/internal/domain/training"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// PostgresStore persists vector entries in the vector_entries table:
//
//	record_id uuid primary key, model_id uuid, embedding vector(dim),
//	question text, answer text, created_at timestamptz, updated_at timestamptz
//
// Ranking uses cosine distance (<=>); scores are reported as 1 - distance so
// higher is better, consistent with the in-memory store.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresStore constructs the store with a fixed dimensionality.
func NewPostgresStore(pool *pgxpool.Pool, dim int) *PostgresStore {
	return &PostgresStore{pool: pool, dim: dim}
}

func (s *PostgresStore) checkDim(vector []float32) error {
	if s.dim > 0 && len(vector) != s.dim {
		return apperrors.Wrap(apperrors.CodeDimensionMismatch,
			fmt.Sprintf("vector has %d dimensions, store expects %d", len(vector), s.dim), nil)
	}
	return nil
}

// Upsert replaces any prior entry for the same record, so retried writes
// after a worker crash stay idempotent.
func (s *PostgresStore) Upsert(ctx context.Context, entry training.VectorEntry) error {
	if err := s.checkDim(entry.Vector); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vector_entries (record_id, model_id, embedding, question, answer, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (record_id) DO UPDATE
		SET model_id = EXCLUDED.model_id,
		    embedding = EXCLUDED.embedding,
		    question = EXCLUDED.question,
		    answer = EXCLUDED.answer,
		    updated_at = NOW()
	`, entry.RecordID, entry.ModelID, pgvector.NewVector(entry.Vector), entry.Payload.Question, entry.Payload.Answer)
	return err
}

func (s *PostgresStore) Search(ctx context.Context, modelID uuid.UUID, vector []float32, topK int) ([]training.Match, error) {
	if err := s.checkDim(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT record_id, question, answer, 1 - (embedding <=> $1) AS score
		FROM vector_entries
		WHERE model_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(vector), modelID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []training.Match
	for rows.Next() {
		var m training.Match
		if err := rows.Scan(&m.RecordID, &m.Question, &m.Answer, &m.Score); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, recordID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vector_entries WHERE record_id = $1`, recordID)
	return err
}

func (s *PostgresStore) DeleteByModel(ctx context.Context, modelID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vector_entries WHERE model_id = $1`, modelID)
	return err
}

var _ training.VectorStore = (*PostgresStore)(nil)
