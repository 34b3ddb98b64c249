package training

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordStore owns training records and their lifecycle status.
type RecordStore interface {
	// InsertBatch creates one waiting record per pair and returns the new ids
	// in submission order.
	InsertBatch(ctx context.Context, userID int64, modelID uuid.UUID, pairs []Pair) ([]uuid.UUID, error)
	// ClaimPending atomically moves up to limit waiting records to processing
	// and returns them. Concurrent claimers never receive the same record.
	ClaimPending(ctx context.Context, limit int) ([]Record, error)
	// MarkDone finalizes a successfully vectorized record.
	MarkDone(ctx context.Context, id uuid.UUID) error
	// MarkFailed records a failure. Transient failures are requeued with a
	// backoff delay until the attempt budget is exhausted; terminal failures
	// and exhausted records stay failed.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, terminal bool) error
	// RequeueStale returns records stuck in processing longer than olderThan
	// back to waiting. The reaper calls this on a timer.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
	Get(ctx context.Context, id uuid.UUID) (Record, bool, error)
	ListByModel(ctx context.Context, userID int64, modelID uuid.UUID, filter RecordFilter) ([]Record, error)
	CountByStatus(ctx context.Context) (map[RecordStatus]int64, error)
	// Delete removes a user's record. The caller is responsible for removing
	// the corresponding vector entry as well.
	Delete(ctx context.Context, userID int64, id uuid.UUID) (Record, bool, error)
}

// VectorStore persists embeddings and answers nearest-neighbour queries
// scoped to a model.
type VectorStore interface {
	// Upsert is idempotent: it replaces any prior entry for the same record.
	Upsert(ctx context.Context, entry VectorEntry) error
	// Search returns up to topK matches for modelID ranked by similarity.
	Search(ctx context.Context, modelID uuid.UUID, vector []float32, topK int) ([]Match, error)
	Delete(ctx context.Context, recordID uuid.UUID) error
	DeleteByModel(ctx context.Context, modelID uuid.UUID) error
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Notifier wakes the worker pool after new records are inserted. Delivery is
// best effort; the pool also polls on a timer.
type Notifier interface {
	Notify(ctx context.Context) error
}

// ObjectSink stores exported snapshots in object storage.
type ObjectSink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
