package vectorizer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lumoqi/trainbase/internal/domain/training"
	"github.com/lumoqi/trainbase/internal/infra/recordstore"
	"github.com/lumoqi/trainbase/internal/infra/vectorstore"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

const testDim = 4

// scriptedEmbedder fails the first transientFailures calls with a transient
// error, then succeeds. With reject set it always returns a permanent error.
type scriptedEmbedder struct {
	mu                sync.Mutex
	transientFailures int
	reject            bool
	calls             int
}

func (e *scriptedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.reject {
		return nil, apperrors.Wrap(apperrors.CodeEmbeddingRejected, "text rejected by backend", nil)
	}
	if e.calls <= e.transientFailures {
		return nil, apperrors.Wrap(apperrors.CodeEmbeddingUnavailable, "backend unavailable", nil)
	}
	vector := make([]float32, testDim)
	for i, r := range text {
		vector[i%testDim] += float32(r) / 1000
	}
	return vector, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T, records training.RecordStore, vectors training.VectorStore, embedder training.Embedder) *Pool {
	t.Helper()
	pool, err := NewPool(Config{PoolSize: 2, BatchSize: 8}, records, vectors, embedder, make(chan struct{}), testLogger())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRunOnceVectorizesClaimedBatch(t *testing.T) {
	ctx := context.Background()
	records := recordstore.NewMemoryStore(3, 0)
	vectors := vectorstore.NewMemoryStore(testDim)
	embedder := &scriptedEmbedder{}
	pool := newTestPool(t, records, vectors, embedder)

	modelID := uuid.New()
	ids, err := records.InsertBatch(ctx, 1, modelID, []training.Pair{
		{Question: "how do refunds work", Answer: "within 14 days"},
		{Question: "how do returns work", Answer: "use the portal"},
	})
	require.NoError(t, err)

	processed, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	for _, id := range ids {
		rec, found, err := records.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, training.StatusDone, rec.Status)
	}

	query, err := embedder.Embed(ctx, "how do refunds work")
	require.NoError(t, err)
	matches, err := vectors.Search(ctx, modelID, query, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "how do refunds work", matches[0].Question)
	require.Equal(t, "within 14 days", matches[0].Answer)

	// No work left.
	processed, err = pool.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, processed)
}

func TestTransientFailureRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	records := recordstore.NewMemoryStore(3, 0)
	vectors := vectorstore.NewMemoryStore(testDim)
	embedder := &scriptedEmbedder{transientFailures: 2}
	pool := newTestPool(t, records, vectors, embedder)

	ids, err := records.InsertBatch(ctx, 1, uuid.New(), []training.Pair{{Question: "q", Answer: "a"}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = pool.RunOnce(ctx)
		require.NoError(t, err)
		rec, _, err := records.Get(ctx, ids[0])
		require.NoError(t, err)
		require.Equal(t, training.StatusWaiting, rec.Status)
		require.Equal(t, i+1, rec.Attempts)
		require.NotNil(t, rec.LastError)
	}

	_, err = pool.RunOnce(ctx)
	require.NoError(t, err)
	rec, _, err := records.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, training.StatusDone, rec.Status)
}

func TestTransientFailureExhaustsAttemptBudget(t *testing.T) {
	ctx := context.Background()
	records := recordstore.NewMemoryStore(3, 0)
	vectors := vectorstore.NewMemoryStore(testDim)
	embedder := &scriptedEmbedder{transientFailures: 100}
	pool := newTestPool(t, records, vectors, embedder)

	ids, err := records.InsertBatch(ctx, 1, uuid.New(), []training.Pair{{Question: "q", Answer: "a"}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = pool.RunOnce(ctx)
		require.NoError(t, err)
	}
	rec, _, err := records.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, training.StatusFailed, rec.Status)
	require.Equal(t, 3, rec.Attempts)

	processed, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, processed)
	require.Equal(t, 3, embedder.calls)
}

func TestRejectedRecordFailsTerminally(t *testing.T) {
	ctx := context.Background()
	records := recordstore.NewMemoryStore(3, 0)
	vectors := vectorstore.NewMemoryStore(testDim)
	embedder := &scriptedEmbedder{reject: true}
	pool := newTestPool(t, records, vectors, embedder)

	ids, err := records.InsertBatch(ctx, 1, uuid.New(), []training.Pair{{Question: "q", Answer: "a"}})
	require.NoError(t, err)

	_, err = pool.RunOnce(ctx)
	require.NoError(t, err)

	rec, _, err := records.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, training.StatusFailed, rec.Status)
	require.Equal(t, 1, rec.Attempts, "permanent rejection must not burn extra attempts")

	processed, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, processed)
	require.Equal(t, 1, embedder.calls)
}

func TestFailuresIsolatedPerRecord(t *testing.T) {
	ctx := context.Background()
	records := recordstore.NewMemoryStore(3, 0)
	vectors := vectorstore.NewMemoryStore(testDim)
	embedder := &scriptedEmbedder{transientFailures: 1}
	pool := newTestPool(t, records, vectors, embedder)

	modelID := uuid.New()
	_, err := records.InsertBatch(ctx, 1, modelID, []training.Pair{
		{Question: "first", Answer: "a"},
		{Question: "second", Answer: "a"},
		{Question: "third", Answer: "a"},
	})
	require.NoError(t, err)

	processed, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, processed)

	counts, err := records.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[training.StatusDone], "one transient failure must not sink the batch")
	require.Equal(t, int64(1), counts[training.StatusWaiting])
}

func TestWakeSignalTriggersDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := recordstore.NewMemoryStore(3, 0)
	vectors := vectorstore.NewMemoryStore(testDim)
	embedder := &scriptedEmbedder{}
	wake := make(chan struct{}, 1)

	pool, err := NewPool(Config{PoolSize: 2, BatchSize: 8, PollInterval: time.Hour}, records, vectors, embedder, wake, testLogger())
	require.NoError(t, err)
	defer pool.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	ids, err := records.InsertBatch(ctx, 1, uuid.New(), []training.Pair{{Question: "q", Answer: "a"}})
	require.NoError(t, err)
	wake <- struct{}{}

	require.Eventually(t, func() bool {
		rec, _, err := records.Get(ctx, ids[0])
		return err == nil && rec.Status == training.StatusDone
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestReaperRequeuesStaleProcessing(t *testing.T) {
	ctx := context.Background()
	records := recordstore.NewMemoryStore(3, 0)
	reaper := NewReaper(Config{StaleAfter: time.Millisecond}, records, testLogger())

	ids, err := records.InsertBatch(ctx, 1, uuid.New(), []training.Pair{{Question: "q", Answer: "a"}})
	require.NoError(t, err)

	// Simulate a worker that claimed and then crashed.
	claimed, err := records.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	time.Sleep(5 * time.Millisecond)
	requeued, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	rec, _, err := records.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, training.StatusWaiting, rec.Status)
	require.Zero(t, rec.Attempts, "reaping is not a failure")

	// Second pass finds nothing.
	requeued, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, requeued)
}
