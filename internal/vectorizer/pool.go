package vectorizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/lumoqi/trainbase/internal/domain/training"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// Config tunes the worker pool and reaper.
type Config struct {
	PoolSize     int
	BatchSize    int
	PollInterval time.Duration
	StaleAfter   time.Duration
	ReapInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	return c
}

// Pool pulls claimed records through embed -> upsert -> done. Records fail
// individually; an embedding outage never takes the pool down. Scheduling is
// pull based: wake-ups from ingestion are an optimization on top of the poll
// ticker, so correctness never depends on a signal being observed.
type Pool struct {
	cfg      Config
	records  training.RecordStore
	vectors  training.VectorStore
	embedder training.Embedder
	wake     <-chan struct{}
	workers  *ants.Pool
	logger   *slog.Logger
}

// NewPool constructs the pool.
func NewPool(cfg Config, records training.RecordStore, vectors training.VectorStore, embedder training.Embedder, wake <-chan struct{}, logger *slog.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	workers, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("init worker pool: %w", err)
	}
	return &Pool{
		cfg:      cfg,
		records:  records,
		vectors:  vectors,
		embedder: embedder,
		wake:     wake,
		workers:  workers,
		logger:   logger.With("component", "vectorizer.pool"),
	}, nil
}

// Run drains pending work until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// Close releases the worker goroutines.
func (p *Pool) Close() {
	p.workers.Release()
}

func (p *Pool) drain(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Error("claim iteration failed", "error", err)
			return
		}
		if processed == 0 {
			return
		}
	}
}

// RunOnce claims one batch and processes every record in it, returning the
// number of records claimed.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	claimed, err := p.records.ClaimPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim pending: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, rec := range claimed {
		rec := rec
		wg.Add(1)
		task := func() {
			defer wg.Done()
			p.process(ctx, rec)
		}
		if err := p.workers.Submit(task); err != nil {
			// Pool released mid-shutdown; finish the claimed record inline so
			// it does not dangle in processing until the reaper finds it.
			task()
		}
	}
	wg.Wait()
	return len(claimed), nil
}

// process runs one record through the embed -> upsert -> done sequence.
// Only the question is embedded; the answer travels as payload.
func (p *Pool) process(ctx context.Context, rec training.Record) {
	vector, err := p.embedder.Embed(ctx, rec.Question)
	if err != nil {
		p.fail(ctx, rec, err, apperrors.IsCode(err, apperrors.CodeEmbeddingRejected))
		return
	}

	entry := training.VectorEntry{
		RecordID: rec.ID,
		ModelID:  rec.ModelID,
		Vector:   vector,
		Payload:  training.Pair{Question: rec.Question, Answer: rec.Answer},
	}
	if err := p.vectors.Upsert(ctx, entry); err != nil {
		p.fail(ctx, rec, err, apperrors.IsCode(err, apperrors.CodeDimensionMismatch))
		return
	}

	if err := p.records.MarkDone(ctx, rec.ID); err != nil {
		// The record stays in processing; the reaper requeues it and the
		// idempotent upsert absorbs the replay.
		p.logger.Error("mark done failed", "record_id", rec.ID, "error", err)
		return
	}
	p.logger.Debug("record vectorized", "record_id", rec.ID, "model_id", rec.ModelID)
}

func (p *Pool) fail(ctx context.Context, rec training.Record, cause error, terminal bool) {
	if err := p.records.MarkFailed(ctx, rec.ID, cause.Error(), terminal); err != nil {
		p.logger.Error("mark failed failed", "record_id", rec.ID, "error", err)
		return
	}
	p.logger.Warn("record vectorization failed",
		"record_id", rec.ID, "model_id", rec.ModelID, "terminal", terminal, "error", cause)
}
