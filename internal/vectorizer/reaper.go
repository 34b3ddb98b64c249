package vectorizer

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumoqi/trainbase/internal/domain/training"
)

// Reaper requeues records stuck in processing after a worker crash. Without
// it a record orphaned between claim and mark-done would be dropped silently.
type Reaper struct {
	records    training.RecordStore
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewReaper constructs the reaper.
func NewReaper(cfg Config, records training.RecordStore, logger *slog.Logger) *Reaper {
	cfg = cfg.withDefaults()
	return &Reaper{
		records:    records,
		interval:   cfg.ReapInterval,
		staleAfter: cfg.StaleAfter,
		logger:     logger.With("component", "vectorizer.reaper"),
	}
}

// Run requeues stale records on a timer until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("requeue pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single requeue pass.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	requeued, err := r.records.RequeueStale(ctx, r.staleAfter)
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		r.logger.Warn("requeued stale records", "count", requeued, "stale_after", r.staleAfter)
	}
	return requeued, nil
}
