package training

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// IngestService validates and persists submitted training pairs. Vectorization
// happens asynchronously; callers observe progress through record status.
type IngestService struct {
	cfg      Config
	records  RecordStore
	vectors  VectorStore
	notifier Notifier
	logger   *slog.Logger
}

// NewIngestService constructs the service.
func NewIngestService(cfg Config, records RecordStore, vectors VectorStore, notifier Notifier, logger *slog.Logger) *IngestService {
	return &IngestService{
		cfg:      cfg.withDefaults(),
		records:  records,
		vectors:  vectors,
		notifier: notifier,
		logger:   logger.With("component", "training.ingest"),
	}
}

// SubmitResult reports what a batch submission persisted.
type SubmitResult struct {
	Inserted  int         `json:"inserted"`
	RecordIDs []uuid.UUID `json:"recordIds"`
}

// Submit inserts one waiting record per pair and wakes the worker pool.
// The (userID, modelID) tuple is trusted; ownership checks happen upstream.
func (s *IngestService) Submit(ctx context.Context, userID int64, modelID uuid.UUID, pairs []Pair) (SubmitResult, error) {
	if userID == 0 {
		return SubmitResult{}, apperrors.Wrap(apperrors.CodeUnauthorized, "missing user", nil)
	}
	if modelID == uuid.Nil {
		return SubmitResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, "model id is required", nil)
	}
	if len(pairs) == 0 {
		return SubmitResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, "batch cannot be empty", nil)
	}
	if len(pairs) > s.cfg.MaxBatchSize {
		return SubmitResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("batch exceeds %d pairs", s.cfg.MaxBatchSize), nil)
	}

	cleaned := make([]Pair, 0, len(pairs))
	for i, pair := range pairs {
		question := strings.TrimSpace(pair.Question)
		answer := strings.TrimSpace(pair.Answer)
		if question == "" || answer == "" {
			return SubmitResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("pair %d has an empty question or answer", i), nil)
		}
		cleaned = append(cleaned, Pair{Question: question, Answer: answer})
	}

	ids, err := s.records.InsertBatch(ctx, userID, modelID, cleaned)
	if err != nil {
		return SubmitResult{}, apperrors.Wrap(apperrors.CodeStorage, "failed to persist training pairs", err)
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx); err != nil {
			// The pool self-polls, so a lost wake-up only delays processing.
			s.logger.Warn("worker wake-up failed", "error", err)
		}
	}

	s.logger.Info("batch accepted", "user_id", userID, "model_id", modelID, "records", len(ids))
	return SubmitResult{Inserted: len(ids), RecordIDs: ids}, nil
}

// ListRecords returns the user's records for a model.
func (s *IngestService) ListRecords(ctx context.Context, userID int64, modelID uuid.UUID, filter RecordFilter) ([]Record, error) {
	if userID == 0 {
		return nil, apperrors.Wrap(apperrors.CodeUnauthorized, "missing user", nil)
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("unknown status %q", status), nil)
		}
	}
	records, err := s.records.ListByModel(ctx, userID, modelID, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorage, "failed to list records", err)
	}
	return records, nil
}

// DeleteRecord removes a record and its vector entry. The record row goes
// first so a crash in between leaves only an orphaned vector, which the next
// Delete call cleans up idempotently.
func (s *IngestService) DeleteRecord(ctx context.Context, userID int64, id uuid.UUID) error {
	if userID == 0 {
		return apperrors.Wrap(apperrors.CodeUnauthorized, "missing user", nil)
	}
	_, found, err := s.records.Delete(ctx, userID, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorage, "failed to delete record", err)
	}
	if !found {
		return apperrors.Wrap(apperrors.CodeNotFound, "record not found", nil)
	}
	if err := s.vectors.Delete(ctx, id); err != nil {
		return apperrors.Wrap(apperrors.CodeStorage, "record deleted but vector cleanup failed", err)
	}
	return nil
}

// Stats reports record counts per lifecycle status.
func (s *IngestService) Stats(ctx context.Context) (map[RecordStatus]int64, error) {
	counts, err := s.records.CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorage, "failed to count records", err)
	}
	return counts, nil
}
