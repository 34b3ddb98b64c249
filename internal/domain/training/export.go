package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// ExportService snapshots a model's training pairs into object storage.
type ExportService struct {
	records RecordStore
	sink    ObjectSink
	logger  *slog.Logger
	now     func() time.Time
}

// NewExportService constructs the service. A nil sink disables exporting.
func NewExportService(records RecordStore, sink ObjectSink, logger *slog.Logger) *ExportService {
	return &ExportService{
		records: records,
		sink:    sink,
		logger:  logger.With("component", "training.export"),
		now:     time.Now,
	}
}

// ExportResult identifies a stored snapshot.
type ExportResult struct {
	Key     string `json:"key"`
	Records int    `json:"records"`
}

type exportSnapshot struct {
	ModelID    uuid.UUID `json:"modelId"`
	ExportedAt time.Time `json:"exportedAt"`
	Records    []Record  `json:"records"`
}

// ExportModel writes all of the user's records for the model as one JSON
// object. Status and failure reasons are included so the snapshot doubles as
// an audit of the vectorization backlog.
func (s *ExportService) ExportModel(ctx context.Context, userID int64, modelID uuid.UUID) (ExportResult, error) {
	if s.sink == nil {
		return ExportResult{}, apperrors.Wrap(apperrors.CodeExportDisabled, "export storage is not configured", nil)
	}
	if userID == 0 {
		return ExportResult{}, apperrors.Wrap(apperrors.CodeUnauthorized, "missing user", nil)
	}
	if modelID == uuid.Nil {
		return ExportResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, "model id is required", nil)
	}

	records, err := s.records.ListByModel(ctx, userID, modelID, RecordFilter{})
	if err != nil {
		return ExportResult{}, apperrors.Wrap(apperrors.CodeStorage, "failed to load records", err)
	}

	exportedAt := s.now().UTC()
	payload, err := json.Marshal(exportSnapshot{
		ModelID:    modelID,
		ExportedAt: exportedAt,
		Records:    records,
	})
	if err != nil {
		return ExportResult{}, apperrors.Wrap(apperrors.CodeStorage, "failed to encode snapshot", err)
	}

	key := fmt.Sprintf("exports/%d/%s/%s.json", userID, modelID, exportedAt.Format("20060102T150405Z"))
	if err := s.sink.Put(ctx, key, payload, "application/json"); err != nil {
		return ExportResult{}, apperrors.Wrap(apperrors.CodeStorage, "failed to store snapshot", err)
	}

	s.logger.Info("model exported", "user_id", userID, "model_id", modelID, "records", len(records), "key", key)
	return ExportResult{Key: key, Records: len(records)}, nil
}
