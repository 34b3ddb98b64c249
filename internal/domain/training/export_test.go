package training_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lumoqi/trainbase/internal/domain/training"
	"github.com/lumoqi/trainbase/internal/infra/recordstore"
	"github.com/lumoqi/trainbase/internal/infra/vectorstore"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

type capturingSink struct {
	key         string
	data        []byte
	contentType string
	puts        int
}

func (s *capturingSink) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.key = key
	s.data = data
	s.contentType = contentType
	s.puts++
	return nil
}

func TestExportModelWritesSnapshot(t *testing.T) {
	ctx := context.Background()
	records := recordstore.NewMemoryStore(3, 0)
	sink := &capturingSink{}
	svc := training.NewExportService(records, sink, testLogger())

	modelID := uuid.New()
	ingest := newIngestService(records, vectorstore.NewMemoryStore(0), &countingNotifier{})
	result, err := ingest.Submit(ctx, 7, modelID, []training.Pair{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	})
	require.NoError(t, err)
	require.NoError(t, records.MarkDone(ctx, result.RecordIDs[0]))

	export, err := svc.ExportModel(ctx, 7, modelID)
	require.NoError(t, err)
	require.Equal(t, 2, export.Records)
	require.Equal(t, 1, sink.puts)
	require.Equal(t, "application/json", sink.contentType)
	require.True(t, strings.HasPrefix(export.Key, "exports/7/"+modelID.String()+"/"), "got key %q", export.Key)
	require.True(t, strings.HasSuffix(export.Key, ".json"))

	var snapshot struct {
		ModelID uuid.UUID         `json:"modelId"`
		Records []training.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(sink.data, &snapshot))
	require.Equal(t, modelID, snapshot.ModelID)
	require.Len(t, snapshot.Records, 2)
	require.Equal(t, training.StatusDone, snapshot.Records[0].Status)
	require.Equal(t, training.StatusWaiting, snapshot.Records[1].Status)
}

func TestExportModelScopedToUser(t *testing.T) {
	ctx := context.Background()
	records := recordstore.NewMemoryStore(3, 0)
	sink := &capturingSink{}
	svc := training.NewExportService(records, sink, testLogger())

	modelID := uuid.New()
	_, err := records.InsertBatch(ctx, 1, modelID, []training.Pair{{Question: "q", Answer: "a"}})
	require.NoError(t, err)

	export, err := svc.ExportModel(ctx, 2, modelID)
	require.NoError(t, err)
	require.Zero(t, export.Records, "another user's records must not leak into the export")
}

func TestExportDisabledWithoutSink(t *testing.T) {
	ctx := context.Background()
	svc := training.NewExportService(recordstore.NewMemoryStore(3, 0), nil, testLogger())

	_, err := svc.ExportModel(ctx, 1, uuid.New())
	require.True(t, apperrors.IsCode(err, apperrors.CodeExportDisabled))
}
