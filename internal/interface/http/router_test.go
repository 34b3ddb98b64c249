package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lumoqi/trainbase/internal/domain/training"
	"github.com/lumoqi/trainbase/internal/infra/config"
	"github.com/lumoqi/trainbase/internal/infra/embedding"
	"github.com/lumoqi/trainbase/internal/infra/recordstore"
	"github.com/lumoqi/trainbase/internal/infra/vectorstore"
	"github.com/lumoqi/trainbase/internal/infra/wakeup"
	"github.com/lumoqi/trainbase/internal/vectorizer"
)

type testApp struct {
	router  http.Handler
	pool    *vectorizer.Pool
	records *recordstore.MemoryStore
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()

	cfg := &config.Config{}
	cfg.HTTP.Address = ":0"
	cfg.Retrieval = config.RetrievalConfig{DefaultTopK: 4, MaxTopK: 20, Timeout: time.Second}
	if mutate != nil {
		mutate(cfg)
	}

	logger := testLogger()
	records := recordstore.NewMemoryStore(3, 0)
	vectors := vectorstore.NewMemoryStore(8)
	embedder := embedding.NewDeterministic(8)
	signal := wakeup.NewChannelSignal()
	t.Cleanup(signal.Close)

	trainingCfg := training.Config{
		DefaultTopK:      cfg.Retrieval.DefaultTopK,
		MaxTopK:          cfg.Retrieval.MaxTopK,
		RetrievalTimeout: cfg.Retrieval.Timeout,
	}
	ingest := training.NewIngestService(trainingCfg, records, vectors, signal, logger)
	retrieve := training.NewRetrieveService(trainingCfg, vectors, embedder, logger)
	export := training.NewExportService(records, nil, logger)

	pool, err := vectorizer.NewPool(vectorizer.Config{PoolSize: 2, BatchSize: 8}, records, vectors, embedder, signal.C(), logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	handler := NewHandler(ingest, retrieve, export, logger)
	server := NewRouter(cfg, handler, logger)
	return &testApp{router: server.Handler, pool: pool, records: records}
}

func (a *testApp) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-ID": id}
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, nil)
	rec := app.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresUser(t *testing.T) {
	app := newTestApp(t, nil)
	modelID := uuid.New()

	rec := app.do(t, http.MethodPost, "/api/v1/models/"+modelID.String()+"/records", submitRequest{}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/v1/models/"+modelID.String()+"/records", nil, asUser("not-a-number"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitProcessSearchFlow(t *testing.T) {
	app := newTestApp(t, nil)
	modelID := uuid.New()
	base := "/api/v1/models/" + modelID.String()

	rec := app.do(t, http.MethodPost, base+"/records", submitRequest{Records: []training.Pair{
		{Question: "what is the refund window", Answer: "14 days"},
		{Question: "how long does shipping take", Answer: "3-5 business days"},
	}}, asUser("7"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted training.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Equal(t, 2, submitted.Inserted)

	// Records land as waiting until the worker pool picks them up.
	rec = app.do(t, http.MethodGet, base+"/records?status=waiting", nil, asUser("7"))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Items []training.Record `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Items, 2)

	processed, err := app.pool.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	rec = app.do(t, http.MethodPost, base+"/search", searchRequest{Query: "what is the refund window", TopK: 1}, asUser("7"))
	require.Equal(t, http.StatusOK, rec.Code)
	var searched struct {
		Matches []training.Match `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &searched))
	require.Len(t, searched.Matches, 1)
	require.Equal(t, "what is the refund window", searched.Matches[0].Question)
	require.Equal(t, "14 days", searched.Matches[0].Answer)

	rec = app.do(t, http.MethodGet, "/api/v1/stats", nil, asUser("7"))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Records map[training.RecordStatus]int64 `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, int64(2), stats.Records[training.StatusDone])
}

func TestSearchOnEmptyModelReturnsEmptyList(t *testing.T) {
	app := newTestApp(t, nil)
	base := "/api/v1/models/" + uuid.New().String()

	rec := app.do(t, http.MethodPost, base+"/search", searchRequest{Query: "anything"}, asUser("7"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"matches":[]}`, rec.Body.String())
}

func TestSubmitValidationErrors(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(t, http.MethodPost, "/api/v1/models/not-a-uuid/records", submitRequest{}, asUser("7"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	base := "/api/v1/models/" + uuid.New().String()
	rec = app.do(t, http.MethodPost, base+"/records", submitRequest{}, asUser("7"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, base+"/records", submitRequest{Records: []training.Pair{{Question: "q"}}}, asUser("7"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRecord(t *testing.T) {
	app := newTestApp(t, nil)
	modelID := uuid.New()

	ids, err := app.records.InsertBatch(context.Background(), 7, modelID, []training.Pair{{Question: "q", Answer: "a"}})
	require.NoError(t, err)

	rec := app.do(t, http.MethodDelete, "/api/v1/records/"+ids[0].String(), nil, asUser("7"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = app.do(t, http.MethodDelete, "/api/v1/records/"+ids[0].String(), nil, asUser("7"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportUnavailableWithoutSink(t *testing.T) {
	app := newTestApp(t, nil)
	base := "/api/v1/models/" + uuid.New().String()

	rec := app.do(t, http.MethodPost, base+"/export", nil, asUser("7"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = secret
	})
	base := "/api/v1/models/" + uuid.New().String()
	body := submitRequest{Records: []training.Pair{{Question: "q", Answer: "a"}}}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	rec := app.do(t, http.MethodPost, base+"/records", body, map[string]string{"Authorization": "Bearer " + signed})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = app.do(t, http.MethodPost, base+"/records", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodPost, base+"/records", body, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Dev header is ignored once a secret is configured.
	rec = app.do(t, http.MethodPost, base+"/records", body, asUser("7"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.HTTP.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		rec := app.do(t, http.MethodGet, "/api/v1/stats", nil, asUser("7"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := app.do(t, http.MethodGet, "/api/v1/stats", nil, asUser("7"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Another user has their own bucket.
	rec = app.do(t, http.MethodGet, "/api/v1/stats", nil, asUser("8"))
	require.Equal(t, http.StatusOK, rec.Code)
}
