package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedutinova/stockrank/internal/auth"
	"github.com/fedutinova/stockrank/internal/config"
	"github.com/fedutinova/stockrank/internal/database"
	"github.com/fedutinova/stockrank/internal/dispatcher"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/markettest"
	"github.com/fedutinova/stockrank/internal/memq"
	"github.com/fedutinova/stockrank/internal/models"
	"github.com/fedutinova/stockrank/internal/repository"
	"github.com/fedutinova/stockrank/internal/storage"
)

var (
	lastDay = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	now     = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	router http.Handler
	broker *memq.Queue
	store  *repository.SQLite
}

func setup(t *testing.T, secret string) fixture {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := repository.NewSQLite(db.DB)
	_, err = store.SavePrices(context.Background(),
		markettest.Bars(markettest.Symbols(3), markettest.Weekdays(lastDay, 10), 0.5))
	require.NoError(t, err)

	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	broker := memq.NewMemoryQueue()
	t.Cleanup(func() { _ = broker.Close() })

	h := &Handlers{
		Dispatcher: dispatcher.New(broker, store, store, archive, dispatcher.Config{Now: func() time.Time { return now }}),
		Broker:     broker,
		Store:      store,
		Archive:    archive,
		Config:     config.Config{JWTSecret: secret, JWTIssuer: "stockrank-test"},
	}
	r := chi.NewRouter()
	h.Routers(r)
	return fixture{router: r, broker: broker, store: store}
}

func (f fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_DispatchStatusCancel(t *testing.T) {
	f := setup(t, "")

	rec := f.do(t, http.MethodPost, "/v1/batches", `{"start":"2024-06-26","end":"2024-06-28","symbols":["SYM00","SYM01"]}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var sum dispatcher.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, 3, sum.Processed)
	assert.NotEmpty(t, sum.BatchID)
	assert.Equal(t, storage.ReportKey(now, sum.BatchID), sum.ReportKey)

	rec = f.do(t, http.MethodGet, "/v1/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st dispatcher.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.EqualValues(t, 3, st.Stats.Pending)
	require.NotNil(t, st.Batch)
	assert.Equal(t, sum.BatchID, st.Batch.BatchID)

	j, err := f.broker.Dequeue(context.Background(), "w1", 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, j)

	rec = f.do(t, http.MethodGet, "/v1/jobs/"+j.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got job.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, job.StatusProcessing, got.Status)
	assert.Equal(t, []string{"SYM00", "SYM01"}, got.Symbols)

	rec = f.do(t, http.MethodGet, "/v1/jobs/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/reports/2024-07-01/"+sum.BatchID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), sum.BatchID)

	rec = f.do(t, http.MethodGet, "/v1/reports/2024-07-01/"+sum.BatchID+"/url", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "file://")

	rec = f.do(t, http.MethodDelete, "/v1/queue", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":2}`, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/v1/reports/2024-07-01/"+sum.BatchID, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/reports/2024-07-01/"+sum.BatchID, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_DispatchValidation(t *testing.T) {
	f := setup(t, "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"years":`, http.StatusBadRequest},
		{"unknown field", `{"yeers":2}`, http.StatusBadRequest},
		{"years out of range", `{"years":50}`, http.StatusBadRequest},
		{"half a window", `{"start":"2024-01-02"}`, http.StatusBadRequest},
		{"nothing in window", `{"start":"2020-01-01","end":"2020-01-31"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/batches", tt.body, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	stats, err := f.broker.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}

func TestHandlers_TopRankings(t *testing.T) {
	f := setup(t, "")
	_, err := f.store.SaveRankings(context.Background(), []models.Ranking{
		{Symbol: "SYM00", RankingDate: lastDay, CompositeScore: 20, CompositeRank: 3, TotalStocksRanked: 3},
		{Symbol: "SYM01", RankingDate: lastDay, CompositeScore: 50, CompositeRank: 2, TotalStocksRanked: 3},
		{Symbol: "SYM02", RankingDate: lastDay, CompositeScore: 80, CompositeRank: 1, TotalStocksRanked: 3},
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v1/rankings/2024-06-28?limit=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []models.Ranking
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "SYM02", rows[0].Symbol)
	assert.Equal(t, "SYM01", rows[1].Symbol)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/rankings/June", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/rankings/2024-06-28?limit=0", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/rankings/2024-06-27", "", "").Code)
}

func TestHandlers_Auth(t *testing.T) {
	const secret = "s3cret"
	f := setup(t, secret)

	token := func(role string) string {
		s, err := auth.NewToken(secret, "stockrank-test", "tester", []string{role}, time.Minute)
		require.NoError(t, err)
		return s
	}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/status", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/status", "", token(auth.RoleViewer)).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/batches", `{}`, token(auth.RoleViewer)).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, "/v1/queue", "", token(auth.RoleViewer)).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/v1/queue", "", token(auth.RoleOperator)).Code)

	// Probes stay open.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", "").Code)
}

func TestHandlers_Ready(t *testing.T) {
	f := setup(t, "")

	rec := f.do(t, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hs HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hs))
	assert.Equal(t, StatusHealthy, hs.Status)
	assert.Equal(t, StatusHealthy, hs.Checks["store"].Status)
	assert.Equal(t, StatusHealthy, hs.Checks["broker"].Status)
	assert.Equal(t, StatusHealthy, hs.Checks["queue"].Status)

	// Pending work with nobody to run it.
	_, err := f.broker.Enqueue(context.Background(), job.NewDateJob(lastDay, "b", nil, 0))
	require.NoError(t, err)
	rec = f.do(t, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hs))
	assert.Equal(t, StatusDegraded, hs.Status)

	require.NoError(t, f.broker.Close())
	rec = f.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlers_StreamEvents(t *testing.T) {
	f := setup(t, "")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.NoError(t, f.broker.Publish(context.Background(), job.Event{Type: job.EventJobCompleted, JobID: "42"}))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: job_completed\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"job_id":"42"`)
}
