package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilnet/soilnet/internal/model"
	"github.com/soilnet/soilnet/internal/services/history"
	"github.com/soilnet/soilnet/internal/services/latency"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeStore serves canned data per node and can be forced to fail.
type fakeStore struct {
	readings map[string][]model.Reading
	samples  []latency.Sample
	err      error
}

func (f *fakeStore) ReadingsSince(_ context.Context, nodeID string, from time.Time) ([]model.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Reading
	for _, r := range f.readings[nodeID] {
		if !r.Timestamp.Before(from) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) RecentReadings(_ context.Context, nodeID string, limit int) ([]model.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	rs := f.readings[nodeID]
	if len(rs) > limit {
		rs = rs[len(rs)-limit:]
	}
	return rs, nil
}

func (f *fakeStore) LastReading(_ context.Context, nodeID string) (*model.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	rs := f.readings[nodeID]
	if len(rs) == 0 {
		return nil, nil
	}
	r := rs[len(rs)-1]
	return &r, nil
}

func (f *fakeStore) LatencySamples(_ context.Context, _ int) ([]latency.Sample, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.samples, nil
}

func newTestAPI(t *testing.T, store *fakeStore, now time.Time) *API {
	t.Helper()
	agg := history.NewAggregator(store, time.Second)
	return NewAPI(store, agg, nil, map[string]model.SoilClass{"node-clay": model.SoilClay}, fixedClock{now: now})
}

func doGet(t *testing.T, api *API, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	return rec
}

func TestLastReadingKnownNode(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{readings: map[string][]model.Reading{
		"node-1": {{NodeID: "node-1", HumidityPercent: 33.5, Timestamp: now.Add(-time.Minute)}},
	}}
	rec := doGet(t, newTestAPI(t, store, now), "/nodes/node-1/reading/latest")

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "node-1", got.NodeID)
	assert.Equal(t, 33.5, got.HumidityPercent)
}

func TestLastReadingUnknownNodeIsNull(t *testing.T) {
	now := time.Now()
	rec := doGet(t, newTestAPI(t, &fakeStore{}, now), "/nodes/ghost/reading/latest")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestAlertsUseConfiguredSoilClass(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	// 22% is dry for CLAY (dry < 25) but fine for LOAM.
	store := &fakeStore{readings: map[string][]model.Reading{
		"node-clay": {{NodeID: "node-clay", HumidityPercent: 22, RSSI: -60, Timestamp: now.Add(-time.Minute)}},
	}}
	rec := doGet(t, newTestAPI(t, store, now), "/nodes/node-clay/alerts")

	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityDanger, alerts[0].Severity)
}

func TestAlertsNoReadingIsEmptyList(t *testing.T) {
	rec := doGet(t, newTestAPI(t, &fakeStore{}, time.Now()), "/nodes/ghost/alerts")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestHistoryBucketed(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{readings: map[string][]model.Reading{
		"node-1": {
			{NodeID: "node-1", HumidityPercent: 40, Timestamp: now.Add(-15 * time.Minute)},
			{NodeID: "node-1", HumidityPercent: 60, Timestamp: now.Add(-14 * time.Minute)},
			{NodeID: "node-1", HumidityPercent: 30, Timestamp: now.Add(-3 * time.Minute)},
		},
	}}
	rec := doGet(t, newTestAPI(t, store, now), "/nodes/node-1/history?range=24h")

	require.Equal(t, http.StatusOK, rec.Code)
	var buckets []model.Bucket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &buckets))
	require.Len(t, buckets, 2)
	assert.Equal(t, 50.0, buckets[0].AvgHumidity)
	assert.Equal(t, 2, buckets[0].SampleCount)
	assert.Equal(t, 30.0, buckets[1].AvgHumidity)
	assert.True(t, buckets[0].BucketStart.Before(buckets[1].BucketStart))
}

func TestHistoryNoRangeFallsBackToRaw(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{readings: map[string][]model.Reading{
		"node-1": {
			{NodeID: "node-1", HumidityPercent: 40, Timestamp: now.Add(-2 * time.Minute)},
			{NodeID: "node-1", HumidityPercent: 41, Timestamp: now.Add(-time.Minute)},
		},
	}}
	rec := doGet(t, newTestAPI(t, store, now), "/nodes/node-1/history")

	require.Equal(t, http.StatusOK, rec.Code)
	var raw []model.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Len(t, raw, 2)
}

func TestHistoryUnknownRangeRejected(t *testing.T) {
	rec := doGet(t, newTestAPI(t, &fakeStore{}, time.Now()), "/nodes/node-1/history?range=90d")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryStoreDownIsExplicitError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	rec := doGet(t, newTestAPI(t, store, time.Now()), "/nodes/node-1/history?range=24h")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "data unavailable", body["error"])
}

func TestHistoryTimeoutIsGatewayTimeout(t *testing.T) {
	store := &fakeStore{err: context.DeadlineExceeded}
	rec := doGet(t, newTestAPI(t, store, time.Now()), "/nodes/node-1/history?range=24h")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestLatencyStats(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{samples: []latency.Sample{
		{Timestamp: now.Add(-3 * time.Minute), LatencyMs: 100},
		{Timestamp: now.Add(-2 * time.Minute), LatencyMs: 200},
		{Timestamp: now.Add(-time.Minute), LatencyMs: 300},
	}}
	rec := doGet(t, newTestAPI(t, store, now), "/latency?minutes=60")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Samples []latency.Sample `json:"samples"`
		Stats   latency.Stats    `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Samples, 3)
	assert.Equal(t, 200.0, body.Stats.AvgMs)
	assert.Equal(t, 300.0, body.Stats.MaxMs)
	assert.Equal(t, 3, body.Stats.SampleCount)
}

func TestLatencyRejectsBadMinutes(t *testing.T) {
	rec := doGet(t, newTestAPI(t, &fakeStore{}, time.Now()), "/latency?minutes=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictionProxiesUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "41.2", r.URL.Query().Get("humidity_percent"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"humidity_future_prediction": 38.7,
			"status":                     "ok",
		})
	}))
	defer upstream.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{readings: map[string][]model.Reading{
		"node-1": {{NodeID: "node-1", HumidityPercent: 41.2, Timestamp: now.Add(-time.Minute)}},
	}}
	agg := history.NewAggregator(store, time.Second)
	pred := NewPredictor(upstream.URL, time.Second, 3, time.Minute)
	api := NewAPI(store, agg, pred, nil, fixedClock{now: now})

	rec := doGet(t, api, "/nodes/node-1/prediction")

	require.Equal(t, http.StatusOK, rec.Code)
	var got Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 38.7, got.HumidityFuture)
	assert.False(t, got.Cached)
}

func TestPredictionFallsBackToLastGood(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"humidity_future_prediction": 35.0, "status": "ok"})
	}))
	defer upstream.Close()

	now := time.Now()
	store := &fakeStore{readings: map[string][]model.Reading{
		"node-1": {{NodeID: "node-1", HumidityPercent: 40, Timestamp: now.Add(-time.Minute)}},
	}}
	agg := history.NewAggregator(store, time.Second)
	pred := NewPredictor(upstream.URL, time.Second, 3, time.Minute)
	api := NewAPI(store, agg, pred, nil, fixedClock{now: now})

	first := doGet(t, api, "/nodes/node-1/prediction")
	require.Equal(t, http.StatusOK, first.Code)

	second := doGet(t, api, "/nodes/node-1/prediction")
	require.Equal(t, http.StatusOK, second.Code)
	var got Prediction
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &got))
	assert.Equal(t, 35.0, got.HumidityFuture)
	assert.True(t, got.Cached)
}

func TestPredictionNoReading(t *testing.T) {
	agg := history.NewAggregator(&fakeStore{}, time.Second)
	pred := NewPredictor("http://127.0.0.1:0", time.Second, 3, time.Minute)
	api := NewAPI(&fakeStore{}, agg, pred, nil, fixedClock{now: time.Now()})

	rec := doGet(t, api, "/nodes/ghost/prediction")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
