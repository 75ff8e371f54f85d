// Package query serves the read side: latest reading, derived alerts,
// bucketed history, latency statistics and the proxied prediction. It is
// stateless; concurrent requests for different nodes do not coordinate,
// and each carries its own timeout.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/soilnet/soilnet/internal/model"
	"github.com/soilnet/soilnet/internal/services/alert"
	"github.com/soilnet/soilnet/internal/services/history"
	"github.com/soilnet/soilnet/internal/services/latency"
	"github.com/soilnet/soilnet/internal/services/liveness"
)

// Store is the query side of the reading store.
type Store interface {
	history.ReadingSource
	LastReading(ctx context.Context, nodeID string) (*model.Reading, error)
	LatencySamples(ctx context.Context, minutes int) ([]latency.Sample, error)
}

const (
	defaultLatencyMinutes = 60
	maxLatencyMinutes     = 7 * 24 * 60
	requestTimeout        = 5 * time.Second
)

type API struct {
	store       Store
	agg         *history.Aggregator
	predictor   *Predictor
	soilClasses map[string]model.SoilClass // node id -> class, LOAM when absent
	clock       liveness.Clock
}

func NewAPI(store Store, agg *history.Aggregator, predictor *Predictor, soilClasses map[string]model.SoilClass, clock liveness.Clock) *API {
	if clock == nil {
		clock = liveness.RealClock{}
	}
	return &API{
		store:       store,
		agg:         agg,
		predictor:   predictor,
		soilClasses: soilClasses,
		clock:       clock,
	}
}

// Router wires the query routes.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/nodes/{id}/reading/latest", a.handleLastReading).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id}/alerts", a.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id}/history", a.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/latency", a.handleLatency).Methods(http.MethodGet)
	if a.predictor != nil {
		r.HandleFunc("/nodes/{id}/prediction", a.handlePrediction).Methods(http.MethodGet)
	}
	return r
}

func (a *API) handleLastReading(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	reading, err := a.store.LastReading(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// nil encodes as JSON null: a node never observed is not an error
	writeJSON(w, http.StatusOK, reading)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	nodeID := mux.Vars(r)["id"]
	reading, err := a.store.LastReading(ctx, nodeID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	class, ok := a.soilClasses[nodeID]
	if !ok {
		class = model.ParseSoilClass(r.URL.Query().Get("soil_class"))
	}
	alerts := alert.Evaluate(reading, class, a.clock.Now())
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"]
	q := r.URL.Query()

	rng, ok := history.ParseRange(q.Get("range"))
	if !ok {
		if raw := q.Get("range"); raw != "" {
			writeError(w, http.StatusBadRequest, "unsupported range "+raw)
			return
		}
		// no range: explicit raw fallback, capped
		readings, err := a.agg.Raw(r.Context(), nodeID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if readings == nil {
			readings = []model.Reading{}
		}
		writeJSON(w, http.StatusOK, readings)
		return
	}

	from := a.clock.Now().Add(-rng.Window())
	if s := q.Get("from"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = parsed
	}

	buckets, err := a.agg.Aggregate(r.Context(), nodeID, from, rng)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if buckets == nil {
		buckets = []model.Bucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (a *API) handleLatency(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	minutes := defaultLatencyMinutes
	if s := r.URL.Query().Get("minutes"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		if n > maxLatencyMinutes {
			n = maxLatencyMinutes
		}
		minutes = n
	}

	samples, err := a.store.LatencySamples(ctx, minutes)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if samples == nil {
		samples = []latency.Sample{}
	}
	writeJSON(w, http.StatusOK, struct {
		Samples []latency.Sample `json:"samples"`
		Stats   latency.Stats    `json:"stats"`
	}{
		Samples: samples,
		Stats:   latency.Compute(samples, minutes),
	})
}

func (a *API) handlePrediction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	nodeID := mux.Vars(r)["id"]
	reading, err := a.store.LastReading(ctx, nodeID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if reading == nil {
		writeError(w, http.StatusNotFound, "no reading to predict from")
		return
	}

	pred, err := a.predictor.Predict(ctx, *reading)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "prediction unavailable")
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// writeStoreError renders a failed store query as an explicit failure.
// An unreachable backend must never look like an empty-but-successful
// series: that is indistinguishable from "no readings in this window".
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, history.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "query timed out")
	default:
		writeError(w, http.StatusServiceUnavailable, "data unavailable")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

