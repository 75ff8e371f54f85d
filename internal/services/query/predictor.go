package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soilnet/soilnet/internal/model"
)

// Prediction is the opaque answer of the external humidity predictor.
type Prediction struct {
	HumidityFuture float64 `json:"humidity_future_prediction"`
	Status         string  `json:"status"`
	Cached         bool    `json:"cached,omitempty"`
}

// Predictor proxies the external ML service behind a circuit breaker. The
// model is not ours: we only forward the feature vector it expects and
// relay its answer, serving the last good prediction per node while the
// upstream misbehaves.
type Predictor struct {
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	lastGood map[string]Prediction
}

func NewPredictor(base string, timeout time.Duration, consecutiveFails int, openFor time.Duration) *Predictor {
	return &Predictor{
		base:   base,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "predictor",
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(consecutiveFails)
			},
		}),
		lastGood: make(map[string]Prediction),
	}
}

// Predict forwards the reading's features to the predictor. On breaker-open
// or upstream failure it falls back to the node's last good prediction.
func (p *Predictor) Predict(ctx context.Context, r model.Reading) (Prediction, error) {
	res, err := p.breaker.Execute(func() (any, error) {
		return p.fetch(ctx, r)
	})
	if err != nil {
		p.mu.Lock()
		cached, ok := p.lastGood[r.NodeID]
		p.mu.Unlock()
		if ok {
			cached.Cached = true
			return cached, nil
		}
		return Prediction{}, err
	}

	pred := res.(Prediction)
	p.mu.Lock()
	p.lastGood[r.NodeID] = pred
	p.mu.Unlock()
	return pred, nil
}

func (p *Predictor) fetch(ctx context.Context, r model.Reading) (Prediction, error) {
	// Feature vector expected by the regressor, in its training order.
	ts := r.Timestamp.UTC()
	q := url.Values{}
	q.Set("humidity_percent", strconv.FormatFloat(r.HumidityPercent, 'f', -1, 64))
	q.Set("raw_value", strconv.FormatFloat(r.RawValue, 'f', -1, 64))
	q.Set("rssi", strconv.Itoa(r.RSSI))
	q.Set("voltage", strconv.FormatFloat(r.Voltage, 'f', -1, 64))
	q.Set("sampling_interval", strconv.Itoa(r.SamplingInterval))
	q.Set("hour", strconv.Itoa(ts.Hour()))
	q.Set("day_of_week", strconv.Itoa(int(ts.Weekday())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/predict?"+q.Encode(), nil)
	if err != nil {
		return Prediction{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Prediction{}, fmt.Errorf("predictor status %d", resp.StatusCode)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, fmt.Errorf("predictor decode: %w", err)
	}
	return pred, nil
}
