// Package latency computes order statistics over ingest latency samples
// collected within a period.
package latency

import (
	"sort"
	"time"
)

// Sample is one observed ingest latency: the delay between a reading's
// event time and its arrival at the backend.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latency_ms"`
}

// Stats are derived metrics over a sample window. An empty window is all
// zeros, never NaN.
type Stats struct {
	AvgMs              float64 `json:"avg_ms"`
	P95Ms              float64 `json:"p95_ms"`
	MaxMs              float64 `json:"max_ms"`
	AvgIntervalSeconds float64 `json:"avg_interval_seconds"`
	SampleCount        int     `json:"sample_count"`
}

// Compute derives avg, max and the nearest-rank p95 of the samples, plus
// the mean spacing implied by spreading the samples over periodMinutes.
func Compute(samples []Sample, periodMinutes int) Stats {
	n := len(samples)
	if n == 0 {
		return Stats{}
	}

	sorted := make([]float64, n)
	sum := 0.0
	for i, s := range samples {
		sorted[i] = s.LatencyMs
		sum += s.LatencyMs
	}
	sort.Float64s(sorted)

	// Nearest-rank selection: no interpolation between ranks.
	idx := int(float64(n) * 0.95)
	if idx >= n {
		idx = n - 1
	}

	return Stats{
		AvgMs:              sum / float64(n),
		P95Ms:              sorted[idx],
		MaxMs:              sorted[n-1],
		AvgIntervalSeconds: float64(periodMinutes) * 60 / float64(n),
		SampleCount:        n,
	}
}
