// Package history serves downsampled, chronologically ordered humidity
// series bounded in size regardless of raw sample density. It is stateless
// and request-scoped: concurrent aggregations for different nodes do not
// coordinate, and each carries its own time budget.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soilnet/soilnet/internal/model"
)

var (
	// ErrStoreUnavailable marks a query whose backend was unreachable.
	// Callers must render this as "data unavailable", never as an empty
	// series: the two are indistinguishable on a chart.
	ErrStoreUnavailable = errors.New("reading store unavailable")

	// ErrTimeout marks a query that exceeded its time budget. Distinct
	// from "no data in this window".
	ErrTimeout = errors.New("history query timed out")
)

// RawCap bounds the fallback raw query.
const RawCap = 1000

// DefaultQueryBudget bounds a single aggregation against the store.
const DefaultQueryBudget = 5 * time.Second

// ReadingSource is the ordered time-series store the aggregator reads from.
// Implementations must honor ctx cancellation and release their cursor on
// return; the aggregator never retries on their behalf.
type ReadingSource interface {
	// ReadingsSince returns readings for the node with timestamp >= from.
	ReadingsSince(ctx context.Context, nodeID string, from time.Time) ([]model.Reading, error)
	// RecentReadings returns up to limit most recent readings, ascending.
	RecentReadings(ctx context.Context, nodeID string, limit int) ([]model.Reading, error)
}

type Aggregator struct {
	src    ReadingSource
	budget time.Duration
}

func NewAggregator(src ReadingSource, budget time.Duration) *Aggregator {
	if budget <= 0 {
		budget = DefaultQueryBudget
	}
	return &Aggregator{src: src, budget: budget}
}

// Aggregate returns the bucketed humidity series for the node from `from`
// onward at the range's fixed granularity. Read-only: it never touches
// liveness state. A failed or expired store query fails the whole call;
// partial buckets are never returned.
func (a *Aggregator) Aggregate(ctx context.Context, nodeID string, from time.Time, rng Range) ([]model.Bucket, error) {
	granularity := rng.Granularity()
	if granularity <= 0 {
		return nil, fmt.Errorf("unsupported range %q", rng)
	}

	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	readings, err := a.src.ReadingsSince(ctx, nodeID, from)
	if err != nil {
		return nil, classify(err)
	}
	return Bucketize(readings, granularity), nil
}

// Raw is the explicit fallback for callers that pass no range: the most
// recent readings, unaggregated, capped at RawCap. For small windows and
// debugging, not the common path.
func (a *Aggregator) Raw(ctx context.Context, nodeID string) ([]model.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	readings, err := a.src.RecentReadings(ctx, nodeID, RawCap)
	if err != nil {
		return nil, classify(err)
	}
	return readings, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
