package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilnet/soilnet/internal/model"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func humidityAt(ts time.Time, h float64) model.Reading {
	return model.Reading{NodeID: "n1", HumidityPercent: h, Timestamp: ts}
}

type fakeSource struct {
	readings []model.Reading
	err      error
}

func (f *fakeSource) ReadingsSince(ctx context.Context, nodeID string, from time.Time) ([]model.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Reading
	for _, r := range f.readings {
		if !r.Timestamp.Before(from) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) RecentReadings(ctx context.Context, nodeID string, limit int) ([]model.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	rs := f.readings
	if len(rs) > limit {
		rs = rs[len(rs)-limit:]
	}
	return rs, nil
}

func TestParseRange(t *testing.T) {
	for s, g := range map[string]time.Duration{
		"24h": 10 * time.Minute,
		"7d":  time.Hour,
		"30d": 24 * time.Hour,
	} {
		r, ok := ParseRange(s)
		require.True(t, ok, s)
		assert.Equal(t, g, r.Granularity())
	}

	for _, s := range []string{"", "12h", "1w", "24H"} {
		_, ok := ParseRange(s)
		assert.False(t, ok, s)
	}
}

func TestBucketKeyAlignment(t *testing.T) {
	assert.Equal(t, at("2026-03-01T10:10:00Z"), BucketKey(at("2026-03-01T10:17:42Z"), 10*time.Minute))
	assert.Equal(t, at("2026-03-01T10:00:00Z"), BucketKey(at("2026-03-01T10:59:59Z"), time.Hour))
	assert.Equal(t, at("2026-03-01T00:00:00Z"), BucketKey(at("2026-03-01T23:59:59Z"), 24*time.Hour))
}

func TestBucketizeSharedAndSplitBuckets(t *testing.T) {
	// Two readings 15 minutes apart share a 10-minute bucket only if both
	// fall within the same boundary; these do not.
	split := []model.Reading{
		humidityAt(at("2026-03-01T10:05:00Z"), 40),
		humidityAt(at("2026-03-01T10:20:00Z"), 60),
	}
	buckets := Bucketize(split, 10*time.Minute)
	require.Len(t, buckets, 2)
	assert.Equal(t, at("2026-03-01T10:00:00Z"), buckets[0].BucketStart)
	assert.Equal(t, 40.0, buckets[0].AvgHumidity)
	assert.Equal(t, at("2026-03-01T10:20:00Z"), buckets[1].BucketStart)
	assert.Equal(t, 60.0, buckets[1].AvgHumidity)

	// Same pair within one boundary collapses to the arithmetic mean.
	shared := []model.Reading{
		humidityAt(at("2026-03-01T10:11:00Z"), 40),
		humidityAt(at("2026-03-01T10:18:00Z"), 60),
	}
	buckets = Bucketize(shared, 10*time.Minute)
	require.Len(t, buckets, 1)
	assert.Equal(t, at("2026-03-01T10:10:00Z"), buckets[0].BucketStart)
	assert.Equal(t, 50.0, buckets[0].AvgHumidity)
	assert.Equal(t, 2, buckets[0].SampleCount)
}

func TestBucketizeOmitsEmptyBuckets(t *testing.T) {
	readings := []model.Reading{
		humidityAt(at("2026-03-01T00:05:00Z"), 30),
		humidityAt(at("2026-03-01T03:05:00Z"), 50), // two empty hours between
	}
	buckets := Bucketize(readings, time.Hour)
	require.Len(t, buckets, 2, "gaps mean no data, not zero")
	assert.Equal(t, at("2026-03-01T00:00:00Z"), buckets[0].BucketStart)
	assert.Equal(t, at("2026-03-01T03:00:00Z"), buckets[1].BucketStart)
}

func TestBucketizeSortsAscending(t *testing.T) {
	readings := []model.Reading{
		humidityAt(at("2026-03-03T00:00:00Z"), 10),
		humidityAt(at("2026-03-01T00:00:00Z"), 20),
		humidityAt(at("2026-03-02T00:00:00Z"), 30),
	}
	buckets := Bucketize(readings, 24*time.Hour)
	require.Len(t, buckets, 3)
	for i := 1; i < len(buckets); i++ {
		assert.True(t, buckets[i-1].BucketStart.Before(buckets[i].BucketStart))
	}
}

func TestAggregateRestrictsToWindow(t *testing.T) {
	from := at("2026-03-02T00:00:00Z")
	src := &fakeSource{readings: []model.Reading{
		humidityAt(at("2026-03-01T23:55:00Z"), 99), // before from: excluded
		humidityAt(at("2026-03-02T08:01:00Z"), 40),
		humidityAt(at("2026-03-02T08:04:00Z"), 60),
	}}
	agg := NewAggregator(src, time.Second)

	buckets, err := agg.Aggregate(context.Background(), "n1", from, Range24h)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, at("2026-03-02T08:00:00Z"), buckets[0].BucketStart)
	assert.Equal(t, 50.0, buckets[0].AvgHumidity)
}

func TestAggregateUnknownRange(t *testing.T) {
	agg := NewAggregator(&fakeSource{}, time.Second)
	_, err := agg.Aggregate(context.Background(), "n1", time.Now(), Range("12h"))
	require.Error(t, err)
}

func TestAggregateStoreErrors(t *testing.T) {
	agg := NewAggregator(&fakeSource{err: errors.New("connection refused")}, time.Second)
	_, err := agg.Aggregate(context.Background(), "n1", time.Now(), Range24h)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	agg = NewAggregator(&fakeSource{err: context.DeadlineExceeded}, time.Second)
	_, err = agg.Aggregate(context.Background(), "n1", time.Now(), Range24h)
	require.ErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrStoreUnavailable, "timeout must not read as unreachable store")
}

func TestRawFallbackCap(t *testing.T) {
	readings := make([]model.Reading, RawCap+200)
	base := at("2026-03-01T00:00:00Z")
	for i := range readings {
		readings[i] = humidityAt(base.Add(time.Duration(i)*time.Second), float64(i%100))
	}
	agg := NewAggregator(&fakeSource{readings: readings}, time.Second)

	out, err := agg.Raw(context.Background(), "n1")
	require.NoError(t, err)
	require.Len(t, out, RawCap)
	// capped to the most recent, still ascending
	assert.Equal(t, readings[200].Timestamp, out[0].Timestamp)
}
