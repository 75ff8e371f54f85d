package history

import (
	"sort"
	"time"

	"github.com/soilnet/soilnet/internal/model"
)

// BucketKey floors a timestamp to its granularity boundary in UTC. Truncate
// operates on the duration since the epoch, which is midnight UTC, so
// 10-minute, 1-hour and 1-day widths all land on calendar boundaries.
func BucketKey(t time.Time, granularity time.Duration) time.Time {
	return t.UTC().Truncate(granularity)
}

// Bucketize groups readings by their truncated timestamp and averages the
// humidity per group. Buckets with no samples simply do not appear; the
// output is ascending by bucket start.
func Bucketize(readings []model.Reading, granularity time.Duration) []model.Bucket {
	if granularity <= 0 || len(readings) == 0 {
		return nil
	}

	type acc struct {
		sum   float64
		count int
	}
	groups := make(map[time.Time]*acc)
	for _, r := range readings {
		key := BucketKey(r.Timestamp, granularity)
		g, ok := groups[key]
		if !ok {
			g = &acc{}
			groups[key] = g
		}
		g.sum += r.HumidityPercent
		g.count++
	}

	out := make([]model.Bucket, 0, len(groups))
	for start, g := range groups {
		out = append(out, model.Bucket{
			BucketStart: start,
			AvgHumidity: g.sum / float64(g.count),
			SampleCount: g.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out
}
