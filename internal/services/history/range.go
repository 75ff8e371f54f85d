package history

import "time"

// Range selects the query window and, with it, the bucket width. The width
// is fixed by the range and is not independently configurable.
type Range string

const (
	Range24h Range = "24h" // 10-minute buckets
	Range7d  Range = "7d"  // 1-hour buckets
	Range30d Range = "30d" // 1-day buckets
)

// ParseRange recognizes the supported ranges. An empty or unknown value is
// not a range: callers fall back to the raw, capped query.
func ParseRange(s string) (Range, bool) {
	switch Range(s) {
	case Range24h, Range7d, Range30d:
		return Range(s), true
	}
	return "", false
}

// Granularity is the bucket width for the range.
func (r Range) Granularity() time.Duration {
	switch r {
	case Range24h:
		return 10 * time.Minute
	case Range7d:
		return time.Hour
	case Range30d:
		return 24 * time.Hour
	}
	return 0
}

// Window is the span the range covers.
func (r Range) Window() time.Duration {
	switch r {
	case Range24h:
		return 24 * time.Hour
	case Range7d:
		return 7 * 24 * time.Hour
	case Range30d:
		return 30 * 24 * time.Hour
	}
	return 0
}
