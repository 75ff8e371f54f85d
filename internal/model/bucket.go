package model

import "time"

// Bucket is one fixed-width interval of a downsampled humidity series.
// Buckets with no samples are omitted from results, never zero-filled:
// a gap means "no data", not "zero".
type Bucket struct {
	BucketStart time.Time `json:"bucket_start"` // aligned to the granularity boundary, UTC
	AvgHumidity float64   `json:"avg_humidity"`
	SampleCount int       `json:"sample_count"`
}
