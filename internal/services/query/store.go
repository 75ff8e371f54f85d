package query

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/soilnet/soilnet/internal/model"
	"github.com/soilnet/soilnet/internal/services/ingest"
	"github.com/soilnet/soilnet/internal/services/latency"
)

// InfluxStore reads the time-series bucket written by the ingest service.
// Every method runs one Flux query, honors ctx, and closes its cursor on
// return; errors are returned verbatim, retries belong to the caller.
type InfluxStore struct {
	queryAPI api.QueryAPI
	bucket   string
}

func NewInfluxStore(client influxdb2.Client, org, bucket string) *InfluxStore {
	return &InfluxStore{queryAPI: client.QueryAPI(org), bucket: bucket}
}

func humidityFlux(bucket, nodeID string, from time.Time) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: time(v: %q))
  |> filter(fn: (r) => r._measurement == %q and r.node_id == %q)
  |> filter(fn: (r) => r._field == "humidity_percent")
  |> keep(columns: ["_time","_value"])
  |> sort(columns: ["_time"])
`, bucket, from.UTC().Format(time.RFC3339), ingest.MeasurementReading, nodeID)
}

func recentFlux(bucket, nodeID string, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -30d)
  |> filter(fn: (r) => r._measurement == %q and r.node_id == %q)
  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, ingest.MeasurementReading, nodeID, limit)
}

func latencyFlux(bucket string, minutes int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r._field == "latency_ms")
  |> keep(columns: ["_time","_value"])
  |> sort(columns: ["_time"])
`, bucket, minutes, ingest.MeasurementLatency)
}

// ReadingsSince returns the humidity series of a node from `from` onward,
// ascending. Only the fields aggregation needs are populated.
func (s *InfluxStore) ReadingsSince(ctx context.Context, nodeID string, from time.Time) ([]model.Reading, error) {
	res, err := s.queryAPI.Query(ctx, humidityFlux(s.bucket, nodeID, from))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Close() }()

	var out []model.Reading
	for res.Next() {
		rec := res.Record()
		out = append(out, model.Reading{
			NodeID:          nodeID,
			HumidityPercent: asFloat(rec.Value()),
			Timestamp:       rec.Time(),
		})
	}
	return out, res.Err()
}

// RecentReadings returns up to limit full readings, ascending by time.
func (s *InfluxStore) RecentReadings(ctx context.Context, nodeID string, limit int) ([]model.Reading, error) {
	res, err := s.queryAPI.Query(ctx, recentFlux(s.bucket, nodeID, limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Close() }()

	var desc []model.Reading
	for res.Next() {
		desc = append(desc, readingFromRecord(nodeID, res.Record()))
	}
	if res.Err() != nil {
		return nil, res.Err()
	}
	// query sorts newest first to apply the cap; flip back to ascending
	out := make([]model.Reading, len(desc))
	for i, r := range desc {
		out[len(desc)-1-i] = r
	}
	return out, nil
}

// LastReading returns the most recent persisted reading, or nil when the
// node never reported: an unknown node is not an error.
func (s *InfluxStore) LastReading(ctx context.Context, nodeID string) (*model.Reading, error) {
	rs, err := s.RecentReadings(ctx, nodeID, 1)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, nil
	}
	return &rs[0], nil
}

// LatencySamples returns raw ingest latency samples for the period.
func (s *InfluxStore) LatencySamples(ctx context.Context, minutes int) ([]latency.Sample, error) {
	res, err := s.queryAPI.Query(ctx, latencyFlux(s.bucket, minutes))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Close() }()

	var out []latency.Sample
	for res.Next() {
		rec := res.Record()
		out = append(out, latency.Sample{
			Timestamp: rec.Time(),
			LatencyMs: asFloat(rec.Value()),
		})
	}
	return out, res.Err()
}

func readingFromRecord(nodeID string, rec interface {
	ValueByKey(string) interface{}
	Time() time.Time
}) model.Reading {
	return model.Reading{
		NodeID:           nodeID,
		HumidityPercent:  asFloat(rec.ValueByKey("humidity_percent")),
		RawValue:         asFloat(rec.ValueByKey("raw_value")),
		RSSI:             int(asInt(rec.ValueByKey("rssi"))),
		Voltage:          asFloat(rec.ValueByKey("voltage")),
		SamplingInterval: int(asInt(rec.ValueByKey("sampling_interval"))),
		Timestamp:        rec.Time(),
	}
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

func asInt(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	}
	return 0
}
