package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/soilnet/soilnet/internal/model"
	"github.com/soilnet/soilnet/internal/services/liveness"
)

// snapshotFlux fetches the last persisted reading of every node seen in
// the last 24h, one pivoted row per node.
func snapshotFlux(bucket string) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -24h)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group(columns: ["node_id"])
  |> sort(columns: ["_time"])
  |> last(column: "_time")
`, bucket, MeasurementReading)
}

// LoadInitialSnapshot seeds the tracker from the store before the push
// stream is subscribed, so nodes that reported recently render with their
// real state instead of Unknown. An unreachable store is not fatal: the
// tracker starts empty and pushes rebuild it. Requires the tracker loop to
// be running.
func LoadInitialSnapshot(ctx context.Context, tracker *liveness.Tracker, influx influxdb2.Client, org, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := influx.QueryAPI(org).Query(ctx, snapshotFlux(bucket))
	if err != nil {
		return fmt.Errorf("snapshot query: %w", err)
	}
	defer func() { _ = res.Close() }()

	seeded := 0
	for res.Next() {
		rec := res.Record()
		nodeID, _ := rec.ValueByKey("node_id").(string)
		if nodeID == "" {
			continue
		}
		r := model.Reading{
			NodeID:           nodeID,
			HumidityPercent:  asFloat(rec.ValueByKey("humidity_percent")),
			RawValue:         asFloat(rec.ValueByKey("raw_value")),
			RSSI:             int(asInt(rec.ValueByKey("rssi"))),
			Voltage:          asFloat(rec.ValueByKey("voltage")),
			SamplingInterval: int(asInt(rec.ValueByKey("sampling_interval"))),
			Timestamp:        rec.Time(),
		}
		tracker.LoadSnapshot(nodeID, &r)
		seeded++
	}
	if res.Err() != nil {
		return fmt.Errorf("snapshot iteration: %w", res.Err())
	}
	log.Printf("ingest: seeded %d nodes from snapshot", seeded)
	return nil
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
