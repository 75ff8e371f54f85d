package ingest

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/soilnet/soilnet/internal/model"
	"github.com/soilnet/soilnet/internal/services/latency"
)

// Measurement names in the readings bucket.
const (
	MeasurementReading = "soil_reading"
	MeasurementLatency = "ingest_latency"
)

// ReadingToPoint normalizes a reading into an InfluxDB point. The node id
// is the only tag; everything else is a field.
func ReadingToPoint(r model.Reading) *write.Point {
	tags := map[string]string{"node_id": r.NodeID}
	fields := map[string]interface{}{
		"humidity_percent":  r.HumidityPercent,
		"raw_value":         r.RawValue,
		"rssi":              int64(r.RSSI),
		"voltage":           r.Voltage,
		"sampling_interval": int64(r.SamplingInterval),
	}
	return influxdb2.NewPoint(MeasurementReading, tags, fields, r.Timestamp)
}

// LatencyToPoint records one ingest latency sample for a node.
func LatencyToPoint(nodeID string, s latency.Sample) *write.Point {
	return influxdb2.NewPoint(
		MeasurementLatency,
		map[string]string{"node_id": nodeID},
		map[string]interface{}{"latency_ms": s.LatencyMs},
		s.Timestamp,
	)
}
