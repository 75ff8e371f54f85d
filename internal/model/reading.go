package model

import "time"

// Reading is a single telemetry sample from a node. Immutable once recorded.
// Field names follow the export schema consumed by the analytics pipeline.
type Reading struct {
	NodeID           string    `json:"node_id"`
	HumidityPercent  float64   `json:"humidity_percent"` // 0-100 expected, not clamped
	RawValue         float64   `json:"raw_value"`
	RSSI             int       `json:"rssi"` // dBm, negative
	Voltage          float64   `json:"voltage"`
	SamplingInterval int       `json:"sampling_interval"` // seconds, node-reported
	Timestamp        time.Time `json:"timestamp"`         // event time; receipt time when the node sent none
}
