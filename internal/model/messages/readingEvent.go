package messages

import (
	"errors"
	"time"

	"github.com/soilnet/soilnet/internal/model"
)

// ReadingEvent is the reading.new push payload, one per telemetry sample.
// Timestamp and sampling_interval are optional on the wire: nodes with no
// RTC omit the timestamp and the receiver falls back to arrival time.
type ReadingEvent struct {
	NodeID           string     `json:"node_id"`
	HumidityPercent  *float64   `json:"humidity_percent"`
	RawValue         float64    `json:"raw_value"`
	RSSI             int        `json:"rssi"`
	Voltage          float64    `json:"voltage"`
	SamplingInterval int        `json:"sampling_interval,omitempty"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
}

var (
	ErrMissingNodeID   = errors.New("reading event: missing node_id")
	ErrMissingHumidity = errors.New("reading event: missing humidity_percent")
)

// Validate rejects events that cannot seed or update liveness state.
func (e ReadingEvent) Validate() error {
	if e.NodeID == "" {
		return ErrMissingNodeID
	}
	if e.HumidityPercent == nil {
		return ErrMissingHumidity
	}
	return nil
}

// Reading converts the event into an immutable model.Reading, using
// receivedAt when the node sent no timestamp.
func (e ReadingEvent) Reading(receivedAt time.Time) model.Reading {
	ts := receivedAt
	if e.Timestamp != nil && !e.Timestamp.IsZero() {
		ts = *e.Timestamp
	}
	return model.Reading{
		NodeID:           e.NodeID,
		HumidityPercent:  *e.HumidityPercent,
		RawValue:         e.RawValue,
		RSSI:             e.RSSI,
		Voltage:          e.Voltage,
		SamplingInterval: e.SamplingInterval,
		Timestamp:        ts,
	}
}
