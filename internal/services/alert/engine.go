// Package alert derives threshold alerts from the latest reading of a node.
// Evaluation is a pure function: alerts are recomputed on demand and never
// persisted. Absence of data is not an alert condition; that is surfaced by
// liveness instead.
package alert

import (
	"fmt"
	"time"

	"github.com/soilnet/soilnet/internal/model"
)

const (
	// WeakSignalRSSI is the floor (dBm) under which reception is flagged.
	WeakSignalRSSI = -85

	// SilenceLimit is the reading age past which a node is flagged silent.
	SilenceLimit = 30 * time.Minute
)

// Thresholds are the humidity breakpoints (percent) for one soil class.
type Thresholds struct {
	Dry        float64
	OptimalLow float64
	Excess     float64
}

var thresholdsByClass = map[model.SoilClass]Thresholds{
	model.SoilSandy: {Dry: 10, OptimalLow: 20, Excess: 30},
	model.SoilLoam:  {Dry: 15, OptimalLow: 30, Excess: 40},
	model.SoilClay:  {Dry: 25, OptimalLow: 40, Excess: 50},
}

// ThresholdsFor returns the breakpoints for a soil class, defaulting to
// LOAM when the class is unrecognized.
func ThresholdsFor(class model.SoilClass) Thresholds {
	if t, ok := thresholdsByClass[class]; ok {
		return t
	}
	return thresholdsByClass[model.SoilLoam]
}

// Alert codes.
const (
	CodeDry        = "dry"
	CodeLow        = "low"
	CodeExcess     = "excess"
	CodeWeakSignal = "weak_signal"
	CodeSilent     = "silent"
)

// Evaluate applies every rule independently to the reading; one reading can
// trigger several alerts. A nil reading yields no alerts. The result is
// ordered danger first, warnings after, stable within each severity.
func Evaluate(r *model.Reading, class model.SoilClass, now time.Time) []model.Alert {
	if r == nil {
		return nil
	}
	th := ThresholdsFor(class)

	var dangers, warnings []model.Alert

	switch h := r.HumidityPercent; {
	case h < th.Dry:
		dangers = append(dangers, model.Alert{
			Severity: model.SeverityDanger,
			Code:     CodeDry,
			Message:  fmt.Sprintf("soil critically dry: %.1f%% (dry threshold %.0f%%)", h, th.Dry),
		})
	case h < th.OptimalLow:
		warnings = append(warnings, model.Alert{
			Severity: model.SeverityWarning,
			Code:     CodeLow,
			Message:  fmt.Sprintf("humidity low, monitor: %.1f%% (optimal from %.0f%%)", h, th.OptimalLow),
		})
	case h > th.Excess:
		dangers = append(dangers, model.Alert{
			Severity: model.SeverityDanger,
			Code:     CodeExcess,
			Message:  fmt.Sprintf("excess moisture, saturation risk: %.1f%% (limit %.0f%%)", h, th.Excess),
		})
	}

	if r.RSSI < WeakSignalRSSI {
		warnings = append(warnings, model.Alert{
			Severity: model.SeverityWarning,
			Code:     CodeWeakSignal,
			Message:  fmt.Sprintf("weak signal: %d dBm", r.RSSI),
		})
	}

	if !r.Timestamp.IsZero() && now.Sub(r.Timestamp) > SilenceLimit {
		dangers = append(dangers, model.Alert{
			Severity: model.SeverityDanger,
			Code:     CodeSilent,
			Message:  fmt.Sprintf("node silent for more than %d minutes", int(SilenceLimit.Minutes())),
		})
	}

	return append(dangers, warnings...)
}
