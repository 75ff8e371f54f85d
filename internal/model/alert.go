package model

// AlertSeverity orders alerts for display: danger before warning.
type AlertSeverity string

const (
	SeverityDanger  AlertSeverity = "danger"
	SeverityWarning AlertSeverity = "warning"
)

// Alert is derived from the latest reading each time it is needed and is
// never persisted.
type Alert struct {
	Severity AlertSeverity `json:"severity"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
}
