package model

import "strings"

// SoilClass is categorical node metadata controlling alert thresholds.
type SoilClass string

const (
	SoilSandy SoilClass = "SANDY"
	SoilLoam  SoilClass = "LOAM"
	SoilClay  SoilClass = "CLAY"
)

// ParseSoilClass maps a raw string onto a known class; anything
// unrecognized falls back to LOAM.
func ParseSoilClass(s string) SoilClass {
	switch SoilClass(strings.ToUpper(strings.TrimSpace(s))) {
	case SoilSandy:
		return SoilSandy
	case SoilClay:
		return SoilClay
	default:
		return SoilLoam
	}
}

// Node represents a fixed-identity sensor node. Nodes are created by the
// administration surface; the core only reads them. The sampling interval
// is node-reported and travels with each reading.
type Node struct {
	ID               string    `json:"node_id"`
	SoilClass        SoilClass `json:"soil_class"`
	SamplingInterval int       `json:"sampling_interval"` // seconds
}
