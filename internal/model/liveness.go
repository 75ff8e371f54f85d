package model

import "time"

// NodeStatus is the liveness state of a node as seen by the tracker.
type NodeStatus string

const (
	StatusUnknown NodeStatus = "unknown" // no reading observed yet
	StatusOnline  NodeStatus = "online"
	StatusOffline NodeStatus = "offline"
)

// LivenessState is the per-node record maintained by the liveness tracker.
// Created on first observation, mutated in place, never deleted while the
// node exists.
type LivenessState struct {
	NodeID           string        `json:"node_id"`
	LastSeenAt       time.Time     `json:"last_seen_at"`
	SamplingInterval time.Duration `json:"sampling_interval"`
	Status           NodeStatus    `json:"status"`
}

// Online reports whether the node is currently considered alive. Unknown
// renders as offline to callers.
func (s LivenessState) Online() bool { return s.Status == StatusOnline }
