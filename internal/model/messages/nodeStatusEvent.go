package messages

import (
	"time"

	"github.com/soilnet/soilnet/internal/model"
)

// NodeStatusEvent announces a liveness flip (node.online / node.offline).
// Emitted only on state changes detected by the periodic re-evaluation or
// on the first push from a previously unknown or offline node.
type NodeStatusEvent struct {
	NodeID    string           `json:"node_id"`
	Status    model.NodeStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}
