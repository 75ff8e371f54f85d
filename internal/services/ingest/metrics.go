package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the ingest-side counters plus a gauge sampling the tracker's
// current number of online nodes at scrape time.
type Metrics struct {
	ReadingsReceived  prometheus.Counter
	ReadingsMalformed prometheus.Counter
	ReadingsDuplicate prometheus.Counter
	StatusTransitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, onlineNodes func() float64) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		ReadingsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "soilnet_readings_received_total",
			Help: "Readings accepted from the push stream.",
		}),
		ReadingsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "soilnet_readings_malformed_total",
			Help: "Push events dropped for missing required fields.",
		}),
		ReadingsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "soilnet_readings_duplicate_total",
			Help: "QoS1 redeliveries discarded by the deduper.",
		}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soilnet_node_status_transitions_total",
			Help: "Liveness flips emitted by the tracker.",
		}, []string{"status"}),
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "soilnet_nodes_online",
		Help: "Nodes currently passing the heartbeat invariant.",
	}, onlineNodes))
	return m
}
