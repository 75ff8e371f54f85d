// Package ingest consumes the reading.new push stream, feeds the liveness
// tracker, persists readings and latency samples to the time-series store,
// and republishes liveness flips as node.online / node.offline events.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/soilnet/soilnet/internal/model"
	"github.com/soilnet/soilnet/internal/model/messages"
	"github.com/soilnet/soilnet/internal/services/latency"
	"github.com/soilnet/soilnet/internal/services/liveness"
	"github.com/soilnet/soilnet/pkg/dedup"
	"github.com/soilnet/soilnet/pkg/rabbitmq"
)

// Topics.
const (
	TopicReadings      = "sensor/reading/#"
	TopicOnlinePrefix  = "node/online/"
	TopicOfflinePrefix = "node/offline/"
)

type Service struct {
	consumer  rabbitmq.IConsumer
	publisher rabbitmq.IPublisher
	tracker   *liveness.Tracker
	writeAPI  api.WriteAPI
	writer    *Writer
	deduper   *dedup.Deduper
	clock     liveness.Clock
	metrics   *Metrics
}

func NewService(
	consumer rabbitmq.IConsumer,
	publisher rabbitmq.IPublisher,
	tracker *liveness.Tracker,
	writeAPI api.WriteAPI,
	writer *Writer,
	clock liveness.Clock,
	metrics *Metrics,
) *Service {
	if clock == nil {
		clock = liveness.RealClock{}
	}
	return &Service{
		consumer:  consumer,
		publisher: publisher,
		tracker:   tracker,
		writeAPI:  writeAPI,
		writer:    writer,
		deduper:   dedup.New(10*time.Minute, 20000),
		clock:     clock,
		metrics:   metrics,
	}
}

// Start runs the tracker loop, the status-event forwarder and the consume
// loop. It blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.tracker.Run(ctx)
	go s.forwardStatusEvents(ctx)

	s.consumer.SetHandler(s.HandleMessage)
	s.consumer.ConsumeMessage(ctx)
}

// HandleMessage processes one push event. Malformed events are dropped and
// counted; prior liveness state for the node stays untouched. The handler
// itself never blocks on the store: reading persistence goes through the
// batched async WriteAPI.
func (s *Service) HandleMessage(topic string, msg mqtt.Message) error {
	// QoS1 redelivery carries an identical payload, so the hash dedups it.
	sum := sha256.Sum256(msg.Payload())
	if !s.deduper.ShouldProcess(hex.EncodeToString(sum[:])) {
		if s.metrics != nil {
			s.metrics.ReadingsDuplicate.Inc()
		}
		return nil
	}

	var evt messages.ReadingEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		log.Printf("ingest: invalid JSON on %s: %v", topic, err)
		if s.metrics != nil {
			s.metrics.ReadingsMalformed.Inc()
		}
		return nil // drop the event, keep the stream alive
	}
	if err := evt.Validate(); err != nil {
		log.Printf("ingest: rejected event on %s: %v", topic, err)
		if s.metrics != nil {
			s.metrics.ReadingsMalformed.Inc()
		}
		return nil
	}

	now := s.clock.Now()
	reading := evt.Reading(now)

	s.tracker.ObservePush(reading)

	s.writeAPI.WritePoint(ReadingToPoint(reading))
	s.writer.MarkIngest(MeasurementReading)

	// Latency is only measurable when the node stamped the event itself.
	if evt.Timestamp != nil && !evt.Timestamp.IsZero() {
		lag := now.Sub(*evt.Timestamp)
		if lag < 0 {
			lag = 0 // clock skew; a negative latency is meaningless
		}
		s.writeAPI.WritePoint(LatencyToPoint(reading.NodeID, latency.Sample{
			Timestamp: now,
			LatencyMs: float64(lag.Milliseconds()),
		}))
		s.writer.MarkIngest(MeasurementLatency)
	}

	if s.metrics != nil {
		s.metrics.ReadingsReceived.Inc()
	}
	return nil
}

// forwardStatusEvents republishes tracker flips on the notification topics.
func (s *Service) forwardStatusEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.tracker.Events():
			if s.metrics != nil {
				s.metrics.StatusTransitions.WithLabelValues(string(evt.Status)).Inc()
			}
			topic := TopicOfflinePrefix + evt.NodeID
			if evt.Status == model.StatusOnline {
				topic = TopicOnlinePrefix + evt.NodeID
			}
			payload, err := json.Marshal(messages.NodeStatusEvent{
				NodeID:    evt.NodeID,
				Status:    evt.Status,
				Timestamp: evt.At,
			})
			if err != nil {
				continue
			}
			if s.publisher != nil {
				if err := s.publisher.Publish(topic, payload); err != nil {
					log.Printf("ingest: publish %s failed: %v", topic, err)
				}
			}
		}
	}
}

// OnlineNodes counts nodes currently Online; wired to the prometheus gauge.
func (s *Service) OnlineNodes() float64 {
	n := 0
	for _, st := range s.tracker.States() {
		if st.Online() {
			n++
		}
	}
	return float64(n)
}
