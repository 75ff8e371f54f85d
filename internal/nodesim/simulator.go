package nodesim

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"time"

	"github.com/soilnet/soilnet/internal/model/messages"
	"github.com/soilnet/soilnet/pkg/rabbitmq"
)

// Config shapes one simulated node. SilenceChance lets a node go dark for
// SilenceTicks samples so the backend's offline detection has something to
// detect; NoClockEvery makes every n-th event omit its timestamp, like a
// node without an RTC.
type Config struct {
	NodeID           string
	SamplingInterval time.Duration

	SilenceChance float64
	SilenceTicks  int

	NoClockEvery int
}

// Simulator publishes one node's telemetry on its sampling cadence.
type Simulator struct {
	cfg       Config
	gen       *Generator
	publisher rabbitmq.IPublisher
	rng       *rand.Rand

	silentFor int
	sent      int
}

func NewSimulator(cfg Config, gen *Generator, publisher rabbitmq.IPublisher, seed int64) *Simulator {
	if cfg.SilenceTicks <= 0 {
		cfg.SilenceTicks = 3
	}
	return &Simulator{
		cfg:       cfg,
		gen:       gen,
		publisher: publisher,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Run publishes until ctx is cancelled. Silent windows skip publishing but
// keep the walk advancing: when the node comes back its humidity has moved.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SamplingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Simulator) tick() {
	humidity, raw, rssi, voltage := s.gen.Next()

	if s.silentFor > 0 {
		s.silentFor--
		return
	}
	if s.cfg.SilenceChance > 0 && s.rng.Float64() < s.cfg.SilenceChance {
		log.Printf("nodesim: %s going silent for %d samples", s.cfg.NodeID, s.cfg.SilenceTicks)
		s.silentFor = s.cfg.SilenceTicks
		return
	}

	evt := messages.ReadingEvent{
		NodeID:           s.cfg.NodeID,
		HumidityPercent:  &humidity,
		RawValue:         raw,
		RSSI:             rssi,
		Voltage:          voltage,
		SamplingInterval: int(s.cfg.SamplingInterval.Seconds()),
	}
	s.sent++
	if s.cfg.NoClockEvery <= 0 || s.sent%s.cfg.NoClockEvery != 0 {
		now := time.Now().UTC()
		evt.Timestamp = &now
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("nodesim: marshal error: %v", err)
		return
	}
	if err := s.publisher.Publish("sensor/reading/"+s.cfg.NodeID, payload); err != nil {
		log.Printf("nodesim: publish error: %v", err)
	}
}
