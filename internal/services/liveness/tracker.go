package liveness

import (
	"context"
	"time"

	"github.com/soilnet/soilnet/internal/model"
)

// Liveness constants. Call sites in the surrounding system disagreed on
// defaults, so they live here and nowhere else.
const (
	// HeartbeatMissFactor is the multiplier applied to a node's reporting
	// interval: a node is considered dead only after missing this many
	// consecutive expected reports.
	HeartbeatMissFactor = 2

	// DefaultTickPeriod is the reference period of the re-evaluation timer.
	DefaultTickPeriod = 5 * time.Second

	// BufferCapacity is the per-node bound of the recent-readings ring.
	BufferCapacity = 50

	// DefaultSamplingInterval applies until a node reports its own.
	DefaultSamplingInterval = 30 * time.Second
)

// StatusEvent is a liveness flip notification.
type StatusEvent struct {
	NodeID string
	Status model.NodeStatus
	At     time.Time
}

type nodeState struct {
	state  model.LivenessState
	last   *model.Reading
	buffer *ReadingBuffer
}

// Tracker maintains the authoritative online/offline status per node under
// out-of-order, duplicate and concurrent updates. All mutation funnels
// through a single loop goroutine (Run), so a tick always observes the most
// recently applied push for the same node; no locking is needed.
type Tracker struct {
	clock      Clock
	tickPeriod time.Duration
	cmds       chan func()
	events     chan StatusEvent
	nodes      map[string]*nodeState // owned by the Run goroutine
}

func NewTracker(clock Clock, tickPeriod time.Duration) *Tracker {
	if clock == nil {
		clock = RealClock{}
	}
	if tickPeriod <= 0 {
		tickPeriod = DefaultTickPeriod
	}
	return &Tracker{
		clock:      clock,
		tickPeriod: tickPeriod,
		cmds:       make(chan func(), 256),
		events:     make(chan StatusEvent, 64),
		nodes:      make(map[string]*nodeState),
	}
}

// Run owns all tracker state and blocks until ctx is cancelled. Every other
// method requires it to be running.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.applyTick(t.clock.Now())
		case fn := <-t.cmds:
			fn()
		}
	}
}

// Events delivers status flips. Sends are non-blocking: a slow subscriber
// loses events rather than stalling the loop.
func (t *Tracker) Events() <-chan StatusEvent { return t.events }

// ObservePush records a fresh reading. It always forces Online, and is the
// only event that may bring an Offline node back. The send is asynchronous
// so the inbound socket is never blocked on state bookkeeping.
func (t *Tracker) ObservePush(r model.Reading) {
	t.cmds <- func() { t.applyPush(r) }
}

// LoadSnapshot seeds a node from an initial store snapshot, once per node
// per session. A nil reading leaves the node Unknown. No notification is
// emitted on this path.
func (t *Tracker) LoadSnapshot(nodeID string, r *model.Reading) {
	t.call(func() { t.applySnapshot(nodeID, r) })
}

// Tick re-evaluates every known node against the heartbeat invariant at the
// given instant. Exposed for deterministic re-evaluation; Run performs the
// same re-evaluation on its own period.
func (t *Tracker) Tick(now time.Time) {
	t.call(func() { t.applyTick(now) })
}

// Status returns the liveness record of one node.
func (t *Tracker) Status(nodeID string) (model.LivenessState, bool) {
	var (
		st model.LivenessState
		ok bool
	)
	t.call(func() {
		if ns, found := t.nodes[nodeID]; found {
			st, ok = ns.state, true
		}
	})
	return st, ok
}

// States returns the liveness record of every known node.
func (t *Tracker) States() []model.LivenessState {
	var out []model.LivenessState
	t.call(func() {
		out = make([]model.LivenessState, 0, len(t.nodes))
		for _, ns := range t.nodes {
			out = append(out, ns.state)
		}
	})
	return out
}

// LastReading returns the most recent reading observed for a node by any
// source, or false when none was ever seen.
func (t *Tracker) LastReading(nodeID string) (model.Reading, bool) {
	var (
		r  model.Reading
		ok bool
	)
	t.call(func() {
		if ns, found := t.nodes[nodeID]; found && ns.last != nil {
			r, ok = *ns.last, true
		}
	})
	return r, ok
}

// RecentReadings returns the buffered readings for a node, oldest first.
func (t *Tracker) RecentReadings(nodeID string) []model.Reading {
	var out []model.Reading
	t.call(func() {
		if ns, found := t.nodes[nodeID]; found {
			out = ns.buffer.Readings()
		}
	})
	return out
}

// MovingAvgHumidity is the mean humidity over the node's buffered window.
func (t *Tracker) MovingAvgHumidity(nodeID string) float64 {
	var avg float64
	t.call(func() {
		if ns, found := t.nodes[nodeID]; found {
			avg = ns.buffer.AvgHumidity()
		}
	})
	return avg
}

// call runs fn inside the loop goroutine and waits for it.
func (t *Tracker) call(fn func()) {
	done := make(chan struct{})
	t.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// ---- loop-goroutine-only code below ----

func (t *Tracker) node(nodeID string) *nodeState {
	ns, ok := t.nodes[nodeID]
	if !ok {
		ns = &nodeState{
			state: model.LivenessState{
				NodeID:           nodeID,
				SamplingInterval: DefaultSamplingInterval,
				Status:           model.StatusUnknown,
			},
			buffer: NewReadingBuffer(BufferCapacity),
		}
		t.nodes[nodeID] = ns
	}
	return ns
}

func (t *Tracker) applyPush(r model.Reading) {
	ns := t.node(r.NodeID)
	ts := r.Timestamp
	if ts.IsZero() {
		ts = t.clock.Now()
	}
	// lastSeenAt is monotonic: a delayed retransmission must not undercut
	// a fresher observation.
	if ts.After(ns.state.LastSeenAt) {
		ns.state.LastSeenAt = ts
	}
	if r.SamplingInterval > 0 {
		ns.state.SamplingInterval = time.Duration(r.SamplingInterval) * time.Second
	}
	if ns.last == nil || !r.Timestamp.Before(ns.last.Timestamp) {
		rc := r
		ns.last = &rc
	}
	ns.buffer.Append(r)

	prev := ns.state.Status
	ns.state.Status = model.StatusOnline
	if prev != model.StatusOnline {
		t.emit(StatusEvent{NodeID: r.NodeID, Status: model.StatusOnline, At: ts})
	}
}

func (t *Tracker) applySnapshot(nodeID string, r *model.Reading) {
	if nodeID == "" {
		return
	}
	if _, exists := t.nodes[nodeID]; exists {
		// snapshot is pure initialization; later loads must not clobber
		// state already advanced by pushes
		return
	}
	ns := t.node(nodeID)
	if r == nil {
		return // remains Unknown, rendered offline to callers
	}
	ns.state.LastSeenAt = r.Timestamp
	if r.SamplingInterval > 0 {
		ns.state.SamplingInterval = time.Duration(r.SamplingInterval) * time.Second
	}
	rc := *r
	ns.last = &rc
	if t.alive(t.clock.Now(), ns.state) {
		ns.state.Status = model.StatusOnline
	} else {
		ns.state.Status = model.StatusOffline
	}
}

// applyTick recomputes liveness strictly from the heartbeat invariant. This
// path only demotes: a currently-offline node becomes Online again solely
// via applyPush. Only actual flips are emitted, to minimize churn.
func (t *Tracker) applyTick(now time.Time) {
	for id, ns := range t.nodes {
		if ns.state.Status != model.StatusOnline {
			continue
		}
		if !t.alive(now, ns.state) {
			ns.state.Status = model.StatusOffline
			t.emit(StatusEvent{NodeID: id, Status: model.StatusOffline, At: now})
		}
	}
}

// alive is the heartbeat invariant:
// now - lastSeenAt < HeartbeatMissFactor × samplingInterval.
func (t *Tracker) alive(now time.Time, st model.LivenessState) bool {
	interval := st.SamplingInterval
	if interval <= 0 {
		interval = DefaultSamplingInterval
	}
	return now.Sub(st.LastSeenAt) < HeartbeatMissFactor*interval
}

func (t *Tracker) emit(evt StatusEvent) {
	select {
	case t.events <- evt:
	default:
		// drop rather than block the loop
	}
}
