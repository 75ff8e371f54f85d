// Package dedup drops QoS1 redeliveries: an identical payload hash seen
// within the TTL is processed once.
package dedup

import (
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time // id -> expiry
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time, max)}
}

// ShouldProcess reports whether this id is new (or expired) and records it.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.prune(now)
	}
	return true
}

// prune evicts expired entries first; if the map is still over capacity it
// evicts arbitrary entries, which at worst re-admits a duplicate.
func (d *Deduper) prune(now time.Time) {
	for id, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, id)
		}
	}
	for id := range d.seen {
		if len(d.seen) <= d.max {
			break
		}
		delete(d.seen, id)
	}
}
