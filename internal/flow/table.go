package flow

import (
	"sync"
	"time"
)

// Table is the concurrent mapping FlowKey -> *Flow described in the
// component design: get_or_create, remove, and iter_expired. Insertion
// contention on the same key resolves deterministically — one creator
// wins, the other observes the existing flow.
type Table struct {
	mu    sync.RWMutex
	flows map[Key]*Flow
}

// NewTable creates an empty flow table.
func NewTable() *Table {
	return &Table{flows: make(map[Key]*Flow)}
}

// GetOrCreate returns the existing flow for key, or creates and inserts a
// fresh one. The second return value reports whether this call created it.
func (t *Table) GetOrCreate(key Key) (flow *Flow, created bool) {
	t.mu.RLock()
	if existing, ok := t.flows[key]; ok {
		t.mu.RUnlock()
		return existing, false
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check under the write lock: another goroutine may have won the
	// race between RUnlock and Lock above.
	if existing, ok := t.flows[key]; ok {
		return existing, false
	}
	f := NewFlow(key)
	t.flows[key] = f
	return f, true
}

// Get returns the flow for key without creating one.
func (t *Table) Get(key Key) (*Flow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.flows[key]
	return f, ok
}

// Remove deletes the flow for key, returning it if present so the caller
// can run teardown (cancel copiers, close the proxy socket).
func (t *Table) Remove(key Key) *Flow {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flows[key]
	if !ok {
		return nil
	}
	delete(t.flows, key)
	return f
}

// Len reports the current number of live flows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.flows)
}

// IterExpired returns the keys of every flow idle for longer than idleTO
// as of now. The caller is responsible for evicting them (sending RST and
// calling Remove); this method only observes.
func (t *Table) IterExpired(now time.Time, idleTO time.Duration) []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var expired []Key
	for k, f := range t.flows {
		if f.IdleFor(now) > idleTO {
			expired = append(expired, k)
		}
	}
	return expired
}

// IterTimeWait returns the keys of every flow sitting in TIME_WAIT for
// longer than timeWaitTO as of now, ready for final removal. Unlike
// IterExpired, the caller evicts these without sending an RST: the
// connection already closed cleanly on both sides.
func (t *Table) IterTimeWait(now time.Time, timeWaitTO time.Duration) []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var expired []Key
	for k, f := range t.flows {
		if f.State() == StateTimeWait && f.IdleFor(now) > timeWaitTO {
			expired = append(expired, k)
		}
	}
	return expired
}

// Snapshot returns every live flow, for supervisor shutdown (close every
// socket) or diagnostics.
func (t *Table) Snapshot() []*Flow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Flow, 0, len(t.flows))
	for _, f := range t.flows {
		out = append(out, f)
	}
	return out
}

// DefaultIdleTimeout is the spec's default 10-minute idle eviction
// threshold.
const DefaultIdleTimeout = defaultIdleTO

// TimeWaitDuration is how long a flow lingers in TIME_WAIT before it is
// safe to evict from the table entirely (a new SYN on the same key before
// this elapses is treated as reusing a CLOSED/TIME_WAIT slot per the state
// machine's tie-break rule, not as a collision).
const TimeWaitDuration = timeWaitDuration
