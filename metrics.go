package relay

import (
	"sync"
	"sync/atomic"
)

// Metrics is the instrumentation surface for the forwarding core (spec
// §4.7): five monotonic counters per destination. Implementations must be
// safe for concurrent use — every session goroutine increments its own
// destination's counters independently, grounded on the teacher's
// Metrics/DefaultMetrics atomic-counter pair (metrics.go), generalized
// from one connection's counters to a per-destination set.
type Metrics interface {
	IncrAttemptedRelays(dest string, n int64)
	IncrSent(dest string, n int64)
	IncrFullQueueDrops(dest string, n int64)
	IncrQueuedUntilConnected(dest string, n int64)
	IncrQueuedUntilReady(dest string, n int64)

	// Snapshot returns a point-in-time read of one destination's counters.
	Snapshot(dest string) DestinationCounters
}

// DestinationCounters names its fields after the counter templates in
// spec §4.7 ("destinations.<d>.<name>").
type DestinationCounters struct {
	AttemptedRelays      int64
	Sent                 int64
	FullQueueDrops       int64
	QueuedUntilConnected int64
	QueuedUntilReady     int64
}

// DefaultMetrics implements Metrics with one atomic-counter struct per
// destination, protected by a mutex only while looking the struct up.
type DefaultMetrics struct {
	mu     sync.Mutex
	byDest map[string]*destCounters
}

type destCounters struct {
	attemptedRelays      atomic.Int64
	sent                 atomic.Int64
	fullQueueDrops       atomic.Int64
	queuedUntilConnected atomic.Int64
	queuedUntilReady     atomic.Int64
}

// NewDefaultMetrics creates a DefaultMetrics ready for use.
func NewDefaultMetrics() *DefaultMetrics {
	return &DefaultMetrics{byDest: make(map[string]*destCounters)}
}

func (m *DefaultMetrics) counters(dest string) *destCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byDest[dest]
	if !ok {
		c = &destCounters{}
		m.byDest[dest] = c
	}
	return c
}

func (m *DefaultMetrics) IncrAttemptedRelays(dest string, n int64) {
	m.counters(dest).attemptedRelays.Add(n)
}
func (m *DefaultMetrics) IncrSent(dest string, n int64) {
	m.counters(dest).sent.Add(n)
}
func (m *DefaultMetrics) IncrFullQueueDrops(dest string, n int64) {
	m.counters(dest).fullQueueDrops.Add(n)
}
func (m *DefaultMetrics) IncrQueuedUntilConnected(dest string, n int64) {
	m.counters(dest).queuedUntilConnected.Add(n)
}
func (m *DefaultMetrics) IncrQueuedUntilReady(dest string, n int64) {
	m.counters(dest).queuedUntilReady.Add(n)
}

func (m *DefaultMetrics) Snapshot(dest string) DestinationCounters {
	c := m.counters(dest)
	return DestinationCounters{
		AttemptedRelays:      c.attemptedRelays.Load(),
		Sent:                 c.sent.Load(),
		FullQueueDrops:       c.fullQueueDrops.Load(),
		QueuedUntilConnected: c.queuedUntilConnected.Load(),
		QueuedUntilReady:     c.queuedUntilReady.Load(),
	}
}
