package ring

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns the single writable Ring for a routing node. Readers call
// Snapshot and never block; writers (the gossip loop, and the
// /router/add /router/remove handlers) publish a new immutable Ring under
// mu, per spec §5's "single write lock, lock-free readers" discipline.
type Manager struct {
	mu   sync.Mutex // serializes writers only; readers use the atomic pointer
	ring atomic.Pointer[Ring]

	logger log.Logger

	membersGauge prometheus.Gauge
	changesTotal prometheus.Counter
}

// NewManager creates a Manager seeded with an initial Ring (typically
// reconstructed from the catalog's Routing_Servers table at startup, per
// spec §6 "Persisted state").
func NewManager(logger log.Logger, reg prometheus.Registerer, initial Ring) *Manager {
	m := &Manager{
		logger: logger,
		membersGauge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "routingtier_ring_members",
			Help: "Number of active routing nodes in the local ring view.",
		}),
		changesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "routingtier_ring_changes_total",
			Help: "Number of ring membership deltas applied locally.",
		}),
	}
	m.ring.Store(&initial)
	m.membersGauge.Set(float64(initial.Len()))
	return m
}

// Snapshot returns the current Ring. Safe for concurrent use without
// blocking writers.
func (m *Manager) Snapshot() Ring {
	return *m.ring.Load()
}

// FindOwner looks up the owner of key in the current snapshot.
func (m *Manager) FindOwner(key uint64) (RouterNode, error) {
	return m.Snapshot().FindOwner(key)
}

// Insert applies a join/update to the ring and publishes the new snapshot.
// It stamps LastSeenNs with now (monotonic nanoseconds) if the caller didn't
// already set one.
func (m *Manager) Insert(node RouterNode, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node.LastSeenNs == 0 {
		node.LastSeenNs = now.UnixNano()
	}
	node.IsActive = true
	current := m.Snapshot()
	next, changed := current.WithInsert(node)
	m.ring.Store(&next)
	m.membersGauge.Set(float64(next.Len()))
	m.changesTotal.Inc()
	level.Info(m.logger).Log("msg", "ring member inserted", "address", node.Address, "hash_id", node.HashID, "members", next.Len())
	return changed
}

// Remove applies a leave/inactivity-timeout to the ring.
func (m *Manager) Remove(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.Snapshot()
	next, changed := current.WithRemove(id)
	m.ring.Store(&next)
	m.membersGauge.Set(float64(next.Len()))
	m.changesTotal.Inc()
	level.Info(m.logger).Log("msg", "ring member removed", "id", id, "members", next.Len())
	return changed
}
