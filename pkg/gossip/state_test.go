package gossip

import (
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geogrid/routingtier/pkg/ring"
)

func newTestStateMachine(t *testing.T) (*StateMachine, Record) {
	t.Helper()
	self := Record{ID: uuid.New(), Address: "self:9000", HashID: 1, LastSeen: 1}
	mgr := ring.NewManager(log.NewNopLogger(), prometheus.NewRegistry(), ring.Empty)
	return NewStateMachine(self, 3*time.Second, 6*time.Second, mgr), self
}

func TestMergeAddsUnknownPeer(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	peer := Record{ID: uuid.New(), Address: "peer:9000", HashID: 500, LastSeen: 2}

	changed := sm.Merge(Digest{Records: []Record{peer}})
	assert.Contains(t, changed, "peer:9000")

	digest := sm.Digest()
	var found bool
	for _, r := range digest.Records {
		if r.ID == peer.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMergeKeepsNewerLastSeen(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	id := uuid.New()

	sm.Merge(Digest{Records: []Record{{ID: id, Address: "peer:9000", HashID: 10, LastSeen: 5}}})
	sm.Merge(Digest{Records: []Record{{ID: id, Address: "peer:9000", HashID: 10, LastSeen: 1}}})

	digest := sm.Digest()
	for _, r := range digest.Records {
		if r.ID == id {
			assert.Equal(t, int64(5), r.LastSeen)
		}
	}
}

func TestMergeIgnoresSelf(t *testing.T) {
	sm, self := newTestStateMachine(t)
	changed := sm.Merge(Digest{Records: []Record{{ID: self.ID, Address: "impostor:1", HashID: 999, LastSeen: 999}}})
	assert.Empty(t, changed)
}

func TestRandomAlivePeersExcludesSelfAndRespectsCount(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	for i := 0; i < 5; i++ {
		sm.Merge(Digest{Records: []Record{{ID: uuid.New(), Address: "peer", HashID: uint64(i), LastSeen: 1}}})
	}
	peers := sm.RandomAlivePeers(2)
	require.Len(t, peers, 2)
}

func TestSweepForgetsPeerAfterForgetTimeout(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	peerID := uuid.New()
	sm.Merge(Digest{Records: []Record{{ID: peerID, Address: "gone:9000", HashID: 42, LastSeen: 1}}})

	base := time.Now()
	tick := base
	sm.now = func() time.Time { return tick }

	tick = base.Add(10 * time.Second)
	changed := sm.Sweep()
	assert.Contains(t, changed, "gone:9000")

	peers := sm.RandomAlivePeers(10)
	assert.Empty(t, peers)
}

func TestSweepSuspectsWithoutForgetting(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	peerID := uuid.New()
	sm.Merge(Digest{Records: []Record{{ID: peerID, Address: "shaky:9000", HashID: 42, LastSeen: 1}}})

	base := time.Now()
	tick := base
	sm.now = func() time.Time { return tick }

	tick = base.Add(4 * time.Second)
	sm.Sweep()

	assert.Empty(t, sm.RandomAlivePeers(10), "suspect peers are not gossiped to")

	sm.MarkContact(peerID)
	assert.Len(t, sm.RandomAlivePeers(10), 1, "fresh contact revives a suspect peer")
}
