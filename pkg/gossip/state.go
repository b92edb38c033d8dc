// Package gossip implements the epidemic membership protocol of spec §4.2:
// fan-out digest exchange, a per-peer Unknown->Alive->Suspect->Dead state
// machine driven by T_gossip/T_fail/T_forget timers, and the Ring updates
// that follow from each merge.
package gossip

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geogrid/routingtier/pkg/ring"
)

// Liveness is a peer record's position in the Unknown -> Alive -> Suspect
// -> Dead state machine of spec §4.2. Alive<->Suspect are reversible on
// fresh contact. StateMachine never assigns Dead: Sweep deletes a peer
// once forgetTimeout passes, and a later digest that still carries that
// peer adds it again as Alive.
type Liveness int

const (
	Unknown Liveness = iota
	Alive
	Suspect
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

type peerEntry struct {
	record   Record
	liveness Liveness
	seenAt   time.Time
}

// StateMachine tracks the liveness of every peer this node has heard of
// and feeds confirmed membership deltas into a ring.Manager.
type StateMachine struct {
	mu sync.Mutex

	self         Record
	failTimeout  time.Duration
	forgetTimeout time.Duration

	peers map[uuid.UUID]*peerEntry
	ring  *ring.Manager
	now   func() time.Time
}

// NewStateMachine constructs a StateMachine seeded with self's own record.
func NewStateMachine(self Record, failTimeout, forgetTimeout time.Duration, r *ring.Manager) *StateMachine {
	sm := &StateMachine{
		self:          self,
		failTimeout:   failTimeout,
		forgetTimeout: forgetTimeout,
		peers:         make(map[uuid.UUID]*peerEntry),
		ring:          r,
		now:           time.Now,
	}
	sm.peers[self.ID] = &peerEntry{record: self, liveness: Alive, seenAt: sm.now()}
	return sm
}

// Self returns this node's current record, with LastSeen as of the last
// Beat.
func (sm *StateMachine) Self() Record {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.self
}

// Beat refreshes this node's own LastSeen timestamp, as a local heartbeat.
func (sm *StateMachine) Beat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.self.LastSeen = sm.now().UnixNano()
	sm.peers[sm.self.ID].record = sm.self
	sm.peers[sm.self.ID].seenAt = sm.now()
}

// Digest returns the full membership view to send in the next gossip
// round (spec §4.2 "Fan-out").
func (sm *StateMachine) Digest() Digest {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	records := make([]Record, 0, len(sm.peers))
	for _, p := range sm.peers {
		records = append(records, p.record)
	}
	return Digest{From: sm.self, Records: records}
}

// RandomAlivePeers returns up to n peers currently Alive, excluding self,
// for the fan-out step of spec §4.2.
func (sm *StateMachine) RandomAlivePeers(n int) []Record {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var candidates []Record
	for id, p := range sm.peers {
		if id == sm.self.ID || p.liveness != Alive {
			continue
		}
		candidates = append(candidates, p.record)
	}
	shuffleRecords(candidates)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// Merge applies an incoming Digest: for a known id the record with the
// newer LastSeen wins, for an unknown id it is added (spec §4.2
// "Receive"). Every accepted change is pushed into the ring.Manager.
// Returns the set of addresses whose arcs changed.
func (sm *StateMachine) Merge(d Digest) []string {
	sm.mu.Lock()
	var toInsert []Record
	for _, rec := range d.Records {
		if rec.ID == sm.self.ID {
			continue
		}
		existing, ok := sm.peers[rec.ID]
		if !ok || rec.LastSeen > existing.record.LastSeen {
			sm.peers[rec.ID] = &peerEntry{record: rec, liveness: Alive, seenAt: sm.now()}
			toInsert = append(toInsert, rec)
		}
	}
	sm.mu.Unlock()

	var changed []string
	for _, rec := range toInsert {
		node := ring.RouterNode{
			ID:         rec.ID,
			Address:    rec.Address,
			HashID:     rec.HashID,
			Priority:   rec.Priority,
			LastSeenNs: rec.LastSeen,
			IsActive:   true,
		}
		changed = append(changed, sm.ring.Insert(node, sm.now())...)
	}
	return changed
}

// Sweep applies the liveness timers of spec §4.2: peers without contact
// for failTimeout become Suspect, which drops them from fan-out; their
// ring entry is left unchanged (still active). Peers without contact for
// forgetTimeout are removed entirely, from the peer table and the ring.
// Returns the addresses whose arcs changed on the ring.
func (sm *StateMachine) Sweep() []string {
	sm.mu.Lock()
	now := sm.now()
	var forgotten []uuid.UUID
	for id, p := range sm.peers {
		if id == sm.self.ID {
			continue
		}
		age := now.Sub(p.seenAt)
		switch {
		case age >= sm.forgetTimeout:
			forgotten = append(forgotten, id)
			delete(sm.peers, id)
		case age >= sm.failTimeout:
			p.liveness = Suspect
		}
	}
	sm.mu.Unlock()

	var changed []string
	for _, id := range forgotten {
		changed = append(changed, sm.ring.Remove(id)...)
	}
	return changed
}

// MarkContact records fresh contact from peer, reviving it from Suspect
// to Alive if needed (spec §4.2 "reversible on fresh contact").
func (sm *StateMachine) MarkContact(id uuid.UUID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if p, ok := sm.peers[id]; ok && p.liveness == Suspect {
		p.liveness = Alive
		p.seenAt = sm.now()
	}
}
