// Package ring implements the consistent-hash ring of routing-node
// descriptors described in the routing tier specification: an ordered set of
// RouterNode entries on a 64-bit hash circle, each owning a contiguous arc,
// with lookups by key and atomic, copy-on-write membership changes.
package ring

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrEmptyRing is returned by FindOwner when the ring has no members.
var ErrEmptyRing = errors.New("ring: empty ring")

// HashAddress hashes a routing-node's dial address into its ring position.
// HashKey hashes an image geohash (or any routing key) the same way, so both
// producers agree on the same 64-bit circle as required by spec §4.1: the
// hash function must be identical across every node in a deployment.
func HashAddress(addr string) uint64 { return xxhash.Sum64String(addr) }
func HashKey(key string) uint64      { return xxhash.Sum64String(key) }

// RouterNode is one member of the ring: a routing node and the arc of the
// 64-bit circle it currently owns.
type RouterNode struct {
	ID         uuid.UUID
	Address    string
	HashID     uint64
	HashStart  uint64 // exclusive
	HashEnd    uint64 // inclusive; HashEnd == HashID
	Priority   int
	LastSeenNs int64
	IsActive   bool
}

// Owns reports whether key falls in this node's half-open arc
// (HashStart, HashEnd], wrapping through zero when HashStart >= HashEnd.
func (n RouterNode) Owns(key uint64) bool {
	if n.HashStart < n.HashEnd {
		return key > n.HashStart && key <= n.HashEnd
	}
	return key > n.HashStart || key <= n.HashEnd
}

// Ring is an immutable, sorted-by-HashID view of ring membership. Producers
// never mutate a Ring in place; Manager publishes a new Ring on every
// membership delta (spec §4.1 "snapshot").
type Ring struct {
	nodes []RouterNode
}

// Empty is the zero-member ring.
var Empty = Ring{}

// New builds a Ring from an unordered set of nodes, sorting by HashID and
// recomputing every arc. Ties in HashID are broken by the lexicographically
// smaller address (spec §4.1 tie-break), which also determines relative
// ordering of colliding nodes for arc computation.
func New(nodes []RouterNode) Ring {
	cp := make([]RouterNode, len(nodes))
	copy(cp, nodes)
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].HashID != cp[j].HashID {
			return cp[i].HashID < cp[j].HashID
		}
		return cp[i].Address < cp[j].Address
	})
	recomputeArcs(cp)
	return Ring{nodes: cp}
}

// recomputeArcs sets, for every position i, HashStart = predecessor's
// HashID and HashEnd = self's HashID, per spec §4.1 insert().
func recomputeArcs(nodes []RouterNode) {
	n := len(nodes)
	if n == 0 {
		return
	}
	for i := range nodes {
		pred := (i - 1 + n) % n
		nodes[i].HashStart = nodes[pred].HashID
		nodes[i].HashEnd = nodes[i].HashID
	}
}

// Len returns the number of member nodes.
func (r Ring) Len() int { return len(r.nodes) }

// Nodes returns a copy of the member slice, sorted by HashID.
func (r Ring) Nodes() []RouterNode {
	cp := make([]RouterNode, len(r.nodes))
	copy(cp, r.nodes)
	return cp
}

// FindOwner returns the RouterNode whose arc contains key, per spec §4.1:
// half-open interval membership with circle wraparound.
func (r Ring) FindOwner(key uint64) (RouterNode, error) {
	if len(r.nodes) == 0 {
		return RouterNode{}, ErrEmptyRing
	}
	if len(r.nodes) == 1 {
		return r.nodes[0], nil
	}
	// Binary search for the first node whose HashID >= key; that node owns
	// key unless we've wrapped past the last node, in which case node 0
	// (which wraps from the last HashID) owns it.
	idx := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i].HashID >= key })
	if idx == len(r.nodes) {
		idx = 0
	}
	return r.nodes[idx], nil
}

// WithInsert returns a new Ring with node inserted (or replacing an existing
// node with the same address), plus the set of node addresses whose arc
// changed so callers can invalidate caches (spec §4.1 insert()).
func (r Ring) WithInsert(node RouterNode) (next Ring, changed []string) {
	merged := make([]RouterNode, 0, len(r.nodes)+1)
	replaced := false
	for _, n := range r.nodes {
		if n.Address == node.Address {
			merged = append(merged, node)
			replaced = true
			continue
		}
		merged = append(merged, n)
	}
	if !replaced {
		merged = append(merged, node)
	}
	next = New(merged)
	changed = diffArcs(r, next)
	return next, changed
}

// WithRemove returns a new Ring without the node matching id, plus the set
// of addresses whose arc changed.
func (r Ring) WithRemove(id uuid.UUID) (next Ring, changed []string) {
	merged := make([]RouterNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.ID == id {
			continue
		}
		merged = append(merged, n)
	}
	next = New(merged)
	changed = diffArcs(r, next)
	return next, changed
}

func diffArcs(before, after Ring) []string {
	prev := make(map[string][2]uint64, len(before.nodes))
	for _, n := range before.nodes {
		prev[n.Address] = [2]uint64{n.HashStart, n.HashEnd}
	}
	var changed []string
	for _, n := range after.nodes {
		old, ok := prev[n.Address]
		if !ok || old != [2]uint64{n.HashStart, n.HashEnd} {
			changed = append(changed, n.Address)
		}
		delete(prev, n.Address)
	}
	for addr := range prev {
		changed = append(changed, addr)
	}
	return changed
}

// VerifyPartition checks the Ring invariant from spec §8: arcs cover the
// full circle with no gap or overlap.
func VerifyPartition(r Ring) error {
	nodes := r.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].HashEnd < nodes[j].HashEnd })
	for i, n := range nodes {
		next := nodes[(i+1)%len(nodes)]
		if n.HashEnd != next.HashStart {
			return errors.Errorf("ring: arc gap/overlap between %s and %s", n.Address, next.Address)
		}
	}
	return nil
}

// DescribeAddresses renders a comma-joined address list, used in log lines.
func DescribeAddresses(nodes []RouterNode) string {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Address
	}
	return strings.Join(addrs, ",")
}
