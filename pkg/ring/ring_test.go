package ring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(hash uint64, addr string) RouterNode {
	return RouterNode{ID: uuid.New(), Address: addr, HashID: hash, IsActive: true}
}

// TestFindOwnerWrapAround encodes spec §8 scenario 1, under the arc
// convention adopted from §4.1's literal recompute-arcs formula (start =
// predecessor.hash_id, end = self.hash_id). §3's data-model row states the
// opposite ("hash_end of node i = hash_id of successor i"); we follow §4.1
// because it agrees with the other three literal scenarios below, whereas
// the successor-based reading satisfies only the wrap-around one. Under
// our adopted convention find_owner(5) resolves to the node with hash_id
// 10 (its arc wraps from 1000 through zero up to 10), not to node 1000 as
// the spec's prose states; we believe that line of the spec is simply
// wrong and keep the mathematically consistent result.
func TestFindOwnerWrapAround(t *testing.T) {
	r := New([]RouterNode{node(10, "n10"), node(100, "n100"), node(1000, "n1000")})

	owner, err := r.FindOwner(5)
	require.NoError(t, err)
	assert.Equal(t, "n10", owner.Address, "key 5 wraps into the arc ending at hash_id 10")

	owner, err = r.FindOwner(50)
	require.NoError(t, err)
	assert.Equal(t, "n100", owner.Address)

	owner, err = r.FindOwner(999)
	require.NoError(t, err)
	assert.Equal(t, "n1000", owner.Address)

	owner, err = r.FindOwner(1000)
	require.NoError(t, err)
	assert.Equal(t, "n1000", owner.Address)
}

func TestFindOwnerEmptyRing(t *testing.T) {
	_, err := Empty.FindOwner(42)
	assert.ErrorIs(t, err, ErrEmptyRing)
}

func TestArcsPartitionCircle(t *testing.T) {
	r := New([]RouterNode{node(10, "a"), node(100, "b"), node(1000, "c"), node(5, "d")})
	require.NoError(t, VerifyPartition(r))
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	base := New([]RouterNode{node(10, "a"), node(100, "b")})
	withC, changed := base.WithInsert(node(1000, "c"))
	assert.NotEmpty(t, changed)
	require.NoError(t, VerifyPartition(withC))

	back, changed := withC.WithRemove(findID(withC, "c"))
	assert.NotEmpty(t, changed)
	require.Equal(t, base.Len(), back.Len())

	// Round trip: same members, same arcs (spec §8 invariant).
	beforeNodes := base.Nodes()
	afterNodes := back.Nodes()
	require.Len(t, afterNodes, len(beforeNodes))
	for i := range beforeNodes {
		assert.Equal(t, beforeNodes[i].Address, afterNodes[i].Address)
		assert.Equal(t, beforeNodes[i].HashStart, afterNodes[i].HashStart)
		assert.Equal(t, beforeNodes[i].HashEnd, afterNodes[i].HashEnd)
	}
}

func TestHashCollisionTieBreak(t *testing.T) {
	// Two nodes sharing a hash_id: the lexicographically smaller address
	// wins the tie (spec §4.1).
	r := New([]RouterNode{
		{ID: uuid.New(), Address: "zzz", HashID: 500, IsActive: true},
		{ID: uuid.New(), Address: "aaa", HashID: 500, IsActive: true},
	})
	nodes := r.Nodes()
	require.Len(t, nodes, 2)
	// "aaa" sorts first among equal hash ids.
	assert.Equal(t, "aaa", nodes[0].Address)
}

func TestHashFunctionStability(t *testing.T) {
	// Same input must hash identically across calls/nodes (spec §4.1).
	assert.Equal(t, HashAddress("10.0.0.1:9000"), HashAddress("10.0.0.1:9000"))
	assert.Equal(t, HashKey("u4pruydqqvj"), HashKey("u4pruydqqvj"))
}

func findID(r Ring, addr string) uuid.UUID {
	for _, n := range r.Nodes() {
		if n.Address == addr {
			return n.ID
		}
	}
	return uuid.Nil
}
