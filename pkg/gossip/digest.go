package gossip

import "github.com/google/uuid"

// Record is one routing node's view of a peer, as carried in a Digest
// (spec §4.2: "the full list of {id, address, hash_id, priority,
// last_seen} it currently knows").
type Record struct {
	ID       uuid.UUID `json:"id"`
	Address  string    `json:"address"`
	HashID   uint64    `json:"hash_id"`
	Priority int       `json:"priority"`
	LastSeen int64     `json:"last_seen"`
}

// Digest is the full membership view exchanged in one gossip round.
type Digest struct {
	From    Record   `json:"from"`
	Records []Record `json:"records"`
}

// PeerDigest pairs an inbound Digest with the peer address it arrived
// from, for StateMachine.Merge.
type PeerDigest struct {
	PeerAddress string
	Digest      Digest
}
