package gossip

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
)

// memberlistTransport wraps a *memberlist.Memberlist as the default
// PeerTransport (spec §9 names this the substitutable default). It reuses
// memberlist purely for peer discovery and best-effort unicast delivery;
// the liveness state machine in this package is driven by its own
// T_gossip/T_fail/T_forget timers rather than memberlist's internal SWIM
// failure detector, so the timing in spec §8 scenario 6 is exact.
type memberlistTransport struct {
	ml      *memberlist.Memberlist
	digests chan PeerDigest
}

// NewMemberlistTransport configures and starts a memberlist instance bound
// to bindAddr:bindPort, joining seedAddrs if any are given.
func NewMemberlistTransport(nodeName, bindAddr string, bindPort int, seedAddrs []string) (PeerTransport, error) {
	t := &memberlistTransport{digests: make(chan PeerDigest, 64)}

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = nodeName
	cfg.BindAddr = bindAddr
	cfg.BindPort = bindPort
	cfg.AdvertisePort = bindPort
	cfg.Delegate = t
	cfg.Events = t

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("gossip: creating memberlist: %w", err)
	}
	t.ml = ml

	if len(seedAddrs) > 0 {
		if _, err := ml.Join(seedAddrs); err != nil {
			return nil, fmt.Errorf("gossip: joining seeds: %w", err)
		}
	}
	return t, nil
}

func (t *memberlistTransport) SendDigest(_ context.Context, peerAddress string, d Digest) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	for _, m := range t.ml.Members() {
		if m.Address() == peerAddress {
			return t.ml.SendBestEffort(m, payload)
		}
	}
	return fmt.Errorf("gossip: peer %s not known to memberlist", peerAddress)
}

func (t *memberlistTransport) Digests() <-chan PeerDigest { return t.digests }

func (t *memberlistTransport) Close() error { return t.ml.Leave(5 * time.Second) }

// --- memberlist.Delegate -------------------------------------------------

func (t *memberlistTransport) NodeMeta(limit int) []byte { return nil }

func (t *memberlistTransport) NotifyMsg(msg []byte) {
	var d Digest
	if err := json.Unmarshal(msg, &d); err != nil {
		return
	}
	select {
	case t.digests <- PeerDigest{PeerAddress: d.From.Address, Digest: d}:
	default:
	}
}

func (t *memberlistTransport) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (t *memberlistTransport) LocalState(join bool) []byte { return nil }

func (t *memberlistTransport) MergeRemoteState(buf []byte, join bool) {}

// --- memberlist.EventDelegate ---------------------------------------------

func (t *memberlistTransport) NotifyJoin(node *memberlist.Node) {}

func (t *memberlistTransport) NotifyLeave(node *memberlist.Node) {}

func (t *memberlistTransport) NotifyUpdate(node *memberlist.Node) {}
