package gossip

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is jsoniter configured for encoding/json-compatible wire output,
// shared by every JSON encode/decode in this package (transport.go and
// memberlist_transport.go), matching the teacher's own json-iterator/go
// usage.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

func shuffleRecords(records []Record) {
	rand.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })
}

// PeerTransport is the substitutable capability spec §9's redesign note
// calls for: "abstract as a PeerTransport capability {send_digest(peer,
// msg), recv_digest() -> (peer, msg)}". SendDigest pushes this node's view
// to peer; Digests delivers views received from others.
type PeerTransport interface {
	SendDigest(ctx context.Context, peerAddress string, d Digest) error
	Digests() <-chan PeerDigest
	Close() error
}

// tcpTransport is the literal short-connect-send-close behaviour of
// original_source/routing_server/gossip.cpp's gossip_broadcast: one TCP
// connection per peer per round, newline-delimited JSON, no
// keep-alive, failures logged by the caller and not retried (spec §4.2
// "Failure semantics").
type tcpTransport struct {
	listenAddr string
	ln         net.Listener
	digests    chan PeerDigest
	dialer     net.Dialer
}

// NewTCPTransport listens on listenAddr and returns a PeerTransport that
// exchanges digests as one JSON object per connection.
func NewTCPTransport(listenAddr string) (PeerTransport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("gossip: listen %s: %w", listenAddr, err)
	}
	t := &tcpTransport{
		listenAddr: listenAddr,
		ln:         ln,
		digests:    make(chan PeerDigest, 64),
		dialer:     net.Dialer{Timeout: 2 * time.Second},
	}
	go t.acceptLoop()
	return t, nil
}

func (t *tcpTransport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		go t.handleConn(conn)
	}
}

func (t *tcpTransport) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var d Digest
	if err := json.NewDecoder(conn).Decode(&d); err != nil {
		return
	}
	select {
	case t.digests <- PeerDigest{PeerAddress: conn.RemoteAddr().String(), Digest: d}:
	default:
		// FIFO full; this round's digest is dropped, the next round
		// subsumes it (spec §4.2 "Failure semantics").
	}
}

func (t *tcpTransport) SendDigest(ctx context.Context, peerAddress string, d Digest) error {
	conn, err := t.dialer.DialContext(ctx, "tcp", peerAddress)
	if err != nil {
		return fmt.Errorf("gossip: dial %s: %w", peerAddress, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return json.NewEncoder(conn).Encode(d)
}

func (t *tcpTransport) Digests() <-chan PeerDigest { return t.digests }

func (t *tcpTransport) Close() error { return t.ln.Close() }
