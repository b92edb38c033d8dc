package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTCPTransportRoundTrip(t *testing.T) {
	transport, err := NewTCPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer transport.Close()

	addr := transport.(*tcpTransport).ln.Addr().String()

	d := Digest{
		From:    Record{ID: uuid.New(), Address: "sender:9000"},
		Records: []Record{{ID: uuid.New(), Address: "peer:9000", HashID: 7}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, transport.SendDigest(ctx, addr, d))

	select {
	case received := <-transport.Digests():
		require.Equal(t, d.From.Address, received.Digest.From.Address)
		require.Len(t, received.Digest.Records, 1)
		require.Equal(t, uint64(7), received.Digest.Records[0].HashID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for digest")
	}
}

func TestTCPTransportSendToUnreachablePeerErrors(t *testing.T) {
	transport, err := NewTCPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = transport.SendDigest(ctx, "127.0.0.1:1", Digest{})
	require.Error(t, err)
}
