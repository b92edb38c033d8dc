package dispatcher

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geogrid/routingtier/pkg/routeerr"
)

// fakeStorageNode accepts one connection, reads the request line, and
// replies with a fixed status/body, mirroring enough of a storage node to
// exercise Relay.Send without pulling in pkg/catalog.
func fakeStorageNode(t *testing.T, status int, body string) (addr string, port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil || strings.TrimSpace(line) == "" {
						break
					}
				}
				resp := "HTTP/1.1 " + strconv.Itoa(status) + " OK\r\nContent-Length: " +
					strconv.Itoa(len(body)) + "\r\n\r\n" + body
				c.Write([]byte(resp))
			}(conn)
		}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcpAddr.Port, func() { ln.Close() }
}

func TestRelaySendReturnsUpstreamResponse(t *testing.T) {
	host, port, stop := fakeStorageNode(t, 200, `{"ok":true}`)
	defer stop()

	relay := NewRelay(time.Second, time.Second, port)
	resp, err := relay.Send(1, host, "GET", "/tiles/1", nil)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func TestRelaySendFailsToUnreachableNode(t *testing.T) {
	relay := NewRelay(100*time.Millisecond, 100*time.Millisecond, 1)
	_, err := relay.Send(2, "127.0.0.1", "GET", "/tiles/1", nil)
	assert.Error(t, err)
}

// silentStorageNode accepts a connection and never writes back, so a
// Relay's read deadline fires.
func silentStorageNode(t *testing.T) (host string, port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					if _, err := c.Read(buf); err != nil {
						c.Close()
						return
					}
				}
			}(conn)
		}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcpAddr.Port, func() { ln.Close() }
}

func TestRelaySendReadTimeoutMapsToTransient504(t *testing.T) {
	host, port, stop := silentStorageNode(t)
	defer stop()

	relay := NewRelay(time.Second, 50*time.Millisecond, port)
	_, err := relay.Send(3, host, "GET", "/tiles/1", nil)

	require.Error(t, err)
	assert.Equal(t, routeerr.Transient, routeerr.KindOf(err))
	assert.Equal(t, 504, routeerr.StatusOf(err))
}

// fakeTimeoutErr is a minimal net.Error whose Timeout() is controllable,
// so wrapRelayErr's classification can be tested without depending on a
// real dial actually timing out (which a sandboxed network can't
// guarantee deterministically).
type fakeTimeoutErr struct{ timeout bool }

func (e fakeTimeoutErr) Error() string   { return "fake net error" }
func (e fakeTimeoutErr) Timeout() bool   { return e.timeout }
func (e fakeTimeoutErr) Temporary() bool { return e.timeout }

func TestWrapRelayErrMapsTimeoutToTransient(t *testing.T) {
	err := wrapRelayErr(fakeTimeoutErr{timeout: true}, "connecting to storage node")
	assert.Equal(t, routeerr.Transient, routeerr.KindOf(err))
	assert.Equal(t, 504, routeerr.StatusOf(err))
}

func TestWrapRelayErrMapsNonTimeoutToUpstream(t *testing.T) {
	err := wrapRelayErr(fakeTimeoutErr{timeout: false}, "connecting to storage node")
	assert.Equal(t, routeerr.Upstream, routeerr.KindOf(err))
	assert.Equal(t, 502, routeerr.StatusOf(err))
}

func TestRelayUsesOneBreakerPerServer(t *testing.T) {
	relay := NewRelay(time.Second, time.Second, 0)
	a := relay.breakerFor(1)
	b := relay.breakerFor(1)
	c := relay.breakerFor(2)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
