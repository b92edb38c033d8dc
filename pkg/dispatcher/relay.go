package dispatcher

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/geogrid/routingtier/pkg/httpcodec"
	"github.com/geogrid/routingtier/pkg/routeerr"
)

// Relay opens a fresh TCP connection to a storage node per request,
// writes the method/path/body and reads the full response, exactly as
// original_source/routing_server/routing_server.cpp's
// send_request_to_storage — but circuit-broken per storage node and with
// the §5 connect/read timeouts instead of an unbounded recv loop.
type Relay struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	storagePort    int

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker
}

// NewRelay constructs a Relay. storagePort is the fixed port every
// storage node listens on (spec §6 `storage_port`).
func NewRelay(connectTimeout, readTimeout time.Duration, storagePort int) *Relay {
	return &Relay{
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		storagePort:    storagePort,
		breakers:       make(map[int64]*gobreaker.CircuitBreaker),
	}
}

func (r *Relay) breakerFor(serverID int64) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[serverID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("storage-%d", serverID),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	r.breakers[serverID] = b
	return b
}

// Send relays method/path/body to serverID at location, returning the
// storage node's response unchanged. On connect/read timeout or breaker-
// open it returns a routeerr with the appropriate kind (spec §7).
func (r *Relay) Send(serverID int64, location, method, path string, body []byte) (httpcodec.Response, error) {
	breaker := r.breakerFor(serverID)

	result, err := breaker.Execute(func() (interface{}, error) {
		return r.send(location, method, path, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return httpcodec.Response{}, routeerr.Wrap(routeerr.Upstream, err, "storage node circuit open")
		}
		return httpcodec.Response{}, err
	}
	return result.(httpcodec.Response), nil
}

func (r *Relay) send(location, method, path string, body []byte) (httpcodec.Response, error) {
	addr := fmt.Sprintf("%s:%d", location, r.storagePort)

	conn, err := net.DialTimeout("tcp", addr, r.connectTimeout)
	if err != nil {
		return httpcodec.Response{}, wrapRelayErr(err, "connecting to storage node")
	}
	defer conn.Close()

	req := fmt.Sprintf("%s %s HTTP/1.1\r\nHost: %s\r\nContent-Length: %d\r\n\r\n", method, path, addr, len(body))
	if _, err := conn.Write([]byte(req)); err != nil {
		return httpcodec.Response{}, wrapRelayErr(err, "writing relay request")
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			return httpcodec.Response{}, wrapRelayErr(err, "writing relay body")
		}
	}

	conn.SetReadDeadline(time.Now().Add(r.readTimeout))
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	var readErr error
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			readErr = err
			break
		}
	}
	// A read that times out, even after collecting partial bytes, is a
	// timeout (spec §5 "on timeout the handler returns 504"), not a
	// truncated-but-parseable response.
	if netErr, ok := readErr.(net.Error); ok && netErr.Timeout() {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.Transient, readErr, "reading storage node response")
	}
	if len(buf) == 0 {
		return httpcodec.Response{}, routeerr.New(routeerr.Transient, "empty response from storage node")
	}

	resp, err := httpcodec.ParseResponse(buf)
	if err != nil {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.Upstream, err, "parsing storage node response")
	}
	return resp, nil
}

// wrapRelayErr classifies a dial/write error: a timeout maps to
// routeerr.Transient (504, spec §5), anything else (connection refused,
// network unreachable, etc.) maps to routeerr.Upstream (502).
func wrapRelayErr(err error, msg string) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return routeerr.Wrap(routeerr.Transient, err, msg)
	}
	return routeerr.Wrap(routeerr.Upstream, err, msg)
}
