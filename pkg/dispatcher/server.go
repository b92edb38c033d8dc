package dispatcher

import (
	"context"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/geogrid/routingtier/pkg/httpcodec"
	"github.com/geogrid/routingtier/pkg/routeerr"
)

const maxPollEvents = 32
const readBufferSize = 4096

// Server is the accept-thread-plus-worker-pool reactor of spec §4.6 and
// §5, grounded on original_source/routing_server/routing_server.cpp's
// create_master_socket / worker_main / routing_server_run.
type Server struct {
	ln       *net.TCPListener
	poller   *poller
	ctx      *DispatcherCtx
	handlers *Handlers
	logger   log.Logger

	workers int

	connsMu sync.Mutex
	conns   map[int]net.Conn

	requestsTotal   *prometheus.CounterVec
	queueDepthGauge prometheus.Gauge
}

// NewServer binds listenAddr and prepares the reactor; call Serve to run
// it. workers <= 0 uses runtime.NumCPU(), per spec §4.6 "W configurable,
// default = cores".
func NewServer(listenAddr string, workers, queueCapacity int, handlers *Handlers, logger log.Logger, reg prometheus.Registerer) (*Server, error) {
	addr, err := net.ResolveTCPAddr("tcp", listenAddr)
	if err != nil {
		return nil, routeerr.Wrap(routeerr.Fatal, err, "resolving listen address")
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, routeerr.Wrap(routeerr.Fatal, err, "binding listen socket")
	}

	p, err := newPoller()
	if err != nil {
		ln.Close()
		return nil, routeerr.Wrap(routeerr.Fatal, err, "setting up readiness poller")
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	s := &Server{
		ln:       ln,
		poller:   p,
		ctx:      NewDispatcherCtx(queueCapacity, logger),
		handlers: handlers,
		logger:   logger,
		workers:  workers,
		conns:    make(map[int]net.Conn),
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "routingtier_dispatcher_requests_total",
			Help: "Requests handled by the dispatcher, by method and status class.",
		}, []string{"method", "status"}),
		queueDepthGauge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "routingtier_dispatcher_queue_depth",
			Help: "Current depth of the ready-socket FIFO.",
		}),
	}
	return s, nil
}

// Serve starts the worker pool and runs the accept loop until ctx is
// cancelled or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	rawListenerFd, err := listenerFd(s.ln)
	if err != nil {
		return routeerr.Wrap(routeerr.Fatal, err, "extracting listener fd")
	}
	if err := s.poller.Add(rawListenerFd); err != nil {
		return err
	}

	for i := 0; i < s.workers; i++ {
		s.ctx.WorkerStarted()
		go s.workerLoop()
	}

	level.Info(s.logger).Log("msg", "dispatcher listening", "addr", s.ln.Addr(), "workers", s.workers)

	go func() {
		<-ctx.Done()
		s.ctx.Shutdown(context.Background())
	}()

	return s.acceptLoop(rawListenerFd)
}

func (s *Server) acceptLoop(listenerFd int) error {
	conns := make(map[int]net.Conn)

	for !s.ctx.Stopped() {
		ready, err := s.poller.Wait(maxPollEvents)
		if err != nil {
			return routeerr.Wrap(routeerr.Fatal, err, "epoll_wait failed")
		}

		for _, fd := range ready {
			if fd == listenerFd {
				conn, err := s.ln.Accept()
				if err != nil {
					continue
				}
				connFd, err := connFD(conn)
				if err != nil {
					conn.Close()
					continue
				}
				setNonblock(connFd)
				if err := s.poller.Add(connFd); err != nil {
					conn.Close()
					continue
				}
				conns[connFd] = conn
				continue
			}

			// Remove from the poller immediately to prevent duplicate
			// delivery, then hand off to a worker (spec §4.6).
			s.poller.Remove(fd)
			conn, tracked := conns[fd]
			delete(conns, fd)
			if !tracked {
				continue
			}

			s.connsMu.Lock()
			s.conns[fd] = conn
			s.connsMu.Unlock()

			if !s.ctx.Enqueue(fd) {
				s.connsMu.Lock()
				delete(s.conns, fd)
				s.connsMu.Unlock()
				conn.Close()
				continue
			}
			s.queueDepthGauge.Inc()
		}
	}
	return nil
}

func (s *Server) workerLoop() {
	defer s.ctx.WorkerDone()
	for {
		fd, ok := s.ctx.Dequeue()
		if !ok {
			return
		}
		s.queueDepthGauge.Dec()

		s.connsMu.Lock()
		conn := s.conns[fd]
		delete(s.conns, fd)
		s.connsMu.Unlock()
		if conn == nil {
			continue
		}

		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}

	req, err := httpcodec.ParseRequest(buf[:n])
	if err != nil {
		level.Warn(s.logger).Log("msg", "malformed request", "err", err)
		conn.Write(httpcodec.JSON(400, []byte(`{"error":"malformed request"}`)).Encode())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp := s.handlers.Dispatch(ctx, req)
	s.requestsTotal.WithLabelValues(req.Method, statusClass(resp.Status)).Inc()
	conn.Write(resp.Encode())
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Close releases the listener and poller.
func (s *Server) Close() error {
	s.poller.Close()
	return s.ln.Close()
}

func listenerFd(ln *net.TCPListener) (int, error) {
	sc, err := ln.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	err = sc.Control(func(rawFd uintptr) { fd = int(rawFd) })
	return fd, err
}

func connFD(conn net.Conn) (int, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return 0, syscall.EINVAL
	}
	sc, err := tc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	err = sc.Control(func(rawFd uintptr) { fd = int(rawFd) })
	return fd, err
}
