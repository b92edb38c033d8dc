//go:build linux

package dispatcher

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// poller wraps a level-triggered epoll instance, the Go equivalent of the
// original source's create_master_socket + epoll_wait reactor
// (original_source/routing_server/routing_server.cpp). Level-triggered
// (no EPOLLET) keeps a ready socket reported on every Wait until it is
// actually drained, matching the original's semantics exactly.
type poller struct {
	epfd int

	mu      sync.Mutex
	watched map[int]struct{}
}

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: epoll_create1: %w", err)
	}
	return &poller{epfd: fd, watched: make(map[int]struct{})}, nil
}

// Add registers fd for EPOLLIN readiness.
func (p *poller) Add(fd int) error {
	p.mu.Lock()
	p.watched[fd] = struct{}{}
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("dispatcher: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Remove deregisters fd; callers must still close it themselves.
func (p *poller) Remove(fd int) {
	p.mu.Lock()
	delete(p.watched, fd)
	p.mu.Unlock()
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one watched fd is readable (or an error is
// pending on it) and returns the ready file descriptors. maxEvents bounds
// how many are returned in one call, mirroring the original's MAX_EVENTS.
func (p *poller) Wait(maxEvents int) ([]int, error) {
	events := make([]unix.EpollEvent, maxEvents)
	n, err := unix.EpollWait(p.epfd, events, -1)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatcher: epoll_wait: %w", err)
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, int(events[i].Fd))
	}
	return ready, nil
}

func (p *poller) Close() error {
	return unix.Close(p.epfd)
}

func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
