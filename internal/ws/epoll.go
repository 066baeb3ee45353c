//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Epoll multiplexes read readiness for every client socket through a single
// kernel epoll instance. Most connections here sit idle for long stretches,
// waiters parked in a match queue or paired peers between messages, so the
// read path registers them with the kernel and wakes a worker only when a
// frame arrives rather than pinning a goroutine per socket.
type Epoll struct {
	fd          int               // epoll file descriptor
	connections map[int]net.Conn  // registered sockets keyed by fd
	mu          sync.RWMutex      // guards connections
	events      []unix.EpollEvent // reusable buffer for Wait
}

// NewEpoll creates the epoll instance via epoll_create1.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:          fd,
		connections: make(map[int]net.Conn),
		events:      make([]unix.EpollEvent, 128),
	}, nil
}

// Add puts a freshly upgraded connection under epoll watch for EPOLLIN and
// EPOLLHUP. Called once per connection, right after the WebSocket upgrade.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.connections[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove drops the connection from the epoll interest list. Part of
// connection teardown; queue and session cleanup happen separately.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.connections, fd)
	e.mu.Unlock()
	return nil
}

// Wait blocks in epoll_wait until at least one watched socket has data and
// returns the corresponding connections. A socket removed between the
// kernel notification and the map lookup is skipped; its teardown is
// already running elsewhere.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.connections[int(e.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	e.mu.RUnlock()
	return conns, nil
}

// Close releases the epoll file descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connections = nil
	return unix.Close(e.fd)
}

// socketFD digs the file descriptor out of a net.Conn through SyscallConn.
// net.TCPConn.File would dup the descriptor, leaving epoll registered on a
// different fd than the one the connection actually reads from.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
