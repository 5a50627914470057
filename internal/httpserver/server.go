// Package httpserver is the concurrent request-processing engine: the
// edge-triggered readiness loop, the worker pool dispatch, the per-
// connection HTTP parser state machine, and the CGI child supervisor.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/kiprey/gowebserver/internal/poller"
	"github.com/kiprey/gowebserver/internal/timer"
	"github.com/kiprey/gowebserver/internal/workerpool"
)

// waitTimeoutMs is how long the supervising thread blocks in the
// multiplexer between event batches — short enough that ctx cancellation
// is noticed promptly without turning the accept loop into a busy spin.
const waitTimeoutMs = 100

// Server owns the listening descriptor and the one readiness multiplexer
// the supervising thread runs, per spec.md §2's Acceptor & Dispatcher.
type Server struct {
	listenFD int
	spareFD  int
	docRoot  string

	poller poller.Poller
	pool   *workerpool.Pool

	mu     sync.Mutex
	conns  map[int]*Connection // keyed by client fd
	timers map[int]*Connection // keyed by timer fd

	logger zerolog.Logger
}

// NewServer wraps an already-bound, already-listening, non-blocking socket.
// Binding and listening themselves are an external collaborator per
// spec.md §1 — see internal/netutil.
func NewServer(listenFD int, docRoot string, workers, maxQueue int, logger zerolog.Logger) (*Server, error) {
	p, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}
	if err := p.Add(listenFD, poller.Read|poller.Edge); err != nil {
		p.Close()
		return nil, fmt.Errorf("register listener: %w", err)
	}

	spareFD, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open spare descriptor: %w", err)
	}

	return &Server{
		listenFD: listenFD,
		spareFD:  spareFD,
		docRoot:  docRoot,
		poller:   p,
		pool:     workerpool.New(workers, maxQueue),
		conns:    make(map[int]*Connection),
		timers:   make(map[int]*Connection),
		logger:   logger,
	}, nil
}

// Run blocks, driving the readiness loop until ctx is cancelled, then
// drains in flight work and releases every resource before returning.
func (s *Server) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return s.shutdown()
		}

		events, err := s.poller.Wait(waitTimeoutMs)
		if err != nil {
			s.logger.Warn().Err(err).Msg("poller wait failed")
			continue
		}

		for _, ev := range events {
			if ev.Fd == s.listenFD {
				s.acceptLoop()
				continue
			}
			s.dispatch(ev)
		}
	}
}

// acceptLoop drains every pending connection: under edge-triggered mode a
// single readiness notification can represent an arbitrary number of
// waiting peers, so accept4 is called until it reports EAGAIN.
func (s *Server) acceptLoop() {
	for {
		nfd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			case unix.EMFILE, unix.ENFILE:
				s.drainAcceptQueue()
				continue
			default:
				s.logger.Warn().Err(err).Msg("accept failed")
				return
			}
		}
		s.newConnection(nfd)
	}
}

// drainAcceptQueue implements the spare-descriptor technique from spec.md
// §4.5/§9: release a held-idle descriptor to get headroom, accept and
// immediately close whatever is stuck in the kernel's backlog so those
// peers get a prompt reset instead of lingering, then reacquire the spare
// so the next exhaustion can be handled the same way.
func (s *Server) drainAcceptQueue() {
	unix.Close(s.spareFD)

	for {
		nfd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			break
		}
		unix.Close(nfd)
	}

	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to reacquire spare descriptor")
		return
	}
	s.spareFD = fd
}

func (s *Server) newConnection(fd int) {
	t, err := timer.New()
	if err != nil {
		unix.Close(fd)
		return
	}
	if err := t.Reset(perRequestTimeout); err != nil {
		t.Close()
		unix.Close(fd)
		return
	}

	conn := newConnection(fd, t, s.docRoot, s.logger.With().Int("fd", fd).Logger())

	if err := s.poller.Add(fd, poller.Read|poller.Edge|poller.OneShot|poller.PeerHup|poller.HangUp); err != nil {
		t.Close()
		unix.Close(fd)
		return
	}
	if err := s.poller.Add(t.Fd(), poller.Read|poller.Edge|poller.OneShot); err != nil {
		s.poller.Del(fd)
		t.Close()
		unix.Close(fd)
		return
	}

	s.mu.Lock()
	s.conns[fd] = conn
	s.timers[t.Fd()] = conn
	s.mu.Unlock()

	s.logger.Debug().Str("status", connectionStatusLine(fd)).Msg("accepted connection")
}

// dispatch implements spec.md §4.4.8's event handling: a timer readiness
// always destroys the owning Connection; a client-socket readiness either
// destroys it (hangup/error) or disarms the timer and hands it to the
// worker pool.
func (s *Server) dispatch(ev poller.Event) {
	s.mu.Lock()
	if conn, ok := s.timers[ev.Fd]; ok {
		s.mu.Unlock()
		s.destroyConnection(conn)
		return
	}
	conn, ok := s.conns[ev.Fd]
	s.mu.Unlock()
	if !ok {
		return
	}

	if ev.Mask&(poller.PeerHup|poller.HangUp) != 0 {
		s.destroyConnection(conn)
		return
	}
	if ev.Mask&poller.ErrorEvent != 0 || ev.Mask&poller.Read == 0 {
		s.destroyConnection(conn)
		return
	}

	if err := s.poller.Modify(conn.timer.Fd(), 0); err != nil {
		s.destroyConnection(conn)
		return
	}

	if !s.pool.Submit(func() { s.runStep(conn) }) {
		s.destroyConnection(conn)
	}
}

// runStep is the task body a worker executes: one Connection step, then
// either re-arm both registrations or tear the Connection down.
func (s *Server) runStep(conn *Connection) {
	if !conn.RunStep() {
		s.destroyConnection(conn)
		return
	}

	if err := conn.timer.Reset(perRequestTimeout); err != nil {
		s.destroyConnection(conn)
		return
	}
	if err := s.poller.Modify(conn.timer.Fd(), poller.Read|poller.Edge|poller.OneShot); err != nil {
		s.destroyConnection(conn)
		return
	}
	if err := s.poller.Modify(conn.fd, poller.Read|poller.Edge|poller.OneShot|poller.PeerHup|poller.HangUp); err != nil {
		s.destroyConnection(conn)
		return
	}
}

// destroyConnection deregisters then closes both descriptors, in that
// order, per spec.md §4.4's destruction rule — deregistering first avoids
// racing a spurious event against a descriptor that's already been closed
// and potentially reused by an unrelated accept. It tolerates being called
// twice for the same Connection (a timer event and a socket event racing
// the same destruction), since the second caller just finds it already
// gone from the maps.
func (s *Server) destroyConnection(conn *Connection) {
	s.mu.Lock()
	if _, ok := s.conns[conn.fd]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conns, conn.fd)
	delete(s.timers, conn.timer.Fd())
	s.mu.Unlock()

	s.poller.Del(conn.fd)
	unix.Close(conn.fd)
	s.poller.Del(conn.timer.Fd())
	conn.timer.Close()
}

// shutdown drains the worker pool gracefully, tears down every remaining
// Connection, and releases the server's own descriptors.
func (s *Server) shutdown() error {
	s.pool.Shutdown(workerpool.Graceful)

	s.mu.Lock()
	remaining := make([]*Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		remaining = append(remaining, conn)
	}
	s.mu.Unlock()
	for _, conn := range remaining {
		s.destroyConnection(conn)
	}

	s.poller.Close()
	unix.Close(s.spareFD)
	return unix.Close(s.listenFD)
}

// connectionStatusLine renders the server/client address pair for a freshly
// accepted socket, supplemented from
// original_source/HttpHandler.cpp's printConnectionStatus.
func connectionStatusLine(fd int) string {
	return fmt.Sprintf("[Server] %s <---> [Client] %s", sockAddrString(fd, unix.Getsockname), sockAddrString(fd, unix.Getpeername))
}

func sockAddrString(fd int, lookup func(fd int) (unix.Sockaddr, error)) string {
	sa, err := lookup(fd)
	if err != nil {
		return "?"
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(a.Addr[:]).String(), a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(a.Addr[:]).String(), a.Port)
	default:
		return "?"
	}
}
