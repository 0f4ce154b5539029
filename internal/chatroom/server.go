package chatroom

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/aegistudio/chatroom/chaterr"
	"github.com/aegistudio/chatroom/internal/session"
	"github.com/aegistudio/chatroom/reactor"
)

// Server is the single-threaded event loop at the top of the chatroom.
// Exactly one goroutine ever calls Run; every other exported method on
// Server is only safe to call before Run starts or after it returns.
type Server struct {
	cfg      config
	listenFD int
	react    reactor.Reactor
	reg      *registry

	// wakeR/wakeW are the ends of a self-pipe used only to interrupt a
	// blocked Wait(-1) call when ctx is cancelled. Nothing about the
	// chat protocol flows through it.
	wakeR, wakeW int
}

// Listen creates, binds, and starts listening on a TCP socket bound to
// 0.0.0.0:port: SOCK_STREAM, SO_REUSEADDR, then bind and listen. The
// returned Server owns the listening socket and will close it when Run
// returns.
func Listen(port int, opts ...Option) (*Server, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, chaterr.WrapStage(chaterr.CodeFatal, chaterr.StageSocket, "the server socket cannot be created", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return nil, chaterr.WrapStage(chaterr.CodeFatal, chaterr.StageSocket, "the server socket cannot be created", err)
	}

	addr := syscall.SockaddrInet4{Port: port}
	if err := syscall.Bind(fd, &addr); err != nil {
		syscall.Close(fd)
		return nil, chaterr.WrapStage(chaterr.CodeFatal, chaterr.StageBind, "the server socket cannot bind to port", err)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := syscall.Listen(fd, cfg.backlog); err != nil {
		syscall.Close(fd)
		return nil, chaterr.WrapStage(chaterr.CodeFatal, chaterr.StageListen, "the server socket cannot listen on the port", err)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, chaterr.WrapStage(chaterr.CodeFatal, chaterr.StageSocket, "the server socket cannot be made non-blocking", err)
	}

	react, err := reactor.New()
	if err != nil {
		syscall.Close(fd)
		return nil, chaterr.Wrap(chaterr.CodeFatal, "the readiness backend could not be created", err)
	}

	var wakePipe [2]int
	if err := syscall.Pipe(wakePipe[:]); err != nil {
		syscall.Close(fd)
		return nil, chaterr.Wrap(chaterr.CodeFatal, "the wakeup pipe could not be created", err)
	}
	syscall.SetNonblock(wakePipe[0], true)
	syscall.SetNonblock(wakePipe[1], true)

	return &Server{
		cfg:      cfg,
		listenFD: fd,
		react:    react,
		reg:      newRegistry(cfg.logger),
		wakeR:    wakePipe[0],
		wakeW:    wakePipe[1],
	}, nil
}

// Run drives the event loop until ctx is cancelled or a fatal error
// occurs. SIGPIPE is ignored for the process's lifetime so a write to a
// half-closed peer fails with EPIPE instead of killing the process.
func (s *Server) Run(ctx context.Context) error {
	signal.Ignore(syscall.SIGPIPE)
	defer syscall.Close(s.listenFD)
	defer syscall.Close(s.wakeR)
	defer syscall.Close(s.wakeW)
	defer s.react.Close()

	if err := s.react.Add(s.listenFD, reactor.Read); err != nil {
		return chaterr.Wrap(chaterr.CodeFatal, "could not register listen socket", err)
	}
	if err := s.react.Add(s.wakeR, reactor.Read); err != nil {
		return chaterr.Wrap(chaterr.CodeFatal, "could not register wakeup pipe", err)
	}

	stopWatching := make(chan struct{})
	defer close(stopWatching)
	go func() {
		select {
		case <-ctx.Done():
			syscall.Write(s.wakeW, []byte{0})
		case <-stopWatching:
		}
	}()

	events := make([]reactor.Event, 0, s.cfg.eventBatch)
	for {
		var err error
		events, err = s.react.Wait(events[:0], -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return chaterr.Wrap(chaterr.CodeFatal, "readiness wait failed", err)
		}

		for _, ev := range events {
			switch ev.Fd {
			case s.wakeR:
				return ctx.Err()
			case s.listenFD:
				s.acceptAll()
			default:
				s.handleConn(ev)
			}
		}

		s.syncWriteInterest()
	}
}

// acceptAll drains every pending connection on the listen socket, since
// level-triggered readiness only guarantees at least one is waiting.
func (s *Server) acceptAll() {
	for {
		fd, sa, err := syscall.Accept(s.listenFD)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			// The listener itself stays up; a single failed accept only
			// loses that one client.
			s.cfg.logger.Warn("accept failed", "error",
				chaterr.Wrap(chaterr.CodeAcceptFailed, "could not accept a client", err))
			return
		}

		if err := syscall.SetNonblock(fd, true); err != nil {
			syscall.Close(fd)
			continue
		}

		addr := peerAddress(sa)
		svc := s.reg.forConnection(fd)
		sess := session.New(svc, s.cfg.maxPacketSize)
		conn := newConnection(fd, addr, sess)
		s.reg.add(conn)

		if err := s.react.Add(fd, reactor.Read); err != nil {
			s.cfg.logger.Warn("could not register connection", "addr", addr, "error", err)
			s.teardown(conn)
			continue
		}
	}
}

func peerAddress(sa syscall.Sockaddr) string {
	in4, ok := sa.(*syscall.SockaddrInet4)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d",
		in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3], in4.Port)
}

// handleConn dispatches one readiness event to the connection's receive
// and/or drain paths. An error event, a failed receive, or a terminated
// session tears the connection down; a failed drain does not.
func (s *Server) handleConn(ev reactor.Event) {
	conn, ok := s.reg.conns[ev.Fd]
	if !ok {
		return
	}

	if ev.Errored {
		s.teardown(conn)
		return
	}

	if ev.Readable {
		if err := conn.receive(); err != nil {
			s.logTeardown(conn, err)
			s.teardown(conn)
			return
		}
		if conn.sess.State() == session.Terminated {
			if err := conn.sess.Err(); err != nil {
				s.logTeardown(conn, err)
			}
			s.teardown(conn)
			return
		}
	}
	if ev.Writable {
		if err := conn.drain(); err != nil {
			// A write failure only drops the backlog and clears write
			// interest; the connection stays alive until the next
			// failing read or peer close finalizes teardown.
			s.logTeardown(conn, err)
		}
		if conn.writeInterest && !conn.hasPending() {
			s.reg.markDirty(conn.fd)
		}
	}
}

func (s *Server) logTeardown(conn *connection, err error) {
	if chaterr.Is(err, chaterr.CodeIO) {
		s.cfg.logger.Debug("connection io error", "addr", conn.addr, "error", err)
		return
	}
	s.cfg.logger.Warn("connection error", "addr", conn.addr, "error", err)
}

// teardown removes conn from the registry, announcing its departure
// through the session FSM, unregisters it from the reactor, and closes
// its socket.
func (s *Server) teardown(conn *connection) {
	conn.sess.Close()
	s.reg.remove(conn.fd)
	s.react.Remove(conn.fd)
	if err := conn.close(); err != nil {
		s.cfg.logger.Warn("error closing connection", "addr", conn.addr, "error", err)
	}
}

// syncWriteInterest reconciles each connection touched this iteration
// with the reactor's interest set: EPOLLOUT/POLLOUT is only requested
// while outbound data is queued, and dropped the moment the queue drains
// so a quiet connection stops waking the loop every iteration.
func (s *Server) syncWriteInterest() {
	for _, fd := range s.reg.takeDirty() {
		conn, ok := s.reg.conns[fd]
		if !ok {
			continue
		}
		wantWrite := conn.hasPending()
		if wantWrite == conn.writeInterest {
			continue
		}
		interest := reactor.Read
		if wantWrite {
			interest |= reactor.Write
		}
		if err := s.react.Modify(fd, interest); err != nil {
			s.cfg.logger.Warn("could not update write interest", "addr", conn.addr, "error", err)
			continue
		}
		conn.writeInterest = wantWrite
	}
}
