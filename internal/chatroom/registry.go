package chatroom

import (
	"sort"

	"github.com/aegistudio/chatroom/internal/bufpool"
	"github.com/aegistudio/chatroom/internal/chatlog"
	"github.com/aegistudio/chatroom/internal/session"
	"github.com/aegistudio/chatroom/wire"
)

// registry owns the connection table and the taken-names set, both of
// which are mutated only by the reactor goroutine. Each connection gets a
// session.Service view of it (connService) that closes over that
// connection's fd.
type registry struct {
	log  chatlog.Logger
	pool *bufpool.Pool

	conns map[int]*connection
	names map[string]int // name -> owning fd, mirrors the taken-names set

	// dirty collects fds whose write interest may need to change since
	// the last time the server loop synced reactor state. The server
	// drains this after dispatching each batch of events.
	dirty []int
}

func newRegistry(log chatlog.Logger) *registry {
	return &registry{
		log:   log,
		pool:  bufpool.New(wire.MaxNameLength),
		conns: map[int]*connection{},
		names: map[string]int{},
	}
}

func (r *registry) add(c *connection) {
	r.conns[c.fd] = c
}

// remove drops fd from the connection table and, if it had registered a
// name, frees that name back to the taken-names set.
func (r *registry) remove(fd int) {
	if c, ok := r.conns[fd]; ok {
		if c.sess.Name() != "" {
			delete(r.names, c.sess.Name())
		}
	}
	delete(r.conns, fd)
}

// forConnection returns the session.Service view of the registry as seen
// by the connection at fd.
func (r *registry) forConnection(fd int) session.Service {
	return &connService{reg: r, fd: fd}
}

// connService is the per-connection session.Service implementation. It is
// a thin adapter: all shared state lives in *registry.
type connService struct {
	reg *registry
	fd  int
}

func (s *connService) PeerAddress() string {
	if c, ok := s.reg.conns[s.fd]; ok {
		return c.addr
	}
	return ""
}

func (s *connService) TryRegisterName(name string) bool {
	if _, taken := s.reg.names[name]; taken {
		return false
	}
	s.reg.names[name] = s.fd
	return true
}

func (s *connService) ListNames() []string {
	names := make([]string, 0, len(s.reg.names))
	for n := range s.reg.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Broadcast enqueues msg, framed as a server packet, onto every
// registered connection's outbound queue except those named in mute.
// Connections that never completed the handshake have no name yet and
// receive nothing: a peer that hasn't introduced itself isn't part of the
// room.
func (s *connService) Broadcast(msg string, mute map[string]struct{}) {
	frame := frameServerMessage(msg)
	for fd, c := range s.reg.conns {
		name := c.sess.Name()
		if name == "" {
			continue
		}
		if _, skip := mute[name]; skip {
			continue
		}
		s.reg.deliver(fd, frame)
	}
}

func (s *connService) SendSelf(msg string) {
	s.reg.deliver(s.fd, frameServerMessage(msg))
}

// frameServerMessage builds a server->client packet: a 4-byte packet id 0
// followed by a 4-byte length-prefixed UTF-8 string. Unlike a client's
// packet, there is no outer total-length frame.
func frameServerMessage(msg string) []byte {
	buf := wire.PutUint32(nil, 0)
	return wire.PutString(buf, msg)
}

func (s *connService) Log(line string) {
	s.reg.log.Info(line)
}

func (s *connService) AcquireBuffer(n int) []byte { return s.reg.pool.Get(n) }

func (s *connService) ReleaseBuffer(buf []byte) { s.reg.pool.Put(buf) }

// deliver is factored out of Broadcast/SendSelf so both paths share the
// same write-interest toggling contract with the server loop.
func (r *registry) deliver(fd int, line []byte) {
	c, ok := r.conns[fd]
	if !ok {
		return
	}
	wasEmpty := !c.hasPending()
	c.enqueue(line)
	if wasEmpty && c.hasPending() {
		r.dirty = append(r.dirty, fd)
	}
}

// takeDirty returns and clears the fds flagged since the last call: those
// whose outbound queue went from empty to non-empty, plus those passed to
// markDirty.
func (r *registry) takeDirty() []int {
	d := r.dirty
	r.dirty = nil
	return d
}

// markDirty flags fd for a write-interest resync on the next
// syncWriteInterest pass.
func (r *registry) markDirty(fd int) {
	r.dirty = append(r.dirty, fd)
}
