// Package chatroom wires the wire codec, the session FSM, and the reactor
// together into the chatroom server: it owns the listening socket, the
// per-connection table, the taken-names set, and the single event loop
// that drives all of it.
package chatroom

import (
	"syscall"

	"github.com/eapache/queue"
	"github.com/pkg/errors"

	"github.com/aegistudio/chatroom/chaterr"
	"github.com/aegistudio/chatroom/internal/session"
)

// connection owns one client socket: its session FSM, its outbound
// backpressure queue, and the bookkeeping needed to resume a partial read
// or write across reactor iterations. It is never touched from more than
// one goroutine.
type connection struct {
	fd   int
	addr string

	sess *session.Session

	// window/filled track progress through the slice session.NextWindow
	// last handed back, so a short read can resume exactly where it left
	// off on the next readiness notification.
	window []byte
	filled int

	// outbound is the FIFO of not-yet-fully-written chunks. headOff is
	// the write offset into the queue's front chunk so a short write
	// doesn't require re-slicing the queue itself.
	outbound *queue.Queue
	headOff  int

	writeInterest bool
}

func newConnection(fd int, addr string, sess *session.Session) *connection {
	c := &connection{
		fd:       fd,
		addr:     addr,
		sess:     sess,
		outbound: queue.New(),
	}
	c.window = sess.NextWindow()
	return c
}

// enqueue queues a chunk for delivery. When nothing is already queued it
// opportunistically writes as much as the socket will take right now and
// only queues the residue; otherwise the whole chunk is cloned and
// appended behind the existing backlog so FIFO order holds across
// broadcasts. enqueue never blocks and never reports an error; a failing
// socket surfaces on the next drain instead, so inbound data already
// buffered for this connection still gets processed first.
func (c *connection) enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	sent := 0
	if c.outbound.Length() == 0 {
		n, err := syscall.Write(c.fd, chunk)
		if err == nil {
			sent = n
		}
		if sent == len(chunk) {
			return
		}
	}
	rest := make([]byte, len(chunk)-sent)
	copy(rest, chunk[sent:])
	c.outbound.Add(rest)
}

// hasPending reports whether any bytes remain queued for writing.
func (c *connection) hasPending() bool {
	return c.outbound.Length() > 0
}

// receive is called when the reactor reports fd readable. It reads into
// the remainder of the current window, advances the session FSM across as
// many windows as a single readiness notification yields bytes for, and
// returns io.EOF-shaped errors through chaterr so the caller can log and
// tear down uniformly.
func (c *connection) receive() error {
	for {
		if len(c.window) == 0 {
			// Session has nothing left to read (terminated, or between
			// windows with a zero-length one), so let the caller decide.
			c.window = c.sess.NextWindow()
			if len(c.window) == 0 {
				return nil
			}
			c.filled = 0
		}

		n, err := syscall.Read(c.fd, c.window[c.filled:])
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return nil
			}
			return chaterr.Wrap(chaterr.CodeIO, "read failed", err)
		}
		if n == 0 {
			return chaterr.New(chaterr.CodeIO, "peer closed connection")
		}
		c.filled += n

		if c.filled < len(c.window) {
			// Short read: wait for the next readiness notification.
			return nil
		}

		filledWindow := c.window
		c.sess.OnWindowFilled(filledWindow)
		c.filled = 0
		c.window = c.sess.NextWindow()
		if len(c.window) == 0 {
			return nil
		}
	}
}

// drain is called when the reactor reports fd writable. It writes as much
// of the outbound queue as the socket will currently accept, advancing
// headOff across short writes and popping fully-written chunks. A write
// failure does not tear the connection down by itself, it only drops the
// queued backlog, since residual reads may still have application work to
// do; the caller clears write interest and leaves finalizing teardown to
// the next failing read or peer close.
func (c *connection) drain() error {
	for c.outbound.Length() > 0 {
		chunk := c.outbound.Peek().([]byte)
		n, err := syscall.Write(c.fd, chunk[c.headOff:])
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return nil
			}
			c.dropOutbound()
			return chaterr.Wrap(chaterr.CodeIO, "write failed", err)
		}
		c.headOff += n
		if c.headOff < len(chunk) {
			return nil
		}
		c.outbound.Remove()
		c.headOff = 0
	}
	return nil
}

// dropOutbound discards all queued-but-unsent data; a connection headed
// for teardown owes its peer nothing further.
func (c *connection) dropOutbound() {
	for c.outbound.Length() > 0 {
		c.outbound.Remove()
	}
	c.headOff = 0
}

// close releases the underlying socket. It does not touch the registry or
// the reactor; callers are responsible for that bookkeeping.
func (c *connection) close() error {
	if err := syscall.Close(c.fd); err != nil {
		return errors.Wrap(err, "close connection fd")
	}
	return nil
}
