package chatroom

import (
	"os/signal"
	"syscall"
	"testing"

	"github.com/eapache/queue"

	"github.com/aegistudio/chatroom/chaterr"
)

// TestDrainFailureKeepsConnection pins the write-error policy: a failing
// write must drop the queued backlog but must not touch the connection
// itself. Server.handleConn is the one that decides whether the
// connection survives a drain error, not drain.
func TestDrainFailureKeepsConnection(t *testing.T) {
	signal.Ignore(syscall.SIGPIPE)

	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	clientFD, serverFD := fds[0], fds[1]
	if err := syscall.SetNonblock(serverFD, true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	syscall.Close(clientFD)

	conn := &connection{fd: serverFD, addr: "test", outbound: queue.New()}
	conn.enqueue([]byte("hello"))
	conn.enqueue([]byte("world"))

	if err := conn.drain(); !chaterr.Is(err, chaterr.CodeIO) {
		t.Fatalf("drain() error = %v, want CodeIO", err)
	}
	if conn.hasPending() {
		t.Fatalf("outbound queue not dropped after write failure")
	}
	if err := conn.close(); err != nil {
		t.Fatalf("close() after drain failure: %v", err)
	}
}
