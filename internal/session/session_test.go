package session_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/aegistudio/chatroom/chaterr"
	"github.com/aegistudio/chatroom/internal/session"
	"github.com/aegistudio/chatroom/wire"
)

// fakeService is a test double for session.Service that records every
// outbound call instead of touching a real connection.
type fakeService struct {
	addr string

	taken map[string]struct{}

	self       []string
	broadcasts []broadcastCall
	logs       []string
}

type broadcastCall struct {
	msg  string
	mute map[string]struct{}
}

func newFakeService(addr string) *fakeService {
	return &fakeService{addr: addr, taken: map[string]struct{}{}}
}

func (f *fakeService) PeerAddress() string { return f.addr }

func (f *fakeService) TryRegisterName(name string) bool {
	if _, ok := f.taken[name]; ok {
		return false
	}
	f.taken[name] = struct{}{}
	return true
}

func (f *fakeService) ListNames() []string {
	names := make([]string, 0, len(f.taken))
	for n := range f.taken {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f *fakeService) Broadcast(msg string, mute map[string]struct{}) {
	f.broadcasts = append(f.broadcasts, broadcastCall{msg: msg, mute: mute})
}

func (f *fakeService) Log(line string) { f.logs = append(f.logs, line) }

func (f *fakeService) SendSelf(msg string) { f.self = append(f.self, msg) }

func (f *fakeService) AcquireBuffer(n int) []byte { return make([]byte, n) }

func (f *fakeService) ReleaseBuffer(buf []byte) {}

// feedWindow drives a Session through exactly one NextWindow/OnWindowFilled
// cycle, copying src into the returned window (which must be exactly
// len(src) long).
func feedWindow(t *testing.T, s *session.Session, src []byte) {
	t.Helper()
	window := s.NextWindow()
	if len(window) != len(src) {
		t.Fatalf("window length = %d, want %d (state=%v)", len(window), len(src), s.State())
	}
	copy(window, src)
	s.OnWindowFilled(window)
}

func chatPacket(body string) []byte {
	var buf []byte
	buf = wire.PutUint32(buf, 0) // packet id: chat
	buf = wire.PutString(buf, body)
	return buf
}

func commandPacket(body string) []byte {
	var buf []byte
	buf = wire.PutUint32(buf, 1) // packet id: command
	buf = wire.PutString(buf, body)
	return buf
}

// joinSession drives svc/sess through a full successful handshake with
// the given name.
func joinSession(t *testing.T, name string) (*session.Session, *fakeService) {
	t.Helper()
	svc := newFakeService("127.0.0.1:9")
	sess := session.New(svc, 0)

	feedWindow(t, sess, wire.PutUint32(nil, uint32(len(name))))
	if sess.State() != session.AwaitingNameBytes {
		t.Fatalf("state after name length = %v", sess.State())
	}
	feedWindow(t, sess, []byte(name))
	if sess.State() != session.AwaitingPacketLength {
		t.Fatalf("state after name bytes = %v", sess.State())
	}
	return sess, svc
}

func TestHandshakeWelcomeAndJoinAnnouncement(t *testing.T) {
	sess, svc := joinSession(t, "Alice")
	if sess.Name() != "Alice" {
		t.Fatalf("Name() = %q", sess.Name())
	}
	if len(svc.self) != 1 || !strings.Contains(svc.self[0], "Welcome to the chat room") {
		t.Fatalf("self messages = %v", svc.self)
	}
	if len(svc.broadcasts) != 1 || !strings.Contains(svc.broadcasts[0].msg, "has joined the chat room") {
		t.Fatalf("broadcasts = %v", svc.broadcasts)
	}
	if _, muted := svc.broadcasts[0].mute["Alice"]; !muted {
		t.Fatalf("join announcement did not mute the joining user: %v", svc.broadcasts[0].mute)
	}
}

// TestChatBroadcastsToSelf checks that a chat packet is broadcast to
// every session including the sender, and the rendered line ends with
// "] hi".
func TestChatBroadcastsToSelf(t *testing.T) {
	sess, svc := joinSession(t, "Alice")

	pkt := chatPacket("hi")
	feedWindow(t, sess, wire.PutUint32(nil, uint32(len(pkt))))
	feedWindow(t, sess, pkt)

	if sess.State() != session.AwaitingPacketLength {
		t.Fatalf("state after chat packet = %v", sess.State())
	}
	if len(svc.broadcasts) != 2 { // join announcement + chat
		t.Fatalf("broadcasts = %v", svc.broadcasts)
	}
	chat := svc.broadcasts[1]
	if !strings.HasSuffix(chat.msg, "] hi") {
		t.Fatalf("chat broadcast = %q, want suffix %q", chat.msg, "] hi")
	}
	if len(chat.mute) != 0 {
		t.Fatalf("chat broadcast muted someone: %v, want delivery to self too", chat.mute)
	}
}

func TestDuplicateNameRejectedAndTerminated(t *testing.T) {
	svc := newFakeService("10.0.0.2:1")
	svc.taken["Bob"] = struct{}{} // first client already registered

	sess := session.New(svc, 0)
	feedWindow(t, sess, wire.PutUint32(nil, 3))
	feedWindow(t, sess, []byte("Bob"))

	if sess.State() != session.Terminated {
		t.Fatalf("state = %v, want Terminated", sess.State())
	}
	if !chaterr.Is(sess.Err(), chaterr.CodeNameTaken) {
		t.Fatalf("Err() = %v, want CodeNameTaken", sess.Err())
	}
	if len(svc.self) != 1 || !strings.HasPrefix(svc.self[0], "\x1b[0m\x1b[31mSorry but") {
		t.Fatalf("self messages = %v", svc.self)
	}
	if !strings.Contains(svc.self[0], "Bob") {
		t.Fatalf("rejection message missing name: %q", svc.self[0])
	}
	if len(svc.broadcasts) != 0 {
		t.Fatalf("rejected client must not trigger any broadcast, got %v", svc.broadcasts)
	}
}

func TestOnlineCommandListsNames(t *testing.T) {
	svc := newFakeService("1.2.3.4:1")
	sessAda := session.New(svc, 0)
	feedWindow(t, sessAda, wire.PutUint32(nil, 3))
	feedWindow(t, sessAda, []byte("Ada"))

	sessLin := session.New(svc, 0)
	feedWindow(t, sessLin, wire.PutUint32(nil, 3))
	feedWindow(t, sessLin, []byte("Lin"))

	svc.self = nil // discard welcome/self noise before issuing the command

	pkt := commandPacket("online")
	feedWindow(t, sessAda, wire.PutUint32(nil, uint32(len(pkt))))
	feedWindow(t, sessAda, pkt)

	if len(svc.self) != 1 {
		t.Fatalf("self messages after /online = %v", svc.self)
	}
	if !strings.Contains(svc.self[0], "Ada") || !strings.Contains(svc.self[0], "Lin") {
		t.Fatalf("online listing missing a name: %q", svc.self[0])
	}
	if !strings.Contains(svc.self[0], "2 users") {
		t.Fatalf("online listing grammar wrong: %q", svc.self[0])
	}
}

func TestLeaveAnnouncementOnlyAfterJoin(t *testing.T) {
	sess, svc := joinSession(t, "Cad")
	svc.broadcasts = nil

	sess.Close()
	if len(svc.broadcasts) != 1 || !strings.Contains(svc.broadcasts[0].msg, "has left") {
		t.Fatalf("broadcasts after Close = %v", svc.broadcasts)
	}
	if _, muted := svc.broadcasts[0].mute["Cad"]; !muted {
		t.Fatalf("leave announcement did not mute the leaving user")
	}
}

func TestCloseBeforeJoinIsSilent(t *testing.T) {
	svc := newFakeService("addr")
	sess := session.New(svc, 0)
	sess.Close()
	if len(svc.broadcasts) != 0 {
		t.Fatalf("broadcasts = %v, want none for a session that never joined", svc.broadcasts)
	}
}

func TestOversizedNameTerminatesWithoutRegistering(t *testing.T) {
	svc := newFakeService("addr")
	sess := session.New(svc, 0)
	feedWindow(t, sess, wire.PutUint32(nil, 100))
	if sess.State() != session.Terminated {
		t.Fatalf("state = %v, want Terminated", sess.State())
	}
	if !chaterr.Is(sess.Err(), chaterr.CodeNameInvalid) {
		t.Fatalf("Err() = %v, want CodeNameInvalid", sess.Err())
	}
	if len(svc.taken) != 0 {
		t.Fatalf("taken set = %v, want empty", svc.taken)
	}
	if len(svc.broadcasts) != 0 {
		t.Fatalf("broadcasts = %v, want none", svc.broadcasts)
	}
}

func TestUnknownCommandIsNotAViolation(t *testing.T) {
	sess, svc := joinSession(t, "Eve")
	pkt := commandPacket("frobnicate")
	feedWindow(t, sess, wire.PutUint32(nil, uint32(len(pkt))))
	feedWindow(t, sess, pkt)

	if sess.State() != session.AwaitingPacketLength {
		t.Fatalf("state = %v, want AwaitingPacketLength (unknown command is not fatal)", sess.State())
	}
	last := svc.self[len(svc.self)-1]
	if !strings.Contains(last, "Unknown command") || !strings.Contains(last, "/frobnicate") {
		t.Fatalf("unknown command reply = %q", last)
	}
}

// TestUndersizedPacketLengthTerminates covers a packet length shorter than
// the 4-byte id every packet must at least carry. Left unchecked, a
// zero-length packet hands back a zero-length window that never gets
// filled, stranding the session in AwaitingPacketBytes forever.
func TestUndersizedPacketLengthTerminates(t *testing.T) {
	sess, _ := joinSession(t, "Trent")
	feedWindow(t, sess, wire.PutUint32(nil, 0))

	if sess.State() != session.Terminated {
		t.Fatalf("state = %v, want Terminated", sess.State())
	}
	if !chaterr.Is(sess.Err(), chaterr.CodeProtocolViolation) {
		t.Fatalf("Err() = %v, want CodeProtocolViolation", sess.Err())
	}
}

func TestUnknownPacketIDTerminates(t *testing.T) {
	sess, _ := joinSession(t, "Mallory")
	var buf []byte
	buf = wire.PutUint32(buf, 7) // no such packet id
	feedWindow(t, sess, wire.PutUint32(nil, uint32(len(buf))))
	feedWindow(t, sess, buf)

	if sess.State() != session.Terminated {
		t.Fatalf("state = %v, want Terminated", sess.State())
	}
	if !chaterr.Is(sess.Err(), chaterr.CodeProtocolViolation) {
		t.Fatalf("Err() = %v, want CodeProtocolViolation", sess.Err())
	}
}
