// Package session implements the per-connection chat state machine: it
// consumes completed read windows handed to it by the reactor/connection
// layer and produces outbound packets addressed to self, broadcast, or
// broadcast-other. It never touches a socket, so the exact same FSM can
// drive a non-blocking reactor loop or a blocking per-connection
// transport.
package session

import (
	"strings"

	"github.com/aegistudio/chatroom/chaterr"
	"github.com/aegistudio/chatroom/wire"
)

// State is one point in the session's handshake/steady-state lifecycle.
type State int

const (
	AwaitingNameLength State = iota
	AwaitingNameBytes
	AwaitingPacketLength
	AwaitingPacketBytes
	Terminated
)

// Service is the narrow capability set a Session needs from its transport:
// enough to answer "who am I", register/list names, and fan out messages,
// without ever reaching back into reactor or connection internals.
type Service interface {
	// PeerAddress returns the "ip:port" string for log lines and
	// join/leave announcements.
	PeerAddress() string
	// TryRegisterName attempts to claim name in the shared taken-names
	// set. It returns false if the name is already taken.
	TryRegisterName(name string) bool
	// ListNames returns a snapshot of all currently registered names.
	ListNames() []string
	// Broadcast delivers msg to every registered connection whose name
	// is not in mute. A nil or empty mute delivers to everyone,
	// including the caller.
	Broadcast(msg string, mute map[string]struct{})
	// Log writes a best-effort diagnostic line.
	Log(line string)
	// SendSelf delivers msg to this session's own connection only.
	SendSelf(msg string)
	// AcquireBuffer returns a buffer of exactly n bytes for the session to
	// fill as its next read window. Implementations may recycle buffers
	// across sessions; the caller always pairs this with ReleaseBuffer
	// once the window has been consumed.
	AcquireBuffer(n int) []byte
	// ReleaseBuffer returns a buffer previously handed out by
	// AcquireBuffer. Callers never touch buf again afterwards.
	ReleaseBuffer(buf []byte)
}

// packet ids understood by the steady-state dispatcher.
const (
	packetChat    = 0
	packetCommand = 1
)

// Session is the per-connection FSM. It is not safe for concurrent use;
// the reactor drives exactly one Session from exactly one goroutine.
type Session struct {
	svc           Service
	maxPacketSize int

	state   State
	err     error
	lenBuf  [wire.IntSize]byte
	dataBuf []byte

	name   string
	joined bool
}

// New creates a Session in its initial AwaitingNameLength state. A
// maxPacketSize <= 0 falls back to wire.DefaultMaxPacketSize.
func New(svc Service, maxPacketSize int) *Session {
	if maxPacketSize <= 0 {
		maxPacketSize = wire.DefaultMaxPacketSize
	}
	return &Session{svc: svc, maxPacketSize: maxPacketSize, state: AwaitingNameLength}
}

// State returns the session's current state, mainly for tests and
// invariant checks (e.g. "taken-names set equals names of sessions in
// state >= AwaitingPacketLength").
func (s *Session) State() State { return s.state }

// Name returns the registered display name, or "" before the handshake
// completes.
func (s *Session) Name() string { return s.name }

// Err returns the reason the session entered Terminated: a chaterr value
// carrying CodeNameInvalid, CodeNameTaken, or CodeProtocolViolation. It is
// nil while the session is live and nil after a termination the peer
// initiated (the transport reports those itself).
func (s *Session) Err() error { return s.err }

// fail records why the session is terminating and enters the absorbing
// Terminated state.
func (s *Session) fail(err error) {
	s.err = err
	s.state = Terminated
}

// NextWindow reports the next window of bytes this session wants to
// receive. A zero-length result means the session is terminating and the
// transport should tear the connection down without asking again.
func (s *Session) NextWindow() []byte {
	switch s.state {
	case AwaitingNameLength, AwaitingPacketLength:
		return s.lenBuf[:]
	case AwaitingNameBytes, AwaitingPacketBytes:
		return s.dataBuf
	default:
		return nil
	}
}

// OnWindowFilled is called once the transport has filled the exact slice
// last returned by NextWindow. The argument is that same slice, passed
// back explicitly so callers that only hold a generic interface over
// NextWindow's result don't need to re-derive it from internal state.
func (s *Session) OnWindowFilled(window []byte) {
	switch s.state {
	case AwaitingNameLength:
		s.onNameLength(window)
	case AwaitingNameBytes:
		s.onNameBytes(window)
	case AwaitingPacketLength:
		s.onPacketLength(window)
	case AwaitingPacketBytes:
		s.onPacketBytes(window)
	default:
		s.state = Terminated
	}
}

func (s *Session) onNameLength(window []byte) {
	n, _, err := wire.Uint32(window, 0)
	if err != nil {
		s.fail(err)
		return
	}
	if n == 0 || n >= wire.MaxNameLength {
		s.fail(chaterr.New(chaterr.CodeNameInvalid, "display name length out of range"))
		return
	}
	s.dataBuf = s.svc.AcquireBuffer(int(n))
	s.state = AwaitingNameBytes
}

func (s *Session) onNameBytes(window []byte) {
	name := string(window)
	s.svc.ReleaseBuffer(s.dataBuf)
	s.dataBuf = nil

	if !s.svc.TryRegisterName(name) {
		s.svc.SendSelf(rejectedMessage(name))
		s.fail(chaterr.New(chaterr.CodeNameTaken, "display name already in use"))
		return
	}

	s.name = name
	s.joined = true
	s.svc.SendSelf(welcomeMessage(name))

	announce := joinMessage(name, s.svc.PeerAddress())
	s.svc.Log(announce)
	s.svc.Broadcast(announce, map[string]struct{}{name: {}})

	s.state = AwaitingPacketLength
}

func (s *Session) onPacketLength(window []byte) {
	n, _, err := wire.Uint32(window, 0)
	if err != nil {
		s.fail(err)
		return
	}
	if int(n) < wire.IntSize || int(n) > s.maxPacketSize {
		s.fail(chaterr.New(chaterr.CodeProtocolViolation, "packet length out of range"))
		return
	}
	s.dataBuf = s.svc.AcquireBuffer(int(n))
	s.state = AwaitingPacketBytes
}

func (s *Session) onPacketBytes(window []byte) {
	ok := s.dispatch(window)
	s.svc.ReleaseBuffer(s.dataBuf)
	s.dataBuf = nil
	if ok {
		s.state = AwaitingPacketLength
		return
	}
	s.fail(chaterr.New(chaterr.CodeProtocolViolation, "malformed packet"))
}

// dispatch decodes and executes a single steady-state packet. It returns
// false when the packet is malformed or carries an unknown id, which the
// caller treats as a protocol violation.
func (s *Session) dispatch(payload []byte) bool {
	id, off, err := wire.Uint32(payload, 0)
	if err != nil {
		return false
	}
	switch id {
	case packetChat:
		chat, _, err := wire.String(payload, off, 0)
		if err != nil {
			return false
		}
		s.svc.Broadcast(chatMessage(s.name, chat), nil)
		return true
	case packetCommand:
		command, _, err := wire.String(payload, off, 0)
		if err != nil {
			return false
		}
		s.runCommand(command)
		return true
	default:
		return false
	}
}

// splitCommand tokenizes on a literal ASCII space only, discarding empty
// tokens produced by runs of spaces. Tabs and other whitespace are not
// separators.
func splitCommand(command string) []string {
	var args []string
	for _, tok := range strings.Split(command, " ") {
		if tok != "" {
			args = append(args, tok)
		}
	}
	return args
}

func (s *Session) runCommand(command string) {
	args := splitCommand(command)
	if len(args) == 0 {
		return
	}
	switch args[0] {
	case "online":
		s.svc.SendSelf(onlineMessage(s.svc.ListNames()))
	case "help":
		s.svc.SendSelf(helpMessage())
	default:
		s.svc.SendSelf(unknownCommandMessage(args[0]))
	}
}

// Close announces this session's departure. A session that never made it
// past name registration leaves silently: nobody was told it arrived.
func (s *Session) Close() {
	if !s.joined {
		return
	}
	announce := leaveMessage(s.name, s.svc.PeerAddress())
	s.svc.Log(announce)
	s.svc.Broadcast(announce, map[string]struct{}{s.name: {}})
}
