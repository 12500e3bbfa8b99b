package relay

import (
	"sync"
	"time"

	"github.com/screenbeam/relay/internal/protocol"
)

// Session binds a live transport connection to a user identity and tracks
// the room the connection has joined (at most one).
type Session struct {
	id        string
	connected time.Time

	outbox *outbox

	mu       sync.Mutex
	closed   bool
	name     string
	roomCode string
	isHost   bool

	onClose func()
}

func newSession(id string, outboxSize int, onClose func()) *Session {
	return &Session{
		id:        id,
		connected: time.Now(),
		outbox:    newOutbox(outboxSize),
		onClose:   onClose,
	}
}

func (s *Session) ID() string { return s.id }

// SetName records the sanitized display name chosen at room create/join time.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetRoom records the room this session has joined and whether it is the
// host there. An empty code clears the binding.
func (s *Session) SetRoom(code string, isHost bool) {
	s.mu.Lock()
	s.roomCode = code
	s.isHost = isHost
	s.mu.Unlock()
}

// Room returns the joined room code ("" when none) and host flag.
func (s *Session) Room() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode, s.isHost
}

// Send enqueues msg for delivery. It never blocks; false means the session
// is closed or its outbox overflowed.
func (s *Session) Send(msg protocol.ServerMessage) bool {
	return s.outbox.Enqueue(msg)
}

// Next blocks until a message is ready or the session closes with an empty
// outbox. It is the single-consumer side of the FIFO write path.
func (s *Session) Next() (protocol.ServerMessage, bool) {
	return s.outbox.Dequeue()
}

// Drops reports how many outbound messages were discarded due to overflow.
func (s *Session) Drops() uint64 {
	return s.outbox.DropCount()
}

// Close tears the session out of the router and wakes the writer. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	s.outbox.Close()
	if onClose != nil {
		onClose()
	}
}
