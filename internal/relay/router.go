package relay

import (
	"sync"

	"github.com/screenbeam/relay/internal/metrics"
	"github.com/screenbeam/relay/internal/protocol"
	"github.com/screenbeam/relay/internal/room"
)

// Router owns the session table and delivers envelopes and room events.
type Router struct {
	metrics    *metrics.Metrics
	outboxSize int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRouter(m *metrics.Metrics, outboxSize int) *Router {
	if m == nil {
		m = metrics.New()
	}
	return &Router{
		metrics:    m,
		outboxSize: outboxSize,
		sessions:   make(map[string]*Session),
	}
}

// Register binds a user id to a new session.
func (rt *Router) Register(id string) (*Session, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.sessions[id]; ok {
		return nil, ErrDuplicateSession
	}
	sess := newSession(id, rt.outboxSize, func() {
		rt.mu.Lock()
		delete(rt.sessions, id)
		rt.mu.Unlock()
	})
	rt.sessions[id] = sess
	rt.metrics.Inc(metrics.ConnectionsOpened)
	return sess, nil
}

func (rt *Router) lookup(id string) (*Session, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.sessions[id]
	return s, ok
}

// Connected reports whether id is bound to a live session. The room registry
// uses this to gate host takeover.
func (rt *Router) Connected(id string) bool {
	_, ok := rt.lookup(id)
	return ok
}

// Len returns the number of live sessions.
func (rt *Router) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.sessions)
}

// Route delivers env to the session identified by env.To. A missing
// recipient is a silent drop: the peer disconnecting mid-flight is an
// expected race, not an error.
func (rt *Router) Route(env protocol.Envelope) bool {
	recipient, ok := rt.lookup(env.To)
	if !ok {
		rt.metrics.Inc(metrics.SignalsDroppedNoRoute)
		return false
	}

	msg, err := protocol.SignalMessage(env)
	if err != nil {
		rt.metrics.Inc(metrics.BadMessages)
		return false
	}
	if !recipient.Send(msg) {
		rt.metrics.Inc(metrics.OutboundDrops)
		return false
	}
	rt.metrics.Inc(metrics.SignalsRelayed)
	return true
}

// Send delivers msg to a single session, if connected.
func (rt *Router) Send(id string, msg protocol.ServerMessage) bool {
	s, ok := rt.lookup(id)
	if !ok {
		return false
	}
	if !s.Send(msg) {
		rt.metrics.Inc(metrics.OutboundDrops)
		return false
	}
	return true
}

// Broadcast delivers msg to every connected member of snap except excludeID.
func (rt *Router) Broadcast(snap room.Snapshot, msg protocol.ServerMessage, excludeID string) {
	if snap.HostID != "" && snap.HostID != excludeID {
		rt.Send(snap.HostID, msg)
	}
	for _, v := range snap.Viewers {
		if v.ID == excludeID {
			continue
		}
		rt.Send(v.ID, msg)
	}
}
