package metrics

import "sync"

// Counter names. Kept as free-form strings so call sites can add counters
// without central registration.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"

	RoomsCreated      = "rooms_created"
	RoomsTakenOver    = "rooms_taken_over"
	RoomsJoined       = "rooms_joined"
	JoinsRejectedFull = "joins_rejected_room_full"
	RoomsClosed       = "rooms_closed"
	RoomsDetached     = "rooms_detached"
	RoomsSwept        = "rooms_swept"

	SignalsRelayed          = "signals_relayed"
	SignalsDroppedNoRoute   = "signals_dropped_no_route"
	SignalsDroppedCrossRoom = "signals_dropped_cross_room"

	ChatMessages  = "chat_messages"
	OutboundDrops = "outbound_queue_drops"
	BadMessages   = "bad_messages"
	RateLimited   = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
