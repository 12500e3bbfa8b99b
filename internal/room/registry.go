// Package room owns the live room table: creation, capacity enforcement,
// membership, host tracking and idle cleanup.
//
// The registry is the single writer of room state. Every other component
// observes rooms through immutable snapshots.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/screenbeam/relay/internal/metrics"
)

const (
	// MaxViewersLimit is the hard cap on viewers per room.
	MaxViewersLimit = 10
	// DefaultIdleTTL is how long an empty room may linger before the sweeper
	// removes it.
	DefaultIdleTTL = 12 * time.Hour
)

// Clock abstracts time for sweep tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// User is a room member as tracked by the registry.
type User struct {
	ID       string
	Name     string
	IsHost   bool
	JoinedAt time.Time
}

// Snapshot is an immutable view of a room. The Viewers slice is a copy.
type Snapshot struct {
	Code         string
	HostID       string
	HostName     string
	HostAttached bool
	Viewers      []User
	MaxViewers   int
	Streaming    bool
	CreatedAt    time.Time
}

type roomState struct {
	mu sync.Mutex

	code         string
	hostID       string
	hostName     string
	hostAttached bool
	viewers      []User // ordered by join time
	maxViewers   int
	streaming    bool
	createdAt    time.Time
	lastActive   time.Time
	destroyed    bool
}

func (r *roomState) snapshotLocked() Snapshot {
	viewers := make([]User, len(r.viewers))
	copy(viewers, r.viewers)
	return Snapshot{
		Code:         r.code,
		HostID:       r.hostID,
		HostName:     r.hostName,
		HostAttached: r.hostAttached,
		Viewers:      viewers,
		MaxViewers:   r.maxViewers,
		Streaming:    r.streaming,
		CreatedAt:    r.createdAt,
	}
}

// Options configures a Registry.
type Options struct {
	// MaxRooms caps the number of live rooms. Zero means unlimited.
	MaxRooms int
	// IdleTTL overrides DefaultIdleTTL when positive.
	IdleTTL time.Duration
	// Metrics receives registry counters. Optional.
	Metrics *metrics.Metrics
	// Clock overrides the wall clock. Optional.
	Clock Clock
	// HostConnected reports whether the given user id is bound to a live
	// transport session. It gates host takeover on Create: a room whose host
	// id no longer maps to a live session may be reclaimed by a reconnecting
	// host. Optional; when nil, takeover is disabled.
	HostConnected func(userID string) bool
}

// Registry owns the room table.
type Registry struct {
	maxRooms      int
	idleTTL       time.Duration
	metrics       *metrics.Metrics
	clock         Clock
	hostConnected func(string) bool

	mu    sync.Mutex
	rooms map[string]*roomState
}

func NewRegistry(opts Options) *Registry {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Registry{
		maxRooms:      opts.MaxRooms,
		idleTTL:       ttl,
		metrics:       opts.Metrics,
		clock:         opts.Clock,
		hostConnected: opts.HostConnected,
		rooms:         make(map[string]*roomState),
	}
}

func clampMaxViewers(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxViewersLimit {
		return MaxViewersLimit
	}
	return n
}

// Create creates a room for hostID, or transfers ownership of an existing
// room when requestedCode names a room whose host is no longer connected.
//
// Takeover is first-writer-wins under the registry lock: a second concurrent
// claim observes a room that again has a connected host and falls through to
// a fresh room.
func (reg *Registry) Create(hostID, hostName, requestedCode string, maxViewers int) (Snapshot, error) {
	maxViewers = clampMaxViewers(maxViewers)
	now := reg.clock.Now()

	if requestedCode != "" {
		requestedCode = NormalizeCode(requestedCode)
		if snap, ok := reg.takeover(requestedCode, hostID, hostName, now); ok {
			return snap, nil
		}
	}

	for attempt := 0; attempt < 5; attempt++ {
		code, err := newRoomCode()
		if err != nil {
			return Snapshot{}, err
		}

		reg.mu.Lock()
		if reg.maxRooms > 0 && len(reg.rooms) >= reg.maxRooms {
			reg.mu.Unlock()
			return Snapshot{}, ErrTooManyRooms
		}
		if _, exists := reg.rooms[code]; exists {
			reg.mu.Unlock()
			continue
		}
		r := &roomState{
			code:         code,
			hostID:       hostID,
			hostName:     hostName,
			hostAttached: true,
			maxViewers:   maxViewers,
			createdAt:    now,
			lastActive:   now,
		}
		reg.rooms[code] = r
		reg.mu.Unlock()

		reg.metrics.Inc(metrics.RoomsCreated)
		r.mu.Lock()
		snap := r.snapshotLocked()
		r.mu.Unlock()
		return snap, nil
	}

	return Snapshot{}, errors.New("failed to allocate unique room code")
}

func (reg *Registry) takeover(code, hostID, hostName string, now time.Time) (Snapshot, bool) {
	reg.mu.Lock()
	r, ok := reg.rooms[code]
	reg.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return Snapshot{}, false
	}
	if r.hostAttached && (reg.hostConnected == nil || reg.hostConnected(r.hostID)) {
		return Snapshot{}, false
	}

	r.hostID = hostID
	r.hostName = hostName
	r.hostAttached = true
	r.lastActive = now
	reg.metrics.Inc(metrics.RoomsTakenOver)
	return r.snapshotLocked(), true
}

func (reg *Registry) lookup(code string) (*roomState, bool) {
	reg.mu.Lock()
	r, ok := reg.rooms[code]
	reg.mu.Unlock()
	return r, ok
}

// Join adds user to the room identified by code.
//
// Re-joining with an id that is already a viewer is a no-op and never counts
// against capacity, so a reconnecting viewer cannot be locked out of a full
// room by its own stale membership.
func (reg *Registry) Join(code string, user User) (Snapshot, error) {
	code = NormalizeCode(code)
	r, ok := reg.lookup(code)
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed || !r.hostAttached {
		// A detached room exists only so a reconnecting host can reclaim its
		// code. Viewers cannot enter it.
		return Snapshot{}, ErrRoomNotFound
	}

	for _, v := range r.viewers {
		if v.ID == user.ID {
			return r.snapshotLocked(), nil
		}
	}
	if len(r.viewers) >= r.maxViewers {
		reg.metrics.Inc(metrics.JoinsRejectedFull)
		return Snapshot{}, ErrRoomFull
	}

	user.IsHost = false
	if user.JoinedAt.IsZero() {
		user.JoinedAt = reg.clock.Now()
	}
	r.viewers = append(r.viewers, user)
	r.lastActive = reg.clock.Now()
	reg.metrics.Inc(metrics.RoomsJoined)
	return r.snapshotLocked(), nil
}

// LeaveResult describes the outcome of a Leave call. Room is the membership
// after removal; when Destroyed is set it is the final state used to notify
// remaining members before the record disappears.
type LeaveResult struct {
	Room      Snapshot
	WasHost   bool
	Destroyed bool
}

// Leave removes userID from the room. A departing host tears the room down;
// a room emptied of viewers while not streaming is torn down silently.
func (reg *Registry) Leave(code, userID string) (LeaveResult, error) {
	code = NormalizeCode(code)
	r, ok := reg.lookup(code)
	if !ok {
		return LeaveResult{}, ErrRoomNotFound
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return LeaveResult{}, ErrRoomNotFound
	}

	if r.hostID == userID {
		r.destroyed = true
		snap := r.snapshotLocked()
		r.mu.Unlock()
		reg.drop(code)
		return LeaveResult{Room: snap, WasHost: true, Destroyed: true}, nil
	}

	removed := false
	for i, v := range r.viewers {
		if v.ID == userID {
			r.viewers = append(r.viewers[:i], r.viewers[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		r.mu.Unlock()
		return LeaveResult{}, ErrNotMember
	}
	r.lastActive = reg.clock.Now()

	if len(r.viewers) == 0 && !r.streaming && !r.hostAttached {
		r.destroyed = true
		snap := r.snapshotLocked()
		r.mu.Unlock()
		reg.drop(code)
		return LeaveResult{Room: snap, Destroyed: true}, nil
	}

	snap := r.snapshotLocked()
	r.mu.Unlock()
	return LeaveResult{Room: snap}, nil
}

// Detach handles an abrupt host disconnect. The room stops streaming, loses
// its viewers and refuses joins, but the record lingers so the same host can
// reclaim the code on reconnect via Create. The sweeper removes it if nobody
// ever does.
//
// The returned snapshot is the membership at the moment of detach, for
// notifying the members being evicted.
func (reg *Registry) Detach(code, hostID string) (Snapshot, error) {
	code = NormalizeCode(code)
	r, ok := reg.lookup(code)
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return Snapshot{}, ErrRoomNotFound
	}
	if r.hostID != hostID {
		return Snapshot{}, ErrNotHost
	}

	snap := r.snapshotLocked()
	r.hostAttached = false
	r.streaming = false
	r.viewers = nil
	r.lastActive = reg.clock.Now()
	return snap, nil
}

func (reg *Registry) drop(code string) {
	reg.mu.Lock()
	delete(reg.rooms, code)
	reg.mu.Unlock()
}

// SetStreaming toggles the room's streaming flag. Only the host may do this.
func (reg *Registry) SetStreaming(code, userID string, on bool) (Snapshot, error) {
	code = NormalizeCode(code)
	r, ok := reg.lookup(code)
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return Snapshot{}, ErrRoomNotFound
	}
	if r.hostID != userID {
		return Snapshot{}, ErrNotHost
	}
	r.streaming = on
	r.lastActive = reg.clock.Now()
	return r.snapshotLocked(), nil
}

// Snapshot returns the current state of a single room.
func (reg *Registry) Snapshot(code string) (Snapshot, error) {
	r, ok := reg.lookup(NormalizeCode(code))
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return Snapshot{}, ErrRoomNotFound
	}
	return r.snapshotLocked(), nil
}

// Snapshots returns the state of every live room, for diagnostics.
func (reg *Registry) Snapshots() []Snapshot {
	reg.mu.Lock()
	rooms := make([]*roomState, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	snaps := make([]Snapshot, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.destroyed {
			snaps = append(snaps, r.snapshotLocked())
		}
		r.mu.Unlock()
	}
	return snaps
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Sweep removes rooms that have had zero viewers for at least the idle TTL.
// Rooms with active viewers are never swept regardless of age.
func (reg *Registry) Sweep(now time.Time) int {
	reg.mu.Lock()
	rooms := make(map[string]*roomState, len(reg.rooms))
	for code, r := range reg.rooms {
		rooms[code] = r
	}
	reg.mu.Unlock()

	swept := 0
	for code, r := range rooms {
		r.mu.Lock()
		idle := !r.destroyed && len(r.viewers) == 0 && now.Sub(r.lastActive) >= reg.idleTTL
		if idle {
			r.destroyed = true
		}
		r.mu.Unlock()

		if idle {
			reg.drop(code)
			reg.metrics.Inc(metrics.RoomsSwept)
			swept++
		}
	}
	return swept
}
