package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/screenbeam/relay/internal/metrics"
	"github.com/screenbeam/relay/internal/protocol"
	"github.com/screenbeam/relay/internal/ratelimit"
	"github.com/screenbeam/relay/internal/relay"
	"github.com/screenbeam/relay/internal/room"
)

const wsWriteWait = 1 * time.Second

// conn supervises one WebSocket connection: it owns the read loop, fans the
// session outbox out through a single writer goroutine, and unwinds room
// membership when the connection dies.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	sess *relay.Session
	log  *slog.Logger

	limiter *ratelimit.TokenBucket

	// writeMu serializes data frames from the write loop with control
	// frames (ping, close) written from other goroutines.
	writeMu sync.Mutex

	done chan struct{}
}

func newConn(s *Server, ws *websocket.Conn, sess *relay.Session) *conn {
	perSecond := int64(s.cfg.MaxSignalingMessagesPerSecond)
	return &conn{
		srv:     s,
		ws:      ws,
		sess:    sess,
		log:     s.log.With("user_id", sess.ID()),
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{}, perSecond, perSecond),
		done:    make(chan struct{}),
	}
}

func (c *conn) run() {
	go c.writeLoop()
	go c.pingLoop()

	c.readLoop()
	close(c.done)
	c.teardown()
}

func (c *conn) readLoop() {
	idle := c.srv.cfg.SignalingWSIdleTimeout
	c.ws.SetReadLimit(c.srv.cfg.MaxSignalingMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(idle))

		// Apply the rate limit *after* reading so we consume bytes already in
		// the TCP receive buffer. Closing with unread data pending can turn
		// into an abortive close (RST) and the client never sees the reason.
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.RateLimited)
			c.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			// Malformed input is rejected without touching any state; the
			// connection survives so a buggy client can retry.
			c.srv.metrics.Inc(metrics.BadMessages)
			c.sendError("invalid_input", err.Error())
			continue
		}

		c.dispatch(msg)
	}
}

func (c *conn) writeLoop() {
	for {
		msg, ok := c.sess.Next()
		if !ok {
			c.closeWith(websocket.CloseGoingAway, "session closed")
			_ = c.ws.Close()
			return
		}
		data, err := json.Marshal(msg)
		if err != nil {
			c.log.Error("marshal outbound message", "err", err)
			continue
		}

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		err = c.ws.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			// The read loop observes the same broken connection and exits.
			_ = c.ws.Close()
			return
		}
	}
}

func (c *conn) pingLoop() {
	t := time.NewTicker(c.srv.cfg.SignalingWSPingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *conn) dispatch(msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.MessageTypeRoomCreate:
		c.handleCreate(msg)
	case protocol.MessageTypeRoomJoin:
		c.handleJoin(msg)
	case protocol.MessageTypeRoomLeave:
		c.handleLeave()
	case protocol.MessageTypeChat:
		c.handleChat(msg)
	case protocol.MessageTypeOffer, protocol.MessageTypeAnswer, protocol.MessageTypeCandidate:
		c.handleSignal(msg)
	case protocol.MessageTypeStreamStart:
		c.handleStream(true)
	case protocol.MessageTypeStreamStop:
		c.handleStream(false)
	}
}

func (c *conn) handleCreate(msg protocol.ClientMessage) {
	name := protocol.SanitizeDisplayName(msg.HostName)
	if name == "" {
		c.sendError("invalid_input", "hostName must not be empty")
		return
	}

	// Creating while in a room implies leaving it first.
	c.leaveCurrentRoom()

	maxViewers := msg.MaxViewers
	if maxViewers == 0 {
		maxViewers = c.srv.cfg.DefaultMaxViewers
	}

	snap, err := c.srv.registry.Create(c.sess.ID(), name, msg.RoomCode, maxViewers)
	if err != nil {
		if errors.Is(err, room.ErrTooManyRooms) {
			c.sendError("too_many_rooms", "Room limit reached")
			return
		}
		c.log.Error("create room", "err", err)
		c.sendError("internal_error", "Failed to create room")
		return
	}

	c.sess.SetName(name)
	c.sess.SetRoom(snap.Code, true)

	info := roomInfo(snap)
	c.send(protocol.ServerMessage{Type: protocol.MessageTypeRoomCreated, Room: &info})

	// On host takeover surviving viewers learn the new host identity.
	if len(snap.Viewers) > 0 {
		updated := roomUpdated(snap)
		updated.Room = &info
		c.srv.router.Broadcast(snap, updated, c.sess.ID())
	}

	c.log.Info("room created", "room", snap.Code, "max_viewers", snap.MaxViewers)
}

func (c *conn) handleJoin(msg protocol.ClientMessage) {
	name := protocol.SanitizeDisplayName(msg.UserName)
	if name == "" {
		c.sendError("invalid_input", "userName must not be empty")
		return
	}

	c.leaveCurrentRoom()

	user := room.User{ID: c.sess.ID(), Name: name}
	snap, err := c.srv.registry.Join(msg.RoomCode, user)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomNotFound):
			c.sendError("room_not_found", "Room not found")
		case errors.Is(err, room.ErrRoomFull):
			c.sendError("room_full", "Room is full")
		default:
			c.log.Error("join room", "room", msg.RoomCode, "err", err)
			c.sendError("internal_error", "Failed to join room")
		}
		return
	}

	c.sess.SetName(name)
	c.sess.SetRoom(snap.Code, false)

	info := roomInfo(snap)
	c.send(protocol.ServerMessage{Type: protocol.MessageTypeRoomJoined, Room: &info})

	joined := userInfo(room.User{ID: c.sess.ID(), Name: name})
	for _, v := range snap.Viewers {
		if v.ID == c.sess.ID() {
			joined = userInfo(v)
			break
		}
	}
	c.srv.router.Broadcast(snap, protocol.ServerMessage{Type: protocol.MessageTypeUserJoined, User: &joined}, c.sess.ID())
	c.srv.router.Broadcast(snap, roomUpdated(snap), c.sess.ID())

	c.log.Info("viewer joined", "room", snap.Code)
}

func (c *conn) handleLeave() {
	if code, _ := c.sess.Room(); code == "" {
		c.sendError("not_in_room", "Not in a room")
		return
	}
	c.leaveCurrentRoom()
}

// leaveCurrentRoom gracefully removes the session from its room, if any. A
// departing host ends the room for everyone; a departing viewer shrinks it.
func (c *conn) leaveCurrentRoom() {
	code, _ := c.sess.Room()
	if code == "" {
		return
	}
	c.sess.SetRoom("", false)

	res, err := c.srv.registry.Leave(code, c.sess.ID())
	if err != nil {
		// The room raced away underneath us; nothing left to notify.
		return
	}

	if res.WasHost {
		if res.Room.Streaming {
			c.srv.router.Broadcast(res.Room, protocol.ServerMessage{Type: protocol.MessageTypeStreamStopped}, c.sess.ID())
		}
		c.srv.router.Broadcast(res.Room, protocol.ServerMessage{
			Type:   protocol.MessageTypeRoomClosed,
			Reason: "host left",
		}, c.sess.ID())
		c.srv.metrics.Inc(metrics.RoomsClosed)
		c.log.Info("room closed", "room", code)
		return
	}

	c.srv.router.Broadcast(res.Room, protocol.ServerMessage{
		Type:   protocol.MessageTypeUserLeft,
		UserID: c.sess.ID(),
	}, c.sess.ID())
	c.srv.router.Broadcast(res.Room, roomUpdated(res.Room), c.sess.ID())
}

func (c *conn) handleChat(msg protocol.ClientMessage) {
	code, _ := c.sess.Room()
	if code == "" {
		c.sendError("not_in_room", "Join a room to chat")
		return
	}
	snap, err := c.srv.registry.Snapshot(code)
	if err != nil {
		return
	}

	chat := protocol.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.sess.ID(),
		SenderName: c.sess.Name(),
		Text:       msg.Text,
		Timestamp:  protocol.UnixMillis(time.Now()),
	}
	// Chat fans out to every member including the sender, which doubles as
	// the delivery acknowledgement.
	c.srv.router.Broadcast(snap, protocol.ServerMessage{Type: protocol.MessageTypeChat, Chat: &chat}, "")
	c.srv.metrics.Inc(metrics.ChatMessages)
}

func (c *conn) handleSignal(msg protocol.ClientMessage) {
	code, _ := c.sess.Room()
	if code == "" {
		c.sendError("not_in_room", "Join a room before signaling")
		return
	}
	kind, ok := protocol.SignalKindOf(msg.Type)
	if !ok {
		return
	}

	snap, err := c.srv.registry.Snapshot(code)
	if err != nil || !isMember(snap, msg.To) {
		// Cross-room or dangling recipients are dropped without feedback, the
		// same as a recipient that disconnected mid-handshake.
		c.srv.metrics.Inc(metrics.SignalsDroppedCrossRoom)
		return
	}

	c.srv.router.Route(protocol.Envelope{
		Kind: kind,
		From: c.sess.ID(),
		To:   msg.To,
		Data: msg.Data,
	})
}

func isMember(snap room.Snapshot, id string) bool {
	if id == snap.HostID {
		return true
	}
	for _, v := range snap.Viewers {
		if v.ID == id {
			return true
		}
	}
	return false
}

func (c *conn) handleStream(on bool) {
	code, _ := c.sess.Room()
	if code == "" {
		c.sendError("not_in_room", "Not in a room")
		return
	}

	snap, err := c.srv.registry.SetStreaming(code, c.sess.ID(), on)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrNotHost):
			c.sendError("not_host", "Only the host controls the stream")
		case errors.Is(err, room.ErrRoomNotFound):
			c.sendError("room_not_found", "Room not found")
		default:
			c.log.Error("set streaming", "room", code, "err", err)
			c.sendError("internal_error", "Failed to update stream state")
		}
		return
	}

	t := protocol.MessageTypeStreamStarted
	if !on {
		t = protocol.MessageTypeStreamStopped
	}
	c.srv.router.Broadcast(snap, protocol.ServerMessage{Type: t}, c.sess.ID())
	c.log.Info("stream state changed", "room", code, "streaming", on)
}

// teardown runs exactly once, after the read loop exits. The session is
// unregistered before any notification goes out: no signal can be routed to
// a dead connection, and a reconnecting host may already reclaim its code.
func (c *conn) teardown() {
	code, isHost := c.sess.Room()
	c.sess.Close()

	if code != "" {
		if isHost {
			c.hostDisconnected(code)
		} else {
			c.viewerDisconnected(code)
		}
	}

	c.srv.metrics.Inc(metrics.ConnectionsClosed)
	_ = c.ws.Close()
	c.log.Debug("connection closed", "outbound_drops", c.sess.Drops())
}

// hostDisconnected evicts the members of an abruptly orphaned room. The
// stream-stopped event precedes the closure event so no viewer ever observes
// a closed room that still claims to be streaming.
func (c *conn) hostDisconnected(code string) {
	snap, err := c.srv.registry.Detach(code, c.sess.ID())
	if err != nil {
		return
	}
	if snap.Streaming {
		c.srv.router.Broadcast(snap, protocol.ServerMessage{Type: protocol.MessageTypeStreamStopped}, c.sess.ID())
	}
	c.srv.router.Broadcast(snap, protocol.ServerMessage{
		Type:   protocol.MessageTypeHostDisconnected,
		Reason: "host disconnected",
	}, c.sess.ID())
	c.srv.metrics.Inc(metrics.RoomsDetached)
	c.log.Info("room detached", "room", code)
}

func (c *conn) viewerDisconnected(code string) {
	res, err := c.srv.registry.Leave(code, c.sess.ID())
	if err != nil {
		return
	}
	c.srv.router.Broadcast(res.Room, protocol.ServerMessage{
		Type:   protocol.MessageTypeUserLeft,
		UserID: c.sess.ID(),
	}, c.sess.ID())
	c.srv.router.Broadcast(res.Room, roomUpdated(res.Room), c.sess.ID())
}

// send queues msg on the session outbox for the write loop.
func (c *conn) send(msg protocol.ServerMessage) {
	if !c.sess.Send(msg) {
		c.srv.metrics.Inc(metrics.OutboundDrops)
	}
}

func (c *conn) sendError(code, message string) {
	c.send(protocol.ServerMessage{Type: protocol.MessageTypeError, Code: code, Message: message})
}

// fail reports a fatal protocol violation directly on the socket, bypassing
// the outbox, then closes the connection.
func (c *conn) fail(code, message string, closeCode int, closeReason string) {
	data, err := json.Marshal(protocol.ServerMessage{Type: protocol.MessageTypeError, Code: code, Message: message})
	if err == nil {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = c.ws.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
	}
	c.closeWith(closeCode, closeReason)
}

func (c *conn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
