package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
)

type MessageType string

const (
	// Client to server.
	MessageTypeRoomCreate  MessageType = "room:create"
	MessageTypeRoomJoin    MessageType = "room:join"
	MessageTypeRoomLeave   MessageType = "room:leave"
	MessageTypeChat        MessageType = "chat:message"
	MessageTypeOffer       MessageType = "webrtc:offer"
	MessageTypeAnswer      MessageType = "webrtc:answer"
	MessageTypeCandidate   MessageType = "webrtc:ice-candidate"
	MessageTypeStreamStart MessageType = "stream:start"
	MessageTypeStreamStop  MessageType = "stream:stop"

	// Server to client.
	MessageTypeRoomCreated      MessageType = "room:created"
	MessageTypeRoomJoined       MessageType = "room:joined"
	MessageTypeUserJoined       MessageType = "user:joined"
	MessageTypeUserLeft         MessageType = "user:left"
	MessageTypeRoomUpdated      MessageType = "room:updated"
	MessageTypeRoomClosed       MessageType = "room:closed"
	MessageTypeHostDisconnected MessageType = "host:disconnected"
	MessageTypeStreamStarted    MessageType = "stream:started"
	MessageTypeStreamStopped    MessageType = "stream:stopped"
	MessageTypeError            MessageType = "error"
)

const (
	// MaxDisplayNameChars bounds host and viewer display names.
	MaxDisplayNameChars = 50
	// MaxChatMessageChars bounds the body of a chat message.
	MaxChatMessageChars = 500
)

// ClientMessage is the envelope for every client-to-server message.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// room:create
	HostName   string `json:"hostName,omitempty"`
	MaxViewers int    `json:"maxViewers,omitempty"`

	// room:create (takeover) and room:join
	RoomCode string `json:"roomCode,omitempty"`

	// room:join
	UserName string `json:"userName,omitempty"`

	// chat:message
	Text string `json:"text,omitempty"`

	// webrtc:offer / webrtc:answer / webrtc:ice-candidate
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseClientMessage decodes and validates a single inbound message.
//
// Unknown fields and trailing data are rejected so protocol drift between
// client and relay surfaces as an explicit error instead of silent truncation.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.Validate(); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

func (m ClientMessage) Validate() error {
	switch m.Type {
	case MessageTypeRoomCreate:
		if strings.TrimSpace(m.HostName) == "" {
			return fmt.Errorf("room:create missing hostName")
		}
		if m.UserName != "" || m.Text != "" || m.To != "" || m.Data != nil {
			return fmt.Errorf("room:create has unexpected fields")
		}
	case MessageTypeRoomJoin:
		if m.RoomCode == "" {
			return fmt.Errorf("room:join missing roomCode")
		}
		if strings.TrimSpace(m.UserName) == "" {
			return fmt.Errorf("room:join missing userName")
		}
		if m.HostName != "" || m.MaxViewers != 0 || m.Text != "" || m.To != "" || m.Data != nil {
			return fmt.Errorf("room:join has unexpected fields")
		}
	case MessageTypeRoomLeave, MessageTypeStreamStart, MessageTypeStreamStop:
		if m.HostName != "" || m.RoomCode != "" || m.UserName != "" || m.MaxViewers != 0 ||
			m.Text != "" || m.To != "" || m.Data != nil {
			return fmt.Errorf("%s has unexpected fields", m.Type)
		}
	case MessageTypeChat:
		if m.Text == "" {
			return fmt.Errorf("chat:message missing text")
		}
		if len([]rune(m.Text)) > MaxChatMessageChars {
			return fmt.Errorf("chat:message text exceeds %d characters", MaxChatMessageChars)
		}
		if m.HostName != "" || m.RoomCode != "" || m.UserName != "" || m.To != "" || m.Data != nil {
			return fmt.Errorf("chat:message has unexpected fields")
		}
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeCandidate:
		if m.To == "" {
			return fmt.Errorf("%s missing to", m.Type)
		}
		if len(m.Data) == 0 {
			return fmt.Errorf("%s missing data", m.Type)
		}
		if m.HostName != "" || m.RoomCode != "" || m.UserName != "" || m.Text != "" {
			return fmt.Errorf("%s has unexpected fields", m.Type)
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// SignalKind classifies a relayed connection-setup message.
type SignalKind string

const (
	SignalKindOffer     SignalKind = "offer"
	SignalKindAnswer    SignalKind = "answer"
	SignalKindCandidate SignalKind = "ice-candidate"
)

// SignalKindOf maps a webrtc:* message type to its signal kind.
func SignalKindOf(t MessageType) (SignalKind, bool) {
	switch t {
	case MessageTypeOffer:
		return SignalKindOffer, true
	case MessageTypeAnswer:
		return SignalKindAnswer, true
	case MessageTypeCandidate:
		return SignalKindCandidate, true
	}
	return "", false
}

// MessageTypeOf is the inverse of SignalKindOf.
func MessageTypeOf(k SignalKind) (MessageType, bool) {
	switch k {
	case SignalKindOffer:
		return MessageTypeOffer, true
	case SignalKindAnswer:
		return MessageTypeAnswer, true
	case SignalKindCandidate:
		return MessageTypeCandidate, true
	}
	return "", false
}

// Envelope is a connection-setup message in flight between two peers.
//
// The relay routes it exactly once, at most once, and never inspects Data.
type Envelope struct {
	Kind SignalKind      `json:"kind"`
	From string          `json:"from"`
	To   string          `json:"to"`
	Data json.RawMessage `json:"data"`
}

// UserInfo describes a room member in server-to-client messages.
type UserInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsHost   bool   `json:"isHost"`
	JoinedAt int64  `json:"joinedAt"` // unix millis
}

// RoomInfo is a point-in-time snapshot of a room.
type RoomInfo struct {
	Code        string     `json:"code"`
	HostID      string     `json:"hostId"`
	HostName    string     `json:"hostName"`
	Viewers     []UserInfo `json:"viewers"`
	ViewerCount int        `json:"viewerCount"`
	MaxViewers  int        `json:"maxViewers"`
	IsStreaming bool       `json:"isStreaming"`
	CreatedAt   int64      `json:"createdAt"` // unix millis
}

// ChatMessage is the fan-out form of an ephemeral chat message.
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"` // unix millis
}

// ServerMessage is the envelope for every server-to-client message.
type ServerMessage struct {
	Type MessageType `json:"type"`

	Room *RoomInfo    `json:"room,omitempty"`
	User *UserInfo    `json:"user,omitempty"`
	Chat *ChatMessage `json:"chat,omitempty"`

	// user:left
	UserID string `json:"userId,omitempty"`

	// room:updated. Not omitempty: an emptied room must still serialize its
	// (empty) viewer list so clients can replace rather than merge.
	Viewers     []UserInfo `json:"viewers"`
	ViewerCount int        `json:"viewerCount"`

	// relayed webrtc:* traffic
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`

	// room:closed / host:disconnected
	Reason string `json:"reason,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SignalMessage builds the outbound form of a relayed envelope.
func SignalMessage(env Envelope) (ServerMessage, error) {
	t, ok := MessageTypeOf(env.Kind)
	if !ok {
		return ServerMessage{}, fmt.Errorf("unsupported signal kind %q", env.Kind)
	}
	return ServerMessage{Type: t, From: env.From, Data: env.Data}, nil
}

// SanitizeDisplayName strips control characters, collapses surrounding
// whitespace, and truncates to MaxDisplayNameChars.
func SanitizeDisplayName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	cleaned = strings.TrimSpace(cleaned)
	runes := []rune(cleaned)
	if len(runes) > MaxDisplayNameChars {
		runes = runes[:MaxDisplayNameChars]
		cleaned = strings.TrimSpace(string(runes))
	}
	return cleaned
}

// UnixMillis converts t to the wire timestamp representation.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
