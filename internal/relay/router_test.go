package relay

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/screenbeam/relay/internal/metrics"
	"github.com/screenbeam/relay/internal/protocol"
	"github.com/screenbeam/relay/internal/room"
)

func drain(t *testing.T, s *Session, n int) []protocol.ServerMessage {
	t.Helper()
	out := make([]protocol.ServerMessage, 0, n)
	for i := 0; i < n; i++ {
		msg, ok := s.Next()
		if !ok {
			t.Fatalf("session %s closed after %d messages, want %d", s.ID(), i, n)
		}
		out = append(out, msg)
	}
	return out
}

func TestRegisterAndConnected(t *testing.T) {
	rt := NewRouter(metrics.New(), 8)

	sess, err := rt.Register("u1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !rt.Connected("u1") {
		t.Fatalf("Connected(u1)=false after register")
	}
	if _, err := rt.Register("u1"); err != ErrDuplicateSession {
		t.Fatalf("duplicate Register: err=%v, want ErrDuplicateSession", err)
	}

	sess.Close()
	if rt.Connected("u1") {
		t.Fatalf("Connected(u1)=true after close")
	}
	if rt.Len() != 0 {
		t.Fatalf("Len=%d, want 0", rt.Len())
	}
}

func TestRouteDeliversExactlyOnce(t *testing.T) {
	m := metrics.New()
	rt := NewRouter(m, 8)

	if _, err := rt.Register("a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	b, err := rt.Register("b")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	env := protocol.Envelope{
		Kind: protocol.SignalKindOffer,
		From: "a",
		To:   "b",
		Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}
	if !rt.Route(env) {
		t.Fatalf("Route=false, want delivered")
	}

	got := drain(t, b, 1)[0]
	if got.Type != protocol.MessageTypeOffer || got.From != "a" {
		t.Fatalf("delivered=%+v, want offer from a", got)
	}
	if string(got.Data) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("payload=%s, want verbatim passthrough", got.Data)
	}
	if m.Get(metrics.SignalsRelayed) != 1 {
		t.Fatalf("relayed=%d, want 1", m.Get(metrics.SignalsRelayed))
	}
}

func TestRouteUnknownRecipientIsSilentDrop(t *testing.T) {
	m := metrics.New()
	rt := NewRouter(m, 8)

	if rt.Route(protocol.Envelope{Kind: protocol.SignalKindAnswer, From: "a", To: "ghost"}) {
		t.Fatalf("Route to unknown recipient=true, want false")
	}
	if m.Get(metrics.SignalsDroppedNoRoute) != 1 {
		t.Fatalf("dropped=%d, want 1", m.Get(metrics.SignalsDroppedNoRoute))
	}
}

func TestPerSenderOrderingPreserved(t *testing.T) {
	rt := NewRouter(metrics.New(), 16)

	if _, err := rt.Register("a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	b, err := rt.Register("b")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	kinds := []protocol.SignalKind{
		protocol.SignalKindOffer,
		protocol.SignalKindCandidate,
		protocol.SignalKindCandidate,
		protocol.SignalKindAnswer,
	}
	for i, k := range kinds {
		data := json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))
		rt.Route(protocol.Envelope{Kind: k, From: "a", To: "b", Data: data})
	}

	got := drain(t, b, len(kinds))
	for i, msg := range got {
		want, _ := protocol.MessageTypeOf(kinds[i])
		if msg.Type != want {
			t.Fatalf("message %d type=%q, want %q", i, msg.Type, want)
		}
	}
}

func TestBroadcastExcludes(t *testing.T) {
	rt := NewRouter(metrics.New(), 8)

	host, _ := rt.Register("host")
	v1, _ := rt.Register("v1")
	v2, _ := rt.Register("v2")

	snap := room.Snapshot{
		HostID: "host",
		Viewers: []room.User{
			{ID: "v1"},
			{ID: "v2"},
			{ID: "gone"}, // no session: fire-and-forget no-op
		},
	}
	rt.Broadcast(snap, protocol.ServerMessage{Type: protocol.MessageTypeStreamStarted}, "v1")

	if got := drain(t, host, 1)[0]; got.Type != protocol.MessageTypeStreamStarted {
		t.Fatalf("host got %q, want stream:started", got.Type)
	}
	if got := drain(t, v2, 1)[0]; got.Type != protocol.MessageTypeStreamStarted {
		t.Fatalf("v2 got %q, want stream:started", got.Type)
	}

	// Excluded member gets nothing: next enqueue should be the first message.
	v1.Send(protocol.ServerMessage{Type: protocol.MessageTypeError, Message: "marker"})
	if got := drain(t, v1, 1)[0]; got.Message != "marker" {
		t.Fatalf("v1 got %+v before marker, want exclusion", got)
	}
}

func TestSendToClosedSessionReportsDrop(t *testing.T) {
	m := metrics.New()
	rt := NewRouter(m, 8)

	sess, _ := rt.Register("u1")
	sess.Close()

	if rt.Send("u1", protocol.ServerMessage{Type: protocol.MessageTypeError}) {
		t.Fatalf("Send to closed session=true, want false")
	}
}
