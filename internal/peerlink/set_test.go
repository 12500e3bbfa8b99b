package peerlink

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/screenbeam/relay/internal/negotiation"
	"github.com/screenbeam/relay/internal/protocol"
)

func newTestSet(t *testing.T) (*Set, map[string]*fakeTransport) {
	t.Helper()
	transports := make(map[string]*fakeTransport)
	factory := func(remoteID string) (Transport, error) {
		tr := &fakeTransport{name: remoteID}
		transports[remoteID] = tr
		return tr, nil
	}
	send := func(string, protocol.SignalKind, json.RawMessage) error { return nil }
	return NewSet(negotiation.RoleImpolite, factory, send, nil), transports
}

func TestSetCreatesLinksLazily(t *testing.T) {
	s, transports := newTestSet(t)

	if s.Len() != 0 {
		t.Fatalf("len=%d, want 0 before first use", s.Len())
	}

	l1, err := s.Link("viewer-1")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	again, err := s.Link("viewer-1")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if l1 != again {
		t.Fatalf("second lookup built a new link")
	}
	if s.Len() != 1 || len(transports) != 1 {
		t.Fatalf("len=%d transports=%d, want 1 and 1", s.Len(), len(transports))
	}
}

func TestSetHandleSignalBuildsLink(t *testing.T) {
	s, transports := newTestSet(t)

	offer, _ := json.Marshal(protocol.SDP{Type: "offer", SDP: "v=0"})
	if err := s.HandleSignal("viewer-1", protocol.SignalKindOffer, offer); err != nil {
		t.Fatalf("handle signal: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d, want 1", s.Len())
	}
	tr := transports["viewer-1"]
	if len(tr.log) == 0 || tr.log[0] != "applyRemote offer" {
		t.Fatalf("transport log=%v, want applyRemote offer first", tr.log)
	}
}

func TestSetDropClosesLink(t *testing.T) {
	s, transports := newTestSet(t)

	if _, err := s.Link("viewer-1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	s.Drop("viewer-1")
	if s.Len() != 0 {
		t.Fatalf("len=%d after drop, want 0", s.Len())
	}
	tr := transports["viewer-1"]
	if len(tr.log) == 0 || tr.log[len(tr.log)-1] != "close" {
		t.Fatalf("transport log=%v, want close last", tr.log)
	}

	// Unknown peers are a no-op.
	s.Drop("never-seen")
}

func TestSetCloseTearsDownAll(t *testing.T) {
	s, transports := newTestSet(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Link(id); err != nil {
			t.Fatalf("link %s: %v", id, err)
		}
	}
	s.Close()
	if s.Len() != 0 {
		t.Fatalf("len=%d after close, want 0", s.Len())
	}
	for id, tr := range transports {
		if len(tr.log) == 0 || tr.log[len(tr.log)-1] != "close" {
			t.Fatalf("transport %s log=%v, want close last", id, tr.log)
		}
	}
}

func TestSetFactoryFailure(t *testing.T) {
	boom := errors.New("no transport")
	s := NewSet(negotiation.RoleImpolite,
		func(string) (Transport, error) { return nil, boom },
		func(string, protocol.SignalKind, json.RawMessage) error { return nil },
		nil)

	if _, err := s.Link("viewer-1"); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
	if s.Len() != 0 {
		t.Fatalf("len=%d after failed factory, want 0", s.Len())
	}
}
