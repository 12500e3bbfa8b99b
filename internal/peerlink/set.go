package peerlink

import (
	"encoding/json"
	"sync"

	"github.com/pion/logging"

	"github.com/screenbeam/relay/internal/negotiation"
	"github.com/screenbeam/relay/internal/protocol"
)

// TransportFactory builds the peer connection transport for one remote peer.
type TransportFactory func(remoteID string) (Transport, error)

// SendTo transmits one signal addressed to the given remote peer.
type SendTo func(remoteID string, kind protocol.SignalKind, data json.RawMessage) error

// Set manages one Link per remote peer. Links are created lazily when the
// first signal for an unknown peer arrives (or when the owner starts an
// offer) and torn down when the peer leaves. Safe for concurrent use.
type Set struct {
	role    negotiation.Role
	factory TransportFactory
	send    SendTo
	lf      logging.LoggerFactory

	mu    sync.Mutex
	links map[string]*Link
}

func NewSet(role negotiation.Role, factory TransportFactory, send SendTo, lf logging.LoggerFactory) *Set {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Set{
		role:    role,
		factory: factory,
		send:    send,
		lf:      lf,
		links:   make(map[string]*Link),
	}
}

// Link returns the link for remoteID, creating it on first use.
func (s *Set) Link(remoteID string) (*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.links[remoteID]; ok {
		return l, nil
	}
	tr, err := s.factory(remoteID)
	if err != nil {
		return nil, err
	}
	l := New(remoteID, s.role, tr, func(kind protocol.SignalKind, data json.RawMessage) error {
		return s.send(remoteID, kind, data)
	}, s.lf)
	s.links[remoteID] = l
	return l, nil
}

// HandleSignal routes one inbound signal to the sender's link.
func (s *Set) HandleSignal(from string, kind protocol.SignalKind, data json.RawMessage) error {
	l, err := s.Link(from)
	if err != nil {
		return err
	}
	return l.HandleSignal(kind, data)
}

// Drop closes and removes the link for a departed peer. No-op for unknown
// peers.
func (s *Set) Drop(remoteID string) {
	s.mu.Lock()
	l, ok := s.links[remoteID]
	delete(s.links, remoteID)
	s.mu.Unlock()
	if ok {
		_ = l.Close()
	}
}

// Close tears down every link, for use when the room ends.
func (s *Set) Close() {
	s.mu.Lock()
	links := s.links
	s.links = make(map[string]*Link)
	s.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
}

// Len reports the number of live links.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}
