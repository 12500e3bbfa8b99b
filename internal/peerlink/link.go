package peerlink

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/screenbeam/relay/internal/negotiation"
	"github.com/screenbeam/relay/internal/protocol"
)

// Transport is the slice of a peer connection the link drives. The pion
// implementation lives in this package; tests substitute a fake.
type Transport interface {
	// CreateOffer produces and locally applies an offer.
	CreateOffer() (protocol.SDP, error)
	// CreateAnswer produces and locally applies an answer to the current
	// remote description.
	CreateAnswer() (protocol.SDP, error)
	// ApplyRemoteDescription installs the remote offer or answer.
	ApplyRemoteDescription(desc protocol.SDP) error
	// Rollback discards the pending local offer.
	Rollback() error
	// AddCandidate feeds a remote ICE candidate to the transport.
	AddCandidate(cand protocol.Candidate) error
	Close() error
}

// SendFunc transmits one signal to the remote peer through the relay.
type SendFunc func(kind protocol.SignalKind, data json.RawMessage) error

// Link binds a negotiation engine to a transport and a signaling send path
// for a single remote peer. Safe for concurrent use.
type Link struct {
	remoteID string

	mu     sync.Mutex
	engine *negotiation.Engine
	tr     Transport
	send   SendFunc

	log logging.LeveledLogger
}

func New(remoteID string, role negotiation.Role, tr Transport, send SendFunc, lf logging.LoggerFactory) *Link {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Link{
		remoteID: remoteID,
		engine:   negotiation.NewEngine(role, lf),
		tr:       tr,
		send:     send,
		log:      lf.NewLogger("peerlink"),
	}
}

func (l *Link) RemoteID() string { return l.remoteID }

// Phase reports the current negotiation phase, for diagnostics and tests.
func (l *Link) Phase() negotiation.Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Phase()
}

// StartOffer produces a local offer and sends it. Only valid while idle.
func (l *Link) StartOffer() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.engine.StartOffer(); err != nil {
		return err
	}
	offer, err := l.tr.CreateOffer()
	if err != nil {
		l.engine.TransportFailed()
		return fmt.Errorf("create offer: %w", err)
	}
	return l.sendDescription(protocol.SignalKindOffer, offer)
}

// HandleSignal processes one inbound signal from the remote peer.
func (l *Link) HandleSignal(kind protocol.SignalKind, data json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch kind {
	case protocol.SignalKindOffer:
		return l.handleDescription(negotiation.Description{Kind: negotiation.DescOffer, Payload: data})
	case protocol.SignalKindAnswer:
		return l.handleDescription(negotiation.Description{Kind: negotiation.DescAnswer, Payload: data})
	case protocol.SignalKindCandidate:
		return l.applyCandidates(l.engine.HandleRemoteCandidate(negotiation.Candidate(data)))
	default:
		return fmt.Errorf("peerlink: unsupported signal kind %q", kind)
	}
}

func (l *Link) handleDescription(desc negotiation.Description) error {
	reaction, err := l.engine.HandleRemoteDescription(desc)
	if err != nil {
		return err
	}
	if reaction.Ignored {
		l.log.Debugf("ignoring remote %s from %s", desc.Kind, l.remoteID)
		return nil
	}

	if reaction.Rollback {
		if err := l.tr.Rollback(); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
	}

	var sdp protocol.SDP
	if err := json.Unmarshal(reaction.Apply.Payload, &sdp); err != nil {
		return fmt.Errorf("decode remote %s: %w", desc.Kind, err)
	}
	if err := l.tr.ApplyRemoteDescription(sdp); err != nil {
		return fmt.Errorf("apply remote %s: %w", desc.Kind, err)
	}

	if err := l.applyCandidates(reaction.Candidates); err != nil {
		return err
	}

	if reaction.Answer {
		answer, err := l.tr.CreateAnswer()
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := l.engine.LocalAnswer(); err != nil {
			return err
		}
		return l.sendDescription(protocol.SignalKindAnswer, answer)
	}
	return nil
}

func (l *Link) applyCandidates(cands []negotiation.Candidate) error {
	for _, raw := range cands {
		var cand protocol.Candidate
		if err := json.Unmarshal(raw, &cand); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		if err := l.tr.AddCandidate(cand); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
	}
	return nil
}

// LocalCandidate forwards a locally gathered ICE candidate to the peer.
func (l *Link) LocalCandidate(cand protocol.Candidate) error {
	data, err := json.Marshal(cand)
	if err != nil {
		return err
	}
	return l.send(protocol.SignalKindCandidate, data)
}

func (l *Link) sendDescription(kind protocol.SignalKind, sdp protocol.SDP) error {
	data, err := json.Marshal(sdp)
	if err != nil {
		return err
	}
	return l.send(kind, data)
}

// TransportFailed resets negotiation so the owner can re-establish. Returns
// false once the link is closed.
func (l *Link) TransportFailed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.TransportFailed()
}

// Close shuts down negotiation and the transport. Idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.engine.Close()
	return l.tr.Close()
}
