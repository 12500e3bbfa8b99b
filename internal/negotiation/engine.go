// Package negotiation implements the per-peer-pair rendezvous state machine.
//
// One Engine exists for each ordered (local, remote) peer pair. The engine
// performs no I/O: every transition takes an event and returns what the
// caller must do next (apply a remote description, produce an answer, send
// buffered candidates). Glare between simultaneous offers is resolved
// deterministically by fixed polite/impolite roles: the stream initiator is
// impolite and the recipient is polite, so when both sides offer at once the
// polite side discards its pending offer and answers the impolite side's
// offer instead.
package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/logging"
)

// Role is a peer's fixed glare tie-break role, assigned at engine creation.
type Role int

const (
	// RolePolite yields during glare: it rolls back its own pending offer and
	// accepts the remote offer.
	RolePolite Role = iota
	// RoleImpolite wins during glare: it ignores an incoming offer while it
	// has a pending offer of its own.
	RoleImpolite
)

func (r Role) String() string {
	if r == RolePolite {
		return "polite"
	}
	return "impolite"
}

// Phase is the engine's negotiation phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOffering
	PhaseAnswering
	PhaseStable
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOffering:
		return "offering"
	case PhaseAnswering:
		return "answering"
	case PhaseStable:
		return "stable"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// DescKind distinguishes offers from answers. Payloads stay opaque.
type DescKind string

const (
	DescOffer  DescKind = "offer"
	DescAnswer DescKind = "answer"
)

// Description is a session description as seen by the engine. The payload is
// opaque; only the kind drives transitions.
type Description struct {
	Kind    DescKind
	Payload json.RawMessage
}

// Candidate is an opaque ICE candidate payload.
type Candidate = json.RawMessage

var (
	ErrNotIdle = errors.New("negotiation: offer not allowed outside idle phase")
	ErrClosed  = errors.New("negotiation: engine closed")
	// ErrNotAnswering is returned when a local answer arrives while the engine
	// is not expecting one, typically after a rollback raced with the caller.
	ErrNotAnswering = errors.New("negotiation: no answer expected")
)

// Reaction tells the caller how to act on a remote description. Fields apply
// in order: roll back the local description, apply the remote one, feed the
// drained candidates to the transport, then produce an answer if asked.
type Reaction struct {
	// Ignored is set when the description must be dropped without any state
	// change (impolite glare, stale answers, closed engine).
	Ignored bool
	// Rollback is set when the local pending offer must be discarded before
	// the remote description is applied (polite glare).
	Rollback bool
	// Apply is the remote description to apply, nil when Ignored.
	Apply *Description
	// Candidates are previously buffered remote candidates, in receipt order.
	// They become applicable the moment the remote description is applied.
	Candidates []Candidate
	// Answer is set when the caller must produce a local answer and hand it
	// back via LocalAnswer.
	Answer bool
}

// Engine is the state machine for one ordered peer pair. It is not safe for
// concurrent use; the owner serializes transitions per pair.
type Engine struct {
	role  Role
	phase Phase

	remoteApplied bool
	pending       []Candidate

	log logging.LeveledLogger
}

// NewEngine creates an engine with the given fixed role.
func NewEngine(role Role, lf logging.LoggerFactory) *Engine {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Engine{
		role:  role,
		phase: PhaseIdle,
		log:   lf.NewLogger("negotiation"),
	}
}

func (e *Engine) Role() Role   { return e.role }
func (e *Engine) Phase() Phase { return e.phase }

// StartOffer records that the caller has produced a local offer and is about
// to send it. Allowed only from idle; the tie-break for two simultaneous
// starts is the role, applied when the crossing offers arrive.
func (e *Engine) StartOffer() error {
	switch e.phase {
	case PhaseClosed:
		return ErrClosed
	case PhaseIdle:
		e.phase = PhaseOffering
		return nil
	default:
		return fmt.Errorf("%w: phase=%s", ErrNotIdle, e.phase)
	}
}

// HandleRemoteDescription advances the engine for an incoming offer or
// answer and returns the caller's obligations.
func (e *Engine) HandleRemoteDescription(desc Description) (Reaction, error) {
	if e.phase == PhaseClosed {
		return Reaction{Ignored: true}, nil
	}

	switch desc.Kind {
	case DescOffer:
		return e.handleRemoteOffer(desc), nil
	case DescAnswer:
		return e.handleRemoteAnswer(desc), nil
	default:
		return Reaction{}, fmt.Errorf("negotiation: unsupported description kind %q", desc.Kind)
	}
}

func (e *Engine) handleRemoteOffer(desc Description) Reaction {
	switch e.phase {
	case PhaseOffering:
		if e.role == RoleImpolite {
			// Glare, and this side wins: the peer rolls back and answers our
			// offer instead.
			e.log.Debugf("glare: ignoring remote offer, local offer pending")
			return Reaction{Ignored: true}
		}
		// Glare, and this side yields.
		e.log.Debugf("glare: rolling back local offer")
		e.phase = PhaseAnswering
		e.remoteApplied = true
		return Reaction{
			Rollback:   true,
			Apply:      &desc,
			Candidates: e.drainPending(),
			Answer:     true,
		}

	case PhaseIdle, PhaseStable:
		e.phase = PhaseAnswering
		e.remoteApplied = true
		return Reaction{
			Apply:      &desc,
			Candidates: e.drainPending(),
			Answer:     true,
		}

	default:
		// An offer while already answering is out-of-order delivery; the peer
		// will settle on our in-flight answer.
		return Reaction{Ignored: true}
	}
}

func (e *Engine) handleRemoteAnswer(desc Description) Reaction {
	if e.phase != PhaseOffering {
		// A stale answer, e.g. for an offer discarded by rollback.
		return Reaction{Ignored: true}
	}
	e.phase = PhaseStable
	e.remoteApplied = true
	return Reaction{
		Apply:      &desc,
		Candidates: e.drainPending(),
	}
}

// LocalAnswer records that the answer requested by a Reaction has been
// produced and applied locally. The engine moves to stable and the caller
// sends the answer to the peer.
func (e *Engine) LocalAnswer() error {
	switch e.phase {
	case PhaseClosed:
		return ErrClosed
	case PhaseAnswering:
		e.phase = PhaseStable
		return nil
	default:
		return fmt.Errorf("%w: phase=%s", ErrNotAnswering, e.phase)
	}
}

// HandleRemoteCandidate returns the candidates the caller must apply now, in
// receipt order. Candidates arriving before any remote description are
// buffered FIFO and released by the transition that applies one; candidates
// arriving after are passed straight through. A closed engine drops them.
func (e *Engine) HandleRemoteCandidate(c Candidate) []Candidate {
	if e.phase == PhaseClosed {
		return nil
	}
	if !e.remoteApplied {
		e.pending = append(e.pending, c)
		return nil
	}
	return []Candidate{c}
}

func (e *Engine) drainPending() []Candidate {
	drained := e.pending
	e.pending = nil
	return drained
}

// PendingCandidates reports how many candidates are buffered.
func (e *Engine) PendingCandidates() int { return len(e.pending) }

// TransportFailed resets the engine to idle after a terminal connectivity
// failure so the caller can re-run establishment. The engine itself never
// retries; restart policy belongs to the owner. Returns false once closed.
func (e *Engine) TransportFailed() bool {
	if e.phase == PhaseClosed {
		return false
	}
	e.log.Infof("transport failure, resetting to idle")
	e.phase = PhaseIdle
	e.remoteApplied = false
	e.pending = nil
	return true
}

// Close discards all state. Idempotent; every later transition is a no-op.
func (e *Engine) Close() {
	if e.phase == PhaseClosed {
		return
	}
	e.phase = PhaseClosed
	e.pending = nil
}
