package peerlink

import (
	"github.com/pion/webrtc/v4"

	"github.com/screenbeam/relay/internal/protocol"
)

// PionTransport adapts a pion PeerConnection to the Transport interface.
type PionTransport struct {
	pc *webrtc.PeerConnection
}

func NewPionTransport(pc *webrtc.PeerConnection) *PionTransport {
	return &PionTransport{pc: pc}
}

func (t *PionTransport) PeerConnection() *webrtc.PeerConnection { return t.pc }

// OnLocalCandidate registers fn for locally gathered ICE candidates. The
// end-of-gathering nil candidate is not forwarded; trickle consumers treat
// an absent candidate the same way.
func (t *PionTransport) OnLocalCandidate(fn func(protocol.Candidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(protocol.CandidateFromPion(c.ToJSON()))
	})
}

func (t *PionTransport) CreateOffer() (protocol.SDP, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SDP{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return protocol.SDP{}, err
	}
	return protocol.SDPFromPion(offer), nil
}

func (t *PionTransport) CreateAnswer() (protocol.SDP, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SDP{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return protocol.SDP{}, err
	}
	return protocol.SDPFromPion(answer), nil
}

func (t *PionTransport) ApplyRemoteDescription(desc protocol.SDP) error {
	pionDesc, err := desc.ToPion()
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(pionDesc)
}

func (t *PionTransport) Rollback() error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *PionTransport) AddCandidate(cand protocol.Candidate) error {
	if cand.Candidate == "" {
		// End-of-candidates marker.
		return nil
	}
	return t.pc.AddICECandidate(cand.ToPion())
}

func (t *PionTransport) Close() error {
	return t.pc.Close()
}
