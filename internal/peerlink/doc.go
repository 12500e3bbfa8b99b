// Package peerlink drives WebRTC session establishment for one remote peer.
//
// A Link owns the negotiation engine for an ordered peer pair and turns its
// reactions into transport calls and outbound signals. The stream initiator
// holds the impolite role; the receiving side is polite. Links are what Go
// clients of the relay (test harnesses, headless viewers) use to speak the
// same signaling dialect as the browser.
package peerlink
