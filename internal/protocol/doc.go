// Package protocol defines the wire messages exchanged between clients and
// the relay over the signaling WebSocket.
//
// The relay treats WebRTC payloads (SDP, ICE candidates) as opaque JSON; this
// package models the envelope surface, not the negotiation semantics.
package protocol
