// Package signaling terminates the browser-facing WebSocket surface.
//
// Each accepted connection becomes a relay session supervised by a conn:
// a read loop validates and dispatches client messages, a write loop drains
// the session outbox, and a ping loop keeps NATs and the idle deadline honest.
// On disconnect the supervisor unwinds room membership in a fixed order so
// remaining members never observe a room that still claims a live host.
package signaling
