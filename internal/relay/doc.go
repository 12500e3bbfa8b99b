// Package relay delivers signal envelopes and room events to connected
// sessions.
//
// Each session owns a bounded FIFO outbox drained by a single writer, which
// gives the per-sender ordering guarantee: messages from one sender to one
// recipient are delivered in send order. Sends to a session that is gone are
// silent no-ops; setup races under churn are expected and never errors.
package relay
