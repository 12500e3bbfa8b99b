package relay

import (
	"sync"
	"sync/atomic"

	"github.com/screenbeam/relay/internal/protocol"
)

// outbox is a message-bounded FIFO queue.
//
// It buffers outbound server messages so room-event fan-out never blocks on a
// slow WebSocket writer. Enqueue never blocks; overflow drops the message and
// counts it.
type outbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxMessages int
	messages    []protocol.ServerMessage

	drops atomic.Uint64
}

func newOutbox(maxMessages int) *outbox {
	if maxMessages <= 0 {
		maxMessages = defaultOutboxMessages
	}
	q := &outbox{maxMessages: maxMessages}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

const defaultOutboxMessages = 256

func (q *outbox) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends msg if the queue has room. It never blocks.
func (q *outbox) Enqueue(msg protocol.ServerMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.messages) >= q.maxMessages {
		q.drops.Add(1)
		return false
	}

	q.messages = append(q.messages, msg)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a message is available or the queue is closed. Close
// discards anything still queued, so a false return means no further
// messages will ever be delivered.
func (q *outbox) Dequeue() (protocol.ServerMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.messages) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.messages) == 0 {
		return protocol.ServerMessage{}, false
	}
	msg := q.messages[0]
	copy(q.messages, q.messages[1:])
	q.messages[len(q.messages)-1] = protocol.ServerMessage{}
	q.messages = q.messages[:len(q.messages)-1]
	return msg, true
}

func (q *outbox) Close() {
	q.mu.Lock()
	q.closed = true
	q.messages = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
