package transport

import (
	"log/slog"
	"sync"

	"github.com/everpcpc/syncplay-go/internal/protocol"
)

// outboundQueue is a bounded FIFO with the backpressure policy from §5:
// "Outbound-queue overflow drops the oldest non-State message (chat is
// preserved, state is regenerated on next tick anyway)". Concretely: on
// overflow, drop the oldest State-kind entry if one exists (it'll be
// superseded by the next heartbeat tick regardless); otherwise drop the
// oldest entry outright.
type outboundQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []protocol.Frame
	capacity int
	closed   bool

	// onDrop, when non-nil, is called once per dropped frame with the
	// dropped frame's kind. Called while q.mu is held, so it must not
	// call back into the queue.
	onDrop func(kind string)
}

func newOutboundQueue(capacity int, onDrop func(kind string)) *outboundQueue {
	q := &outboundQueue{capacity: capacity, onDrop: onDrop}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// frameKind names a frame for logging/metrics purposes.
func frameKind(f protocol.Frame) string {
	switch {
	case f.Hello != nil:
		return "hello"
	case f.Set != nil:
		return "set"
	case f.List != nil:
		return "list"
	case f.State != nil:
		return "state"
	case f.Chat != nil:
		return "chat"
	case f.Error != nil:
		return "error"
	case f.TLS != nil:
		return "tls"
	default:
		return "unknown"
	}
}

func (q *outboundQueue) push(f protocol.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.items) >= q.capacity {
		q.dropOneLocked()
	}
	q.items = append(q.items, f)
	q.cond.Signal()
}

// dropOneLocked removes one entry to make room, preferring the oldest
// State-kind entry over the oldest entry overall.
func (q *outboundQueue) dropOneLocked() {
	for i, it := range q.items {
		if it.State != nil {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.reportDrop("state")
			return
		}
	}
	if len(q.items) > 0 {
		kind := frameKind(q.items[0])
		q.items = q.items[1:]
		q.reportDrop(kind)
	}
}

func (q *outboundQueue) reportDrop(kind string) {
	slog.Warn("transport: outbound queue full, dropping oldest frame", "kind", kind)
	if q.onDrop != nil {
		q.onDrop(kind)
	}
}

// pop blocks until an item is available or the queue is closed, in which
// case ok is false.
func (q *outboundQueue) pop() (protocol.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 && q.closed {
		return protocol.Frame{}, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

func (q *outboundQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
