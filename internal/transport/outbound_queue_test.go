package transport

import (
	"testing"

	"github.com/everpcpc/syncplay-go/internal/protocol"
)

func TestOutboundQueueDropsOldestStateOnOverflow(t *testing.T) {
	q := newOutboundQueue(2, nil)
	q.push(protocol.Frame{State: &protocol.State{PlayState: &protocol.PlayState{Position: 1}}})
	q.push(protocol.Frame{Chat: &protocol.Chat{Message: "hi"}})
	// Queue full; pushing a new State should evict the old State, not the chat.
	q.push(protocol.Frame{State: &protocol.State{PlayState: &protocol.PlayState{Position: 2}}})

	first, ok := q.pop()
	if !ok || first.Chat == nil || first.Chat.Message != "hi" {
		t.Fatalf("expected chat preserved as the oldest surviving entry, got %+v", first)
	}
	second, ok := q.pop()
	if !ok || second.State == nil || second.State.PlayState.Position != 2 {
		t.Fatalf("expected the newest state to survive, got %+v", second)
	}
}

func TestOutboundQueueClosePopReturnsFalse(t *testing.T) {
	q := newOutboundQueue(2, nil)
	q.close()
	if _, ok := q.pop(); ok {
		t.Fatal("pop on a closed empty queue should return ok=false")
	}
}

func TestOutboundQueueFIFOWhenNotFull(t *testing.T) {
	q := newOutboundQueue(4, nil)
	q.push(protocol.Frame{Chat: &protocol.Chat{Message: "a"}})
	q.push(protocol.Frame{Chat: &protocol.Chat{Message: "b"}})
	first, _ := q.pop()
	second, _ := q.pop()
	if first.Chat.Message != "a" || second.Chat.Message != "b" {
		t.Errorf("expected FIFO order, got %q then %q", first.Chat.Message, second.Chat.Message)
	}
}
