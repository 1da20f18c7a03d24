package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/pulse-labs/pulse/event"
)

func isNodeMove(e event.Event) bool {
	return e.Topic == "graph.node.moved"
}

func TestCoalesce_UnselectedPassThrough(t *testing.T) {
	var mu sync.Mutex
	var received []event.Event

	emit := func(e event.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}

	ce := NewCoalescingEmitter(emit, CoalesceConfig{
		Interval:       50 * time.Millisecond,
		ShouldCoalesce: isNodeMove,
	})
	defer ce.Close()

	ce.Emit(event.New("entity.created", event.TypeCreate))
	ce.Emit(event.New("entity.deleted", event.TypeDelete))

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Topic != "entity.created" || received[1].Topic != "entity.deleted" {
		t.Errorf("pass-through events arrived out of order: %v, %v", received[0].Topic, received[1].Topic)
	}
}

func TestCoalesce_KeepsLatestPerEntity(t *testing.T) {
	var mu sync.Mutex
	var received []event.Event

	emit := func(e event.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}

	ce := NewCoalescingEmitter(emit, CoalesceConfig{
		Interval:       100 * time.Millisecond,
		ShouldCoalesce: isNodeMove,
	})

	for i := 0; i < 10; i++ {
		e := event.New("graph.node.moved", event.TypeUpdate).
			WithEntity("node-a", "graph-node").
			WithData(i)
		ce.Emit(e)
	}

	// Nothing should have flushed before the interval elapses.
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	countBefore := len(received)
	mu.Unlock()
	if countBefore != 0 {
		t.Fatalf("expected no flushed events before interval, got %d", countBefore)
	}

	// Close flushes the remaining pending events.
	ce.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 coalesced event, got %d", len(received))
	}
	if got := received[0].Data.(int); got != 9 {
		t.Errorf("coalesced event carried payload %d, want the latest (9)", got)
	}
}

func TestCoalesce_SeparateEntitiesKeptApart(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	emit := func(e event.Event) {
		mu.Lock()
		seen[e.EntityID] = e.Data.(int)
		mu.Unlock()
	}

	ce := NewCoalescingEmitter(emit, CoalesceConfig{
		Interval:       50 * time.Millisecond,
		ShouldCoalesce: isNodeMove,
	})

	for i := 0; i < 5; i++ {
		ce.Emit(event.New("graph.node.moved", event.TypeUpdate).WithEntity("node-a", "graph-node").WithData(i))
		ce.Emit(event.New("graph.node.moved", event.TypeUpdate).WithEntity("node-b", "graph-node").WithData(i * 10))
	}
	ce.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected events for 2 entities, got %d", len(seen))
	}
	if seen["node-a"] != 4 || seen["node-b"] != 40 {
		t.Errorf("got latest payloads %v, want node-a=4 node-b=40", seen)
	}
}

func TestCoalesce_EmitAfterCloseIsDropped(t *testing.T) {
	var mu sync.Mutex
	count := 0

	ce := NewCoalescingEmitter(func(event.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, CoalesceConfig{ShouldCoalesce: isNodeMove})

	ce.Close()
	ce.Close() // idempotent

	ce.Emit(event.New("graph.node.moved", event.TypeUpdate))

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("expected 0 events after Close, got %d", count)
	}
}
