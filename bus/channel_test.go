package bus

import (
	"testing"
	"time"

	"github.com/pulse-labs/pulse/event"
)

func TestSubscribeChan_ReceivesMatchingEvents(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	sub, err := b.SubscribeChan(ChanOptions{Topics: []string{"entity.*"}})
	if err != nil {
		t.Fatalf("SubscribeChan: %v", err)
	}
	defer sub.Close()

	b.Emit(event.New("entity.created", event.TypeCreate))

	select {
	case e := <-sub.Events():
		if e.Topic != "entity.created" {
			t.Errorf("got topic %q, want %q", e.Topic, "entity.created")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeChan_IncludeHistory(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	b.Emit(event.New("entity.created", event.TypeCreate).WithData(0))
	b.Emit(event.New("entity.created", event.TypeCreate).WithData(1))

	sub, err := b.SubscribeChan(ChanOptions{Topics: []string{"entity.*"}, IncludeHistory: true})
	if err != nil {
		t.Fatalf("SubscribeChan: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 2; i++ {
		select {
		case e := <-sub.Events():
			if got := e.Data.(int); got != i {
				t.Errorf("replayed event %d carried payload %d, want %d", i, got, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replayed event %d", i)
		}
	}
}

func TestSubscribeChan_CloseStopsDelivery(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	sub, err := b.SubscribeChan(ChanOptions{Topics: []string{"*"}})
	if err != nil {
		t.Fatalf("SubscribeChan: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Emitting after Close must not panic on the closed channel.
	b.Emit(event.New("entity.created", event.TypeCreate))

	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed and drained")
	}
}

func TestSubscribeChan_InvalidPattern(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	if _, err := b.SubscribeChan(ChanOptions{Topics: []string{"a.*.b"}}); err == nil {
		t.Fatal("expected error for invalid topic pattern")
	}
}
