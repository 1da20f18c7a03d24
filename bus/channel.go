package bus

import (
	"sync"

	"github.com/pulse-labs/pulse/event"
)

// Subscription is a channel-based view of a bus subscription, for consumers
// that prefer select loops over callbacks. Ordering and filter semantics are
// those of the underlying callback subscription.
type Subscription interface {
	// Events returns the channel of events for this subscription.
	Events() <-chan event.Event

	// Close unsubscribes and releases resources.
	Close() error
}

// ChanOptions configures SubscribeChan.
type ChanOptions struct {
	// Topics are the topic patterns to subscribe under. At least one is
	// required.
	Topics []string

	// Buffer is the channel buffer size (default: 256). Events are dropped
	// if the consumer falls behind and the buffer fills.
	Buffer int

	// IncludeHistory replays matching buffered events into the channel
	// before SubscribeChan returns.
	IncludeHistory bool
}

// SubscribeChan registers a subscription whose deliveries are sent to a
// buffered channel. The returned Subscription must be closed when done.
func (b *Bus) SubscribeChan(opts ChanOptions) (Subscription, error) {
	bufSize := opts.Buffer
	if bufSize <= 0 {
		bufSize = 256
	}

	sub := &chanSub{
		bus: b,
		ch:  make(chan event.Event, bufSize),
	}

	id, err := b.Subscribe(SubscribeOptions{
		Topics:         opts.Topics,
		Callback:       sub.send,
		IncludeHistory: opts.IncludeHistory,
	})
	if err != nil {
		return nil, err
	}
	sub.id = id
	return sub, nil
}

// chanSub adapts a callback subscription to a channel.
type chanSub struct {
	bus *Bus
	id  string

	mu     sync.Mutex
	ch     chan event.Event
	closed bool
}

// Events returns the channel of events for this subscription.
func (s *chanSub) Events() <-chan event.Event {
	return s.ch
}

// Close unsubscribes from the bus and closes the channel. Safe to call more
// than once.
func (s *chanSub) Close() error {
	s.bus.Unsubscribe(s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// send delivers an event to the channel. If the channel is full or the
// subscription is closed, the event is dropped.
func (s *chanSub) send(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- e:
	default:
		// Drop if channel full.
	}
}

// Compile-time interface check.
var _ Subscription = (*chanSub)(nil)
