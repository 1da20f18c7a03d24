package bus

import (
	"sync"
	"time"

	"github.com/pulse-labs/pulse/event"
)

// CoalesceConfig controls the behavior of CoalescingEmitter.
type CoalesceConfig struct {
	// Interval is how often coalesced events are flushed.
	// Default: 100ms
	Interval time.Duration

	// ShouldCoalesce selects which events are coalesced. Events it rejects
	// pass through immediately. When nil, every event passes through.
	ShouldCoalesce func(event.Event) bool
}

// CoalescingEmitter wraps an event handler (typically Bus.Emit) and coalesces
// high-frequency events on the producer side. Selected events are coalesced
// per (topic, entity): only the latest event for each key is kept within each
// flush interval. This keeps chatty producers, such as a graph view reporting
// node positions, from flooding every subscriber; subscribers that need
// per-subscription pacing use the Throttle filter instead.
type CoalescingEmitter struct {
	emit     event.Handler
	interval time.Duration
	selector func(event.Event) bool

	mu      sync.Mutex
	pending map[string]event.Event // topic+entity -> latest event
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCoalescingEmitter creates a CoalescingEmitter that forwards to emit and
// coalesces events selected by cfg.ShouldCoalesce at cfg.Interval.
func NewCoalescingEmitter(emit event.Handler, cfg CoalesceConfig) *CoalescingEmitter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ce := &CoalescingEmitter{
		emit:     emit,
		interval: interval,
		selector: cfg.ShouldCoalesce,
		pending:  make(map[string]event.Event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go ce.run()

	return ce
}

// Emit sends an event through the coalescing emitter. Unselected events pass
// through immediately; selected events replace any pending event for the same
// (topic, entity) key and are flushed at the configured interval.
func (ce *CoalescingEmitter) Emit(e event.Event) {
	if ce.selector == nil || !ce.selector(e) {
		ce.emit(e)
		return
	}

	ce.mu.Lock()
	defer ce.mu.Unlock()

	if ce.closed {
		return
	}

	ce.pending[e.Topic+"\x00"+e.EntityID] = e
}

// Close flushes any pending coalesced events and stops the background ticker.
// It is safe to call Close multiple times.
func (ce *CoalescingEmitter) Close() {
	ce.mu.Lock()
	if ce.closed {
		ce.mu.Unlock()
		return
	}
	ce.closed = true
	ce.mu.Unlock()

	close(ce.stopCh)
	<-ce.doneCh
}

// run is the background goroutine that periodically flushes pending events.
func (ce *CoalescingEmitter) run() {
	defer close(ce.doneCh)

	ticker := time.NewTicker(ce.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ce.flush()
		case <-ce.stopCh:
			// Flush any remaining pending events before exiting.
			ce.flush()
			return
		}
	}
}

// flush forwards all pending coalesced events and clears the pending map.
func (ce *CoalescingEmitter) flush() {
	ce.mu.Lock()
	if len(ce.pending) == 0 {
		ce.mu.Unlock()
		return
	}

	// Swap out the pending map so we can release the lock during emission.
	toFlush := ce.pending
	ce.pending = make(map[string]event.Event)
	ce.mu.Unlock()

	for _, e := range toFlush {
		ce.emit(e)
	}
}
