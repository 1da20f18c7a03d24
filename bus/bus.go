// Package bus implements the in-process event distribution core used by data
// adapters and view layers to propagate create/update/delete notifications.
// It is a topic-addressed publish/subscribe bus with hierarchical wildcard
// topics, per-subscription filtering (custom predicate, pattern match,
// max-delivery cap, throttling), and a bounded replayable history.
//
// Dispatch is synchronous: Emit invokes every matching subscriber callback
// in-line on the calling goroutine and returns once all deliveries complete.
// Subscriber failures are isolated; a panicking callback is logged and never
// affects other subscribers or the emitter. The only asynchronous element is
// the throttle timer, which clears a per-subscription flag when the cooldown
// window ends. Suppressed events are dropped, not queued.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulse-labs/pulse/event"
	"github.com/pulse-labs/pulse/topic"
)

// Config configures a Bus.
type Config struct {
	// HistoryCapacity bounds the replayable history ring
	// (default: DefaultHistoryCapacity).
	HistoryCapacity int

	// Delimiter separates topic segments (default: ".").
	// Construct a bus with ":" for colon-delimited topic schemes.
	Delimiter string

	// Logger is the diagnostic sink for subscriber callback panics and
	// other dispatch-path diagnostics (default: slog.Default()).
	Logger *slog.Logger

	// Observer receives dispatch accounting callbacks (default: no-op).
	Observer Observer
}

// Bus distributes events to subscribers. Construct one with New at
// application start and hand it to collaborators; all methods are safe for
// concurrent use.
type Bus struct {
	delim  string
	logger *slog.Logger
	obs    Observer

	mu      sync.RWMutex
	subs    registry
	byID    map[string]*subscription
	history *ring
	closed  bool

	seq atomic.Uint64
}

// New creates a Bus with the given configuration.
func New(config Config) *Bus {
	delim := config.Delimiter
	if delim == "" {
		delim = topic.DefaultDelimiter
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := config.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	return &Bus{
		delim:   delim,
		logger:  logger,
		obs:     obs,
		subs:    make(registry),
		byID:    make(map[string]*subscription),
		history: newRing(config.HistoryCapacity),
	}
}

// Emit records the event into history and synchronously delivers it to every
// matching subscription, exactly once per subscription even when several of
// its patterns match. A zero ID or Time is filled in; Seq is always assigned
// by the bus. Emit never blocks on subscribers and always runs to completion;
// if the bus is closed the event is silently dropped.
func (b *Bus) Emit(e event.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Seq = b.seq.Add(1)

	candidates := topic.CandidatesDelim(e.Topic, b.delim)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history.record(e)
	// Snapshot the matching subscriptions so callbacks run outside the bus
	// lock and may subscribe, unsubscribe, or emit re-entrantly.
	matched := b.subs.collect(candidates)
	b.mu.Unlock()

	b.obs.Emitted(e.Topic)

	for _, s := range matched {
		b.deliver(s, e)
	}
}

// EmitTopic is the convenience form of Emit: it synthesizes an event of
// TypeCustom on the given topic with a generated ID and the current time.
// When data is a map, the "id" and "type" string entries populate EntityID
// and EntityType.
func (b *Bus) EmitTopic(topicName string, data any) {
	e := event.New(topicName, event.TypeCustom).WithData(data)
	if m, ok := data.(map[string]any); ok {
		if id, ok := m["id"].(string); ok {
			e.EntityID = id
		}
		if typ, ok := m["type"].(string); ok {
			e.EntityType = typ
		}
	}
	b.Emit(e)
}

// History returns a snapshot copy of the buffered events in emission order,
// oldest first.
func (b *Bus) History() []event.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.snapshot()
}

// Delimiter returns the topic segment delimiter this bus was built with.
func (b *Bus) Delimiter() string {
	return b.delim
}

// HistoryLen returns the number of buffered events.
func (b *Bus) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.len()
}

// ClearHistory empties the history ring. Existing subscriptions are
// unaffected.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history.clear()
}

// Close removes every subscription, stops their throttle timers, and makes
// further Emit calls no-ops. It is safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	closing := make([]*subscription, 0, len(b.byID))
	for _, s := range b.byID {
		closing = append(closing, s)
	}
	b.subs = make(registry)
	b.byID = make(map[string]*subscription)
	b.mu.Unlock()

	for _, s := range closing {
		s.close()
	}
	return nil
}

// deliver runs the per-(subscription, event) pipeline: max-delivery cap,
// custom predicate, pattern filter, throttle gate, then the callback inside
// a panic-isolating boundary. A failing check means "do not deliver" and is
// not an error.
func (b *Bus) deliver(s *subscription, e event.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.maxEvents > 0 && s.delivered >= s.maxEvents {
		s.mu.Unlock()
		b.obs.Dropped(e.Topic, s.id, DropMaxEvents)
		return
	}
	s.mu.Unlock()

	// Filters run outside the subscription lock: the predicate is
	// subscriber-supplied code.
	if s.predicate != nil && !s.predicate(e) {
		b.obs.Dropped(e.Topic, s.id, DropPredicate)
		return
	}
	if !s.matchesFilter(e) {
		b.obs.Dropped(e.Topic, s.id, DropPattern)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.maxEvents > 0 && s.delivered >= s.maxEvents {
		s.mu.Unlock()
		b.obs.Dropped(e.Topic, s.id, DropMaxEvents)
		return
	}
	if s.throttle > 0 {
		if s.throttled {
			s.mu.Unlock()
			b.obs.Dropped(e.Topic, s.id, DropThrottled)
			return
		}
		// Arm the cooldown window. The timer only clears the flag; events
		// suppressed inside the window are dropped, never re-delivered.
		s.throttled = true
		s.timer = time.AfterFunc(s.throttle, func() {
			s.mu.Lock()
			s.throttled = false
			s.timer = nil
			s.mu.Unlock()
		})
	}
	s.delivered++
	s.mu.Unlock()

	b.invoke(s, e)
	b.obs.Delivered(e.Topic, s.id)
}

// invoke calls the subscriber callback inside a failure-isolating boundary.
// Panics are reported to the diagnostic sink and never re-thrown, so one
// misbehaving subscriber cannot abort dispatch to the others.
func (b *Bus) invoke(s *subscription, e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.obs.Panicked(e.Topic, s.id)
			b.logger.Error("subscriber callback panicked",
				"subscription_id", s.id,
				"topic", e.Topic,
				"event_id", e.ID,
				"panic", r,
			)
		}
	}()
	s.callback(e)
}
