package bus

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/pulse-labs/pulse/event"
	"github.com/pulse-labs/pulse/topic"
)

// SubscribeOptions describes a subscription request.
type SubscribeOptions struct {
	// ID identifies the subscription. Leave empty to have one generated.
	// Re-using an existing ID replaces that subscription.
	ID string

	// Topics are the topic patterns to subscribe under: literal topics,
	// tail wildcards ("entity.*"), or the universal wildcard ("*").
	// At least one is required.
	Topics []string

	// Callback is invoked once per delivered event. Required.
	Callback event.Handler

	// Filter, when set, must return true for an event to be delivered.
	Filter func(event.Event) bool

	// Pattern, when non-empty, is matched against a string projection of
	// the event (topic, entity fields, payload): as a substring by default,
	// or as a regular expression when PatternIsRegex is set.
	Pattern string

	// PatternIsRegex interprets Pattern as a regular expression.
	PatternIsRegex bool

	// Throttle, when positive, opens a cooldown window after each delivery
	// during which further matching events are dropped.
	Throttle time.Duration

	// MaxEvents, when positive, caps total deliveries over the
	// subscription's lifetime. Replayed history counts against the cap.
	MaxEvents int

	// IncludeHistory replays matching buffered events through the delivery
	// pipeline, in emission order, before Subscribe returns.
	IncludeHistory bool
}

// Subscribe registers a subscription and returns its ID. It fails fast on
// malformed topic patterns, a bad regex, or a missing callback, since such a
// subscription could never be delivered to.
func (b *Bus) Subscribe(opts SubscribeOptions) (string, error) {
	if opts.Callback == nil {
		return "", fmt.Errorf("bus: subscribe: callback is required")
	}
	if len(opts.Topics) == 0 {
		return "", fmt.Errorf("bus: subscribe: at least one topic pattern is required")
	}
	for _, pattern := range opts.Topics {
		if err := topic.ValidateDelim(pattern, b.delim); err != nil {
			return "", fmt.Errorf("bus: subscribe: %w", err)
		}
	}

	var re *regexp.Regexp
	if opts.PatternIsRegex && opts.Pattern != "" {
		compiled, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return "", fmt.Errorf("bus: subscribe: invalid pattern regex: %w", err)
		}
		re = compiled
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	s := &subscription{
		id:        id,
		patterns:  opts.Topics,
		callback:  opts.Callback,
		predicate: opts.Filter,
		throttle:  opts.Throttle,
		maxEvents: opts.MaxEvents,
	}
	if re != nil {
		s.regex = re
	} else {
		s.contains = opts.Pattern
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", fmt.Errorf("bus: subscribe: bus is closed")
	}
	if prev, ok := b.byID[id]; ok {
		b.subs.unregister(id, prev.patterns)
		defer prev.close()
	}
	b.byID[id] = s
	for _, pattern := range opts.Topics {
		b.subs.register(pattern, id, s)
	}

	// Snapshot history under the same lock as registration so replay and
	// live delivery cannot observe different prefixes of the stream.
	var replay []event.Event
	if opts.IncludeHistory {
		replay = b.history.snapshot()
	}
	b.mu.Unlock()

	for _, e := range replay {
		if s.matchesTopic(e.Topic, b.delim) {
			b.deliver(s, e)
		}
	}

	return id, nil
}

// Unsubscribe removes the subscription from every pattern it was registered
// under, stops its pending throttle timer, and discards its counters. It is
// idempotent; unknown IDs are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.byID[id]
	if ok {
		delete(b.byID, id)
		b.subs.unregister(id, s.patterns)
	}
	b.mu.Unlock()

	if ok {
		s.close()
	}
}

// Handle is the detachable result of On.
type Handle struct {
	bus *Bus
	id  string
}

// ID returns the underlying subscription ID.
func (h *Handle) ID() string {
	return h.id
}

// Unsubscribe detaches the handler. Idempotent.
func (h *Handle) Unsubscribe() {
	h.bus.Unsubscribe(h.id)
}

// On is sugar over Subscribe for the common single-topic case: fn receives
// the event payload instead of the full record.
func (b *Bus) On(topicName string, fn func(data any)) (*Handle, error) {
	id, err := b.Subscribe(SubscribeOptions{
		Topics: []string{topicName},
		Callback: func(e event.Event) {
			fn(e.Data)
		},
	})
	if err != nil {
		return nil, err
	}
	return &Handle{bus: b, id: id}, nil
}
