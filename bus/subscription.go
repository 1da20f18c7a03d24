package bus

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pulse-labs/pulse/event"
	"github.com/pulse-labs/pulse/topic"
)

// subscription is the registry record for one subscriber. The immutable
// fields are set at subscribe time; the mutable delivery state (counter,
// throttle flag, timer) is guarded by mu.
type subscription struct {
	id        string
	patterns  []string
	callback  event.Handler
	predicate func(event.Event) bool
	contains  string
	regex     *regexp.Regexp
	throttle  time.Duration
	maxEvents int

	mu        sync.Mutex
	delivered int
	throttled bool
	timer     *time.Timer
	closed    bool
}

// close marks the subscription dead and stops any pending throttle timer.
// Safe to call more than once.
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.throttled = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// matchesTopic reports whether any of the subscription's patterns matches
// the given topic.
func (s *subscription) matchesTopic(t, delim string) bool {
	for _, pattern := range s.patterns {
		if topic.MatchesDelim(pattern, t, delim) {
			return true
		}
	}
	return false
}

// matchesFilter applies the substring / regex pattern filter against a
// string projection of the event. An unset filter always passes.
func (s *subscription) matchesFilter(e event.Event) bool {
	if s.contains == "" && s.regex == nil {
		return true
	}
	projection := projectEvent(e)
	if s.regex != nil {
		return s.regex.MatchString(projection)
	}
	return strings.Contains(projection, s.contains)
}

// projectEvent renders an event as a single string for pattern filtering:
// topic, entity fields, and a JSON rendering of the payload.
func projectEvent(e event.Event) string {
	var b strings.Builder
	b.WriteString(e.Topic)
	if e.EntityID != "" {
		b.WriteByte(' ')
		b.WriteString(e.EntityID)
	}
	if e.EntityType != "" {
		b.WriteByte(' ')
		b.WriteString(e.EntityType)
	}
	switch data := e.Data.(type) {
	case nil:
	case string:
		b.WriteByte(' ')
		b.WriteString(data)
	default:
		b.WriteByte(' ')
		if raw, err := json.Marshal(data); err == nil {
			b.Write(raw)
		} else {
			fmt.Fprintf(&b, "%v", data)
		}
	}
	return b.String()
}
