package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pulse-labs/pulse/event"
)

func newTestBus() *Bus {
	return New(Config{Logger: slog.New(slog.DiscardHandler)})
}

// collector records delivered events for assertions.
type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) handler() event.Handler {
	return func(e event.Event) {
		c.mu.Lock()
		c.events = append(c.events, e)
		c.mu.Unlock()
	}
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) at(i int) event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func mustSubscribe(t *testing.T, b *Bus, opts SubscribeOptions) string {
	t.Helper()
	id, err := b.Subscribe(opts)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return id
}

func TestEmit_DeliversToExactWildcardAndUniversal(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var exact, wildcard, universal collector
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"entity.created"}, Callback: exact.handler()})
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"entity.*"}, Callback: wildcard.handler()})
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"*"}, Callback: universal.handler()})

	b.Emit(event.New("entity.created", event.TypeCreate))

	for name, c := range map[string]*collector{"exact": &exact, "wildcard": &wildcard, "universal": &universal} {
		if c.len() != 1 {
			t.Errorf("%s subscriber: got %d deliveries, want 1", name, c.len())
		}
	}
}

func TestEmit_DeduplicatesAcrossMatchingPatterns(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	// One subscription reachable through three candidate patterns must be
	// delivered to exactly once per event.
	var c collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:   []string{"entity.created", "entity.*", "*"},
		Callback: c.handler(),
	})

	b.Emit(event.New("entity.created", event.TypeCreate))

	if c.len() != 1 {
		t.Errorf("got %d deliveries, want 1", c.len())
	}
}

func TestEmit_NonMatchingTopicNotDelivered(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"entity.*"}, Callback: c.handler()})

	b.Emit(event.New("report.created", event.TypeCreate))

	if c.len() != 0 {
		t.Errorf("got %d deliveries, want 0", c.len())
	}
}

func TestEmit_SameTopicFIFO(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"entity.updated"}, Callback: c.handler()})

	for i := 0; i < 5; i++ {
		b.Emit(event.New("entity.updated", event.TypeUpdate).WithData(i))
	}

	if c.len() != 5 {
		t.Fatalf("got %d deliveries, want 5", c.len())
	}
	for i := 0; i < 5; i++ {
		if got := c.at(i).Data.(int); got != i {
			t.Errorf("delivery %d carried payload %d, want %d", i, got, i)
		}
		if i > 0 && c.at(i).Seq <= c.at(i-1).Seq {
			t.Errorf("delivery %d has non-increasing seq %d after %d", i, c.at(i).Seq, c.at(i-1).Seq)
		}
	}
}

func TestEmit_FillsDefaults(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"entity.created"}, Callback: c.handler()})

	b.Emit(event.Event{Topic: "entity.created", Type: event.TypeCreate})

	if c.len() != 1 {
		t.Fatalf("got %d deliveries, want 1", c.len())
	}
	got := c.at(0)
	if got.ID == "" {
		t.Error("event ID was not generated")
	}
	if got.Time.IsZero() {
		t.Error("event time was not set")
	}
	if got.Seq == 0 {
		t.Error("event seq was not assigned")
	}
}

func TestMaxEvents_CapsLifetimeDeliveries(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:    []string{"entity.*"},
		Callback:  c.handler(),
		MaxEvents: 2,
	})

	for i := 0; i < 5; i++ {
		b.Emit(event.New("entity.created", event.TypeCreate))
	}

	if c.len() != 2 {
		t.Errorf("got %d deliveries, want exactly 2", c.len())
	}
}

func TestFilter_CustomPredicate(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:   []string{"entity.*"},
		Callback: c.handler(),
		Filter: func(e event.Event) bool {
			return e.Type == event.TypeDelete
		},
	})

	b.Emit(event.New("entity.created", event.TypeCreate))
	b.Emit(event.New("entity.deleted", event.TypeDelete))
	b.Emit(event.New("entity.updated", event.TypeUpdate))

	if c.len() != 1 {
		t.Fatalf("got %d deliveries, want 1", c.len())
	}
	if c.at(0).Type != event.TypeDelete {
		t.Errorf("got type %q, want %q", c.at(0).Type, event.TypeDelete)
	}
}

func TestFilter_PatternSubstring(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:   []string{"report.*"},
		Callback: c.handler(),
		Pattern:  "classified",
	})

	b.Emit(event.New("report.created", event.TypeCreate).WithData("classified briefing"))
	b.Emit(event.New("report.created", event.TypeCreate).WithData("public memo"))

	if c.len() != 1 {
		t.Fatalf("got %d deliveries, want 1", c.len())
	}
	if c.at(0).Data.(string) != "classified briefing" {
		t.Errorf("wrong event passed the substring filter: %v", c.at(0).Data)
	}
}

func TestFilter_PatternRegex(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:         []string{"*"},
		Callback:       c.handler(),
		Pattern:        `^entity\.(created|deleted)`,
		PatternIsRegex: true,
	})

	b.Emit(event.New("entity.created", event.TypeCreate))
	b.Emit(event.New("entity.updated", event.TypeUpdate))
	b.Emit(event.New("entity.deleted", event.TypeDelete))

	if c.len() != 2 {
		t.Errorf("got %d deliveries, want 2", c.len())
	}
}

func TestSubscribe_InvalidRegexFailsFast(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	_, err := b.Subscribe(SubscribeOptions{
		Topics:         []string{"*"},
		Callback:       func(event.Event) {},
		Pattern:        `entity.(created`,
		PatternIsRegex: true,
	})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestSubscribe_InvalidTopicPatternFailsFast(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	for _, pattern := range []string{"", "a.*.b", "ent*"} {
		_, err := b.Subscribe(SubscribeOptions{
			Topics:   []string{pattern},
			Callback: func(event.Event) {},
		})
		if err == nil {
			t.Errorf("Subscribe with pattern %q: expected error", pattern)
		}
	}
}

func TestSubscribe_RequiresCallbackAndTopics(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	if _, err := b.Subscribe(SubscribeOptions{Topics: []string{"*"}}); err == nil {
		t.Error("expected error for missing callback")
	}
	if _, err := b.Subscribe(SubscribeOptions{Callback: func(event.Event) {}}); err == nil {
		t.Error("expected error for missing topics")
	}
}

func TestThrottle_DropsInsideWindowDeliversAfter(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:   []string{"graph.node.moved"},
		Callback: c.handler(),
		Throttle: 100 * time.Millisecond,
	})

	b.Emit(event.New("graph.node.moved", event.TypeUpdate))
	b.Emit(event.New("graph.node.moved", event.TypeUpdate))

	if c.len() != 1 {
		t.Fatalf("inside window: got %d deliveries, want 1", c.len())
	}

	time.Sleep(150 * time.Millisecond)
	b.Emit(event.New("graph.node.moved", event.TypeUpdate))

	if c.len() != 2 {
		t.Errorf("after window: got %d deliveries, want 2", c.len())
	}
}

func TestUnsubscribe_StopsDeliveryAndIsIdempotent(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	id := mustSubscribe(t, b, SubscribeOptions{Topics: []string{"entity.*"}, Callback: c.handler()})

	b.Emit(event.New("entity.created", event.TypeCreate))
	b.Unsubscribe(id)
	b.Emit(event.New("entity.created", event.TypeCreate))

	if c.len() != 1 {
		t.Errorf("got %d deliveries, want 1", c.len())
	}

	// Unknown and repeated IDs are no-ops.
	b.Unsubscribe(id)
	b.Unsubscribe("never-registered")
}

func TestUnsubscribe_ClearsThrottleTimer(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	id := mustSubscribe(t, b, SubscribeOptions{
		Topics:   []string{"entity.*"},
		Callback: c.handler(),
		Throttle: time.Hour,
	})

	b.Emit(event.New("entity.created", event.TypeCreate))
	b.Unsubscribe(id)
	// Nothing to assert beyond "does not hang or panic": the hour-long
	// timer must have been stopped.
	if c.len() != 1 {
		t.Errorf("got %d deliveries, want 1", c.len())
	}
}

func TestUnsubscribe_DuringDispatchIsSafe(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var second collector
	var firstID string
	firstID = mustSubscribe(t, b, SubscribeOptions{
		Topics: []string{"entity.*"},
		Callback: func(event.Event) {
			b.Unsubscribe(firstID)
		},
	})
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"entity.*"}, Callback: second.handler()})

	b.Emit(event.New("entity.created", event.TypeCreate))
	b.Emit(event.New("entity.created", event.TypeCreate))

	if second.len() != 2 {
		t.Errorf("second subscriber got %d deliveries, want 2", second.len())
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var healthy collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:   []string{"entity.*"},
		Callback: func(event.Event) { panic("subscriber bug") },
	})
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"entity.*"}, Callback: healthy.handler()})

	b.Emit(event.New("entity.created", event.TypeCreate))

	if healthy.len() != 1 {
		t.Errorf("healthy subscriber got %d deliveries, want 1", healthy.len())
	}
}

func TestIncludeHistory_ReplaysInOrderBeforeSubscribeReturns(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	for i := 0; i < 3; i++ {
		b.Emit(event.New("entity.created", event.TypeCreate).WithData(i))
	}
	b.Emit(event.New("report.created", event.TypeCreate))

	var c collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:         []string{"entity.*"},
		Callback:       c.handler(),
		IncludeHistory: true,
	})

	// Replay is synchronous: all matching history is delivered by now.
	if c.len() != 3 {
		t.Fatalf("got %d replayed deliveries, want 3", c.len())
	}
	for i := 0; i < 3; i++ {
		if got := c.at(i).Data.(int); got != i {
			t.Errorf("replayed delivery %d carried payload %d, want %d", i, got, i)
		}
	}
}

func TestIncludeHistory_ReplayCountsAgainstMaxEvents(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	for i := 0; i < 3; i++ {
		b.Emit(event.New("entity.created", event.TypeCreate))
	}

	var c collector
	mustSubscribe(t, b, SubscribeOptions{
		Topics:         []string{"entity.*"},
		Callback:       c.handler(),
		IncludeHistory: true,
		MaxEvents:      2,
	})

	if c.len() != 2 {
		t.Fatalf("got %d replayed deliveries, want 2 (capped)", c.len())
	}

	// The cap is exhausted; live events must not be delivered either.
	b.Emit(event.New("entity.created", event.TypeCreate))
	if c.len() != 2 {
		t.Errorf("got %d deliveries after live emit, want still 2", c.len())
	}
}

func TestEmitTopic_SynthesizesEventAndInfersEntity(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"chat.*"}, Callback: c.handler()})

	b.EmitTopic("chat.message", map[string]any{"id": "msg-7", "type": "message", "text": "hello"})

	if c.len() != 1 {
		t.Fatalf("got %d deliveries, want 1", c.len())
	}
	got := c.at(0)
	if got.ID == "" || got.Time.IsZero() {
		t.Error("synthesized event is missing ID or timestamp")
	}
	if got.Type != event.TypeCustom {
		t.Errorf("got type %q, want %q", got.Type, event.TypeCustom)
	}
	if got.EntityID != "msg-7" {
		t.Errorf("got EntityID %q, want %q", got.EntityID, "msg-7")
	}
	if got.EntityType != "message" {
		t.Errorf("got EntityType %q, want %q", got.EntityType, "message")
	}
}

func TestOn_UnwrapsPayload(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var mu sync.Mutex
	var got []any
	h, err := b.On("timeline.updated", func(data any) {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	b.EmitTopic("timeline.updated", "window-shift")

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 1 || got[0] != "window-shift" {
		t.Fatalf("handler got %v, want one %q", got, "window-shift")
	}

	h.Unsubscribe()
	b.EmitTopic("timeline.updated", "ignored")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Errorf("handler received events after Unsubscribe: %v", got)
	}
}

func TestSubscribe_ReusingIDReplaces(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var old, replacement collector
	mustSubscribe(t, b, SubscribeOptions{ID: "viewer", Topics: []string{"entity.*"}, Callback: old.handler()})
	mustSubscribe(t, b, SubscribeOptions{ID: "viewer", Topics: []string{"entity.*"}, Callback: replacement.handler()})

	b.Emit(event.New("entity.created", event.TypeCreate))

	if old.len() != 0 {
		t.Errorf("replaced subscription got %d deliveries, want 0", old.len())
	}
	if replacement.len() != 1 {
		t.Errorf("replacement got %d deliveries, want 1", replacement.len())
	}
}

func TestColonDelimiterScheme(t *testing.T) {
	b := New(Config{Delimiter: ":", Logger: slog.New(slog.DiscardHandler)})
	defer b.Close()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"chat:*"}, Callback: c.handler()})

	b.Emit(event.New("chat:message:sent", event.TypeCustom))
	b.Emit(event.New("wallet:connected", event.TypeCustom))

	if c.len() != 1 {
		t.Errorf("got %d deliveries, want 1", c.len())
	}
}

func TestClose_StopsDispatchAndSubscription(t *testing.T) {
	b := newTestBus()

	var c collector
	mustSubscribe(t, b, SubscribeOptions{Topics: []string{"*"}, Callback: c.handler()})

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	b.Emit(event.New("entity.created", event.TypeCreate))
	if c.len() != 0 {
		t.Errorf("got %d deliveries after Close, want 0", c.len())
	}

	if _, err := b.Subscribe(SubscribeOptions{Topics: []string{"*"}, Callback: c.handler()}); err == nil {
		t.Error("Subscribe on a closed bus should fail")
	}
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Emit(event.New(fmt.Sprintf("entity.worker%d", n), event.TypeUpdate))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id, err := b.Subscribe(SubscribeOptions{Topics: []string{"entity.*"}, Callback: func(event.Event) {}})
				if err != nil {
					t.Errorf("Subscribe: %v", err)
					return
				}
				b.Unsubscribe(id)
			}
		}()
	}
	wg.Wait()
}
