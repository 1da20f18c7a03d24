package bus

// DropReason explains why the delivery pipeline skipped a (subscription,
// event) pair. Skips are not errors; a dropped event is permanently lost to
// that subscription.
type DropReason string

const (
	// DropMaxEvents means the subscription reached its delivery cap.
	DropMaxEvents DropReason = "max_events"

	// DropPredicate means the subscription's custom predicate rejected the event.
	DropPredicate DropReason = "predicate"

	// DropPattern means the subscription's pattern filter rejected the event.
	DropPattern DropReason = "pattern"

	// DropThrottled means the subscription was inside its throttle window.
	DropThrottled DropReason = "throttled"
)

// Observer receives dispatch accounting callbacks. Implementations must be
// fast and must not call back into the bus. The otel package provides an
// implementation that records OpenTelemetry metrics.
type Observer interface {
	// Emitted is called once per emitted event, before fan-out.
	Emitted(topic string)

	// Delivered is called after a subscriber callback was invoked.
	Delivered(topic, subscriptionID string)

	// Dropped is called when the pipeline skips a delivery.
	Dropped(topic, subscriptionID string, reason DropReason)

	// Panicked is called when a subscriber callback panicked.
	Panicked(topic, subscriptionID string)
}

type nopObserver struct{}

func (nopObserver) Emitted(string)                      {}
func (nopObserver) Delivered(string, string)            {}
func (nopObserver) Dropped(string, string, DropReason)  {}
func (nopObserver) Panicked(string, string)             {}

// Compile-time interface check.
var _ Observer = nopObserver{}
