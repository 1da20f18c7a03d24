package bus

import "github.com/pulse-labs/pulse/event"

// DefaultHistoryCapacity is the history ring size used when Config leaves
// HistoryCapacity unset.
const DefaultHistoryCapacity = 100

// ring is a bounded FIFO of the most recently emitted events. When full, the
// oldest event is evicted on the next record. It is not safe for concurrent
// use; the bus guards it with its own lock.
type ring struct {
	buf  []event.Event
	head int // index of the oldest event
	n    int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &ring{buf: make([]event.Event, capacity)}
}

func (r *ring) record(e event.Event) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	// Full: overwrite the oldest slot and advance the head.
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns a copy of the buffered events in emission order,
// oldest first.
func (r *ring) snapshot() []event.Event {
	out := make([]event.Event, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring) clear() {
	r.head = 0
	r.n = 0
}

func (r *ring) len() int {
	return r.n
}
