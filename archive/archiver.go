package archive

import (
	"context"
	"log/slog"

	"github.com/pulse-labs/pulse/bus"
	"github.com/pulse-labs/pulse/event"
)

// Archiver copies every event emitted on a bus into a Store. It attaches as
// an ordinary universal-wildcard subscriber, so archiving never changes the
// bus's delivery semantics: append failures are logged and dispatch to other
// subscribers proceeds untouched.
type Archiver struct {
	store  Store
	logger *slog.Logger
	bus    *bus.Bus
	subID  string
}

// NewArchiver subscribes to every topic on b and persists events to store.
// A nil logger falls back to slog.Default(). Close the Archiver to detach it.
func NewArchiver(b *bus.Bus, store Store, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		store:  store,
		logger: logger,
		bus:    b,
	}

	id, err := b.Subscribe(bus.SubscribeOptions{
		Topics:   []string{"*"},
		Callback: a.handle,
	})
	if err != nil {
		return nil, err
	}
	a.subID = id
	return a, nil
}

// handle persists a single event to the store.
func (a *Archiver) handle(e event.Event) {
	if err := a.store.Append(context.Background(), e); err != nil {
		a.logger.Error("failed to archive event",
			"topic", e.Topic,
			"event_id", e.ID,
			"seq", e.Seq,
			"error", err,
		)
	}
}

// Close detaches the Archiver from the bus. The store remains usable.
func (a *Archiver) Close() {
	a.bus.Unsubscribe(a.subID)
}
