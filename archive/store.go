// Package archive persists bus events beyond the in-memory history ring.
// It is an opt-in sink attached to a bus as an ordinary subscriber: the core
// delivery path never depends on it, and archive failures never affect
// dispatch. Applications use it for audit trails and for replaying a
// workspace session after the fact.
package archive

import (
	"context"

	"github.com/pulse-labs/pulse/event"
)

// Query selects archived events.
type Query struct {
	// Pattern filters by topic using the dot-delimited matching rules of
	// the topic package: a literal topic, a tail wildcard ("entity.*"),
	// or "*". Empty means all topics.
	Pattern string

	// AfterSeq returns only events with Seq > AfterSeq (0 means all).
	AfterSeq uint64

	// Limit caps the number of returned events (0 means no limit).
	Limit int
}

// Store persists events for later listing and replay.
type Store interface {
	// Append stores an event.
	Append(ctx context.Context, e event.Event) error

	// List returns matching events in ascending Seq order.
	List(ctx context.Context, q Query) ([]event.Event, error)

	// LatestSeq returns the highest stored Seq (0 if no events).
	LatestSeq(ctx context.Context) (uint64, error)

	// Topics returns the distinct topics present in the store.
	Topics(ctx context.Context) ([]string, error)
}
