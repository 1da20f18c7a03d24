// Package event defines the event record distributed by the Pulse bus and
// the handler types used to consume it. Events describe create/update/delete
// notifications flowing between data adapters and view-layer consumers.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an event. The set is intentionally small; anything that is
// not a plain entity lifecycle notification is TypeCustom.
type Type string

const (
	// TypeCreate is emitted when an entity is created.
	TypeCreate Type = "create"

	// TypeUpdate is emitted when an entity is modified.
	TypeUpdate Type = "update"

	// TypeDelete is emitted when an entity is removed.
	TypeDelete Type = "delete"

	// TypeCustom covers application-defined events.
	TypeCustom Type = "custom"
)

// String returns the string representation of the Type.
func (t Type) String() string {
	return string(t)
}

// Event is an immutable notification record. It is created once per emit,
// never mutated afterwards, and retained only inside the bus history ring
// until evicted.
//
// Data is an opaque payload; keep it small and serializable. Large payloads
// should be referenced by EntityID and fetched from their owning store.
type Event struct {
	// ID uniquely identifies this event.
	ID string

	// Topic is the delimited subject string, e.g. "entity.created".
	Topic string

	// Type classifies the event.
	Type Type

	// Time is when the event was emitted.
	Time time.Time

	// EntityID identifies the entity the event concerns (may be empty).
	EntityID string

	// EntityType names the entity's kind (may be empty).
	EntityType string

	// Data is the opaque event payload.
	Data any

	// Source names the producer (adapter name, "scheduler", ...).
	Source string

	// Seq is a monotonic sequence number assigned by the emitting bus
	// (1-indexed, 0 until emitted).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when
	// tracing is inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when
	// tracing is inactive).
	SpanID string
}

// New creates an event on the given topic with a generated ID and the
// current timestamp.
func New(topic string, typ Type) Event {
	return Event{
		ID:    uuid.NewString(),
		Topic: topic,
		Type:  typ,
		Time:  time.Now(),
	}
}

// WithEntity sets the entity information on the event.
func (e Event) WithEntity(entityID, entityType string) Event {
	e.EntityID = entityID
	e.EntityType = entityType
	return e
}

// WithData sets the payload on the event.
func (e Event) WithData(data any) Event {
	e.Data = data
	return e
}

// WithSource sets the producer name on the event.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}
