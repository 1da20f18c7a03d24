// Package otel provides OpenTelemetry integration for Pulse bus dispatch.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pulse-labs/pulse/bus"
)

// MetricsObserver translates bus dispatch accounting into OpenTelemetry
// metrics. It records counters for emitted events, deliveries, pipeline
// drops, and subscriber callback panics.
type MetricsObserver struct {
	emitted    metric.Int64Counter
	deliveries metric.Int64Counter
	dropped    metric.Int64Counter
	panics     metric.Int64Counter
}

// NewMetricsObserver creates a MetricsObserver that uses the given meter to
// create instruments for recording bus dispatch metrics.
func NewMetricsObserver(meter metric.Meter) (*MetricsObserver, error) {
	emitted, err := meter.Int64Counter("pulse.events.emitted",
		metric.WithDescription("Number of events emitted on the bus"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("pulse.deliveries",
		metric.WithDescription("Number of subscriber callback deliveries"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("pulse.deliveries.dropped",
		metric.WithDescription("Number of deliveries skipped by the pipeline"),
	)
	if err != nil {
		return nil, err
	}

	panics, err := meter.Int64Counter("pulse.callback.panics",
		metric.WithDescription("Number of subscriber callback panics"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsObserver{
		emitted:    emitted,
		deliveries: deliveries,
		dropped:    dropped,
		panics:     panics,
	}, nil
}

// Emitted records one emitted event.
func (m *MetricsObserver) Emitted(topic string) {
	m.emitted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("topic", topic)),
	)
}

// Delivered records one completed delivery.
func (m *MetricsObserver) Delivered(topic, _ string) {
	m.deliveries.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("topic", topic)),
	)
}

// Dropped records one skipped delivery with its pipeline reason.
func (m *MetricsObserver) Dropped(topic, _ string, reason bus.DropReason) {
	m.dropped.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("reason", string(reason)),
		),
	)
}

// Panicked records one subscriber callback panic.
func (m *MetricsObserver) Panicked(topic, _ string) {
	m.panics.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("topic", topic)),
	)
}

// Compile-time interface check.
var _ bus.Observer = (*MetricsObserver)(nil)
