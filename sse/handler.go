// Package sse provides a Server-Sent Events handler for streaming bus events
// to HTTP clients. It supports replaying buffered history and subscribing to
// live events for any topic pattern the bus understands.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pulse-labs/pulse/bus"
	"github.com/pulse-labs/pulse/event"
	"github.com/pulse-labs/pulse/topic"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// sseEvent is the JSON-serializable representation of a bus event sent over
// the SSE stream.
type sseEvent struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Type       string    `json:"type"`
	Time       time.Time `json:"time"`
	EntityID   string    `json:"entity_id,omitempty"`
	EntityType string    `json:"entity_type,omitempty"`
	Data       any       `json:"data,omitempty"`
	Source     string    `json:"source,omitempty"`
	Seq        uint64    `json:"seq"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
}

func toSSEEvent(e event.Event) sseEvent {
	return sseEvent{
		ID:         e.ID,
		Topic:      e.Topic,
		Type:       string(e.Type),
		Time:       e.Time,
		EntityID:   e.EntityID,
		EntityType: e.EntityType,
		Data:       e.Data,
		Source:     e.Source,
		Seq:        e.Seq,
		TraceID:    e.TraceID,
		SpanID:     e.SpanID,
	}
}

// Handler serves an SSE stream of bus events matching a topic pattern.
// With ?replay=1 it first replays the bus's buffered history, then streams
// live events; the optional ?after=<seq> cursor skips already-seen events.
// Duplicate events (by sequence number) are never sent twice.
//
// The handler expects a "topic" path value (Go 1.22+ ServeMux).
//
// SSE format:
//
//	id: {seq}
//	event: {topic}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every 15 seconds. The stream
// closes when the client disconnects.
type Handler struct {
	bus *bus.Bus
}

// NewHandler creates a Handler streaming from the given bus.
func NewHandler(b *bus.Bus) *Handler {
	return &Handler{bus: b}
}

// ServeHTTP implements http.Handler. It streams events matching the "topic"
// path value, which may be a literal topic, a tail wildcard, or "*".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pattern := r.PathValue("topic")
	if pattern == "" {
		http.Error(w, "missing topic", http.StatusBadRequest)
		return
	}
	if err := topic.ValidateDelim(pattern, h.bus.Delimiter()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Parse optional ?after= cursor.
	var afterSeq uint64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		parsed, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			http.Error(w, "invalid after parameter", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}
	replay := r.URL.Query().Get("replay") == "1"

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe to live events before replaying history, to avoid missing
	// events that arrive between replay and subscription.
	sub, err := h.bus.SubscribeChan(bus.ChanOptions{Topics: []string{pattern}})
	if err != nil {
		return
	}
	defer sub.Close()

	lastSeq := afterSeq

	if replay {
		if err := h.replayHistory(w, flusher, pattern, afterSeq, &lastSeq); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}

	h.streamLive(ctx, w, flusher, sub, &lastSeq)
}

// replayHistory writes matching buffered events to the SSE stream.
func (h *Handler) replayHistory(
	w http.ResponseWriter,
	flusher http.Flusher,
	pattern string,
	afterSeq uint64,
	lastSeq *uint64,
) error {
	for _, evt := range h.bus.History() {
		if evt.Seq <= afterSeq {
			continue
		}
		if !topic.MatchesDelim(pattern, evt.Topic, h.bus.Delimiter()) {
			continue
		}

		if err := writeSSEEvent(w, evt); err != nil {
			return err
		}
		flusher.Flush()

		if evt.Seq > *lastSeq {
			*lastSeq = evt.Seq
		}
	}
	return nil
}

// streamLive streams events from the live subscription, deduplicating
// against already-sent sequence numbers.
func (h *Handler) streamLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	sub bus.Subscription,
	lastSeq *uint64,
) {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				// Subscription closed.
				return
			}

			// Dedup: skip events already sent during replay.
			if evt.Seq <= *lastSeq {
				continue
			}

			if err := writeSSEEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()

			*lastSeq = evt.Seq

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, evt event.Event) error {
	data, err := json.Marshal(toSSEEvent(evt))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Topic, data)
	return err
}
