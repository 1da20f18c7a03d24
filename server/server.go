// Package server exposes the Pulse bus over HTTP: JSON event ingestion,
// SSE streaming per topic pattern, and history inspection.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pulse-labs/pulse/bus"
	"github.com/pulse-labs/pulse/event"
	"github.com/pulse-labs/pulse/sse"
	"github.com/pulse-labs/pulse/topic"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Bus     *bus.Bus
	MaxBody int64
	Logger  *slog.Logger
}

// Server is the Pulse HTTP API server.
type Server struct {
	bus     *bus.Bus
	stream  *sse.Handler
	maxBody int64
	logger  *slog.Logger
}

// NewServer creates a new Server over the given bus.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		bus:     cfg.Bus,
		stream:  sse.NewHandler(cfg.Bus),
		maxBody: maxBody,
		logger:  logger,
	}
}

// Handler returns the full HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the event API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/events", s.handleEmit)
	mux.Handle("GET /v1/events/{topic}", s.stream)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("DELETE /v1/history", s.handleClearHistory)
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// emitRequest is the POST /v1/events body. Only topic is required; type
// defaults to custom.
type emitRequest struct {
	Topic      string `json:"topic"`
	Type       string `json:"type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	Data       any    `json:"data,omitempty"`
	Source     string `json:"source,omitempty"`
}

type emitResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "missing_topic", "topic is required")
		return
	}
	if strings.Contains(req.Topic, topic.Wildcard) {
		writeError(w, http.StatusBadRequest, "invalid_topic", "emitted topics must be literal")
		return
	}
	if err := topic.ValidateDelim(req.Topic, s.bus.Delimiter()); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_topic", err.Error())
		return
	}
	typ, err := parseEventType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_type", err.Error())
		return
	}

	evt := event.New(req.Topic, typ).
		WithEntity(req.EntityID, req.EntityType).
		WithData(req.Data)
	if req.Source != "" {
		evt = evt.WithSource(req.Source)
	} else {
		evt = evt.WithSource("http")
	}

	s.bus.Emit(evt)
	writeJSON(w, http.StatusAccepted, emitResponse{ID: evt.ID})
}

func parseEventType(raw string) (event.Type, error) {
	switch event.Type(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return event.TypeCustom, nil
	case event.TypeCreate:
		return event.TypeCreate, nil
	case event.TypeUpdate:
		return event.TypeUpdate, nil
	case event.TypeDelete:
		return event.TypeDelete, nil
	case event.TypeCustom:
		return event.TypeCustom, nil
	}
	return "", errors.New("type must be one of create, update, delete, custom")
}

// historyEvent is the JSON shape of one buffered event.
type historyEvent struct {
	ID         string `json:"id"`
	Topic      string `json:"topic"`
	Type       string `json:"type"`
	Time       string `json:"time"`
	EntityID   string `json:"entity_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	Data       any    `json:"data,omitempty"`
	Source     string `json:"source,omitempty"`
	Seq        uint64 `json:"seq"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	pattern := strings.TrimSpace(r.URL.Query().Get("topic"))
	if pattern != "" {
		if err := topic.ValidateDelim(pattern, s.bus.Delimiter()); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_topic", err.Error())
			return
		}
	}
	var afterSeq uint64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		parsed, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_after", "after must be an unsigned integer")
			return
		}
		afterSeq = parsed
	}

	events := make([]historyEvent, 0)
	for _, evt := range s.bus.History() {
		if evt.Seq <= afterSeq {
			continue
		}
		if pattern != "" && !topic.MatchesDelim(pattern, evt.Topic, s.bus.Delimiter()) {
			continue
		}
		events = append(events, historyEvent{
			ID:         evt.ID,
			Topic:      evt.Topic,
			Type:       evt.Type.String(),
			Time:       evt.Time.UTC().Format(time.RFC3339Nano),
			EntityID:   evt.EntityID,
			EntityType: evt.EntityType,
			Data:       evt.Data,
			Source:     evt.Source,
			Seq:        evt.Seq,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.bus.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message}})
}
