// Package httpapi exposes event ingest, board activity, health and metrics
// over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/ir"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
	maxBodyBytes         = 1 << 20
)

// EventSubmitter accepts board events; *engine.Dispatcher implements it.
type EventSubmitter interface {
	Submit(ev ir.BoardEvent) (ir.BoardEvent, error)
}

// ActivityReader lists a board's audit entries, newest first.
type ActivityReader interface {
	ListActivity(ctx context.Context, boardID string, limit int) ([]ir.ActivityEntry, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the boardflow HTTP surface.
type Handler struct {
	events   EventSubmitter
	activity ActivityReader
	health   Pinger
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// New creates a Handler. A nil gatherer serves the default registry.
func New(events EventSubmitter, activity ActivityReader, health Pinger, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{events: events, activity: activity, health: health, gatherer: gatherer, logger: logger}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/boards/{boardID}/events", h.handleSubmitEvent)
	r.Get("/boards/{boardID}/activity", h.handleListActivity)
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return r
}

// eventRequest is the ingest body. EventID makes redelivery idempotent.
type eventRequest struct {
	EventID string          `json:"event_id"`
	CardID  string          `json:"card_id"`
	Type    ir.TriggerType  `json:"type"`
	Payload ir.EventPayload `json:"payload"`
}

type eventResponse struct {
	EventID string `json:"event_id"`
	BoardID string `json:"board_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	boardID := chi.URLParam(r, "boardID")

	var req eventRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid event request",
			"request_id", middleware.GetReqID(ctx), "board_id", boardID, "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CardID == "" {
		writeError(w, http.StatusBadRequest, "card_id is required")
		return
	}
	if !ir.ValidTriggerTypes[req.Type] {
		writeError(w, http.StatusBadRequest, "unknown event type "+strconv.Quote(string(req.Type)))
		return
	}

	ev, err := h.events.Submit(ir.BoardEvent{
		EventID: req.EventID,
		BoardID: boardID,
		CardID:  req.CardID,
		Type:    req.Type,
		Payload: req.Payload,
	})
	if errors.Is(err, engine.ErrEventPending) {
		writeError(w, http.StatusConflict, "event "+strconv.Quote(req.EventID)+" is already pending")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "submit event failed",
			"request_id", middleware.GetReqID(ctx), "board_id", boardID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "event not accepted")
		return
	}

	writeJSON(w, http.StatusAccepted, eventResponse{EventID: ev.EventID, BoardID: ev.BoardID})
}

func (h *Handler) handleListActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	boardID := chi.URLParam(r, "boardID")

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	entries, err := h.activity.ListActivity(ctx, boardID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "list activity failed",
			"request_id", middleware.GetReqID(ctx), "board_id", boardID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}
	if entries == nil {
		entries = []ir.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
