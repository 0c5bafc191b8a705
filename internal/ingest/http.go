package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/fareflow/internal/auth"
	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/event"
	"github.com/example/fareflow/internal/trip/reconcile"
	"github.com/example/fareflow/internal/trip/signal"
	"github.com/example/fareflow/internal/trip/store"
)

// RollupReader exposes read access to previously-written rollups.
type RollupReader interface {
	Get(ctx context.Context, date string) (domain.DailyRollup, bool, error)
}

// API exposes the HTTP ingestion and read surface.
type API struct {
	processor *reconcile.Processor
	emitter   *signal.Emitter
	store     domain.StateStore
	rollups   RollupReader
	logger    *zap.Logger
}

// NewAPI constructs the handler. rollups may be nil when the reconciler runs
// without a shared sink; the rollup read endpoint then reports not found.
func NewAPI(processor *reconcile.Processor, emitter *signal.Emitter, st domain.StateStore, rollups RollupReader, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{processor: processor, emitter: emitter, store: st, rollups: rollups, logger: logger}
}

// RouterConfig holds the optional protections applied to the router.
type RouterConfig struct {
	JWTSecret string
	Roles     []string
	Limiter   *RateLimiter
}

// Router builds the chi router with all endpoints and middlewares.
func (a *API) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}
	if cfg.JWTSecret != "" {
		r.Use(auth.Middleware(cfg.JWTSecret, cfg.Roles...))
	}
	r.Post("/v1/events", a.submitEvent)
	r.Get("/v1/trips/{id}", a.getTrip)
	r.Get("/v1/rollups/{date}", a.getRollup)
	return r
}

type submitEventResponse struct {
	TripID       string            `json:"trip_id"`
	Status       domain.TripStatus `json:"status"`
	Outcome      string            `json:"outcome"`
	Transitioned bool              `json:"transitioned"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (a *API) submitEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}
	eventsReceived.WithLabelValues("http").Inc()

	ev, err := event.Parse(payload)
	if err != nil {
		if ve, ok := event.AsValidationError(err); ok {
			eventsRejected.WithLabelValues(ve.Field).Inc()
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := a.processor.Apply(r.Context(), ev)
	if err != nil {
		processingFailures.Inc()
		status := http.StatusInternalServerError
		if errors.Is(err, reconcile.ErrRetryExhausted) {
			// Transient contention: the client may resubmit.
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorResponse{Error: "event processing failed"})
		return
	}

	if res.Transitioned {
		if err := a.emitter.Emit(r.Context(), res.Record); err != nil {
			a.logger.Error("completion signal lost", zap.String("trip_id", ev.TripID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusAccepted, submitEventResponse{
		TripID:       res.Record.TripID,
		Status:       res.Record.Status,
		Outcome:      res.Outcome.String(),
		Transitioned: res.Transitioned,
	})
}

func (a *API) getTrip(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "id")
	rec, err := a.store.Get(r.Context(), tripID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "trip not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "trip store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) getRollup(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date", Field: "date"})
		return
	}
	if a.rollups == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "rollup not found"})
		return
	}
	rollup, ok, err := a.rollups.Get(r.Context(), date)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "rollup sink unavailable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "rollup not found"})
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
