package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"mmair/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxHistoryLimit = 200

// SweepTrigger runs a sweep on demand and exposes the last result.
type SweepTrigger interface {
	Run(ctx context.Context) (*models.SweepResult, error)
	LastResult() *models.SweepResult
}

// SchedulerControl starts and stops the periodic monitor.
type SchedulerControl interface {
	Start(ctx context.Context) bool
	Stop()
	IsRunning() bool
}

// AdminHandler serves the operator HTTP API.
type AdminHandler struct {
	sweeper   SweepTrigger
	scheduler SchedulerControl
	history   HistoryStore
	apiKey    string
	// baseCtx outlives requests; scheduler loops started over HTTP hang off it.
	baseCtx context.Context
	logger  *zap.Logger
}

// NewAdminHandler wires the API. history may be nil when no run history is configured.
func NewAdminHandler(ctx context.Context, sweeper SweepTrigger, scheduler SchedulerControl, history HistoryStore, apiKey string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		sweeper:   sweeper,
		scheduler: scheduler,
		history:   history,
		apiKey:    apiKey,
		baseCtx:   ctx,
		logger:    logger.With(zap.String("component", "admin_api")),
	}
}

func (h *AdminHandler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Sweep results carry user e-mail addresses.
	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Get("/sweeps/last", h.HandleLastSweep)
		r.Get("/sweeps/history", h.HandleHistory)
		r.Post("/sweeps", h.HandleRunSweep)
		r.Post("/scheduler/start", h.HandleSchedulerStart)
		r.Post("/scheduler/stop", h.HandleSchedulerStop)
	})

	return r
}

// RequestLogger writes one access line per request through the service logger.
func (h *AdminHandler) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.logger.Info("Request completed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", status),
			zap.Int("response_size", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

// Authenticate requires X-API-Key when an admin key is configured.
func (h *AdminHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":            "ok",
		"scheduler_running": h.scheduler.IsRunning(),
	}
	if last := h.sweeper.LastResult(); last != nil {
		resp["last_sweep_at"] = last.FinishedAt
		resp["last_sweep_run_id"] = last.RunID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) HandleLastSweep(w http.ResponseWriter, r *http.Request) {
	last := h.sweeper.LastResult()
	if last == nil {
		writeError(w, http.StatusNotFound, "no sweep has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (h *AdminHandler) HandleRunSweep(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Manual sweep requested", zap.String("request_id", middleware.GetReqID(r.Context())))

	// The sweep finishes even if the caller hangs up.
	result, err := h.sweeper.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, ErrSweepInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "sweep history is not configured")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read sweep history", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read sweep history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *AdminHandler) HandleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	started := h.scheduler.Start(h.baseCtx)
	writeJSON(w, http.StatusOK, map[string]bool{
		"running": h.scheduler.IsRunning(),
		"started": started,
	})
}

func (h *AdminHandler) HandleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": h.scheduler.IsRunning()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
