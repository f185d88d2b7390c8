package serve

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/access"
	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/lifecycle"
	"github.com/gftdcojp/doc-tiering/internal/meta"
	"github.com/gftdcojp/doc-tiering/internal/metrics"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

type handler struct {
	runner  *lifecycle.Runner
	meta    meta.Store
	started time.Time
	logger  *zap.Logger
}

// NewHandler builds the operational API.
func NewHandler(runner *lifecycle.Runner, metaStore meta.Store, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{
		runner:  runner,
		meta:    metaStore,
		started: time.Now(),
		logger:  logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/status", instrument("status", h.handleStatus))
	mux.Handle("POST /v1/passes", instrument("run_pass", h.handleRunPass))
	mux.Handle("GET /v1/passes", instrument("list_passes", h.handleListPasses))
	mux.Handle("GET /v1/thresholds", instrument("get_thresholds", h.handleGetThresholds))
	mux.Handle("PUT /v1/thresholds", instrument("put_thresholds", h.handlePutThresholds))
	mux.Handle("GET /v1/stats/{name...}", instrument("stats", h.handleStats))
	mux.Handle("POST /v1/access/{name...}", instrument("access", h.handleAccess))
	return mux
}

// RunHTTP starts the HTTP API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, runner *lifecycle.Runner, metaStore meta.Store, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: NewHandler(runner, metaStore, logger),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// statusRecorder captures the response code for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func instrument(route string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		fn(rec, r)
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"thresholds": h.runner.Thresholds(),
	}
	if n, err := h.meta.CountDocuments(r.Context()); err == nil {
		status["tracked_documents"] = n
	}
	if recs, err := h.meta.ListPasses(r.Context(), 1); err == nil && len(recs) > 0 {
		status["last_pass"] = recs[0]
	}
	writeJSON(w, http.StatusOK, status)
}

// handleRunPass runs a pass synchronously and returns its report. The
// optional ?now= (RFC 3339) sets the evaluation time.
func (h *handler) handleRunPass(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if v := r.URL.Query().Get("now"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid now: "+err.Error())
			return
		}
		now = t
	}

	rep, err := h.runner.RunPass(r.Context(), now, lifecycle.TriggerAPI)
	if err != nil {
		h.logger.Warn("API pass did not complete", zap.Error(err))
		writeJSON(w, passErrorStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"report": rep,
		})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func passErrorStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrListing), errors.Is(err, types.ErrStatsUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *handler) handleListPasses(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := h.meta.ListPasses(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []meta.PassRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Thresholds())
}

// handlePutThresholds replaces the thresholds used by later passes. Fields
// left out of the body keep their current value.
func (h *handler) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	th := h.runner.Thresholds()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&th); err != nil {
		writeError(w, http.StatusBadRequest, "invalid thresholds: "+err.Error())
		return
	}
	if err := h.runner.SetThresholds(th); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, th)
}

type documentView struct {
	Name                string           `json:"name"`
	AccessCount         int64            `json:"access_count"`
	Kinds               map[string]int64 `json:"kinds,omitempty"`
	FirstSeenAt         *time.Time       `json:"first_seen_at,omitempty"`
	LastAccessedAt      *time.Time       `json:"last_accessed_at,omitempty"`
	DaysSinceLastAccess int              `json:"days_since_last_access"`
	Tier                string           `json:"tier,omitempty"`
	TierChangedAt       *time.Time       `json:"tier_changed_at,omitempty"`
}

func viewOf(e *meta.DocumentEntry, now time.Time) documentView {
	v := documentView{
		Name:                e.Name,
		AccessCount:         e.AccessCount,
		Kinds:               e.Kinds,
		DaysSinceLastAccess: e.Stat(now).DaysSinceLastAccess,
	}
	if !e.FirstSeenAt.IsZero() {
		v.FirstSeenAt = &e.FirstSeenAt
	}
	if !e.LastAccessedAt.IsZero() {
		v.LastAccessedAt = &e.LastAccessedAt
	}
	if e.TierKnown {
		v.Tier = e.Tier.String()
		v.TierChangedAt = &e.TierChangedAt
	}
	return v
}

func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entry, err := h.meta.GetDocument(r.Context(), name)
	if err != nil {
		if errors.Is(err, types.ErrNoStats) {
			writeError(w, http.StatusNotFound, "no stats for "+name)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(entry, time.Now()))
}

// handleAccess records a touch. The body is optional: {"kind": "...", "at": "..."}.
func (h *handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	ev := access.Event{Name: r.PathValue("name")}
	if r.ContentLength != 0 {
		var body struct {
			Kind string    `json:"kind"`
			At   time.Time `json:"at"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		ev.Kind, ev.At = body.Kind, body.At
	}

	entry, err := access.Record(r.Context(), h.meta, ev, access.SourceHTTP)
	if err != nil {
		if errors.Is(err, access.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(entry, time.Now()))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
