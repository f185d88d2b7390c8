package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pass metrics
	PassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_passes_total",
		Help: "Tiering passes by trigger and result",
	}, []string{"trigger", "result"})

	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doctier_pass_duration_seconds",
		Help:    "Wall time of a tiering pass",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"trigger"})

	LastPassTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doctier_last_pass_timestamp_seconds",
		Help: "Unix time the last pass finished",
	})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_decisions_total",
		Help: "Policy decisions by current tier and action",
	}, []string{"tier", "action"})

	// Tier metrics
	TierDocumentCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "doctier_tier_documents",
		Help: "Documents listed in each tier during the last pass",
	}, []string{"tier"})

	TierBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "doctier_tier_bytes",
		Help: "Bytes listed in each tier during the last pass",
	}, []string{"tier"})

	// Move metrics
	MoveOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_move_ops_total",
		Help: "Tier moves by direction and result",
	}, []string{"from_tier", "to_tier", "result"})

	MoveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doctier_move_duration_seconds",
		Help:    "Copy, verify and delete time of a move",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"from_tier", "to_tier"})

	PurgeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_purge_ops_total",
		Help: "Retention purges by result",
	}, []string{"result"})

	ReconcileOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_reconcile_ops_total",
		Help: "Duplicate copies removed by reason",
	}, []string{"reason"})

	SkippedDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_skipped_documents_total",
		Help: "Documents skipped during a pass by reason",
	}, []string{"reason"})

	DocumentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_document_errors_total",
		Help: "Per-document failures by operation",
	}, []string{"operation"})

	// Storage metrics
	BlobRequestWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doctier_blob_rate_limit_wait_seconds",
		Help:    "Time spent waiting on the storage rate limiter",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})

	S3Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_s3_errors_total",
		Help: "S3 request failures by operation and error code",
	}, []string{"operation", "code"})

	// Access tracking metrics
	AccessEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_access_events_total",
		Help: "Access events recorded by kind and source",
	}, []string{"kind", "source"})

	AccessEventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_access_event_errors_total",
		Help: "Access events that could not be recorded",
	}, []string{"reason"})

	// API metrics
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctier_api_requests_total",
		Help: "Operational API requests by route and status",
	}, []string{"route", "status"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
