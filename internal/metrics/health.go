package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/nats-io/nats.go"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pinger is a dependency that can be probed synchronously, such as the
// metadata store.
type Pinger interface {
	Ping() error
}

// RemotePinger is a dependency probed over the network, such as the S3 buckets.
type RemotePinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker runs health probes. Nil dependencies are skipped.
type HealthChecker struct {
	natsConn *nats.Conn
	meta     Pinger
	storage  RemotePinger
	timeout  time.Duration
}

func NewHealthChecker(nc *nats.Conn, metaStore Pinger, storage RemotePinger) *HealthChecker {
	return &HealthChecker{
		natsConn: nc,
		meta:     metaStore,
		storage:  storage,
		timeout:  5 * time.Second,
	}
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks if the service can run passes and serve the API.
func (h *HealthChecker) Readiness(ctx context.Context) HealthStatus {
	status := HealthStatus{OK: true}

	if h.natsConn != nil {
		if h.natsConn.IsConnected() {
			status.Checks = append(status.Checks, Check{Name: "nats", Status: "connected"})
		} else {
			status.OK = false
			status.Checks = append(status.Checks, Check{Name: "nats", Status: "disconnected"})
		}
	}

	if h.meta != nil {
		status.add("metadata", h.meta.Ping())
	}

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		status.add("storage", h.storage.Ping(ctx))
	}

	return status
}

func (s *HealthStatus) add(name string, err error) {
	if err != nil {
		s.OK = false
		s.Checks = append(s.Checks, Check{Name: name, Status: "error", Error: err.Error()})
		return
	}
	s.Checks = append(s.Checks, Check{Name: name, Status: "ok"})
}

// HealthHandler serves the liveness and readiness probes.
func HealthHandler(cfg config.HealthConfig, checker *HealthChecker) http.Handler {
	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/healthz"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/readyz"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(livenessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, checker.Liveness())
	})
	mux.HandleFunc(readinessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, checker.Readiness(r.Context()))
	})
	return mux
}

func writeStatus(w http.ResponseWriter, status HealthStatus) {
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RunHealthServer starts the health check HTTP server.
func RunHealthServer(ctx context.Context, cfg config.HealthConfig, checker *HealthChecker) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: HealthHandler(cfg, checker),
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
