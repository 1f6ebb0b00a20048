package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-bus/internal/bus"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/logging"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight requests.
	gracefulShutdownTimeout = 5 * time.Second

	healthCheckTimeout = 2 * time.Second
	readHeaderTimeout  = 5 * time.Second
)

// statusServer serves /metrics and /healthz.
type statusServer struct {
	server *http.Server
}

func newStatusServer(cfg config.MetricsConfig, reg *prometheus.Registry, b *bus.Bus, db *database.DB) *statusServer {
	return &statusServer{
		server: &http.Server{
			Addr:              cfg.GetAddr(),
			Handler:           buildRouter(cfg.Path, reg, b, db),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// run serves until ctx is cancelled, then shuts down gracefully.
func (s *statusServer) run(ctx context.Context, log *logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("status server starting", "address", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}

// buildRouter creates the HTTP router. db may be nil when the event log is disabled.
func buildRouter(metricsPath string, reg *prometheus.Registry, b *bus.Bus, db *database.DB) http.Handler {
	r := chi.NewRouter()

	r.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{
			Status:   "ok",
			Bus:      b.State().String(),
			Patterns: len(b.Patterns()),
			Inflight: b.InflightHandlers(),
		}
		code := http.StatusOK

		if err := b.HealthCheck(ctx); err != nil {
			resp.Status = "degraded"
			resp.Errors = append(resp.Errors, "bus: "+err.Error())
			code = http.StatusServiceUnavailable
		}
		if db != nil {
			if err := db.HealthCheck(ctx); err != nil {
				resp.Status = "degraded"
				resp.Errors = append(resp.Errors, "database: "+err.Error())
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck // client went away
	})

	return r
}

type healthResponse struct {
	Status   string   `json:"status"`
	Bus      string   `json:"bus"`
	Patterns int      `json:"patterns"`
	Inflight int64    `json:"inflight_handlers"`
	Errors   []string `json:"errors,omitempty"`
}
