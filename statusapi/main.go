// Package statusapi serves read-only views of the running session: health,
// the latest session snapshot and Prometheus metrics.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sbaglivi/RunGraph/coach"
	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/metrics"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const DEFAULT_PORT = "8080"

// SnapshotSource is anything that publishes session snapshots.
type SnapshotSource interface {
	Snapshot() *coach.Snapshot
}

type StatusConnectProps struct {
	Logger  *logger.LogMiddleware
	Port    string
	Metrics *metrics.Metrics
	Source  SnapshotSource
}

type Server struct {
	logger *logger.LogMiddleware
	srv    *http.Server
}

func Connect(args StatusConnectProps) *Server {
	port := args.Port
	if port == "" {
		port = DEFAULT_PORT
	}
	return &Server{
		logger: args.Logger,
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           Router(args),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

func Router(args StatusConnectProps) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLoggerMiddleware(args.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		var snap *coach.Snapshot
		if args.Source != nil {
			snap = args.Source.Snapshot()
		}
		if snap == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session has started"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	if args.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(args.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	return otelhttp.NewHandler(r, "statusapi")
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Logger(ctx).Info("[StatusAPI] Listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Logger(ctx).Info("[StatusAPI] Stopped")
	return nil
}

func requestLoggerMiddleware(logger *logger.LogMiddleware) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger.Logger(ctx).Debug("[StatusAPI] Request Received", zap.String("path", r.URL.Path), zap.String("method", r.Method))
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
