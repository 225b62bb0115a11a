// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/agent"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	requestTimeout         = 120 * time.Second
)

// Server is the HTTP control surface of a running agent: REST routes, the
// interaction socket and the metrics endpoint.
type Server struct {
	cfg        config.APIConfig
	logger     *zap.Logger
	agent      *agent.Agent
	gatherer   prometheus.Gatherer
	handlers   *Handlers
	upgrader   websocket.Upgrader
	httpServer *http.Server

	// streamCtx bounds every socket; cancelling it closes them all.
	streamCtx   context.Context
	stopStreams context.CancelFunc
	streams     sync.WaitGroup
}

// NewServer builds the control server. gatherer may be nil, in which case
// /metrics is not served.
func NewServer(cfg config.APIConfig, logger *zap.Logger, a *agent.Agent, gatherer prometheus.Gatherer) *Server {
	logger = logger.Named("api")
	streamCtx, stopStreams := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		logger:      logger,
		agent:       a,
		gatherer:    gatherer,
		handlers:    NewHandlers(logger, a),
		upgrader:    newUpgrader(),
		streamCtx:   streamCtx,
		stopStreams: stopStreams,
	}
}

// Router returns the complete route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Sockets are long lived, so they skip the timeout and request logger.
	r.Get("/ws/v1/interact", s.handleInteract())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(requestLogger(s.logger))
		s.handlers.RegisterRoutes(r)
		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})
	return r
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully and closes every open socket.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener, which it takes ownership of.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", zap.String("address", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		s.closeStreams()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	// Shutdown does not track hijacked connections.
	s.closeStreams()
	<-serveErr
	if err != nil {
		return fmt.Errorf("API server shutdown error: %w", err)
	}
	s.logger.Info("API server stopped.")
	return nil
}

func (s *Server) closeStreams() {
	s.stopStreams()
	s.streams.Wait()
}

// corsMiddleware provides basic CORS support for browser based clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("Handled request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
