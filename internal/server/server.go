// Package server exposes the HTTP collector surface: event ingestion,
// acknowledgement polling, and probe endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"hecrelay/internal/logging"
	"hecrelay/internal/pipeline"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address.
	Addr string

	// Pipeline handles collector requests.
	Pipeline *pipeline.Pipeline

	// RateLimit is requests per second per client IP on the collector
	// endpoints. Zero disables limiting.
	RateLimit float64

	// RateBurst is the per-IP burst allowance.
	RateBurst int

	// MaxBodyBytes caps the decoded request body size.
	MaxBodyBytes int64

	// Logger for structured logging.
	Logger *slog.Logger
}

// Server is the collector HTTP server. HTTP/2 is served over cleartext
// (h2c) so load balancers can multiplex without TLS termination here.
type Server struct {
	pipeline     *pipeline.Pipeline
	addr         string
	maxBodyBytes int64
	limiter      *rateLimiter
	logger       *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	inFlight sync.WaitGroup
	draining atomic.Bool
}

// New creates a Server.
func New(cfg Config) *Server {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	var limiter *rateLimiter
	if cfg.RateLimit > 0 {
		limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	return &Server{
		pipeline:     cfg.Pipeline,
		addr:         cfg.Addr,
		maxBodyBytes: maxBody,
		limiter:      limiter,
		logger:       logging.Default(cfg.Logger).With("component", "server"),
	}
}

// Run listens and serves until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           h2c.NewHandler(s.trackingMiddleware(s.rateLimitMiddleware(s.buildMux())), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.startCleanup(ctx, time.Minute, 10*time.Minute)
	}

	s.logger.Info("collector starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("collector stopping")
		s.draining.Store(true)
		s.inFlight.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		if s.limiter != nil {
			s.limiter.wait()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Only valid after Run has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// buildMux registers the collector endpoints and probes.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /services/collector", s.handleEvent)
	mux.HandleFunc("POST /services/collector/event", s.handleEvent)
	mux.HandleFunc("POST /services/collector/event/1.0", s.handleEvent)
	mux.HandleFunc("GET /services/collector/ack", s.handleAck)
	mux.HandleFunc("POST /services/collector/ack", s.handleAck)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// trackingMiddleware rejects new work while draining and tracks in-flight
// requests for the graceful drain.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}
