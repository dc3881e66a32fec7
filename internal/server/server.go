// Package server implements cardwarden's serve mode: an HTTP
// validation service with connection limits, per-IP rate limiting,
// Prometheus metrics, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardwarden/cardwarden/internal/config"
	"github.com/cardwarden/cardwarden/internal/metrics"
	"github.com/cardwarden/cardwarden/internal/verify"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Server is the cardwarden validation service. It holds the active
// verifier behind an atomic pointer so config reloads swap it without
// interrupting in-flight requests.
type Server struct {
	cfg      atomic.Pointer[config.Config]
	logger   *slog.Logger
	metrics  *metrics.Metrics
	limiter  *ipLimiter
	verifier atomic.Pointer[verify.Verifier]

	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	started  bool
}

// New creates a Server from the given configuration. The logger is
// built from the config's logging section when nil.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = BuildLogger(cfg.Logging)
	}

	m := metrics.New()
	m.SetBuildInfo(Version, runtime.Version())

	s := &Server{
		logger:  logger,
		metrics: m,
		limiter: newIPLimiter(cfg.RateLimit.PerIP, cfg.RateLimit.Burst, cfg.RateLimit.CleanupInterval.Duration, logger),
	}
	s.cfg.Store(cfg)
	s.verifier.Store(s.buildVerifier(cfg))
	return s
}

func (s *Server) buildVerifier(cfg *config.Config) *verify.Verifier {
	return verify.New(verify.Config{
		Timeout:         cfg.Verification.Timeout.Duration,
		AllowInsecure:   cfg.Verification.AllowInsecure,
		CacheTTL:        cfg.Verification.CacheTTL.Duration,
		FailureCooldown: cfg.Verification.FailureCooldown.Duration,
		Stats:           s.metrics,
	}, s.logger)
}

// Start binds the listener and serves HTTP until the context is
// canceled, then shuts down gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Load()
	addr := fmt.Sprintf("%s:%d", cfg.Listen.Host, cfg.Listen.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Listen.MaxConnections > 0 {
		ln = newLimitedListener(ln, cfg.Listen.MaxConnections)
	}

	s.mu.Lock()
	s.listener = ln
	s.started = true
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	if cfg.RateLimit.Enabled {
		s.limiter.start()
		defer s.limiter.stop()
	}

	s.logger.Info("server starting",
		"addr", ln.Addr().String(),
		"version", Version,
		"max_connections", cfg.Listen.MaxConnections,
		"rate_limit", cfg.RateLimit.Enabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down", "timeout", cfg.Shutdown.Timeout.Duration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout.Duration)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing remaining connections", "error", err)
		s.httpServer.Close()
	}
	<-errCh
	s.logger.Info("server stopped")
	return nil
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// OnConfigReload applies runtime-reloadable settings: verification
// parameters and rate limits. Implements config.Reloadable.
func (s *Server) OnConfigReload(newCfg *config.Config) error {
	old := s.cfg.Load()
	s.cfg.Store(newCfg)

	if old.Verification != newCfg.Verification {
		s.verifier.Store(s.buildVerifier(newCfg))
		s.logger.Info("verifier rebuilt with new verification settings")
	}
	if old.RateLimit.PerIP != newCfg.RateLimit.PerIP || old.RateLimit.Burst != newCfg.RateLimit.Burst {
		s.limiter.setRate(newCfg.RateLimit.PerIP, newCfg.RateLimit.Burst)
		s.logger.Info("rate limits updated", "per_ip", newCfg.RateLimit.PerIP, "burst", newCfg.RateLimit.Burst)
	}
	return nil
}

// BuildLogger constructs a slog.Logger from the logging configuration.
func BuildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// limitedListener caps concurrent accepted connections with a
// semaphore. A slot is held until the connection closes.
type limitedListener struct {
	net.Listener
	sem chan struct{}
}

func newLimitedListener(ln net.Listener, max int) *limitedListener {
	return &limitedListener{Listener: ln, sem: make(chan struct{}, max)}
}

func (l *limitedListener) Accept() (net.Conn, error) {
	l.sem <- struct{}{}
	conn, err := l.Listener.Accept()
	if err != nil {
		<-l.sem
		return nil, err
	}
	return &limitedConn{Conn: conn, release: func() { <-l.sem }}, nil
}

// limitedConn releases its semaphore slot exactly once on Close.
type limitedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitedConn) Close() error {
	c.once.Do(c.release)
	return c.Conn.Close()
}
