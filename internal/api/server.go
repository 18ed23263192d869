// Package api provides the HTTP API for the Guestlink service.
//
// It exposes the guest registry, live registry updates over Server-Sent
// Events and WebSocket, report history, score pushes and Prometheus metrics.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/nerrad567/guestlink-core/internal/fanout"
	"github.com/nerrad567/guestlink-core/internal/guest"
	"github.com/nerrad567/guestlink-core/internal/history"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/config"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/guestlink-core/internal/link"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Registry is the read side of the guest registry.
type Registry interface {
	Snapshot() []guest.Guest
	Len() int
}

// Scorer sends a score to one guest.
type Scorer interface {
	SendScore(addr link.Address, score int32) error
}

// ScoreWriter records scores that reached a guest.
type ScoreWriter interface {
	WriteScore(mac string, score int32, at time.Time)
}

// HistoryReader lists stored guest reports.
type HistoryReader interface {
	List(ctx context.Context, mac link.Address, limit int) ([]history.Report, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry Registry
	Fanout   *fanout.Multiplexer
	Scorer   Scorer

	// Optional. Nil disables the matching routes.
	History   HistoryReader
	Scores    ScoreWriter
	LinkStats func() link.Stats
	Gatherer  prometheus.Gatherer
	Panel     http.Handler // served for every path outside /api and /metrics

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	registry  Registry
	fanout    *fanout.Multiplexer
	scorer    Scorer
	history   HistoryReader
	scores    ScoreWriter
	linkStats func() link.Stats
	gatherer  prometheus.Gatherer
	panel     http.Handler
	version   string

	limiter  *rate.Limiter // nil when rate limiting is disabled
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, registry, fan-out, scorer)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("guest registry is required")
	}
	if deps.Fanout == nil {
		return nil, fmt.Errorf("fan-out multiplexer is required")
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		fanout:    deps.Fanout,
		scorer:    deps.Scorer,
		history:   deps.History,
		scores:    deps.Scores,
		linkStats: deps.LinkStats,
		gatherer:  deps.Gatherer,
		panel:     deps.Panel,
		version:   deps.Version,
	}

	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.RequestsPerMinute)), rl.RequestsPerMinute)
	}

	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a port conflict is
// reported here; serving continues in a background goroutine until Close.
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// Long-lived event streams are not waited for; the caller closes the
// fan-out multiplexer to end them. Close waits up to 10 seconds for other
// in-flight requests.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
