package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cloudlink/internal/relay"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Budgeted is a binding with a daily request limiter.
type Budgeted interface {
	Source() string
	Limiter() *limiter.Limiter
}

// StatusProvider reports the link state of every binding. *relay.Relay
// satisfies it.
type StatusProvider interface {
	Status() []relay.SourceStatus
}

// Dispatcher runs a poll command. *relay.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, source, subject, kind string) error
}

// HealthChecker is any component with a health probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Version string

	Sources []Budgeted

	// Status, Dispatcher and Metrics are optional; the matching
	// endpoints answer 503 without them.
	Status     StatusProvider
	Dispatcher Dispatcher
	Metrics    http.Handler

	// Checks are probed by /health, keyed by component name.
	Checks map[string]HealthChecker
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	version    string
	sources    map[string]Budgeted
	order      []string
	status     StatusProvider
	dispatcher Dispatcher
	metrics    http.Handler
	checks     map[string]HealthChecker

	server   *http.Server
	listener net.Listener
}

// New creates an API server. It does not listen until Start.
//
// Parameters:
//   - deps: Logger is required, everything else optional
//
// Returns:
//   - *Server: Configured server
//   - error: If the logger is missing or two sources share a name
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		version:    deps.Version,
		sources:    make(map[string]Budgeted, len(deps.Sources)),
		status:     deps.Status,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		checks:     deps.Checks,
	}
	for _, src := range deps.Sources {
		if _, exists := s.sources[src.Source()]; exists {
			return nil, fmt.Errorf("duplicate source %q", src.Source())
		}
		s.sources[src.Source()] = src
		s.order = append(s.order, src.Source())
	}
	return s, nil
}

// Handler returns the router. Start serves it; tests call it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in a background goroutine.
//
// Returns:
//   - error: If the address cannot be bound
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
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to 10 seconds for in-flight requests, then closes the
// remaining connections.
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

// HealthCheck reports whether the server has been started.
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
