package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/fora-knx-bridge/internal/control"
	"github.com/nerrad567/fora-knx-bridge/internal/engine"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fora-knx-bridge/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EngineView is the read side of the synchronization engine.
type EngineView interface {
	Status() engine.Snapshot
	Routes() []control.Route
}

// Reloader runs a synchronization pass on request.
type Reloader interface {
	Reload(ctx context.Context, trigger string) (engine.Summary, error)
}

// Connectivity reports whether a collaborator is connected.
type Connectivity interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Engine   EngineView
	Reloader Reloader

	// Optional.
	Bus      Connectivity
	Journal  journal.Repository
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the admin HTTP API.
//
// It exposes the state of the current synchronization pass, the control
// routing table, the provisioning journal and Prometheus metrics, and lets
// an operator trigger a reload.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	engine    EngineView
	reloader  Reloader
	bus       Connectivity
	journal   journal.Repository
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Reloader == nil {
		return nil, fmt.Errorf("reloader is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		engine:    deps.Engine,
		reloader:  deps.Reloader,
		bus:       deps.Bus,
		journal:   deps.Journal,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listen address and serves in a background goroutine.
// A bind failure is returned; later serve errors are logged.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
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
	s.logger.Info("admin API listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
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

// HealthCheck verifies the API server has been started.
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
