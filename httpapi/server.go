package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	meross "github.com/nerrad567/meross-go"
	"github.com/nerrad567/meross-go/config"
	"github.com/nerrad567/meross-go/history"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Logger defines the logging interface used by the server.
// Compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  Logger
	Manager *meross.Manager

	// History, when non-nil, enables the per-device push history
	// endpoint.
	History *history.Store

	// Version is reported by the health endpoint.
	Version string
}

// Server is the local HTTP status API.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  Logger
	manager *meross.Manager
	history *history.Store
	version string
	server  *http.Server
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	log := deps.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &Server{
		cfg:     deps.Config,
		logger:  log,
		manager: deps.Manager,
		history: deps.History,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.ReadTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.IdleTimeout) * time.Second,
	}

	go func() {
		s.logger.Info("status API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status API shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
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
