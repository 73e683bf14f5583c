// Package api provides the HTTP REST API and WebSocket server for
// Fieldline Core.
//
// It exposes account, room, connector and device management, the
// device command endpoint, and per-room WebSocket feeds of live
// device updates.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
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
	"net/http"
	"time"

	"github.com/hbastian/fieldline-core/internal/auth"
	"github.com/hbastian/fieldline-core/internal/command"
	"github.com/hbastian/fieldline-core/internal/connector"
	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/config"
	"github.com/hbastian/fieldline-core/internal/infrastructure/database"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
	"github.com/hbastian/fieldline-core/internal/room"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker reports the health of a backing service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Users      auth.Repository
	Rooms      room.Repository
	Connectors connector.Repository
	Devices    device.Repository
	Commands   *command.Processor
	DB         *database.DB
	Mirror     HealthChecker // optional: InfluxDB health, nil when disabled
	Hub        *Hub          // shared with the ingestion pipeline
	Version    string
}

// Server is the HTTP API server for Fieldline Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	users      auth.Repository
	rooms      room.Repository
	connectors connector.Repository
	devices    device.Repository
	commands   *command.Processor
	db         *database.DB
	mirror     HealthChecker
	hub        *Hub
	version    string
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Users == nil || deps.Rooms == nil || deps.Connectors == nil || deps.Devices == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("websocket hub is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required (set FIELDLINE_JWT_SECRET)")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger.With("component", "api"),
		users:      deps.Users,
		rooms:      deps.Rooms,
		connectors: deps.Connectors,
		devices:    deps.Devices,
		commands:   deps.Commands,
		db:         deps.DB,
		mirror:     deps.Mirror,
		hub:        deps.Hub,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; fatal listener errors
// are logged. Stop the server with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go s.hub.Run(ctx)

	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the HTTP server, allowing in-flight
// requests to finish within gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
