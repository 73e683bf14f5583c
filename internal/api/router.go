package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hbastian/fieldline-core/internal/infrastructure/metrics"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Prometheus scrape target (no auth required)
		r.Handle("/metrics", metrics.Handler())

		// Auth endpoints (no auth required)
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Live device feed for a room. Browsers cannot set headers on
		// upgrade requests, so the token travels as a query parameter
		// and is validated in the handler.
		r.Get("/rooms/{id}/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)

			// Dashboard counts across the caller's estate
			r.Get("/summary", s.handleSummary)

			// Room endpoints
			r.Route("/rooms", func(r chi.Router) {
				r.Get("/", s.handleListRooms)
				r.Post("/", s.handleCreateRoom)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRoom)
					r.Patch("/", s.handleUpdateRoom)
					r.Delete("/", s.handleDeleteRoom)
					r.Get("/devices", s.handleListRoomDevices)
					r.Post("/devices", s.handleCreateDevice)
				})
			})

			// Integration endpoints
			r.Route("/integrations", func(r chi.Router) {
				r.Get("/", s.handleListIntegrations)
				r.Post("/", s.handleCreateIntegration)
				r.Delete("/{id}", s.handleDeleteIntegration)
			})

			// Connector endpoints
			r.Route("/connectors", func(r chi.Router) {
				r.Get("/", s.handleListConnectors)
				r.Post("/", s.handleCreateConnector)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetConnector)
					r.Patch("/", s.handleUpdateConnector)
					r.Delete("/", s.handleDeleteConnector)
				})
			})

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Post("/command", s.handleCommand)

					r.Route("/endpoints", func(r chi.Router) {
						r.Post("/", s.handleCreateEndpoint)
						r.Patch("/{endpointID}", s.handleUpdateEndpoint)
						r.Delete("/{endpointID}", s.handleDeleteEndpoint)
					})
				})
			})
		})
	})

	return r
}

// healthCheckTimeout bounds the backing-store probes in handleHealth.
const healthCheckTimeout = 2 * time.Second

// handleHealth returns the server health status and the state of the
// backing stores.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	checks := map[string]string{}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	}

	if s.mirror != nil {
		if err := s.mirror.HealthCheck(ctx); err != nil {
			checks["influxdb"] = err.Error()
			status = "degraded"
		} else {
			checks["influxdb"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
