// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api wires the read/query HTTP interface. The API never executes
// pass or scan work in-process; long work runs in worker processes spawned
// through the supervisor.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/api/handlers"
	"github.com/autobrr/drivedex/internal/domain"
	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/internal/services/inspection"
	"github.com/autobrr/drivedex/internal/services/supervisor"
)

type Server struct {
	config *domain.Config
	router chi.Router
	http   *http.Server
}

type Deps struct {
	Drives     *models.DriveStore
	Scans      *models.ScanStore
	Sessions   *models.InspectionStore
	Duplicates *models.DuplicateStore
	Inspection *inspection.Service
	Supervisor *supervisor.Supervisor
	Resolver   *driveident.Resolver
}

func NewServer(config *domain.Config, deps Deps) *Server {
	s := &Server{config: config}
	s.router = s.buildRouter(deps)
	return s
}

func (s *Server) buildRouter(deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler)

	drivesHandler := handlers.NewDrivesHandler(deps.Drives, deps.Resolver)
	scansHandler := handlers.NewScansHandler(deps.Scans, deps.Duplicates, deps.Supervisor, s.config.DatabasePath)
	sessionsHandler := handlers.NewSessionsHandler(deps.Sessions, deps.Duplicates, deps.Inspection, deps.Supervisor, s.config.DatabasePath)
	versionHandler := handlers.NewVersionHandler()

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/version", versionHandler.Get)
		r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
			handlers.RespondJSON(w, http.StatusOK, deps.Supervisor.Running())
		})

		r.Route("/drives", drivesHandler.Routes)
		r.Route("/scans", scansHandler.Routes)
		r.Route("/sessions", sessionsHandler.Routes)
	})

	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
