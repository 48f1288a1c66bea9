// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the livefeed HTTP surface: status and source reads,
// a Server-Sent Events bridge onto the bus, the manual online toggle and
// the health probes.
package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/livefeed/internal/api/middleware"
	"github.com/ManuGH/livefeed/internal/health"
	"github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/online"
	"github.com/ManuGH/livefeed/internal/supervisor"
)

const (
	DefaultEventQueue = 64
	DefaultHeartbeat  = 15 * time.Second
)

// Deps wires the server to the running service.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Health     *health.Manager

	// Online enables POST /api/v1/online. Nil when connectivity is probed
	// or always on.
	Online *online.Manual

	Stack      middleware.StackConfig
	EventQueue int
	Heartbeat  time.Duration
	Logger     *zerolog.Logger
}

// Server holds the routes and the open event streams.
type Server struct {
	sup        *supervisor.Supervisor
	health     *health.Manager
	online     *online.Manual
	eventQueue int
	heartbeat  time.Duration
	logger     zerolog.Logger
	router     chi.Router

	closeOnce sync.Once
	closing   chan struct{}
}

// New builds the server and its routes.
func New(deps Deps) (*Server, error) {
	if deps.Supervisor == nil {
		return nil, errors.New("api: supervisor is required")
	}
	s := &Server{
		sup:        deps.Supervisor,
		health:     deps.Health,
		online:     deps.Online,
		eventQueue: deps.EventQueue,
		heartbeat:  deps.Heartbeat,
		closing:    make(chan struct{}),
	}
	if s.eventQueue <= 0 {
		s.eventQueue = DefaultEventQueue
	}
	if s.heartbeat <= 0 {
		s.heartbeat = DefaultHeartbeat
	}
	if s.health == nil {
		s.health = health.NewManager("")
	}
	if deps.Logger != nil {
		s.logger = deps.Logger.With().Str(log.FieldComponent, "api").Logger()
	} else {
		s.logger = log.WithComponent("api")
	}
	s.router = s.routes(deps.Stack)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// CloseStreams ends every open event stream. http.Server.Shutdown waits for
// idle connections and an event stream never becomes idle, so the daemon
// calls this first.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) routes(stack middleware.StackConfig) chi.Router {
	rateLimit := stack.EnableRateLimit
	stack.EnableRateLimit = false

	r := middleware.NewRouter(stack)
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	r.Route("/api/v1", func(r chi.Router) {
		if rateLimit {
			r.Use(middleware.APIRateLimit(stack.RateLimit, stack.RateLimitWindow, stack.RateLimitWhitelist))
		}
		r.Get("/status", s.handleStatus)
		r.Get("/sources", s.handleSources)
		r.Get("/sources/{id}", s.handleSource)
		r.Get("/events", s.handleEvents)
		r.Post("/online", s.handleSetOnline)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}
