// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/TauNeutrino/kantine-overview/internal/bessa"
	"github.com/TauNeutrino/kantine-overview/internal/flagstore"
	"github.com/TauNeutrino/kantine-overview/internal/menustore"
	"github.com/TauNeutrino/kantine-overview/internal/poll"
	"github.com/TauNeutrino/kantine-overview/internal/sse"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Server is the main HTTP server.
type Server struct {
	flags    *flagstore.Store
	menus    *menustore.DB
	registry *sse.Registry
	orch     *poll.Orchestrator
	upstream *bessa.Client
	log      *logrus.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New creates a new server.
func New(flags *flagstore.Store, menus *menustore.DB, registry *sse.Registry,
	orch *poll.Orchestrator, upstream *bessa.Client, log *logrus.Logger) *Server {
	s := &Server{
		flags:    flags,
		menus:    menus,
		registry: registry,
		orch:     orch,
		upstream: upstream,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Get("/me", s.handleMe)
		r.Get("/user/orders", s.handleUserOrders)
		r.Post("/order", s.handleOrder)
		r.Post("/order/cancel", s.handleOrderCancel)

		r.Get("/flags", s.handleListFlags)
		r.Post("/flags", s.handleCreateFlag)
		r.Delete("/flags/{id}", s.handleDeleteFlag)

		r.Post("/check-item", s.handleCheckItem)
		r.Post("/poll-result", s.handlePollResult)
		r.Get("/events", s.handleEvents)

		r.Get("/refresh-progress", s.handleRefreshProgress)
		r.Get("/menus", s.handleMenus)
	})

	s.router = r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the orchestrator and serves HTTP until Shutdown.
func (s *Server) Start(addr string) error {
	if err := s.orch.Start(); err != nil {
		return err
	}
	s.log.WithField("addr", addr).Info("Server starting")
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the orchestrator and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.orch.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// --- Helpers ---

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Error("Could not write response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

// upstreamError maps client errors to responses: API errors keep their
// upstream status, anything else is an internal error.
func (s *Server) upstreamError(w http.ResponseWriter, err error) {
	var apiErr *bessa.APIError
	if errors.As(err, &apiErr) {
		s.respondError(w, apiErr.StatusCode, apiErr.Message)
		return
	}
	s.log.WithError(err).Error("Upstream request failed")
	s.respondError(w, http.StatusInternalServerError, "Internal server error")
}

// authHeader extracts the Authorization header, writing a 401 if absent.
func (s *Server) authHeader(w http.ResponseWriter, r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		s.respondError(w, http.StatusUnauthorized, "Authorization header is required")
		return "", false
	}
	return auth, true
}
