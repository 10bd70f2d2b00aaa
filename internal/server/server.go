package server

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sokoni/payments/internal/config"
	"github.com/sokoni/payments/internal/handlers"
	custommw "github.com/sokoni/payments/internal/middleware"
)

// Server wraps the HTTP server.
type Server struct {
	router  *chi.Mux
	handler *handlers.Handler
	config  *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, h *handlers.Handler) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: h,
		config:  cfg,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes and middleware.
func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Public health check
	r.Get("/health", s.handler.HealthCheck)

	// Internal endpoints (called by the order service, not end users)
	r.Group(func(r chi.Router) {
		r.Use(custommw.EnsureInternalAuth(s.config.InternalSecret))
		r.Post("/payments/initiate", s.handler.InitiatePayment)
		r.Get("/payments/{transactionID}", s.handler.GetTransaction)
	})

	// Callback endpoint (IP filtered + size limited; the reconciler's
	// latch and amount check are the real safety mechanism)
	r.Group(func(r chi.Router) {
		r.Use(custommw.IPFilter(s.config.GatewayIPs))
		r.Use(custommw.RequestSizeLimit(s.config.MaxRequestSize))
		r.Post("/payments/callback", s.handler.GatewayCallback)
	})

	log.Println("Routes configured successfully")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := ":" + s.config.ServerPort
	log.Printf("Starting HTTP server on %s", addr)

	return http.ListenAndServe(addr, s.router)
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
