// Package api is the HTTP surface of the platform: the tenant-facing
// REST API and the inbound provider webhook endpoints. Handlers stay
// thin; every decision lives in a service package.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keiracom/agency-os/internal/auth"
	"github.com/keiracom/agency-os/internal/config"
)

// Server is the HTTP server with its wired handler set.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	webhooks *WebhookHandlers
	auth     *auth.Manager
	router   *chi.Mux
	server   *http.Server
}

// NewServer builds the router. authMgr may be nil in tests; the /api
// group is then unauthenticated.
func NewServer(cfg config.ServerConfig, handlers *Handlers, webhooks *WebhookHandlers, authMgr *auth.Manager) *Server {
	s := &Server{cfg: cfg, handlers: handlers, webhooks: webhooks, auth: authMgr}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*.keiracom.com", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handlers.Health)

	// Provider webhooks authenticate by signature, not bearer key.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/email", s.webhooks.Receive("email"))
		r.Post("/sms", s.webhooks.Receive("sms"))
		r.Post("/linkedin", s.webhooks.Receive("linkedin"))
		r.Post("/voice", s.webhooks.Receive("voice"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handlers.ListCampaigns)
			r.Post("/", s.handlers.CreateCampaign)
			r.Get("/{id}", s.handlers.GetCampaign)
			r.Post("/{id}/activate", s.handlers.ActivateCampaign)
			r.Post("/{id}/pause", s.handlers.PauseCampaign)
		})

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", s.handlers.ListLeads)
			r.Get("/{id}", s.handlers.GetLead)
			r.Get("/{id}/activities", s.handlers.LeadActivities)
		})

		r.Post("/suppression", s.handlers.AddSuppression)
		r.Post("/customers/import", s.handlers.ImportCustomers)
		r.Post("/meetings", s.handlers.RecordMeeting)
		r.Get("/reports/dashboard", s.handlers.Dashboard)
	})

	return r
}

// ListenAndServe blocks serving HTTP until the listener fails.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }
