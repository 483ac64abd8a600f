// Package api is the JSON control surface: campaign CRUD and lifecycle
// actions, recipient management, settings and the live event stream. The
// engine itself never depends on this package.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pacerhq/pacer/internal/events"
	"github.com/pacerhq/pacer/internal/metrics"
	"github.com/pacerhq/pacer/internal/repository"
)

// Server is the HTTP API server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	listenAddr string
	apiKey     string
	logger     *slog.Logger
	startTime  time.Time

	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
	settings   *repository.SettingsRepository
	bus        *events.Bus
	metrics    *metrics.Metrics
}

// Config holds the server's dependencies.
type Config struct {
	ListenAddr string
	APIKey     string
	Logger     *slog.Logger
	Campaigns  *repository.CampaignRepository
	Recipients *repository.RecipientRepository
	Settings   *repository.SettingsRepository
	Bus        *events.Bus
	Metrics    *metrics.Metrics
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		listenAddr: cfg.ListenAddr,
		apiKey:     cfg.APIKey,
		logger:     cfg.Logger.With("component", "api"),
		startTime:  time.Now(),
		campaigns:  cfg.Campaigns,
		recipients: cfg.Recipients,
		settings:   cfg.Settings,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// No auth required
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleCampaignList)
			r.Post("/", s.handleCampaignCreate)
			r.Get("/{id}", s.handleCampaignGet)
			r.Put("/{id}", s.handleCampaignUpdate)
			r.Delete("/{id}", s.handleCampaignDelete)

			r.Post("/{id}/schedule", s.handleCampaignSchedule)
			r.Post("/{id}/pause", s.handleCampaignPause)
			r.Post("/{id}/resume", s.handleCampaignResume)
			r.Post("/{id}/cancel", s.handleCampaignCancel)
			r.Post("/{id}/fail", s.handleCampaignFail)

			r.Get("/{id}/recipients", s.handleRecipientList)
			r.Post("/{id}/recipients", s.handleRecipientAdd)
		})

		r.Post("/recipients/{id}/skip", s.handleRecipientSkip)
		r.Post("/recipients/{id}/retry", s.handleRecipientRetry)

		r.Get("/settings", s.handleSettingsList)
		r.Put("/settings/{key}", s.handleSettingSet)
		r.Delete("/settings/{key}", s.handleSettingDelete)

		r.Get("/events", s.handleEvents)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.listenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}
