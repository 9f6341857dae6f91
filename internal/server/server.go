// Package server provides the HTTP server and routing for Meridian.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/config"
	"github.com/aristath/meridian/internal/di"
)

// Config holds server configuration.
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Port      int
	DevMode   bool
	Container *di.Container
}

// Server is the HTTP server. Every handler reads through the container's
// services; nothing here owns state beyond the listener itself.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	devMode        bool
	container      *di.Container
	systemHandlers *SystemHandlers
	alertHandlers  *AlertHandlers
	statusMonitor  *StatusMonitor
}

// New creates the HTTP server over a wired container.
func New(cfg Config) *Server {
	systemHandlers := NewSystemHandlers(
		cfg.Config.DataDir,
		cfg.Container.Databases,
		cfg.Container.Guards,
		cfg.Container.AlertRepo,
		cfg.Container.Scheduler,
		cfg.Log,
	)

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		devMode:        cfg.DevMode,
		container:      cfg.Container,
		systemHandlers: systemHandlers,
		alertHandlers:  NewAlertHandlers(cfg.Container.AlertService, cfg.Log),
	}

	s.statusMonitor = NewStatusMonitor(
		cfg.Container.EventManager,
		cfg.Container.PackRepo,
		cfg.Container.AlertRepo,
		cfg.Config.PricingPolicy,
		cfg.Container.Metrics,
		cfg.Log,
	)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.container.Metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// Event streams first: SSE and websocket bypass the response
		// compressor by streaming.
		eventsStream := NewEventsStreamHandler(s.container.EventBus, s.log)
		r.Get("/events/stream", eventsStream.ServeHTTP)
		eventsWS := NewEventsWSHandler(s.container.EventBus, s.log)
		r.Get("/events/ws", eventsWS.ServeHTTP)

		// Pack visibility and run history
		r.Get("/freshness", s.handleFreshness)
		r.Get("/packs/current", s.handleCurrentPack)
		r.Get("/runs/latest", s.handleLatestRun)

		// Pattern execution
		r.Get("/patterns", s.handleListPatterns)
		r.Post("/patterns/{id}/execute", s.handleExecutePattern)

		// Alerts and notifications
		s.alertHandlers.RegisterRoutes(r)

		// System monitoring and manual job control
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/jobs", s.systemHandlers.HandleListJobs)
			r.Post("/jobs/{name}/run", s.systemHandlers.HandleTriggerJob)
		})
	})
}

// Start runs the server until ListenAndServe returns.
func (s *Server) Start() error {
	if s.statusMonitor != nil {
		s.statusMonitor.Start(60 * time.Second)
		s.log.Info().Msg("Status monitor started")
	}

	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.statusMonitor != nil {
		s.statusMonitor.Stop()
	}
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
