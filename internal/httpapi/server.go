// Package httpapi provides the HTTP surface of the import service: upload
// intake, the mapping and dry-run wizard steps, commit confirmation,
// cancellation, and the progress poll endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fieldserve/importer/internal/config"
	"github.com/fieldserve/importer/internal/importer"
)

// Server is the HTTP server for the import API.
type Server struct {
	service *importer.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer builds the router with middleware and all routes registered.
func NewServer(service *importer.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/import", func(r chi.Router) {
		r.Use(requireCompany)

		r.Get("/entities", s.handleListEntities)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/template/{entityType}", s.handleDownloadTemplate)

		// Upload intake carries its own tighter per-IP limit.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				uploadLimiter := newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute)
				r.Use(uploadLimiter.middleware)
			}
			r.Post("/{entityType}", s.handleUpload)
		})

		r.Post("/{importJobID}/mapping", s.handleSubmitMapping)
		r.Post("/{importJobID}/dry-run", s.handleDryRun)
		r.Post("/{importJobID}/confirm", s.handleConfirm)
		r.Post("/{importJobID}/cancel", s.handleCancel)
	})

	// The progress poll is fetched directly by the browser wizard, so it
	// carries CORS headers the rest of the API does not need.
	s.router.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "X-Company-ID"},
			MaxAge:         300,
		}))
		r.Use(requireCompany)
		r.Get("/import/progress/{importJobID}", s.handleProgress)
	})

	s.router.Get("/healthz", s.handleHealth)
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
