// Package web provides the HTTP server and handlers for the CSV import UI.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	limitmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/web/middleware"
)

// Options wires a Server. Service and Config are required.
type Options struct {
	Service *core.Service
	Config  *config.Config

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	// RateStore holds rate limit counters; nil keeps them in memory.
	RateStore limiter.Store

	// Health reports dependency health for /healthz.
	Health func(ctx context.Context) error
}

// Server is the HTTP server for the import UI and API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	health  func(ctx context.Context) error
}

// NewServer creates a new Server instance.
func NewServer(opts Options) *Server {
	s := &Server{
		service: opts.Service,
		cfg:     opts.Config,
		router:  chi.NewRouter(),
		health:  opts.Health,
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	store := opts.RateStore
	if store == nil {
		store = memory.NewStore()
	}

	s.setupMiddleware(store)
	s.setupRoutes(gatherer, store)
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware(store limiter.Store) {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.rateLimit(store, "all", s.cfg.Rate.RequestsPerMinute))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(gatherer prometheus.Gatherer, store limiter.Store) {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Operator(&s.cfg.Security))

		// Uploads carry their own timeout in the service.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(s.rateLimit(store, "upload", s.cfg.Rate.UploadLimit))
			}
			r.Post("/import/{slug}/upload", s.handleUpload)
			r.Post("/import/{slug}/process", s.handleProcess)
		})

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/", s.handleDashboard)
			r.Get("/import/{slug}", s.handleImportPage)
			r.Get("/import/{slug}/template", s.handleTemplate)

			r.Route("/api", func(r chi.Router) {
				r.Get("/importers", s.handleListImporters)
				r.Get("/records", s.handleListRecords)
				r.Get("/records/{id}", s.handleRecordStatus)
				r.Get("/uploads/status", s.handleUploadStatus)
			})
		})
	})
}

// rateLimit limits requests per client IP. name separates the counters of
// limiters sharing one store.
func (s *Server) rateLimit(store limiter.Store, name string, perMinute int) func(http.Handler) http.Handler {
	instance := limiter.New(store, limiter.Rate{Period: time.Minute, Limit: int64(perMinute)})
	mw := limitmw.NewMiddleware(instance,
		limitmw.WithKeyGetter(func(r *http.Request) string {
			return name + ":" + middleware.ClientIP(r)
		}),
		limitmw.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			s.respondError(w, r, errRateLimited)
		}),
		limitmw.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logging.FromContext(r.Context()).Error("rate limit store failed", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}),
	)
	return mw.Handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; form-action 'self'")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
