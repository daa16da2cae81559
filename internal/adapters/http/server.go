// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/application"
	"github.com/SandiRizqi/terestria-sub000/internal/config"
	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/input"
)

// BasemapService manages basemap definitions and imports.
type BasemapService interface {
	input.BasemapReader
	Register(ctx context.Context, req application.RegisterRequest) (domain.Basemap, error)
	Delete(ctx context.Context, id string) error
	ImportSource(ctx context.Context, id, source string, opts application.ImportOptions) (domain.Basemap, error)
	ImportPDF(ctx context.Context, id, source string, pdf []byte, opts application.ImportOptions) (domain.Basemap, error)
}

// JobService runs offline download jobs.
type JobService interface {
	Start(req application.OfflineAreaRequest) (application.Job, error)
	Get(id string) (application.Job, error)
	List() []application.Job
	Cancel(id string) error
}

// SizeEstimator estimates offline download sizes.
type SizeEstimator interface {
	EstimateSize(ctx context.Context, req application.OfflineAreaRequest) (application.SizeEstimate, error)
}

// DownloadStatsService exposes download manager counters.
type DownloadStatsService interface {
	Stats() application.DownloadStats
	ResetStats()
}

// SyncTrigger runs a manual object storage sync.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
	Cooldown() time.Duration
}

// MetricsExporter serves and records Prometheus metrics.
type MetricsExporter interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Services are the application services behind the API. Sync, Metrics and
// Estimator may be nil.
type Services struct {
	Health    input.HealthChecker
	Tiles     input.TileProvider
	Basemaps  BasemapService
	Jobs      JobService
	Estimator SizeEstimator
	Downloads DownloadStatsService
	Sync      SyncTrigger
	Metrics   MetricsExporter
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server      *http.Server
	router      *mux.Router
	svc         Services
	logger      *zap.Logger
	config      config.ServerConfig
	metricsPath string
}

// NewServer creates a new HTTP server. tlsConfig may be nil for plain HTTP.
func NewServer(
	cfg config.ServerConfig,
	svc Services,
	metricsPath string,
	tlsConfig *tls.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		svc:         svc,
		logger:      logger.With(zap.String("component", "http")),
		config:      cfg,
		metricsPath: metricsPath,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		TLSConfig:         tlsConfig,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.svc.Metrics != nil {
		r.Use(s.svc.Metrics.Middleware)
	}

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
		r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// Tiles
	r.HandleFunc("/tiles/{basemap}/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.png", s.handleTile).
		Methods(http.MethodGet, http.MethodHead)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/basemaps", s.handleListBasemaps).Methods(http.MethodGet)
	api.HandleFunc("/basemaps", s.handleRegisterBasemap).Methods(http.MethodPost)
	api.HandleFunc("/basemaps/{id}", s.handleGetBasemap).Methods(http.MethodGet)
	api.HandleFunc("/basemaps/{id}", s.handleDeleteBasemap).Methods(http.MethodDelete)
	api.HandleFunc("/basemaps/{id}/import", s.handleImport).Methods(http.MethodPost)

	api.HandleFunc("/basemaps/{id}/cache", s.handleCacheInfo).Methods(http.MethodGet)
	api.HandleFunc("/basemaps/{id}/cache", s.handleClearCache).Methods(http.MethodDelete)
	api.HandleFunc("/basemaps/{id}/cache/evict", s.handleEvictCache).Methods(http.MethodPost)

	api.HandleFunc("/basemaps/{id}/offline", s.handleStartOffline).Methods(http.MethodPost)
	api.HandleFunc("/basemaps/{id}/offline/estimate", s.handleEstimateOffline).Methods(http.MethodPost)

	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods(http.MethodDelete)

	api.HandleFunc("/downloads/stats", s.handleDownloadStats).Methods(http.MethodGet)
	api.HandleFunc("/downloads/stats", s.handleResetDownloadStats).Methods(http.MethodDelete)

	// Sync endpoint (only if sync service is configured)
	if s.svc.Sync != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}

	// OpenAPI spec
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	if s.svc.Metrics != nil && s.metricsPath != "" {
		r.Handle(s.metricsPath, s.svc.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Tile viewer
	if s.config.FrontendEnabled {
		r.HandleFunc("/", s.handleFrontend).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "No such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start serves until Shutdown. It uses TLS when a TLS config was given.
func (s *Server) Start() error {
	var err error
	if s.server.TLSConfig != nil {
		s.logger.Info("starting HTTPS server", zap.String("address", s.server.Addr))
		err = s.server.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		}
		// Tile traffic is too chatty for info.
		if isTilePath(r.URL.Path) && wrapped.statusCode < 500 {
			s.logger.Debug("request", fields...)
			return
		}
		s.logger.Info("request", fields...)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", zap.Any("error", err), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func isTilePath(path string) bool {
	return len(path) > 7 && path[:7] == "/tiles/"
}
