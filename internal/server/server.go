package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/handlers"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/middleware"
)

// Server represents the HTTP server
type Server struct {
	config         *config.Config
	logger         *logger.Logger
	router         *mux.Router
	httpServer     *http.Server
	syncHandler    *handlers.SyncHandler
	healthHandler  *handlers.HealthHandler
	authMiddleware *middleware.AuthenticationMiddleware
	rateLimiter    *middleware.RateLimiter
	gatherer       prometheus.Gatherer
}

// NewServer creates a new HTTP server
func NewServer(
	config *config.Config,
	logger *logger.Logger,
	syncHandler *handlers.SyncHandler,
	healthHandler *handlers.HealthHandler,
	authMiddleware *middleware.AuthenticationMiddleware,
	rateLimiter *middleware.RateLimiter,
	gatherer prometheus.Gatherer,
) *Server {
	router := mux.NewRouter()

	server := &Server{
		config:         config,
		logger:         logger,
		router:         router,
		syncHandler:    syncHandler,
		healthHandler:  healthHandler,
		authMiddleware: authMiddleware,
		rateLimiter:    rateLimiter,
		gatherer:       gatherer,
	}

	server.setupRoutes()
	server.setupHTTPServer()

	return server
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoints (no auth required)
	s.router.HandleFunc("/health", s.healthHandler.HandleHealthCheck).Methods("GET")
	s.router.HandleFunc("/health/ready", s.healthHandler.HandleReadinessProbe).Methods("GET")
	s.router.HandleFunc("/health/live", s.healthHandler.HandleLivenessProbe).Methods("GET")

	// Metrics endpoint (no auth required for monitoring systems)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.rateLimiter.Limit)
	v1.Use(s.authMiddleware.RequireToken)
	s.syncHandler.RegisterRoutes(v1)

	s.router.Use(middleware.CompressionMiddleware)
	s.router.Use(middleware.NoCacheMiddleware)
	s.router.Use(s.loggingMiddleware)
}

// setupHTTPServer configures the HTTP server
func (s *Server) setupHTTPServer() {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.config.Server.IdleTimeout) * time.Second,
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.config.Server.Port).Info("Starting HTTP server")

	// Blocks until the server is shut down
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("HTTP server error")
		return err
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": duration.Milliseconds(),
			"remote_addr": r.RemoteAddr,
			"user_agent":  r.UserAgent(),
		}).Info("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
