// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aqi-agent/internal/auth"
	"github.com/aqi-agent/internal/config"
	"github.com/aqi-agent/internal/logging"
	"github.com/aqi-agent/internal/metrics"
	"github.com/aqi-agent/internal/models"
	"github.com/aqi-agent/internal/service"
	"github.com/gorilla/mux"
)

// AgentService defines the agent operations the API exposes
type AgentService interface {
	Submit(ctx context.Context, userID string, reading service.Reading) (service.Result, error)
	Stats(ctx context.Context, userID string) (*models.VerificationStats, error)
	Verifications(ctx context.Context, userID string) ([]*models.Verification, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Grants(ctx context.Context, userID string) ([]*models.TokenGrant, error)
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	agent      AgentService
	auth       *auth.Authenticator
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration // deadline of the ledger work of one request
	RequestsPerSecond int           // per-user request rate
	Burst             int
	JWTSecret         string // empty trusts the X-User-ID header
}

// NewServerConfig builds the API configuration from the application config
func NewServerConfig(cfg *config.Config) *ServerConfig {
	return &ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestTimeout:    cfg.Server.RequestTimeout,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		JWTSecret:         cfg.Auth.JWTSecret,
	}
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, agent AgentService) *Server {
	s := &Server{
		router: mux.NewRouter(),
		agent:  agent,
		auth:   auth.NewAuthenticator(config.JWTSecret),
		config: config,
		logger: logging.GetGlobalLogger().Named("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rps, burst := s.config.RequestsPerSecond, s.config.Burst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	rateLimiter := NewRateLimiter(rps, burst)

	// Order matters: recovery must see panics of everything below it
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(s.auth))
	api.Use(RateLimitMiddleware(rateLimiter))

	api.HandleFunc("/agent/submit", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/agent/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/agent/verifications", s.handleVerifications).Methods(http.MethodGet)
	api.HandleFunc("/tokens/balance", s.handleBalance).Methods(http.MethodGet)
	api.HandleFunc("/tokens/grants", s.handleGrants).Methods(http.MethodGet)

	// preflight; CORSMiddleware answers it
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestContext bounds the ledger work of one request
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

// handleHealth reports whether the ledger is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.agent.Ping(ctx); err != nil {
		s.logger.WithError(err).Warn("Health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "aqi-agent",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "aqi-agent",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
