// Package api provides the HTTP front door: onboarding, account status,
// on-demand indexing, search and admin maintenance.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/service"
)

// AccountServiceInterface defines the account operations the API exposes
type AccountServiceInterface interface {
	Onboard(ctx context.Context, req service.OnboardRequest) (*models.UserRecord, bool, error)
	Status(ctx context.Context, userID string) (*service.AccountStatus, error)
	RequestIndex(ctx context.Context, userID string, rounds int) (int, error)
	Delete(ctx context.Context, userID string) error
	ReindexAll(ctx context.Context) (int, error)
	PurgeAll(ctx context.Context) (int, error)
}

// SearchServiceInterface defines the search operation the API exposes
type SearchServiceInterface interface {
	Search(ctx context.Context, userID, query string, offset int) (*models.SearchResultSet, error)
}

// Server represents the HTTP API server.
type Server struct {
	router         *mux.Router
	httpServer     *http.Server
	accountService AccountServiceInterface
	searchService  SearchServiceInterface
	config         *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RPS             int    // requests per second per caller
	Burst           int    // burst size per caller
	AdminToken      string // empty disables the admin routes
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, accounts AccountServiceInterface, search SearchServiceInterface) *Server {
	s := &Server{
		router:         mux.NewRouter(),
		accountService: accounts,
		searchService:  search,
		config:         config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RPS, s.config.Burst)

	// order matters: recovery must wrap everything after logging
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	users := api.PathPrefix("/users").Subrouter()
	users.Use(RequireUserMiddleware)
	users.HandleFunc("", s.handleOnboard).Methods("POST")
	users.HandleFunc("/me", s.handleGetStatus).Methods("GET")
	users.HandleFunc("/me", s.handleDeleteAccount).Methods("DELETE")
	users.HandleFunc("/me/index", s.handleRequestIndex).Methods("POST")

	search := api.PathPrefix("/search").Subrouter()
	search.Use(RequireUserMiddleware)
	search.HandleFunc("", s.handleSearch).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(AdminMiddleware(s.config.AdminToken))
	admin.HandleFunc("/reindex", s.handleReindexAll).Methods("POST")
	admin.HandleFunc("/purge", s.handlePurgeAll).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "faveindex",
	})
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
