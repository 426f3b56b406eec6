package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/devtrackhq/devtrack/internal/analytics"
	"github.com/devtrackhq/devtrack/internal/config"
	"github.com/devtrackhq/devtrack/internal/mailer"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/devtrackhq/devtrack/internal/tracker"
	"github.com/devtrackhq/devtrack/internal/web/api"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server represents the DevTrack HTTP server.
type Server struct {
	config      Config
	store       storage.Store
	tracker     *tracker.Tracker
	reporter    *analytics.Reporter
	mailer      *mailer.Mailer
	auth        *AuthService
	oauth       *OAuthManager
	rateLimiter *RateLimiter
	server      *http.Server
	router      *mux.Router
	listener    net.Listener // Optional pre-created listener (for systemd socket activation)
	logger      zerolog.Logger
}

// NewServer creates a new DevTrack server.
func NewServer(cfg Config, oauthCfg config.OAuthConfig, store storage.Store, trk *tracker.Tracker, reporter *analytics.Reporter, m *mailer.Mailer, logger zerolog.Logger) *Server {
	auth := NewAuthService(store.Users(), cfg.JWTSecret, cfg.TokenExpiration, logger)

	// Start session cleanup
	auth.StartSessionCleanup(15 * time.Minute)

	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 100 // Default: 100 requests per minute
	}
	rateLimitWindow := cfg.RateLimitWindow
	if rateLimitWindow == 0 {
		rateLimitWindow = time.Minute
	}
	rateLimiter := NewRateLimiter(rateLimit, rateLimitWindow)

	router := mux.NewRouter()

	s := &Server{
		config:      cfg,
		store:       store,
		tracker:     trk,
		reporter:    reporter,
		mailer:      m,
		auth:        auth,
		oauth:       NewOAuthManager(oauthCfg, cfg.BaseURL, logger),
		rateLimiter: rateLimiter,
		router:      router,
		logger:      logger.With().Str("component", "web").Logger(),
	}

	s.setupRoutes()

	// TLS terminates at the reverse proxy, so the server itself speaks
	// plain HTTP.
	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Apply global middleware
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(s.rateLimiter))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	// Public routes (no auth required)
	s.router.HandleFunc("/api/auth/signup", s.handleSignup).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/auth/oauth/{provider}", s.handleOAuthRedirect).Methods("GET")
	s.router.HandleFunc("/api/auth/oauth/{provider}/callback", s.handleOAuthCallback).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Authenticated routes
	authRouter := s.router.PathPrefix("/").Subrouter()
	authRouter.Use(AuthMiddleware(s.auth))

	// Auth endpoints
	authRouter.HandleFunc("/api/auth/logout", s.handleLogout).Methods("POST")
	authRouter.HandleFunc("/api/auth/me", s.handleMe).Methods("GET")
	authRouter.HandleFunc("/api/auth/change-password", s.handleChangePassword).Methods("POST")

	// Project API routes
	projectHandler := api.NewProjectHandler(s.store.Projects(), s.logger)
	authRouter.HandleFunc("/api/projects", projectHandler.List).Methods("GET")
	authRouter.HandleFunc("/api/projects", projectHandler.Create).Methods("POST")
	authRouter.HandleFunc("/api/projects/{id}", projectHandler.Get).Methods("GET")
	authRouter.HandleFunc("/api/projects/{id}", projectHandler.Update).Methods("PUT")
	authRouter.HandleFunc("/api/projects/{id}", projectHandler.Delete).Methods("DELETE")

	// Session API routes
	sessionHandler := api.NewSessionHandler(s.tracker, s.store.Sessions(), s.reporter, s.logger)
	authRouter.HandleFunc("/api/sessions", sessionHandler.List).Methods("GET")
	authRouter.HandleFunc("/api/sessions/start", sessionHandler.Start).Methods("POST")
	authRouter.HandleFunc("/api/sessions/stop", sessionHandler.Stop).Methods("POST")
	authRouter.HandleFunc("/api/sessions/active", sessionHandler.Active).Methods("GET")

	// Analytics API routes
	analyticsHandler := api.NewAnalyticsHandler(s.reporter, s.logger)
	authRouter.HandleFunc("/api/analytics/summary", analyticsHandler.Summary).Methods("GET")
	authRouter.HandleFunc("/api/analytics/daily", analyticsHandler.Daily).Methods("GET")
	authRouter.HandleFunc("/api/analytics/projects", analyticsHandler.ByProject).Methods("GET")
	authRouter.HandleFunc("/api/analytics/streak", analyticsHandler.Streak).Methods("GET")
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Auth exposes the auth service so the maintenance scheduler can prune
// expired login sessions.
func (s *Server) Auth() *AuthService {
	return s.auth
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Msg("Starting web server")

	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Web server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping web server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"login_sessions": s.auth.GetActiveSessions(),
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	WriteError(w, statusCode, message)
}
