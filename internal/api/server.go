// Package api provides the HTTP API server for mailhub.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wesm/mailhub/internal/actions"
	"github.com/wesm/mailhub/internal/config"
	"github.com/wesm/mailhub/internal/hub"
	"github.com/wesm/mailhub/internal/scheduler"
	"github.com/wesm/mailhub/internal/search"
	"github.com/wesm/mailhub/internal/store"
)

// MailStore defines the store operations the API needs.
type MailStore interface {
	GetStats() (*store.Stats, error)
	ListRecent(limit int) ([]store.EmailWithActions, error)
	GetEmail(messageID string) (*store.Email, error)
	Attachments(messageID string) ([]store.Attachment, error)
	ValidActions(messageID string) (*store.ActionEntry, error)
	ActionHistory(messageID string) ([]store.ActionEntry, error)
	SearchEmails(c search.Criteria) ([]store.Email, error)
	RecentSyncs(limit int) ([]store.SyncRun, error)
}

// JobScheduler defines the scheduler operations the API needs.
type JobScheduler interface {
	IsScheduled(name string) bool
	Trigger(name string) error
	Status() []scheduler.JobStatus
	IsRunning() bool
}

// Broadcaster is the live side of the server: the websocket endpoint and
// background recommendation runs whose results reach every viewer.
type Broadcaster interface {
	Handler() http.Handler
	GenerateAsync(req actions.Request)
	Stats() hub.Stats
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	store       MailStore
	scheduler   JobScheduler
	hub         Broadcaster
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. sched and hub may be nil; the routes
// that need them then report the feature as unavailable.
func NewServer(cfg *config.Config, st MailStore, sched JobScheduler, h Broadcaster, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		hub:       h,
		logger:    logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) corsConfig() CORSConfig {
	c := CORSConfig{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: s.cfg.Server.CORSCredentials,
		MaxAge:           s.cfg.Server.CORSMaxAge,
	}
	if c.MaxAge == 0 && len(c.AllowedOrigins) > 0 {
		c.MaxAge = 86400
	}
	return c
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(CORSMiddleware(s.corsConfig()))

	// 10 req/sec with burst of 20
	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	// The websocket outlives any request timeout.
	if s.hub != nil {
		r.With(s.authMiddleware).Get("/ws", s.hub.Handler().ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))
		r.Use(s.authMiddleware)
		r.Use(s.requireStore)

		r.Get("/stats", s.handleStats)

		r.Get("/emails", s.handleListEmails)
		r.Get("/emails/{id}", s.handleGetEmail)
		r.Get("/emails/{id}/actions", s.handleGetActions)
		r.Post("/emails/{id}/actions", s.handleGenerateActions)

		r.Get("/search", s.handleSearch)

		r.Get("/syncs", s.handleListSyncs)
		r.Post("/sync", s.handleTriggerSync)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
	})

	return r
}

// Start begins listening for HTTP requests.
// Returns an error if the security posture is invalid.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key. Browsers cannot set headers on a
// websocket handshake, so the key is also accepted as the api_key query
// parameter.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if len(key) > 7 && key[:7] == "Bearer " {
			key = key[7:]
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireStore rejects API calls when no database is open.
func (s *Server) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database is not open")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
