// Package api is the HTTP transport: commands and events are posted, run
// through the pipeline synchronously and answered with their results.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/autoclient/internal/auth"
	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/eventstore"
	"github.com/mattjoyce/autoclient/internal/events"
	"github.com/mattjoyce/autoclient/internal/health"
	"github.com/mattjoyce/autoclient/internal/metrics"
)

// Pipeline runs invocations. Both the processor and the cluster master
// satisfy it.
type Pipeline interface {
	ProcessCommand(ctx context.Context, cmd *automation.Command, callback func(automation.HandlerResult)) automation.HandlerResult
	ProcessEvent(ctx context.Context, ev *automation.Event, callback func([]automation.HandlerResult)) []automation.HandlerResult
}

// Journal is the read side of the invocation journal.
type Journal interface {
	ListInvocations(ctx context.Context, correlationID string, limit int) ([]eventstore.Invocation, error)
	GetMessage(ctx context.Context, id string) (*eventstore.MessageRecord, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is also accepted as an admin bearer token.
	APIKey string
	// Tokens are scoped bearer tokens.
	Tokens []config.Token
	// MaxBodyBytes caps posted payloads.
	MaxBodyBytes int64
	// EventSecret enables POST /hooks/event, authenticated by an HMAC
	// signature of the body rather than a bearer token.
	EventSecret string
}

// Options are the optional collaborators of the server. Endpoints whose
// collaborator is nil are not mounted.
type Options struct {
	Health  *health.Registry
	Metrics *metrics.Metrics
	Hub     *events.Hub
	Journal Journal
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	pipeline  Pipeline
	opts      Options
	keyring   *auth.Keyring
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

const defaultMaxBodyBytes = 1 << 20

// New creates a new API server instance
func New(cfg Config, pipeline Pipeline, opts Options, logger *slog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{
		config:    cfg,
		pipeline:  pipeline,
		opts:      opts,
		keyring:   auth.NewKeyring(cfg.APIKey, cfg.Tokens),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // invocations run synchronously
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/health", s.handleHealth)
	if s.opts.Health != nil {
		probes := s.opts.Health.Handler()
		r.Get("/ready", probes.ReadyEndpoint)
		r.Get("/live", probes.LiveEndpoint)
	}
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	if s.config.EventSecret != "" {
		r.With(s.signatureMiddleware).Post("/hooks/event", s.handleEvent)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeCommandRW)).Post("/command", s.handleCommand)
		r.With(s.requireScopes(auth.ScopeEventRW)).Post("/event", s.handleEvent)
		if s.opts.Hub != nil {
			r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		}
		if s.opts.Journal != nil {
			r.With(s.requireScopes(auth.ScopeInvocationsRO)).Get("/invocations", s.handleListInvocations)
			r.With(s.requireScopes(auth.ScopeInvocationsRO)).Get("/messages/{messageID}", s.handleGetMessage)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
