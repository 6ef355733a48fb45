// Package api exposes the filewarden HTTP surface: event ingestion, rule
// management, operator feedback, audit queries and health.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"filewarden/internal/api/auth"
	"filewarden/internal/config"
	"filewarden/internal/engine"
	"filewarden/internal/middleware"
	"filewarden/internal/model"
	"filewarden/internal/rules"

	"github.com/go-playground/validator/v10"
)

// Store is the persistence surface the API uses.
type Store interface {
	Ping(ctx context.Context) error

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error)
	CountUnprocessedEvents(ctx context.Context) (int64, error)

	ListRules(ctx context.Context) ([]rules.Rule, error)
	GetRule(ctx context.Context, id int64) (*rules.Rule, error)
	CreateRule(ctx context.Context, r *rules.Rule) error
	SaveRule(ctx context.Context, r *rules.Rule) error
	DeleteRule(ctx context.Context, id int64) error

	GetFeedbackByEvent(ctx context.Context, eventID int64) (*model.Feedback, error)
	ListFeedback(ctx context.Context, limit int) ([]model.Feedback, error)

	ListRecentLogs(ctx context.Context, logType string, limit int) ([]model.Log, error)
	ListLogsByEvent(ctx context.Context, eventID int64) ([]model.Log, error)
	CountLogsByType(ctx context.Context) (map[string]int64, error)

	CreateUser(ctx context.Context, u *model.User) error
	ListUsers(ctx context.Context) ([]model.User, error)

	CreateFolder(ctx context.Context, f *model.Folder) error
	ListFolders(ctx context.Context) ([]model.Folder, error)
	ListFilesByFolder(ctx context.Context, folderID int64) ([]model.File, error)
}

// Pipeline scores and acts on newly ingested events.
type Pipeline interface {
	Handle(ctx context.Context, event *model.Event) (*engine.Outcome, error)
}

// FeedbackSink records operator verdicts and adapts rules.
type FeedbackSink interface {
	Submit(ctx context.Context, event *model.Event, adminID *int64, feedbackType, comment string, rule *rules.Rule, suggestedSeverity rules.Severity) (*model.Feedback, error)
}

// RuleCache is the invalidation handle for rule mutations.
type RuleCache interface {
	Invalidate()
	Age() (time.Duration, bool)
}

// FolderWatcher lets the API register new folders with the live watcher.
// Nil when watching is disabled.
type FolderWatcher interface {
	AddFolder(ctx context.Context, folder *model.Folder) error
}

// StatsSource contributes a named block to the stats endpoint.
type StatsSource interface {
	Stats() map[string]any
}

// Server is the filewarden HTTP API.
type Server struct {
	cfg        config.ServerConfig
	store      Store
	pipeline   Pipeline
	feedback   FeedbackSink
	cache      RuleCache
	auth       *auth.Service
	watcher    FolderWatcher
	notifier   StatsSource
	validate   *validator.Validate
	logger     *slog.Logger
	httpServer *http.Server
}

// Options carries the optional collaborators.
type Options struct {
	Auth     *auth.Service
	Watcher  FolderWatcher
	Notifier StatsSource
}

// NewServer wires the API over its collaborators.
func NewServer(cfg config.ServerConfig, store Store, pipeline Pipeline, feedback FeedbackSink, cache RuleCache, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		pipeline: pipeline,
		feedback: feedback,
		cache:    cache,
		auth:     opts.Auth,
		watcher:  opts.Watcher,
		notifier: opts.Notifier,
		validate: validator.New(),
		logger:   logger,
	}
}

// Routes builds the API mux. Exposed so tests can drive handlers without
// a listening socket.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.Handle("GET /api/auth/session", s.protected(http.HandlerFunc(s.handleSession)))

	mux.Handle("POST /api/events", s.protected(http.HandlerFunc(s.handleCreateEvent)))
	mux.Handle("GET /api/events", s.protected(http.HandlerFunc(s.handleListEvents)))
	mux.Handle("GET /api/events/{id}", s.protected(http.HandlerFunc(s.handleGetEvent)))
	mux.Handle("GET /api/events/{id}/logs", s.protected(http.HandlerFunc(s.handleEventLogs)))

	mux.Handle("GET /api/rules", s.protected(http.HandlerFunc(s.handleListRules)))
	mux.Handle("GET /api/rules/{id}", s.protected(http.HandlerFunc(s.handleGetRule)))
	mux.Handle("POST /api/rules", s.adminOnly(http.HandlerFunc(s.handleCreateRule)))
	mux.Handle("PUT /api/rules/{id}", s.adminOnly(http.HandlerFunc(s.handleUpdateRule)))
	mux.Handle("DELETE /api/rules/{id}", s.adminOnly(http.HandlerFunc(s.handleDeleteRule)))

	mux.Handle("POST /api/feedback", s.adminOnly(http.HandlerFunc(s.handleSubmitFeedback)))
	mux.Handle("GET /api/feedback", s.protected(http.HandlerFunc(s.handleListFeedback)))

	mux.Handle("GET /api/logs", s.protected(http.HandlerFunc(s.handleListLogs)))

	mux.Handle("GET /api/folders", s.protected(http.HandlerFunc(s.handleListFolders)))
	mux.Handle("POST /api/folders", s.adminOnly(http.HandlerFunc(s.handleCreateFolder)))
	mux.Handle("GET /api/folders/{id}/files", s.protected(http.HandlerFunc(s.handleListFolderFiles)))

	mux.Handle("GET /api/users", s.adminOnly(http.HandlerFunc(s.handleListUsers)))
	mux.Handle("POST /api/users", s.adminOnly(http.HandlerFunc(s.handleCreateUser)))

	return mux
}

// Handler returns the mux wrapped in the standard middleware stack.
func (s *Server) Handler(rateLimit config.RateLimitConfig) http.Handler {
	return middleware.Chain(s.Routes(),
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(), s.logger),
		middleware.RateLimit(rateLimit, s.logger),
	)
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start(handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("api server listening", "port", s.cfg.HTTPPort)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// protected requires a valid session when auth is configured.
func (s *Server) protected(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return s.auth.Require(next)
}

// adminOnly requires an admin session when auth is configured.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return s.auth.RequireAdmin(next)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return false
	}
	return true
}
