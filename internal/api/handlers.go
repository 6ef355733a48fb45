package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"filewarden/internal/api/auth"
	"filewarden/internal/middleware"
	"filewarden/internal/model"
	"filewarden/internal/rules"
	"filewarden/internal/store"
)

const defaultListLimit = 100

// ---------------------------------------------------------------------------
// Request payloads
// ---------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createEventRequest struct {
	EventType      string `json:"event_type" validate:"required,oneof=create modify delete"`
	TargetFileID   *int64 `json:"target_file_id" validate:"omitempty,gt=0"`
	TargetFolderID *int64 `json:"target_folder_id" validate:"omitempty,gt=0"`
}

type ruleRequest struct {
	Name          string `json:"name" validate:"required,min=3,max=120"`
	Description   string `json:"description" validate:"max=500"`
	SeverityLevel string `json:"severity_level" validate:"required,oneof=Low Medium High Critical"`
	ActionType    string `json:"action_type" validate:"required,min=3,max=200"`
	AdaptiveFlag  bool   `json:"adaptive_flag"`
}

type feedbackRequest struct {
	EventID           int64  `json:"event_id" validate:"required,gt=0"`
	FeedbackType      string `json:"feedback_type" validate:"required,oneof=approve reject modify"`
	RuleID            *int64 `json:"rule_id" validate:"omitempty,gt=0"`
	Comment           string `json:"comment" validate:"max=1000"`
	SuggestedSeverity string `json:"suggested_severity" validate:"omitempty,oneof=Low Medium High Critical"`
}

type createFolderRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
	Path string `json:"path" validate:"required,min=1"`
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=admin user"`
}

// ---------------------------------------------------------------------------
// Health and stats
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "STORE_DOWN", "storage is unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]any)

	if unprocessed, err := s.store.CountUnprocessedEvents(ctx); err == nil {
		stats["unprocessed_events"] = unprocessed
	}
	if byType, err := s.store.CountLogsByType(ctx); err == nil {
		stats["logs_by_type"] = byType
	}
	if ruleSet, err := s.store.ListRules(ctx); err == nil {
		stats["rules"] = rules.Stats(ruleSet)
	}
	if age, fresh := s.cache.Age(); fresh {
		stats["rule_cache_age_ms"] = age.Milliseconds()
	}
	if s.notifier != nil {
		stats["dispatch"] = s.notifier.Stats()
	}
	limited, allowed := middleware.RateLimitMetrics()
	stats["rate_limited_requests"] = limited
	stats["allowed_requests"] = allowed

	writeJSON(w, http.StatusOK, stats)
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotFound, "AUTH_DISABLED", "authentication is not configured")
		return
	}

	var req loginRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	session, err := s.auth.Login(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		if errors.Is(err, auth.ErrTooManyAttempts) {
			writeError(w, http.StatusTooManyRequests, "THROTTLED", "too many login attempts")
			return
		}
		writeError(w, http.StatusUnauthorized, "LOGIN_FAILED", "invalid username or password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"username":   session.Username,
		"role":       session.Role,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotFound, "AUTH_DISABLED", "authentication is not configured")
		return
	}

	token := auth.ExtractToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing credentials")
		return
	}
	if err := s.auth.Logout(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "LOGOUT_FAILED", "failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no active session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	event := &model.Event{
		EventType:      req.EventType,
		TargetFileID:   req.TargetFileID,
		TargetFolderID: req.TargetFolderID,
		Timestamp:      time.Now().UTC(),
	}
	if session, ok := auth.SessionFromContext(r.Context()); ok {
		event.TriggeredBy = &session.UserID
	}

	if err := s.store.CreateEvent(r.Context(), event); err != nil {
		s.logger.Error("failed to persist event", "error", err)
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", "failed to record event")
		return
	}

	outcome, err := s.pipeline.Handle(r.Context(), event)
	if err != nil {
		s.logger.Error("pipeline failed", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "PIPELINE_FAILED", "event recorded but processing failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"event":   event,
		"outcome": outcome,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListRecentEvents(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	event, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to load event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleEventLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := s.store.ListLogsByEvent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to load event logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ruleSet, err := s.store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, ruleSet)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to load rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	rule := &rules.Rule{
		Name:          req.Name,
		Description:   req.Description,
		SeverityLevel: rules.Severity(req.SeverityLevel),
		ActionType:    req.ActionType,
		AdaptiveFlag:  req.AdaptiveFlag,
	}
	if err := s.store.CreateRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", "failed to create rule")
		return
	}
	s.cache.Invalidate()

	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	rule := &rules.Rule{
		ID:            id,
		Name:          req.Name,
		Description:   req.Description,
		SeverityLevel: rules.Severity(req.SeverityLevel),
		ActionType:    req.ActionType,
		AdaptiveFlag:  req.AdaptiveFlag,
	}
	if err := s.store.SaveRule(r.Context(), rule); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", "failed to update rule")
		return
	}
	s.cache.Invalidate()

	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", "failed to delete rule")
		return
	}
	s.cache.Invalidate()

	writeJSON(w, http.StatusNoContent, nil)
}

// ---------------------------------------------------------------------------
// Feedback
// ---------------------------------------------------------------------------

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()

	event, err := s.store.GetEvent(ctx, req.EventID)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to load event")
		return
	}

	var rule *rules.Rule
	if req.RuleID != nil {
		rule, err = s.store.GetRule(ctx, *req.RuleID)
		if err != nil {
			if store.IsNotFound(err) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "rule not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to load rule")
			return
		}
	}

	var adminID *int64
	if session, ok := auth.SessionFromContext(ctx); ok {
		adminID = &session.UserID
	}

	fb, err := s.feedback.Submit(ctx, event, adminID, req.FeedbackType, req.Comment, rule, rules.Severity(req.SuggestedSeverity))
	if err != nil {
		if store.IsDuplicate(err) {
			writeError(w, http.StatusConflict, "DUPLICATE", "feedback already recorded for this event")
			return
		}
		writeError(w, http.StatusBadRequest, "FEEDBACK_REJECTED", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, fb)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	feedback, err := s.store.ListFeedback(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to list feedback")
		return
	}
	writeJSON(w, http.StatusOK, feedback)
}

// ---------------------------------------------------------------------------
// Logs
// ---------------------------------------------------------------------------

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListRecentLogs(r.Context(), r.URL.Query().Get("type"), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to list logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// ---------------------------------------------------------------------------
// Folders and files
// ---------------------------------------------------------------------------

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.store.ListFolders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to list folders")
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	folder := &model.Folder{
		Name: req.Name,
		Path: req.Path,
	}
	if session, ok := auth.SessionFromContext(r.Context()); ok {
		folder.OwnerID = session.UserID
	}

	if err := s.store.CreateFolder(r.Context(), folder); err != nil {
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", "failed to create folder")
		return
	}

	if s.watcher != nil {
		if err := s.watcher.AddFolder(r.Context(), folder); err != nil {
			s.logger.Warn("folder registered but not watchable",
				"folder_id", folder.ID,
				"path", folder.Path,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleListFolderFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	files, err := s.store.ListFilesByFolder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to list files")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotFound, "AUTH_DISABLED", "authentication is not configured")
		return
	}

	var req createUserRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "HASH_FAILED", "failed to process password")
		return
	}

	user := &model.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if store.IsDuplicate(err) {
			writeError(w, http.StatusConflict, "DUPLICATE", "username already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "path id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
