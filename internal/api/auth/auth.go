// Package auth provides session authentication for the filewarden API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"filewarden/internal/middleware"
	"filewarden/internal/model"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Default login throttle: five attempts per username per minute.
const (
	loginMaxAttempts = 5
	loginWindow      = time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTooManyAttempts    = errors.New("too many login attempts")
)

// dummyHash is compared against when the username does not exist, so
// lookups and failed logins take the same time.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// UserStore is the user persistence contract the service needs.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id int64, when time.Time) error
}

// Service authenticates operators and manages their sessions.
type Service struct {
	users        UserStore
	sessions     SessionStorage
	sessionTTL   time.Duration
	bcryptCost   int
	loginWindows *middleware.LoginRateLimiter
	logger       *slog.Logger
}

// NewService creates an auth service over the given stores.
func NewService(users UserStore, sessions SessionStorage, sessionTTL time.Duration, bcryptCost int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:        users,
		sessions:     sessions,
		sessionTTL:   sessionTTL,
		bcryptCost:   bcryptCost,
		loginWindows: middleware.NewLoginRateLimiter(loginMaxAttempts, loginWindow),
		logger:       logger,
	}
}

// HashPassword hashes a plaintext password for storage.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login verifies credentials and opens a session.
func (s *Service) Login(ctx context.Context, username, password, ip string) (*Session, error) {
	if !s.loginWindows.AllowLogin(username) {
		s.logger.Warn("login throttled", "username", username, "ip", ip)
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		// Burn a compare anyway so missing users are not distinguishable
		// by response time.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.logger.Warn("login failed", "username", username, "ip", ip)
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("login failed", "username", username, "ip", ip)
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	session := &Session{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		Token:        uuid.New().String(),
		IPAddress:    ip,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.sessionTTL),
		LastActiveAt: now,
	}
	if err := s.sessions.Store(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}

	s.logger.Info("login succeeded", "username", username, "user_id", user.ID, "ip", ip)
	return session, nil
}

// Logout deletes the session for the given token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Validate resolves a bearer token to a live session and touches its
// activity timestamp.
func (s *Service) Validate(ctx context.Context, token string) (*Session, error) {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateActivity(ctx, token, time.Now().UTC()); err != nil &&
		!errors.Is(err, ErrSessionNotFound) {
		s.logger.Warn("failed to update session activity", "error", err)
	}
	return session, nil
}

// RevokeUser deletes every session the user holds.
func (s *Service) RevokeUser(ctx context.Context, userID int64) error {
	return s.sessions.DeleteByUserID(ctx, userID)
}

// Close releases the session backend.
func (s *Service) Close() error {
	return s.sessions.Close()
}

// ---------------------------------------------------------------------------
// HTTP integration
// ---------------------------------------------------------------------------

type contextKey int

const sessionKey contextKey = iota

// SessionFromContext returns the session attached by Require.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey).(*Session)
	return session, ok
}

// ExtractToken pulls the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}

// Require wraps a handler so only authenticated requests pass. The
// session rides on the request context.
func (s *Service) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" {
			unauthorized(w, "missing credentials")
			return
		}

		session, err := s.Validate(r.Context(), token)
		if err != nil {
			unauthorized(w, "invalid or expired session")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
	})
}

// RequireAdmin is Require plus an admin role check. Rule mutation and
// feedback endpoints sit behind it.
func (s *Service) RequireAdmin(next http.Handler) http.Handler {
	return s.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := SessionFromContext(r.Context())
		if session == nil || session.Role != model.RoleAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"code":"FORBIDDEN","message":"admin role required"}`)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"code":"UNAUTHORIZED","message":"%s"}`, msg)
}
