package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"filewarden/internal/model"

	"golang.org/x/crypto/bcrypt"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type mockUserStore struct {
	users      map[string]*model.User
	lastLogins []int64
}

func newMockUserStore(t *testing.T, cost int, creds map[string]string) *mockUserStore {
	t.Helper()
	m := &mockUserStore{users: make(map[string]*model.User)}
	id := int64(1)
	for username, password := range creds {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		if err != nil {
			t.Fatalf("failed to hash password: %v", err)
		}
		role := model.RoleUser
		if username == "admin" {
			role = model.RoleAdmin
		}
		m.users[username] = &model.User{
			ID:           id,
			Username:     username,
			PasswordHash: string(hash),
			Role:         role,
		}
		id++
	}
	return m
}

func (m *mockUserStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

func (m *mockUserStore) UpdateLastLogin(ctx context.Context, id int64, when time.Time) error {
	m.lastLogins = append(m.lastLogins, id)
	return nil
}

func newTestService(t *testing.T) (*Service, *mockUserStore) {
	t.Helper()
	users := newMockUserStore(t, bcrypt.MinCost, map[string]string{
		"admin":    "correct horse",
		"operator": "battery staple",
	})
	storage := NewMemorySessionStorage()
	t.Cleanup(func() { storage.Close() })
	return NewService(users, storage, time.Hour, bcrypt.MinCost, slog.Default()), users
}

// ---------------------------------------------------------------------------
// Service tests
// ---------------------------------------------------------------------------

func TestLoginSuccess(t *testing.T) {
	svc, users := newTestService(t)

	session, err := svc.Login(context.Background(), "admin", "correct horse", "10.0.0.1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.Token == "" {
		t.Error("session token must be set")
	}
	if session.Role != model.RoleAdmin {
		t.Errorf("role = %q, want admin", session.Role)
	}
	if session.ExpiresAt.Before(time.Now()) {
		t.Error("session must expire in the future")
	}
	if len(users.lastLogins) != 1 || users.lastLogins[0] != 1 {
		t.Errorf("last login recorded = %v, want [1]", users.lastLogins)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Login(context.Background(), "admin", "wrong", "10.0.0.1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Login(context.Background(), "ghost", "anything", "10.0.0.1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginThrottle(t *testing.T) {
	svc, _ := newTestService(t)

	for i := 0; i < loginMaxAttempts; i++ {
		svc.Login(context.Background(), "admin", "wrong", "10.0.0.1")
	}

	_, err := svc.Login(context.Background(), "admin", "correct horse", "10.0.0.1")
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Errorf("err = %v, want ErrTooManyAttempts", err)
	}

	// Other usernames are unaffected.
	if _, err := svc.Login(context.Background(), "operator", "battery staple", "10.0.0.1"); err != nil {
		t.Errorf("other username throttled: %v", err)
	}
}

func TestValidateAndLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "operator", "battery staple", "10.0.0.1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	got, err := svc.Validate(ctx, session.Token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if got.UserID != session.UserID {
		t.Errorf("user id = %d, want %d", got.UserID, session.UserID)
	}

	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := svc.Validate(ctx, session.Token); err == nil {
		t.Error("validate must fail after logout")
	}
}

// ---------------------------------------------------------------------------
// Middleware tests
// ---------------------------------------------------------------------------

func TestRequireRejectsMissingToken(t *testing.T) {
	svc, _ := newTestService(t)

	handler := svc.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/events", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireAttachesSession(t *testing.T) {
	svc, _ := newTestService(t)

	session, err := svc.Login(context.Background(), "operator", "battery staple", "10.0.0.1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	var seen *Session
	handler := svc.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen == nil || seen.Username != "operator" {
		t.Errorf("session in context = %+v, want operator", seen)
	}
}

func TestRequireAdminRejectsOperator(t *testing.T) {
	svc, _ := newTestService(t)

	operator, err := svc.Login(context.Background(), "operator", "battery staple", "10.0.0.1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	admin, err := svc.Login(context.Background(), "admin", "correct horse", "10.0.0.1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	handler := svc.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/rules", nil)
	req.Header.Set("Authorization", "Bearer "+operator.Token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("operator status = %d, want 403", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/rules", nil)
	req.Header.Set("Authorization", "Bearer "+admin.Token)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", w.Code)
	}
}

func TestRevokeUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Login(ctx, "admin", "correct horse", "10.0.0.1")
	second, _ := svc.Login(ctx, "admin", "correct horse", "10.0.0.2")

	if err := svc.RevokeUser(ctx, first.UserID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	if _, err := svc.Validate(ctx, first.Token); err == nil {
		t.Error("first session must be revoked")
	}
	if _, err := svc.Validate(ctx, second.Token); err == nil {
		t.Error("second session must be revoked")
	}
}
