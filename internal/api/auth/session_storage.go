package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Session is one authenticated operator session. The token is opaque;
// clients present it as a bearer credential.
type Session struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	Token        string    `json:"token"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// SessionStorage persists sessions. The memory backend suits single
// instances; Redis supports multiple API replicas.
type SessionStorage interface {
	Store(ctx context.Context, session *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByUserID(ctx context.Context, userID int64) error
	UpdateActivity(ctx context.Context, token string, lastActive time.Time) error
	Count(ctx context.Context) (int, error)
	Close() error
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// MemorySessionStorage keeps sessions in process memory with a periodic
// sweep of expired entries.
type MemorySessionStorage struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	userSessions map[int64][]string
	stopCleanup  chan struct{}
}

// NewMemorySessionStorage creates the in-memory backend and starts its
// cleanup goroutine.
func NewMemorySessionStorage() *MemorySessionStorage {
	m := &MemorySessionStorage{
		sessions:     make(map[string]*Session),
		userSessions: make(map[int64][]string),
		stopCleanup:  make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *MemorySessionStorage) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.CleanupExpired(context.Background())
		}
	}
}

// Store saves a session and indexes it by user.
func (m *MemorySessionStorage) Store(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.Token] = session
	m.userSessions[session.UserID] = append(m.userSessions[session.UserID], session.Token)
	return nil
}

// Get retrieves a live session by token.
func (m *MemorySessionStorage) Get(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[token]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// Delete removes one session.
func (m *MemorySessionStorage) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[token]
	if !exists {
		return nil
	}
	delete(m.sessions, token)
	m.unindexLocked(session.UserID, token)
	return nil
}

// DeleteByUserID removes every session the user holds.
func (m *MemorySessionStorage) DeleteByUserID(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, token := range m.userSessions[userID] {
		delete(m.sessions, token)
	}
	delete(m.userSessions, userID)
	return nil
}

// UpdateActivity records the session's latest use.
func (m *MemorySessionStorage) UpdateActivity(ctx context.Context, token string, lastActive time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[token]
	if !exists {
		return ErrSessionNotFound
	}
	session.LastActiveAt = lastActive
	return nil
}

// Count returns the number of unexpired sessions.
func (m *MemorySessionStorage) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	count := 0
	for _, session := range m.sessions {
		if now.Before(session.ExpiresAt) {
			count++
		}
	}
	return count, nil
}

// Close stops the cleanup goroutine.
func (m *MemorySessionStorage) Close() error {
	close(m.stopCleanup)
	return nil
}

// CleanupExpired removes expired sessions.
func (m *MemorySessionStorage) CleanupExpired(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, token)
			m.unindexLocked(session.UserID, token)
		}
	}
	return nil
}

func (m *MemorySessionStorage) unindexLocked(userID int64, token string) {
	tokens := m.userSessions[userID]
	for i, t := range tokens {
		if t == token {
			m.userSessions[userID] = append(tokens[:i], tokens[i+1:]...)
			return
		}
	}
}

// RedisSessionStorage keeps sessions in Redis so several API instances
// can share them. Keys expire with the session.
type RedisSessionStorage struct {
	client RedisClient
	prefix string
}

// NewRedisSessionStorage creates a Redis-backed session storage.
func NewRedisSessionStorage(client RedisClient, prefix string) *RedisSessionStorage {
	if prefix == "" {
		prefix = "filewarden:session"
	}
	return &RedisSessionStorage{client: client, prefix: prefix}
}

func (r *RedisSessionStorage) sessionKey(token string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, token)
}

func (r *RedisSessionStorage) userSessionsKey(userID int64) string {
	return fmt.Sprintf("%s:user:%d", r.prefix, userID)
}

// Store saves a session with a TTL derived from its expiry.
func (r *RedisSessionStorage) Store(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return ErrSessionExpired
	}

	if err := r.client.Set(ctx, r.sessionKey(session.Token), data, ttl); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	userKey := r.userSessionsKey(session.UserID)
	if err := r.client.SAdd(ctx, userKey, session.Token); err != nil {
		return fmt.Errorf("failed to index session by user: %w", err)
	}
	if err := r.client.Expire(ctx, userKey, ttl); err != nil {
		return fmt.Errorf("failed to set TTL on user sessions: %w", err)
	}
	return nil
}

// Get retrieves a live session by token.
func (r *RedisSessionStorage) Get(ctx context.Context, token string) (*Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(token))
	if err != nil {
		return nil, ErrSessionNotFound
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return &session, nil
}

// Delete removes one session.
func (r *RedisSessionStorage) Delete(ctx context.Context, token string) error {
	session, err := r.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := r.client.Delete(ctx, r.sessionKey(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := r.client.SRem(ctx, r.userSessionsKey(session.UserID), token); err != nil {
		return fmt.Errorf("failed to remove from user sessions: %w", err)
	}
	return nil
}

// DeleteByUserID removes every session the user holds.
func (r *RedisSessionStorage) DeleteByUserID(ctx context.Context, userID int64) error {
	userKey := r.userSessionsKey(userID)
	tokens, err := r.client.SMembers(ctx, userKey)
	if err != nil {
		return fmt.Errorf("failed to get user sessions: %w", err)
	}

	if len(tokens) > 0 {
		keys := make([]string, len(tokens))
		for i, token := range tokens {
			keys[i] = r.sessionKey(token)
		}
		if err := r.client.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("failed to delete session keys: %w", err)
		}
	}

	if err := r.client.Delete(ctx, userKey); err != nil {
		return fmt.Errorf("failed to delete user sessions set: %w", err)
	}
	return nil
}

// UpdateActivity re-stores the session with a fresh last-active time.
func (r *RedisSessionStorage) UpdateActivity(ctx context.Context, token string, lastActive time.Time) error {
	session, err := r.Get(ctx, token)
	if err != nil {
		return err
	}
	session.LastActiveAt = lastActive
	return r.Store(ctx, session)
}

// Count approximates the number of active sessions.
func (r *RedisSessionStorage) Count(ctx context.Context) (int, error) {
	return r.client.DBSize(ctx)
}

// Close releases the Redis client.
func (r *RedisSessionStorage) Close() error {
	return r.client.Close()
}
