// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package auth

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/icedrive/authd/internal/ref"
)

// DefaultSessionTTL is how long a session stays alive without a refresh.
const DefaultSessionTTL = 2 * time.Minute

// Session is one authenticated login, owned by the replica that minted it.
type Session struct {
	Username string
	Ref      ref.Ref

	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	createdAt time.Time
	enabled   bool
}

// IsAlive reports whether the session is enabled and within its TTL.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && !s.expiredLocked()
}

// Refresh restarts the TTL window. A failed refresh leaves the session untouched.
func (s *Session) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Expiry wins over removal: a dead session is unauthorized either way.
	if s.expiredLocked() {
		return oops.Code("AUTH_UNAUTHORIZED").
			With("username", s.Username).
			With("session", s.Ref.String()).
			With("reason", "session expired").
			Wrap(ErrUnauthorized)
	}
	if !s.enabled {
		return oops.Code("AUTH_ACCOUNT_REMOVED").
			With("username", s.Username).
			With("session", s.Ref.String()).
			Wrap(ErrAccountRemoved)
	}
	s.createdAt = s.now()
	return nil
}

// CreatedAt returns the start of the current TTL window.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

func (s *Session) expiredLocked() bool {
	return s.now().Sub(s.createdAt) > s.ttl
}

func (s *Session) disable() {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithClock overrides the time source. Tests use it to expire sessions.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithSessionTTL sets the session validity window.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		m.ttl = ttl
	}
}

// SessionManager tracks the sessions this replica has minted.
type SessionManager struct {
	addr string
	ttl  time.Duration
	now  func() time.Time

	mu     sync.RWMutex
	byID   map[ulid.ULID]*Session
	byUser map[string]map[ulid.ULID]*Session
}

// NewSessionManager creates a manager whose session references point at addr.
func NewSessionManager(addr string, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		addr:   addr,
		ttl:    DefaultSessionTTL,
		now:    time.Now,
		byID:   make(map[ulid.ULID]*Session),
		byUser: make(map[string]map[ulid.ULID]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create mints and registers a new enabled session for username.
func (m *SessionManager) Create(username string) *Session {
	s := &Session{
		Username:  username,
		Ref:       ref.New(m.addr),
		ttl:       m.ttl,
		now:       m.now,
		createdAt: m.now(),
		enabled:   true,
	}

	m.mu.Lock()
	m.byID[s.Ref.ID] = s
	users, ok := m.byUser[username]
	if !ok {
		users = make(map[ulid.ULID]*Session)
		m.byUser[username] = users
	}
	users[s.Ref.ID] = s
	m.mu.Unlock()

	SessionsActive.Inc()
	SessionsCreated.Inc()
	return s
}

// Find returns the session registered under id.
func (m *SessionManager) Find(id ulid.ULID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	return s, ok
}

// Owns reports whether id names a session minted here.
func (m *SessionManager) Owns(id ulid.ULID) bool {
	_, ok := m.Find(id)
	return ok
}

// InvalidateAll disables and deregisters every session of username and
// returns how many there were.
func (m *SessionManager) InvalidateAll(username string) int {
	m.mu.Lock()
	users := m.byUser[username]
	delete(m.byUser, username)
	for id := range users {
		delete(m.byID, id)
	}
	m.mu.Unlock()

	for _, s := range users {
		s.disable()
	}
	SessionsActive.Sub(float64(len(users)))
	return len(users)
}

// Len returns the number of registered sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
