// Package session holds the bearer credentials the terminal uses against the
// café API. A Session is created once at startup and injected into the API
// client; nothing else reads or writes the token.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cafe-pos/terminal/internal/auth"
	"github.com/cafe-pos/terminal/internal/enum"
	"github.com/cafe-pos/terminal/internal/prefs"
)

// Session is the single authenticated identity of a terminal.
type Session struct {
	mu        sync.RWMutex
	token     string
	username  string
	expiresAt time.Time // zero for opaque tokens

	store          prefs.Store
	onUnauthorized func()
	now            func() time.Time
}

// New creates an empty session persisted to store. onUnauthorized runs after
// the session is cleared because the API rejected the token; it may be nil.
func New(store prefs.Store, onUnauthorized func()) *Session {
	return &Session{
		store:          store,
		onUnauthorized: onUnauthorized,
		now:            time.Now,
	}
}

// Restore loads a previously persisted token. A missing or already expired
// token leaves the session empty.
func (s *Session) Restore(ctx context.Context) error {
	token, err := s.store.Get(ctx, enum.PrefAuthToken)
	if errors.Is(err, prefs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.apply(token, "")
	expired := s.expiredLocked()
	s.mu.Unlock()

	if expired {
		log.Printf("[Session] Stored token already expired, discarding")
		s.Clear(ctx)
	}
	return nil
}

// Set replaces the credentials and persists the token.
func (s *Session) Set(ctx context.Context, token, username string) error {
	s.mu.Lock()
	s.apply(token, username)
	s.mu.Unlock()
	return s.store.Set(ctx, enum.PrefAuthToken, token)
}

func (s *Session) apply(token, username string) {
	s.token = token
	s.username = username
	s.expiresAt = time.Time{}
	if claims, err := auth.Inspect(token); err == nil {
		if claims.ExpiresAt != nil {
			s.expiresAt = claims.ExpiresAt.Time
		}
		if s.username == "" {
			s.username = claims.Username
		}
	}
}

// Token returns the bearer token, or "" when there is no usable session.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked() {
		return ""
	}
	return s.token
}

// Username returns the operator name known for the session.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Active reports whether a non-expired token is held.
func (s *Session) Active() bool {
	return s.Token() != ""
}

func (s *Session) expiredLocked() bool {
	if s.token == "" {
		return true
	}
	return !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt)
}

// Clear drops the credentials locally and in the preference store.
func (s *Session) Clear(ctx context.Context) {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.deleteStored(ctx)
}

func (s *Session) resetLocked() {
	s.token = ""
	s.username = ""
	s.expiresAt = time.Time{}
}

func (s *Session) deleteStored(ctx context.Context) {
	if err := s.store.Delete(ctx, enum.PrefAuthToken); err != nil {
		log.Printf("ERROR: delete stored token: %v", err)
	}
}

// Unauthorized is called by the API client when the API rejects rejected.
// If that token is still the current one the session is cleared and control
// passes to the onUnauthorized callback; a token replaced by a newer login
// in the meantime is left alone.
func (s *Session) Unauthorized(ctx context.Context, rejected string) {
	s.mu.Lock()
	if s.token != rejected {
		s.mu.Unlock()
		log.Printf("[Session] Ignoring 401 for a token that was already replaced")
		return
	}
	s.resetLocked()
	s.mu.Unlock()
	s.deleteStored(ctx)

	if s.onUnauthorized != nil {
		s.onUnauthorized()
	}
}
