// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package session holds the administrator's homeserver session: base URL,
// bearer tokens, device identity, and expiry. The session is written only
// by Login, Refresh, and Logout; every outbound call reads it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNoSession indicates no session has been stored (not logged in).
var ErrNoSession = errors.New("no active session")

// Session carries every field the adapter needs besides the resource
// registry. ExpiresAt is unix milliseconds; 0 means the token lifetime is
// unknown and no proactive refresh happens.
type Session struct {
	BaseURL       string `json:"base_url"`
	HomeServer    string `json:"home_server"`
	UserID        string `json:"user_id"`
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	DeviceID      string `json:"device_id"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	LoginMethod   string `json:"login_method,omitempty"`
	ExternalAuth  bool   `json:"external_auth,omitempty"`
	TokenEndpoint string `json:"token_endpoint,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	IDToken       string `json:"id_token,omitempty"`
}

// Remaining returns the time until token expiry. Zero or negative values
// mean expired; callers must check ExpiresAt != 0 first.
func (s *Session) Remaining(now time.Time) time.Duration {
	return time.UnixMilli(s.ExpiresAt).Sub(now)
}

// IsLocal reports whether the given user id belongs to this session's home
// server. Cross-server identity lookups are not permitted by the admin API,
// so callers synthesize stub records for non-local ids.
func (s *Session) IsLocal(userID string) bool {
	idx := strings.Index(userID, ":")
	if idx < 0 {
		return false
	}
	return userID[idx+1:] == s.HomeServer
}

// Store persists the single administrator session. Implementations must be
// safe for concurrent use; the transport reads on every request while the
// refresher may be writing.
type Store interface {
	// Load returns the stored session or ErrNoSession.
	Load(ctx context.Context) (*Session, error)

	// Save overwrites the stored session.
	Save(ctx context.Context, s *Session) error

	// Clear removes the stored session (logout).
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored session.
func (m *MemoryStore) Load(_ context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, ErrNoSession
	}
	cp := *m.session
	return &cp, nil
}

// Save stores a copy of the session.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.session = &cp
	return nil
}

// Clear removes the stored session.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
