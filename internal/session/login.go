// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/synadmin/internal/logging"
)

// loginPath is the homeserver password-login endpoint.
const loginPath = "/_matrix/client/v3/login"

// Credentials carries the password-login inputs.
type Credentials struct {
	BaseURL  string
	Username string
	Password string

	// DeviceID is optional; a UUID-derived id is generated when empty so
	// the session is distinguishable in the homeserver's device list.
	DeviceID string
}

// loginRequest is the wire shape of the password login call.
type loginRequest struct {
	Type                     string          `json:"type"`
	Identifier               loginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	DeviceID                 string          `json:"device_id,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
	RefreshToken             bool            `json:"refresh_token"`
}

type loginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// loginResponse is the wire shape of a successful login.
type loginResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id"`
	ExpiresInMS  int64  `json:"expires_in_ms"`
	HomeServer   string `json:"home_server"`
}

// Login performs the password login call and persists the resulting
// session. It is one of exactly three session writers (with Refresh and
// Logout).
func Login(ctx context.Context, store Store, httpClient *http.Client, creds Credentials) (*Session, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	deviceID := creds.DeviceID
	if deviceID == "" {
		deviceID = "synadmin_" + uuid.NewString()
	}

	reqBody, err := json.Marshal(loginRequest{
		Type:                     "m.login.password",
		Identifier:               loginIdentifier{Type: "m.id.user", User: creds.Username},
		Password:                 creds.Password,
		DeviceID:                 deviceID,
		InitialDeviceDisplayName: "Synadmin Console",
		RefreshToken:             true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}

	baseURL := strings.TrimSuffix(creds.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+loginPath, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("login returned status %d: %s", resp.StatusCode, string(body))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	sess := &Session{
		BaseURL:      baseURL,
		HomeServer:   homeServerOf(lr),
		UserID:       lr.UserID,
		AccessToken:  lr.AccessToken,
		RefreshToken: lr.RefreshToken,
		DeviceID:     lr.DeviceID,
		LoginMethod:  "m.login.password",
	}
	if sess.DeviceID == "" {
		sess.DeviceID = deviceID
	}
	if lr.ExpiresInMS > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(lr.ExpiresInMS) * time.Millisecond).UnixMilli()
	}

	if err := store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	logging.Info().Str("user_id", sess.UserID).Str("device_id", sess.DeviceID).Msg("logged in")
	return sess, nil
}

// Logout clears the stored session entirely.
func Logout(ctx context.Context, store Store) error {
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	logging.Info().Msg("session cleared")
	return nil
}

// homeServerOf derives the home server name, preferring the explicit
// response field and falling back to the user id's server part.
func homeServerOf(lr loginResponse) string {
	if lr.HomeServer != "" {
		return lr.HomeServer
	}
	if idx := strings.Index(lr.UserID, ":"); idx >= 0 {
		return lr.UserID[idx+1:]
	}
	return ""
}
