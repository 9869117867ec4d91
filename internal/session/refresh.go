// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/synadmin/internal/logging"
	"github.com/tomtom215/synadmin/internal/metrics"
)

// ErrRefreshFailed indicates the grant exchange was rejected; callers must
// treat the session as invalid and run the logout flow.
var ErrRefreshFailed = errors.New("token refresh failed")

// defaultRefreshPath is used when the session carries no explicit token
// endpoint (e.g. password logins against a stock homeserver).
const defaultRefreshPath = "/_matrix/client/v3/refresh"

// Refresher performs the refresh-token grant exchange and rewrites the
// session atomically. A singleflight group collapses concurrent refresh
// attempts into one upstream exchange: callers that observe "token near
// expiry" at the same time all wait on the same in-flight request.
type Refresher struct {
	store      Store
	httpClient *http.Client
	group      singleflight.Group
}

// NewRefresher creates a Refresher bound to the given session store.
func NewRefresher(store Store, httpClient *http.Client) *Refresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Refresher{store: store, httpClient: httpClient}
}

// refreshResponse is the wire shape of a successful grant exchange.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh exchanges the stored refresh token for a fresh access token and
// rewrites the session. Concurrent callers share one exchange.
func (r *Refresher) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return nil, r.doRefresh(ctx)
	})
	return err
}

// doRefresh performs one form-encoded grant exchange.
func (r *Refresher) doRefresh(ctx context.Context) error {
	sess, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.RefreshToken == "" {
		return fmt.Errorf("%w: session has no refresh token", ErrRefreshFailed)
	}

	endpoint := sess.TokenEndpoint
	if endpoint == "" {
		endpoint = strings.TrimSuffix(sess.BaseURL, "/") + defaultRefreshPath
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", sess.RefreshToken)
	if sess.ClientID != "" {
		form.Set("client_id", sess.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.TokenRefreshes.WithLabelValues("rejected").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("%w: status %d: %s", ErrRefreshFailed, resp.StatusCode, string(body))
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if rr.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: response carried no access token", ErrRefreshFailed)
	}

	// Rewrite token fields on the freshest stored session so a login that
	// raced this refresh is not clobbered wholesale.
	current, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload session: %w", err)
	}
	current.AccessToken = rr.AccessToken
	if rr.RefreshToken != "" {
		current.RefreshToken = rr.RefreshToken
	}
	if rr.IDToken != "" {
		current.IDToken = rr.IDToken
	}
	if rr.ExpiresIn > 0 {
		current.ExpiresAt = time.Now().Add(time.Duration(rr.ExpiresIn) * time.Second).UnixMilli()
	}

	if err := r.store.Save(ctx, current); err != nil {
		return fmt.Errorf("persist refreshed session: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logging.Debug().Int64("expires_at", current.ExpiresAt).Msg("access token refreshed")
	return nil
}
