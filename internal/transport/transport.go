// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package transport wraps raw HTTP calls to the homeserver admin API:
// it attaches bearer authentication, proactively refreshes the access
// token when it is close to expiry, retries rate-limited requests with
// exponential backoff, and normalizes every failure into *APIError.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/synadmin/internal/config"
	"github.com/tomtom215/synadmin/internal/logging"
	"github.com/tomtom215/synadmin/internal/metrics"
	"github.com/tomtom215/synadmin/internal/session"
)

// maxErrorBodySize limits how much of a failed response body is retained
// for error reporting.
const maxErrorBodySize = 64 * 1024 // 64KB

// TokenRefresher performs the refresh-token exchange. Implemented by
// session.Refresher; the indirection keeps this package mockable.
type TokenRefresher interface {
	Refresh(ctx context.Context) error
}

// Client is the authenticated transport. All CRUD adapter and lifecycle
// traffic to the primary admin API flows through it.
//
// Before each request, if the session carries a refresh token and an expiry
// and the remaining validity is below the configured threshold, the client
// synchronously awaits a token refresh; concurrent callers share one
// exchange via the refresher's singleflight group.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	httpClient       *http.Client
	store            session.Store
	refresher        TokenRefresher
	refreshThreshold time.Duration
	maxRetries       int
	retryBaseDelay   time.Duration
	breaker          *gobreaker.CircuitBreaker[[]byte]

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates an authenticated transport bound to the session store.
func New(cfg *config.HomeserverConfig, store session.Store, refresher TokenRefresher) *Client {
	cbName := "homeserver-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		store:            store,
		refresher:        refresher,
		refreshThreshold: cfg.RefreshThreshold,
		maxRetries:       cfg.MaxRetries,
		retryBaseDelay:   cfg.RetryBaseDelay,
		breaker:          breaker,
		now:              time.Now,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Do executes one authenticated request against the homeserver and returns
// the raw response body. path is joined to the session's base URL. body may
// be nil, a []byte, or any JSON-marshalable value. A 204 or empty body
// returns nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	sess, err := c.preflight(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := strings.TrimSuffix(sess.BaseURL, "/") + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		payload, err = json.Marshal(b)
		if err != nil {
			return nil, newTransportError("M_BAD_JSON", fmt.Errorf("marshal request body: %w", err))
		}
	}

	start := c.now()
	result, err := c.breaker.Execute(func() ([]byte, error) {
		return c.send(ctx, method, reqURL, payload, sess.AccessToken)
	})
	metrics.UpstreamRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr):
			metrics.UpstreamRequests.WithLabelValues(method, "error").Inc()
			return nil, apiErr
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.UpstreamRequests.WithLabelValues(method, "rejected").Inc()
			return nil, newTransportError("M_UNAVAILABLE", err)
		default:
			metrics.UpstreamRequests.WithLabelValues(method, "error").Inc()
			return nil, newTransportError("CONN_FAILED", err)
		}
	}

	metrics.UpstreamRequests.WithLabelValues(method, "success").Inc()
	return result, nil
}

// DoJSON executes a request and decodes the JSON response into out.
// An empty response leaves out untouched.
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	raw, err := c.Do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newTransportError("M_BAD_JSON", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Upload performs a raw binary POST outside the JSON conventions, used
// for media repository uploads. The response is decoded into out.
func (c *Client) Upload(ctx context.Context, path, contentType string, data []byte, out any) error {
	sess, err := c.preflight(ctx)
	if err != nil {
		return err
	}

	reqURL := strings.TrimSuffix(sess.BaseURL, "/") + path
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		return readResponse(resp)
	})
	if err != nil {
		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr):
			metrics.UpstreamRequests.WithLabelValues(http.MethodPost, "error").Inc()
			return apiErr
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.UpstreamRequests.WithLabelValues(http.MethodPost, "rejected").Inc()
			return newTransportError("M_UNAVAILABLE", err)
		default:
			metrics.UpstreamRequests.WithLabelValues(http.MethodPost, "error").Inc()
			return newTransportError("CONN_FAILED", err)
		}
	}

	metrics.UpstreamRequests.WithLabelValues(http.MethodPost, "success").Inc()
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newTransportError("M_BAD_JSON", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// preflight loads the session and refreshes the token if it is close to
// expiry. The refresh is a blocking precondition of the request.
func (c *Client) preflight(ctx context.Context) (*session.Session, error) {
	sess, err := c.store.Load(ctx)
	if err != nil {
		return nil, newTransportError("M_MISSING_TOKEN", err)
	}
	if sess.AccessToken == "" {
		return nil, newTransportError("M_MISSING_TOKEN", errors.New("session has no access token"))
	}

	if sess.RefreshToken != "" && sess.ExpiresAt > 0 && sess.Remaining(c.now()) < c.refreshThreshold {
		logging.Debug().Dur("remaining", sess.Remaining(c.now())).Msg("access token near expiry, refreshing")
		if err := c.refresher.Refresh(ctx); err != nil {
			return nil, newTransportError("M_UNKNOWN_TOKEN", fmt.Errorf("token refresh: %w", err))
		}
		if sess, err = c.store.Load(ctx); err != nil {
			return nil, newTransportError("M_MISSING_TOKEN", err)
		}
	}

	return sess, nil
}

// send performs the HTTP exchange with bounded retries on HTTP 429.
func (c *Client) send(ctx context.Context, method, reqURL string, payload []byte, token string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var bodyReader io.Reader = http.NoBody
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return readResponse(resp)
		}

		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = newAPIError(http.StatusTooManyRequests, nil)
			break
		}

		// Exponential backoff: base, 2x, 4x, ...; Retry-After wins.
		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// readResponse drains one HTTP response into either a body or an APIError.
func readResponse(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if resp.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if len(body) == 0 {
			return nil, nil
		}
		return body, nil
	}

	body := readBodyForError(resp.Body)
	return nil, newAPIError(resp.StatusCode, body)
}

// readBodyForError reads at most maxErrorBodySize of a failed response.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}
