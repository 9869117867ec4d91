// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package extapi talks to the secondary scheduling/billing/support API.
// It shares the primary session's bearer token but uses its own base URL
// and a different failure vocabulary: outcomes are reported as Result
// values (success, upstream error, or maintenance window), and a returned
// error means the call itself could not complete (network or decode).
// HTTP 503 is a maintenance signal, not a failure.
package extapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/synadmin/internal/config"
	"github.com/tomtom215/synadmin/internal/logging"
	"github.com/tomtom215/synadmin/internal/metrics"
	"github.com/tomtom215/synadmin/internal/session"
)

// ErrDisabled indicates the secondary API is not configured.
var ErrDisabled = errors.New("secondary API not configured")

// maxErrorBodySize limits how much of a failed response body is retained.
const maxErrorBodySize = 64 * 1024

// Result is the outcome of one secondary API call. Exactly one of OK,
// Maintenance, or a non-empty Errcode/Message pair is meaningful.
type Result struct {
	OK          bool   `json:"ok"`
	Maintenance bool   `json:"maintenance,omitempty"`
	Errcode     string `json:"errcode,omitempty"`
	Message     string `json:"error,omitempty"`
}

var (
	resultOK          = Result{OK: true}
	resultMaintenance = Result{Maintenance: true}
)

// Notification is one console notification.
type Notification struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// Command is one server command exposed by the catalog.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Args        bool   `json:"args"`
}

// Schedule is one pending scheduled task.
type Schedule struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
	Scheduled string         `json:"scheduled_at"`
}

// Recurring is one recurring task definition.
type Recurring struct {
	ID       string         `json:"id"`
	Command  string         `json:"command"`
	Args     map[string]any `json:"args,omitempty"`
	Schedule string         `json:"schedule"`
	Enabled  bool           `json:"enabled"`
}

// Payment is one billing record.
type Payment struct {
	ID     string  `json:"id"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Status string  `json:"status"`
}

// SupportRequest is one support ticket.
type SupportRequest struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Invoice is a downloaded invoice document.
type Invoice struct {
	ContentType string
	Data        []byte
}

// Client is the secondary API client.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	httpClient *http.Client
	store      session.Store
	baseURL    string
	locale     string
}

// New builds a Client from the secondary API configuration. A nil client
// is returned when no URL is configured; every method on a nil client
// reports ErrDisabled.
func New(cfg *config.SecondaryConfig, store session.Store) *Client {
	if cfg.URL == "" {
		return nil
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		store:      store,
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		locale:     cfg.Locale,
	}
}

// Status fetches the server component status map.
func (c *Client) Status(ctx context.Context) (map[string]any, Result, error) {
	var out map[string]any
	res, err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, res, err
}

// Locked reports whether the server is locked for maintenance operations.
func (c *Client) Locked(ctx context.Context) (bool, Result, error) {
	var out struct {
		Locked bool `json:"locked"`
	}
	res, err := c.do(ctx, http.MethodGet, "/lock", nil, &out)
	return out.Locked, res, err
}

// Notifications lists pending console notifications.
func (c *Client) Notifications(ctx context.Context) ([]Notification, Result, error) {
	var out []Notification
	res, err := c.do(ctx, http.MethodGet, "/notifications", nil, &out)
	return out, res, err
}

// ClearNotifications deletes all pending notifications.
func (c *Client) ClearNotifications(ctx context.Context) (Result, error) {
	return c.do(ctx, http.MethodDelete, "/notifications", nil, nil)
}

// Commands fetches the server command catalog.
func (c *Client) Commands(ctx context.Context) ([]Command, Result, error) {
	var out []Command
	res, err := c.do(ctx, http.MethodGet, "/commands", nil, &out)
	return out, res, err
}

// RunCommand executes one server command with optional arguments.
func (c *Client) RunCommand(ctx context.Context, name string, args map[string]any) (Result, error) {
	body := map[string]any{"command": name}
	if len(args) > 0 {
		body["args"] = args
	}
	return c.do(ctx, http.MethodPost, "/commands", body, nil)
}

// Schedules lists pending scheduled tasks.
func (c *Client) Schedules(ctx context.Context) ([]Schedule, Result, error) {
	var out []Schedule
	res, err := c.do(ctx, http.MethodGet, "/schedules", nil, &out)
	return out, res, err
}

// CreateSchedule registers a new scheduled task.
func (c *Client) CreateSchedule(ctx context.Context, s Schedule) (Result, error) {
	return c.do(ctx, http.MethodPost, "/schedules", s, nil)
}

// UpdateSchedule replaces one scheduled task.
func (c *Client) UpdateSchedule(ctx context.Context, s Schedule) (Result, error) {
	return c.do(ctx, http.MethodPut, "/schedules/"+s.ID, s, nil)
}

// DeleteSchedule cancels one scheduled task.
func (c *Client) DeleteSchedule(ctx context.Context, id string) (Result, error) {
	return c.do(ctx, http.MethodDelete, "/schedules/"+id, nil, nil)
}

// Recurrings lists recurring task definitions.
func (c *Client) Recurrings(ctx context.Context) ([]Recurring, Result, error) {
	var out []Recurring
	res, err := c.do(ctx, http.MethodGet, "/recurrings", nil, &out)
	return out, res, err
}

// CreateRecurring registers a new recurring task.
func (c *Client) CreateRecurring(ctx context.Context, r Recurring) (Result, error) {
	return c.do(ctx, http.MethodPost, "/recurrings", r, nil)
}

// UpdateRecurring replaces one recurring task definition.
func (c *Client) UpdateRecurring(ctx context.Context, r Recurring) (Result, error) {
	return c.do(ctx, http.MethodPut, "/recurrings/"+r.ID, r, nil)
}

// DeleteRecurring removes one recurring task definition.
func (c *Client) DeleteRecurring(ctx context.Context, id string) (Result, error) {
	return c.do(ctx, http.MethodDelete, "/recurrings/"+id, nil, nil)
}

// Payments lists billing records.
func (c *Client) Payments(ctx context.Context) ([]Payment, Result, error) {
	var out []Payment
	res, err := c.do(ctx, http.MethodGet, "/payments", nil, &out)
	return out, res, err
}

// DownloadInvoice fetches the invoice document for one payment. The body
// is returned raw; invoices are binary documents, not JSON.
func (c *Client) DownloadInvoice(ctx context.Context, paymentID string) (*Invoice, Result, error) {
	if c == nil {
		return nil, Result{}, ErrDisabled
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/payments/"+paymentID+"/invoice", nil)
	if err != nil {
		return nil, Result{}, err
	}
	req.Header.Del("Accept")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SecondaryRequests.WithLabelValues("/payments/invoice", "error").Inc()
		return nil, Result{}, fmt.Errorf("secondary API request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if res := classify(resp.StatusCode); !res.OK {
		metrics.SecondaryRequests.WithLabelValues("/payments/invoice", outcome(res)).Inc()
		if res.Maintenance {
			return nil, res, nil
		}
		return nil, errorResult(resp), nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.SecondaryRequests.WithLabelValues("/payments/invoice", "error").Inc()
		return nil, Result{}, fmt.Errorf("read invoice body: %w", err)
	}

	metrics.SecondaryRequests.WithLabelValues("/payments/invoice", "success").Inc()
	return &Invoice{
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, resultOK, nil
}

// SupportRequests lists support tickets.
func (c *Client) SupportRequests(ctx context.Context) ([]SupportRequest, Result, error) {
	var out []SupportRequest
	res, err := c.do(ctx, http.MethodGet, "/support", nil, &out)
	return out, res, err
}

// SupportRequestByID fetches one support ticket.
func (c *Client) SupportRequestByID(ctx context.Context, id string) (*SupportRequest, Result, error) {
	var out SupportRequest
	res, err := c.do(ctx, http.MethodGet, "/support/"+id, nil, &out)
	if err != nil || !res.OK {
		return nil, res, err
	}
	return &out, res, nil
}

// CreateSupportRequest opens a new support ticket.
func (c *Client) CreateSupportRequest(ctx context.Context, subject, body string) (Result, error) {
	payload := map[string]any{"subject": subject, "body": body}
	return c.do(ctx, http.MethodPost, "/support", payload, nil)
}

// do performs one JSON exchange and classifies the outcome.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (Result, error) {
	if c == nil {
		return Result{}, ErrDisabled
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Result{}, fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return Result{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	endpoint := metricEndpoint(path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SecondaryRequests.WithLabelValues(endpoint, "error").Inc()
		return Result{}, fmt.Errorf("secondary API request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	res := classify(resp.StatusCode)
	metrics.SecondaryRequests.WithLabelValues(endpoint, outcome(res)).Inc()

	switch {
	case res.Maintenance:
		logging.Debug().Str("path", path).Msg("secondary API in maintenance")
		return res, nil
	case !res.OK:
		return errorResult(resp), nil
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resultOK, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response body: %w", err)
	}
	if len(raw) == 0 {
		return resultOK, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Result{}, fmt.Errorf("decode response body: %w", err)
	}
	return resultOK, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	sess, err := c.store.Load(ctx)
	if err == nil && sess.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	}
	req.Header.Set("Accept", "application/json")
	if c.locale != "" {
		req.Header.Set("Accept-Language", c.locale)
	}
	return req, nil
}

// classify maps an HTTP status to the outcome vocabulary: 2xx success,
// 503 maintenance, everything else an upstream error.
func classify(status int) Result {
	switch {
	case status >= 200 && status < 300:
		return resultOK
	case status == http.StatusServiceUnavailable:
		return resultMaintenance
	default:
		return Result{}
	}
}

// errorResult extracts the error envelope from a failed response.
func errorResult(resp *http.Response) Result {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var envelope struct {
		Errcode string `json:"errcode"`
		Message string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message == "" {
		return Result{
			Errcode: "M_UNKNOWN",
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
	if envelope.Errcode == "" {
		envelope.Errcode = "M_UNKNOWN"
	}
	return Result{Errcode: envelope.Errcode, Message: envelope.Message}
}

func outcome(res Result) string {
	switch {
	case res.OK:
		return "success"
	case res.Maintenance:
		return "maintenance"
	default:
		return "error"
	}
}

// metricEndpoint collapses per-id paths to keep label cardinality bounded.
func metricEndpoint(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	return "/" + parts[0]
}
