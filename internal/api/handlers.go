// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package api exposes the console's HTTP surface: the generic CRUD
// contract over registered resources, the secondary API extension RPCs,
// login/logout, health, and metrics.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/synadmin/internal/config"
	"github.com/tomtom215/synadmin/internal/extapi"
	"github.com/tomtom215/synadmin/internal/lifecycle"
	"github.com/tomtom215/synadmin/internal/logging"
	"github.com/tomtom215/synadmin/internal/provider"
	"github.com/tomtom215/synadmin/internal/registry"
	"github.com/tomtom215/synadmin/internal/session"
	"github.com/tomtom215/synadmin/internal/transport"
)

// defaultPerPage applies when the console sends no pagination.
const defaultPerPage = 10

// Handler carries the dependencies of every endpoint.
type Handler struct {
	orch       *lifecycle.Orchestrator
	ext        *extapi.Client
	store      session.Store
	cfg        *config.Config
	httpClient *http.Client
	startTime  time.Time
}

// NewHandler wires the endpoint dependencies together.
func NewHandler(orch *lifecycle.Orchestrator, ext *extapi.Client, store session.Store, cfg *config.Config) *Handler {
	return &Handler{
		orch:       orch,
		ext:        ext,
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Homeserver.Timeout},
		startTime:  time.Now(),
	}
}

// errorBody is the error envelope returned to the console.
type errorBody struct {
	Errcode string `json:"errcode"`
	Message string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps internal failures onto console-facing statuses. An
// invalid upstream token means the stored session is dead; the console
// sees 401 and runs its logout flow.
func writeError(w http.ResponseWriter, err error) {
	if transport.IsAuthInvalid(err) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Errcode: "M_UNKNOWN_TOKEN", Message: "session invalid"})
		return
	}

	var apiErr *transport.APIError
	switch {
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status == 0 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorBody{Errcode: apiErr.Errcode, Message: apiErr.Message})
	case errors.Is(err, registry.ErrUnknownResource):
		writeJSON(w, http.StatusNotFound, errorBody{Errcode: "M_NOT_FOUND", Message: err.Error()})
	case errors.Is(err, provider.ErrInvalidResponseShape):
		writeJSON(w, http.StatusBadGateway, errorBody{Errcode: "M_UNKNOWN", Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Errcode: "M_UNKNOWN", Message: err.Error()})
	}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Login performs the password login against the homeserver and persists
// the session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseURL  string `json:"base_url"`
		Username string `json:"username"`
		Password string `json:"password"`
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed login request"})
		return
	}
	if req.BaseURL == "" {
		req.BaseURL = h.cfg.Homeserver.URL
	}

	sess, err := session.Login(r.Context(), h.store, h.httpClient, session.Credentials{
		BaseURL:  req.BaseURL,
		Username: req.Username,
		Password: req.Password,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Errcode: "M_FORBIDDEN", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     sess.UserID,
		"home_server": sess.HomeServer,
		"device_id":   sess.DeviceID,
	})
}

// Logout clears the stored session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := session.Logout(r.Context(), h.store); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List serves GET /v1/{resource}: a filtered, sorted page of the
// collection, or a get-many batch when ids are given.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	query := r.URL.Query()

	if ids, batch := query["ids"]; batch {
		records, err := h.orch.Provider().GetMany(r.Context(), resource, ids)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, provider.ListResult{Data: records, Total: len(records)})
		return
	}

	params := provider.GetListParams{
		Pagination: paginationFrom(query.Get("page"), query.Get("per_page")),
		Sort:       provider.Sort{Field: query.Get("sort"), Order: query.Get("order")},
	}
	if rawFilter := query.Get("filter"); rawFilter != "" {
		if err := json.Unmarshal([]byte(rawFilter), &params.Filter); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed filter"})
			return
		}
	}

	result, err := h.orch.Provider().GetList(r.Context(), resource, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Get serves GET /v1/{resource}/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orch.Provider().GetOne(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

// Reference serves GET /v1/{resource}/{id}/{reference}: a page of a
// sub-collection scoped under the parent record.
func (h *Handler) Reference(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := h.orch.Provider().GetManyReference(r.Context(), chi.URLParam(r, "reference"), provider.GetManyReferenceParams{
		ID:         chi.URLParam(r, "id"),
		Pagination: paginationFrom(query.Get("page"), query.Get("per_page")),
		Sort:       provider.Sort{Field: query.Get("sort"), Order: query.Get("order")},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Create serves POST /v1/{resource}.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed request body"})
		return
	}

	rec, err := h.orch.Provider().Create(r.Context(), chi.URLParam(r, "resource"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": rec})
}

// Update serves PUT /v1/{resource}/{id} through the lifecycle hooks.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed request body"})
		return
	}

	rec, err := h.orch.Update(r.Context(), chi.URLParam(r, "resource"), provider.UpdateParams{
		ID:   chi.URLParam(r, "id"),
		Data: data,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

// UpdateMany serves PUT /v1/{resource}: the same patch applied to a
// list of ids.
func (h *Handler) UpdateMany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs  []string       `json:"ids"`
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed batch update"})
		return
	}

	records, err := h.orch.Provider().UpdateMany(r.Context(), chi.URLParam(r, "resource"), req.IDs, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

// Delete serves DELETE /v1/{resource}/{id} through the lifecycle hooks.
// The body optionally carries previous_data and meta.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PreviousData registry.UIRecord `json:"previous_data"`
		Meta         map[string]any    `json:"meta"`
	}
	// An empty body is a plain delete.
	_ = json.NewDecoder(r.Body).Decode(&req)

	rec, err := h.orch.Delete(r.Context(), chi.URLParam(r, "resource"), provider.DeleteParams{
		ID:           chi.URLParam(r, "id"),
		PreviousData: req.PreviousData,
		Meta:         req.Meta,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

// DeleteMany serves DELETE /v1/{resource} with an id list in the body.
func (h *Handler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs  []string       `json:"ids"`
		Meta map[string]any `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed batch delete"})
		return
	}

	deleted, err := h.orch.DeleteMany(r.Context(), chi.URLParam(r, "resource"), req.IDs, req.Meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": deleted})
}

func paginationFrom(page, perPage string) provider.Pagination {
	p := provider.Pagination{Page: 1, PerPage: defaultPerPage}
	if n, err := strconv.Atoi(page); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(perPage); err == nil && n > 0 {
		p.PerPage = n
	}
	return p
}
