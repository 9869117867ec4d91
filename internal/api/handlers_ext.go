// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/synadmin/internal/extapi"
)

// writeExtResult maps the secondary API outcome vocabulary onto HTTP: a
// maintenance window is 503 with an explicit flag, an upstream error is
// 502 with the envelope, success writes data (or 204 when there is none).
func writeExtResult(w http.ResponseWriter, res extapi.Result, data any) {
	switch {
	case res.Maintenance:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"maintenance": true})
	case !res.OK:
		writeJSON(w, http.StatusBadGateway, errorBody{Errcode: res.Errcode, Message: res.Message})
	case data == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	}
}

// writeExtError handles call-level failures, distinguishing an
// unconfigured secondary API from a transport problem.
func writeExtError(w http.ResponseWriter, err error) {
	if errors.Is(err, extapi.ErrDisabled) {
		writeJSON(w, http.StatusNotImplemented, errorBody{Errcode: "M_UNRECOGNIZED", Message: "secondary API not configured"})
		return
	}
	writeJSON(w, http.StatusBadGateway, errorBody{Errcode: "CONN_FAILED", Message: err.Error()})
}

func (h *Handler) ExtStatus(w http.ResponseWriter, r *http.Request) {
	status, res, err := h.ext.Status(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, status)
}

func (h *Handler) ExtLock(w http.ResponseWriter, r *http.Request) {
	locked, res, err := h.ext.Locked(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, map[string]any{"locked": locked})
}

func (h *Handler) ExtNotifications(w http.ResponseWriter, r *http.Request) {
	list, res, err := h.ext.Notifications(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, list)
}

func (h *Handler) ExtClearNotifications(w http.ResponseWriter, r *http.Request) {
	res, err := h.ext.ClearNotifications(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}

func (h *Handler) ExtCommands(w http.ResponseWriter, r *http.Request) {
	list, res, err := h.ext.Commands(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, list)
}

func (h *Handler) ExtRunCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string         `json:"command"`
		Args    map[string]any `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed command request"})
		return
	}

	res, err := h.ext.RunCommand(r.Context(), req.Command, req.Args)
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}

func (h *Handler) ExtSchedules(w http.ResponseWriter, r *http.Request) {
	list, res, err := h.ext.Schedules(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, list)
}

func (h *Handler) ExtCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var s extapi.Schedule
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed scheduled task"})
		return
	}

	res, err := h.ext.CreateSchedule(r.Context(), s)
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}

func (h *Handler) ExtUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var s extapi.Schedule
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed scheduled task"})
		return
	}
	s.ID = chi.URLParam(r, "id")

	res, err := h.ext.UpdateSchedule(r.Context(), s)
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}

func (h *Handler) ExtDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	res, err := h.ext.DeleteSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}

func (h *Handler) ExtRecurrings(w http.ResponseWriter, r *http.Request) {
	list, res, err := h.ext.Recurrings(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, list)
}

func (h *Handler) ExtCreateRecurring(w http.ResponseWriter, r *http.Request) {
	var rec extapi.Recurring
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed recurring task"})
		return
	}

	res, err := h.ext.CreateRecurring(r.Context(), rec)
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}

func (h *Handler) ExtUpdateRecurring(w http.ResponseWriter, r *http.Request) {
	var rec extapi.Recurring
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed recurring task"})
		return
	}
	rec.ID = chi.URLParam(r, "id")

	res, err := h.ext.UpdateRecurring(r.Context(), rec)
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}

func (h *Handler) ExtDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	res, err := h.ext.DeleteRecurring(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}

func (h *Handler) ExtPayments(w http.ResponseWriter, r *http.Request) {
	list, res, err := h.ext.Payments(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, list)
}

// ExtInvoice streams the invoice document through with its upstream
// content type.
func (h *Handler) ExtInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, res, err := h.ext.DownloadInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeExtError(w, err)
		return
	}
	if !res.OK {
		writeExtResult(w, res, nil)
		return
	}

	contentType := invoice.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(invoice.Data)
}

func (h *Handler) ExtSupportRequests(w http.ResponseWriter, r *http.Request) {
	list, res, err := h.ext.SupportRequests(r.Context())
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, list)
}

func (h *Handler) ExtSupportRequest(w http.ResponseWriter, r *http.Request) {
	ticket, res, err := h.ext.SupportRequestByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, ticket)
}

func (h *Handler) ExtCreateSupportRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Errcode: "M_BAD_JSON", Message: "malformed support request"})
		return
	}

	res, err := h.ext.CreateSupportRequest(r.Context(), req.Subject, req.Body)
	if err != nil {
		writeExtError(w, err)
		return
	}
	writeExtResult(w, res, nil)
}
