// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi route tree for the console.
func NewRouter(h *Handler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	// Extension RPCs are registered before the generic resource routes so
	// "ext" never resolves as a resource name.
	r.Route("/v1/ext", func(r chi.Router) {
		r.Get("/status", h.ExtStatus)
		r.Get("/lock", h.ExtLock)

		r.Get("/notifications", h.ExtNotifications)
		r.Delete("/notifications", h.ExtClearNotifications)

		r.Get("/commands", h.ExtCommands)
		r.Post("/commands", h.ExtRunCommand)

		r.Get("/schedules", h.ExtSchedules)
		r.Post("/schedules", h.ExtCreateSchedule)
		r.Put("/schedules/{id}", h.ExtUpdateSchedule)
		r.Delete("/schedules/{id}", h.ExtDeleteSchedule)

		r.Get("/recurrings", h.ExtRecurrings)
		r.Post("/recurrings", h.ExtCreateRecurring)
		r.Put("/recurrings/{id}", h.ExtUpdateRecurring)
		r.Delete("/recurrings/{id}", h.ExtDeleteRecurring)

		r.Get("/payments", h.ExtPayments)
		r.Get("/payments/{id}/invoice", h.ExtInvoice)

		r.Get("/support", h.ExtSupportRequests)
		r.Post("/support", h.ExtCreateSupportRequest)
		r.Get("/support/{id}", h.ExtSupportRequest)
	})

	r.Route("/v1/{resource}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Put("/", h.UpdateMany)
		r.Delete("/", h.DeleteMany)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Get("/{reference}", h.Reference)
		})
	})

	return r
}
