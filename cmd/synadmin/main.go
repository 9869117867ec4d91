// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package main is the entry point for the Synadmin console backend.
//
// Synadmin exposes a uniform CRUD API over a homeserver's heterogeneous
// admin endpoints, plus the scheduling/billing/support extension API.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layering (defaults, YAML file, SYNADMIN_ env)
//  2. Session store: BadgerDB (durable) or in-memory
//  3. Token refresher and authenticated transport (circuit breaker, 429 retry)
//  4. CRUD adapter, reference cache, lifecycle orchestrator
//  5. Secondary API client (optional, disabled without a URL)
//  6. Chi HTTP server with CORS, /healthz, and Prometheus /metrics
//
// Shutdown on SIGINT/SIGTERM drains in-flight requests for 10 seconds,
// then closes the session store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/synadmin/internal/api"
	"github.com/tomtom215/synadmin/internal/config"
	"github.com/tomtom215/synadmin/internal/extapi"
	"github.com/tomtom215/synadmin/internal/lifecycle"
	"github.com/tomtom215/synadmin/internal/logging"
	"github.com/tomtom215/synadmin/internal/provider"
	"github.com/tomtom215/synadmin/internal/refcache"
	"github.com/tomtom215/synadmin/internal/session"
	"github.com/tomtom215/synadmin/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("homeserver", cfg.Homeserver.URL).
		Str("session_store", cfg.Session.Store).
		Bool("secondary_api", cfg.Secondary.URL != "").
		Msg("Starting Synadmin")

	store, closeStore, err := newSessionStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer closeStore()

	refresher := session.NewRefresher(store, nil)
	tr := transport.New(&cfg.Homeserver, store, refresher)
	orch := lifecycle.New(provider.New(tr, refcache.New(cfg.Cache.Enabled), store))

	ext := extapi.New(&cfg.Secondary, store)
	if ext == nil {
		logging.Info().Msg("Secondary API disabled (no URL configured)")
	}

	handler := api.NewHandler(orch, ext, store, cfg)
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           api.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: cfg.Server.Timeout,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("HTTP server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("Graceful shutdown incomplete")
	}
	logging.Info().Msg("Shutdown complete")
}

// newSessionStore opens the configured session backend and returns it with
// its cleanup function.
func newSessionStore(cfg *config.Config) (session.Store, func(), error) {
	if cfg.Session.Store == "memory" {
		logging.Warn().Msg("Using in-memory session store; sessions will not survive restarts")
		return session.NewMemoryStore(), func() {}, nil
	}

	opts := badger.DefaultOptions(cfg.Session.Path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open badger at %s: %w", cfg.Session.Path, err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}
	return session.NewBadgerStore(db), cleanup, nil
}
