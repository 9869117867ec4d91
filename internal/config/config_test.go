// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("SYNADMIN_HOMESERVER_URL", "https://synapse.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Homeserver.RefreshThreshold != 120*time.Second {
		t.Errorf("refresh_threshold: expected 120s, got %v", cfg.Homeserver.RefreshThreshold)
	}
	if cfg.Homeserver.Timeout != 30*time.Second {
		t.Errorf("timeout: expected 30s, got %v", cfg.Homeserver.Timeout)
	}
	if cfg.Server.Port != 8686 {
		t.Errorf("port: expected 8686, got %d", cfg.Server.Port)
	}
	if cfg.Session.Store != "badger" {
		t.Errorf("session store: expected badger, got %q", cfg.Session.Store)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should be enabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level: expected info, got %q", cfg.Logging.Level)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SYNADMIN_HOMESERVER_URL", "https://synapse.example.com")
	t.Setenv("SYNADMIN_HOMESERVER_REFRESH_THRESHOLD", "90s")
	t.Setenv("SYNADMIN_SESSION_STORE", "memory")
	t.Setenv("SYNADMIN_SERVER_CORS_ORIGINS", "https://console.example.com, https://alt.example.com")
	t.Setenv("SYNADMIN_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Homeserver.URL != "https://synapse.example.com" {
		t.Errorf("url: got %q", cfg.Homeserver.URL)
	}
	if cfg.Homeserver.RefreshThreshold != 90*time.Second {
		t.Errorf("refresh_threshold: expected 90s, got %v", cfg.Homeserver.RefreshThreshold)
	}
	if cfg.Session.Store != "memory" {
		t.Errorf("session store: expected memory, got %q", cfg.Session.Store)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != "https://console.example.com" {
		t.Errorf("cors_origins: got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level: expected debug, got %q", cfg.Logging.Level)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing homeserver url",
			mutate:  func(c *Config) { c.Homeserver.URL = "" },
			wantErr: true,
		},
		{
			name:    "malformed homeserver url",
			mutate:  func(c *Config) { c.Homeserver.URL = "not-a-url" },
			wantErr: true,
		},
		{
			name:    "bad session store",
			mutate:  func(c *Config) { c.Session.Store = "redis" },
			wantErr: true,
		},
		{
			name: "badger store without path",
			mutate: func(c *Config) {
				c.Session.Store = "badger"
				c.Session.Path = ""
			},
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "zero refresh threshold",
			mutate:  func(c *Config) { c.Homeserver.RefreshThreshold = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Homeserver.URL = "https://synapse.example.com"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"SYNADMIN_HOMESERVER_URL", "homeserver.url"},
		{"SYNADMIN_HOMESERVER_REFRESH_THRESHOLD", "homeserver.refresh_threshold"},
		{"SYNADMIN_SESSION_STORE", "session.store"},
		{"SYNADMIN_SERVER_CORS_ORIGINS", "server.cors_origins"},
	}

	for _, tt := range tests {
		if got := envTransform(tt.input); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
