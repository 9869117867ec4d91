// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package config loads and validates the service configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an
// optional YAML file, then SYNADMIN_-prefixed environment variables.
// Precedence: ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"synadmin.yaml",
	"synadmin.yml",
	"/etc/synadmin/config.yaml",
	"/etc/synadmin/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "SYNADMIN_CONFIG"

// envPrefix is stripped from environment variables before mapping them to
// config paths: SYNADMIN_HOMESERVER_URL -> homeserver.url.
const envPrefix = "SYNADMIN_"

// Config is the root service configuration.
type Config struct {
	Homeserver HomeserverConfig `koanf:"homeserver"`
	Secondary  SecondaryConfig  `koanf:"secondary"`
	Server     ServerConfig     `koanf:"server"`
	Session    SessionConfig    `koanf:"session"`
	Cache      CacheConfig      `koanf:"cache"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// HomeserverConfig describes the primary admin API target.
type HomeserverConfig struct {
	// URL is the homeserver base URL, e.g. https://synapse.example.com.
	URL string `koanf:"url" validate:"required,url"`

	// Timeout applies to each upstream HTTP request.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RefreshThreshold is the remaining token validity below which the
	// transport refreshes the access token before sending a request.
	RefreshThreshold time.Duration `koanf:"refresh_threshold" validate:"gt=0"`

	// MaxRetries bounds retries on HTTP 429 responses.
	MaxRetries int `koanf:"max_retries" validate:"gte=0,lte=10"`

	// RetryBaseDelay is the base delay for exponential backoff on 429.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"gt=0"`
}

// SecondaryConfig describes the scheduling/billing/support API.
type SecondaryConfig struct {
	// URL is the secondary API base URL. Empty disables the extension
	// endpoints entirely.
	URL string `koanf:"url" validate:"omitempty,url"`

	// Locale is sent as Accept-Language on every secondary API call.
	Locale string `koanf:"locale"`

	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// ServerConfig describes the console-facing HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// CORSOrigins lists allowed origins for the console front end.
	CORSOrigins []string `koanf:"cors_origins"`
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	// Store selects the session store backend: "badger" or "memory".
	Store string `koanf:"store" validate:"oneof=badger memory"`

	// Path is the Badger data directory (ignored for the memory store).
	Path string `koanf:"path"`
}

// CacheConfig controls the reference-list cache.
type CacheConfig struct {
	// Enabled toggles memoization of fully-fetched reference collections.
	Enabled bool `koanf:"enabled"`
}

// LoggingConfig mirrors logging.Config for koanf loading.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied.
// Defaults are loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Homeserver: HomeserverConfig{
			URL:              "",
			Timeout:          30 * time.Second,
			RefreshThreshold: 120 * time.Second,
			MaxRetries:       5,
			RetryBaseDelay:   time.Second,
		},
		Secondary: SecondaryConfig{
			URL:     "",
			Locale:  "en",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8686,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
		},
		Session: SessionConfig{
			Store: "badger",
			Path:  "/data/synadmin/session",
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// SYNADMIN_ environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// SYNADMIN_HOMESERVER_REFRESH_THRESHOLD -> homeserver.refresh_threshold
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Session.Store == "badger" && c.Session.Path == "" {
		return fmt.Errorf("session.path is required when session.store is badger")
	}
	return nil
}

// findConfigFile searches for a config file, env override first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps SYNADMIN_SECTION_SOME_KEY to section.some_key.
// The first underscore separates the section; the rest stay joined so that
// multi-word keys (refresh_threshold) survive the round trip.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

// sliceConfigPaths defines which paths are parsed as comma-separated slices
// when supplied through environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated env strings to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// ListenAddr returns the host:port pair for the HTTP listener.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
