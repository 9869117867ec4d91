// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package lifecycle decomposes console mutations that span several admin
// API calls. A single logical user update may carry rate-limit overrides,
// a suspension toggle, a deactivation, and an avatar change; each becomes
// its own side-effect request, issued in a fixed order before the residual
// patch goes out as a plain PUT. The first failing side call aborts the
// logical operation.
package lifecycle

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tomtom215/synadmin/internal/logging"
	"github.com/tomtom215/synadmin/internal/provider"
	"github.com/tomtom215/synadmin/internal/refcache"
	"github.com/tomtom215/synadmin/internal/registry"
	"github.com/tomtom215/synadmin/internal/transport"
)

const (
	adminV1      = "/_synapse/admin/v1"
	mediaUpload  = "/_matrix/media/v3/upload"
	resUsers     = "users"
	resRooms     = "rooms"
	resJoinedRms = "joined_rooms"
)

// Orchestrator wraps the CRUD adapter with before/after mutation hooks.
type Orchestrator struct {
	provider *provider.Provider
	tr       *transport.Client
	cache    *refcache.Cache
}

// New builds an Orchestrator around a provider.
func New(p *provider.Provider) *Orchestrator {
	return &Orchestrator{provider: p, tr: p.Transport(), cache: p.Cache()}
}

// Provider exposes the wrapped adapter for operations without hooks.
func (o *Orchestrator) Provider() *provider.Provider {
	return o.provider
}

// Update runs the before-update hooks for the resource, then forwards the
// residual patch to the adapter.
func (o *Orchestrator) Update(ctx context.Context, resource string, params provider.UpdateParams) (registry.UIRecord, error) {
	if resource == resUsers {
		residual, err := o.beforeUserUpdate(ctx, params.ID, params.Data)
		if err != nil {
			return nil, err
		}
		params.Data = residual
	}
	return o.provider.Update(ctx, resource, params)
}

// Delete runs before-delete companions, forwards to the adapter, then runs
// after-delete invalidation.
func (o *Orchestrator) Delete(ctx context.Context, resource string, params provider.DeleteParams) (registry.UIRecord, error) {
	if resource == resUsers {
		if err := o.beforeUserDelete(ctx, params.ID, params.Meta); err != nil {
			return nil, err
		}
	}

	rec, err := o.provider.Delete(ctx, resource, params)
	if err != nil {
		return nil, err
	}

	o.afterDelete(resource)
	return rec, nil
}

// DeleteMany applies the same hooks per id; the adapter's sequential
// semantics apply, so the first failure stops the batch.
func (o *Orchestrator) DeleteMany(ctx context.Context, resource string, ids []string, meta map[string]any) ([]string, error) {
	if resource == resUsers {
		for _, id := range ids {
			if err := o.beforeUserDelete(ctx, id, meta); err != nil {
				return nil, err
			}
		}
	}

	deleted, err := o.provider.DeleteMany(ctx, resource, ids, meta)
	if err != nil {
		return deleted, err
	}

	o.afterDelete(resource)
	return deleted, nil
}

// beforeUserUpdate issues the side-effect calls encoded in a user patch and
// returns the residual fields for the plain PUT. Order matters: rate
// limits, suspension, deactivation, then avatar changes; a deactivation
// must not race the calls before it.
func (o *Orchestrator) beforeUserUpdate(ctx context.Context, id string, data map[string]any) (map[string]any, error) {
	residual := make(map[string]any, len(data))
	for k, v := range data {
		residual[k] = v
	}

	if limits, present := residual["rate_limits"]; present {
		delete(residual, "rate_limits")
		if err := o.applyRateLimits(ctx, id, limits); err != nil {
			return nil, fmt.Errorf("rate limit override: %w", err)
		}
	}

	if suspended, present := residual["suspended"]; present {
		delete(residual, "suspended")
		if err := o.applySuspension(ctx, id, asBool(suspended)); err != nil {
			return nil, fmt.Errorf("suspension: %w", err)
		}
	}

	if deactivated, present := residual["deactivated"]; present && asBool(deactivated) {
		erase := asBool(residual["erase"])
		delete(residual, "deactivated")
		delete(residual, "erase")
		if err := o.deactivate(ctx, id, erase); err != nil {
			return nil, fmt.Errorf("deactivation: %w", err)
		}
	} else {
		// Reactivation (deactivated=false) travels in the residual PUT.
		delete(residual, "erase")
	}

	if erase, present := residual["avatar_erase"]; present {
		delete(residual, "avatar_erase")
		if asBool(erase) {
			// null is the documented reset sentinel for avatar_url.
			residual["avatar_url"] = nil
		}
	}

	if file, present := residual["avatar_file"]; present {
		delete(residual, "avatar_file")
		mimetype := asString(residual["avatar_mimetype"])
		delete(residual, "avatar_mimetype")
		contentURI, err := o.uploadAvatar(ctx, asString(file), mimetype)
		if err != nil {
			return nil, fmt.Errorf("avatar upload: %w", err)
		}
		residual["avatar_url"] = contentURI
	}

	return residual, nil
}

// applyRateLimits sets or clears a user's rate limit override. A nil or
// empty value clears it.
func (o *Orchestrator) applyRateLimits(ctx context.Context, id string, limits any) error {
	endpoint := adminV1 + "/users/" + url.PathEscape(id) + "/override_ratelimit"

	body, hasValues := limits.(map[string]any)
	if !hasValues || len(body) == 0 {
		return o.tr.DoJSON(ctx, http.MethodDelete, endpoint, nil, nil, nil)
	}
	return o.tr.DoJSON(ctx, http.MethodPost, endpoint, nil, body, nil)
}

func (o *Orchestrator) applySuspension(ctx context.Context, id string, suspend bool) error {
	endpoint := adminV1 + "/suspend/" + url.PathEscape(id)
	return o.tr.DoJSON(ctx, http.MethodPut, endpoint, nil, map[string]any{"suspend": suspend}, nil)
}

func (o *Orchestrator) deactivate(ctx context.Context, id string, erase bool) error {
	endpoint := adminV1 + "/deactivate/" + url.PathEscape(id)
	return o.tr.DoJSON(ctx, http.MethodPost, endpoint, nil, map[string]any{"erase": erase}, nil)
}

// uploadAvatar pushes the image to the media repository and returns the
// mxc content URI. The input is base64, optionally wrapped in a data URL
// carrying its own mimetype.
func (o *Orchestrator) uploadAvatar(ctx context.Context, encoded, mimetype string) (string, error) {
	if rest, found := strings.CutPrefix(encoded, "data:"); found {
		meta, payload, ok := strings.Cut(rest, ",")
		if !ok {
			return "", fmt.Errorf("malformed data URL")
		}
		encoded = payload
		if mt, _, _ := strings.Cut(meta, ";"); mt != "" {
			mimetype = mt
		}
	}
	if mimetype == "" {
		mimetype = "image/png"
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode avatar payload: %w", err)
	}

	var resp struct {
		ContentURI string `json:"content_uri"`
	}
	if err := o.tr.Upload(ctx, mediaUpload, mimetype, data, &resp); err != nil {
		return "", err
	}
	if resp.ContentURI == "" {
		return "", fmt.Errorf("media repository returned no content URI")
	}
	return resp.ContentURI, nil
}

// beforeUserDelete runs the metadata-requested companions of a user
// deletion: purging uploaded media and redacting sent events.
func (o *Orchestrator) beforeUserDelete(ctx context.Context, id string, meta map[string]any) error {
	if asBool(meta["purge_media"]) {
		endpoint := adminV1 + "/users/" + url.PathEscape(id) + "/media"
		if err := o.tr.DoJSON(ctx, http.MethodDelete, endpoint, nil, nil, nil); err != nil {
			return fmt.Errorf("media purge: %w", err)
		}
		logging.Info().Str("user_id", id).Msg("purged user media before deactivation")
	}

	if asBool(meta["redact_events"]) {
		endpoint := adminV1 + "/user/" + url.PathEscape(id) + "/redact"
		body := map[string]any{"rooms": []string{}}
		if err := o.tr.DoJSON(ctx, http.MethodPost, endpoint, nil, body, nil); err != nil {
			return fmt.Errorf("event redaction: %w", err)
		}
		logging.Info().Str("user_id", id).Msg("redacted user events before deactivation")
	}

	return nil
}

// afterDelete invalidates reference collections a deletion could have
// changed. Removing a room changes every member's joined_rooms list.
func (o *Orchestrator) afterDelete(resource string) {
	if resource == resRooms {
		o.cache.Invalidate(resJoinedRms)
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b == "1" || b == "true"
	default:
		return false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
