// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package registry

import (
	"net/http"
	"net/url"
)

// Admin API path roots. v1 and v2 coexist upstream; each descriptor pins
// the version its endpoint actually lives under.
const (
	adminV1 = "/_synapse/admin/v1"
	adminV2 = "/_synapse/admin/v2"
)

// copyRecord shallow-copies a server record so mappers never alias the
// decoded payload.
func copyRecord(server any) UIRecord {
	m, ok := server.(map[string]any)
	if !ok {
		return UIRecord{}
	}
	rec := make(UIRecord, len(m)+1)
	for k, v := range m {
		rec[k] = v
	}
	return rec
}

//nolint:gochecknoinits // the descriptor table is static configuration
func init() {
	register("users", &Descriptor{
		Path:          adminV2 + "/users",
		CollectionKey: "users",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["name"])
			// Older homeservers emit 0/1 for these flags.
			rec["admin"] = asBool(rec["admin"])
			rec["deactivated"] = asBool(rec["deactivated"])
			rec["is_guest"] = asBool(rec["is_guest"])
			rec["erased"] = asBool(rec["erased"])
			return rec
		},
		Total: totalField("total"),
		// User creation is a PUT against the user id, not a collection POST.
		Create: func(data map[string]any) RequestSpec {
			id := asString(data["id"])
			body := make(map[string]any, len(data))
			for k, v := range data {
				if k != "id" {
					body[k] = v
				}
			}
			return RequestSpec{
				Endpoint: adminV2 + "/users/" + url.PathEscape(id),
				Method:   http.MethodPut,
				Body:     body,
			}
		},
		// Deleting a user is semantically a deactivation.
		Delete: func(params DeleteParams) RequestSpec {
			erase := asBool(params.Meta["erase"])
			return RequestSpec{
				Endpoint:      adminV1 + "/deactivate/" + url.PathEscape(params.ID),
				Method:        http.MethodPost,
				Body:          map[string]any{"erase": erase},
				EmptyResponse: true,
			}
		},
	})

	register("rooms", &Descriptor{
		Path:          adminV1 + "/rooms",
		CollectionKey: "rooms",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["room_id"])
			rec["federatable"] = asBool(rec["federatable"])
			rec["public"] = asBool(rec["public"])
			return rec
		},
		Total: totalField("total_rooms"),
		Delete: func(params DeleteParams) RequestSpec {
			block := asBool(params.Meta["block"])
			return RequestSpec{
				Endpoint: adminV2 + "/rooms/" + url.PathEscape(params.ID),
				Method:   http.MethodDelete,
				Body:     map[string]any{"block": block, "purge": true},
			}
		},
	})

	register("reports", &Descriptor{
		Path:          adminV1 + "/event_reports",
		CollectionKey: "event_reports",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["id"])
			return rec
		},
		Total: totalField("total"),
	})

	register("registration_tokens", &Descriptor{
		Path:          adminV1 + "/registration_tokens",
		CollectionKey: "registration_tokens",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["token"])
			return rec
		},
		// The endpoint has no total field; the response is the whole set.
		Total: totalLen("registration_tokens"),
		Create: func(data map[string]any) RequestSpec {
			return RequestSpec{
				Endpoint: adminV1 + "/registration_tokens/new",
				Method:   http.MethodPost,
				Body:     data,
			}
		},
		Delete: func(params DeleteParams) RequestSpec {
			return RequestSpec{
				Endpoint:      adminV1 + "/registration_tokens/" + url.PathEscape(params.ID),
				Method:        http.MethodDelete,
				EmptyResponse: true,
			}
		},
	})

	register("destinations", &Descriptor{
		Path:          adminV1 + "/federation/destinations",
		CollectionKey: "destinations",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["destination"])
			return rec
		},
		Total: totalEstimate("destinations"),
		// "Deleting" a destination resets its backoff/connection state.
		Delete: func(params DeleteParams) RequestSpec {
			return RequestSpec{
				Endpoint:      adminV1 + "/federation/destinations/" + url.PathEscape(params.ID) + "/reset_connection",
				Method:        http.MethodPost,
				EmptyResponse: true,
			}
		},
	})

	register("devices", &Descriptor{
		CollectionKey: "devices",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["device_id"])
			return rec
		},
		Total: totalField("total"),
		Reference: func(parentID string) string {
			return adminV2 + "/users/" + url.PathEscape(parentID) + "/devices"
		},
	})

	register("pushers", &Descriptor{
		CollectionKey: "pushers",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["pushkey"])
			return rec
		},
		Total: totalField("total"),
		Reference: func(parentID string) string {
			return adminV1 + "/users/" + url.PathEscape(parentID) + "/pushers"
		},
	})

	// joined_rooms returns the entire collection in one response; the
	// adapter memoizes it and slices pages locally.
	register("joined_rooms", &Descriptor{
		CollectionKey: "joined_rooms",
		Map: func(server any) UIRecord {
			// Elements are bare room id strings.
			return UIRecord{"id": asString(server)}
		},
		Total: totalField("total"),
		Reference: func(parentID string) string {
			return adminV1 + "/users/" + url.PathEscape(parentID) + "/joined_rooms"
		},
	})

	register("users_media", &Descriptor{
		CollectionKey: "media",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["media_id"])
			rec["safe_from_quarantine"] = asBool(rec["safe_from_quarantine"])
			return rec
		},
		Total: totalField("total"),
		Reference: func(parentID string) string {
			return adminV1 + "/users/" + url.PathEscape(parentID) + "/media"
		},
	})

	// room_members arrives as a user-id → membership-detail object and is
	// reshaped into {id, value} records before mapping.
	register("room_members", &Descriptor{
		CollectionKey: "joined",
		MapShaped:     true,
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["id"])
			return rec
		},
		Total: totalLen("joined"),
		Reference: func(parentID string) string {
			return adminV1 + "/rooms/" + url.PathEscape(parentID) + "/joined_members"
		},
	})

	register("forward_extremities", &Descriptor{
		CollectionKey: "results",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["event_id"])
			return rec
		},
		Total: totalField("count"),
		Reference: func(parentID string) string {
			return adminV1 + "/rooms/" + url.PathEscape(parentID) + "/forward_extremities"
		},
	})

	register("room_state", &Descriptor{
		CollectionKey: "state",
		Map: func(server any) UIRecord {
			rec := copyRecord(server)
			rec["id"] = asString(rec["event_id"])
			return rec
		},
		Total: totalLen("state"),
		Reference: func(parentID string) string {
			return adminV1 + "/rooms/" + url.PathEscape(parentID) + "/state"
		},
	})
}
