// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package registry

import (
	"errors"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
)

func TestLookupUnknownResource(t *testing.T) {
	_, err := Lookup("flux_capacitors")
	if !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
}

func TestLookupKnownResources(t *testing.T) {
	for _, name := range []string{
		"users", "rooms", "reports", "registration_tokens", "destinations",
		"devices", "pushers", "joined_rooms", "users_media", "room_members",
		"forward_extremities", "room_state",
	} {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%q) failed: %v", name, err)
		}
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	register("users", &Descriptor{})
}

func TestUsersMapCoercesWireBooleans(t *testing.T) {
	var server map[string]any
	// admin/deactivated arrive as 0/1 integers from older homeservers.
	payload := `{"name":"@alice:example.com","admin":1,"deactivated":0,"is_guest":0,"erased":false,"displayname":"Alice"}`
	if err := json.Unmarshal([]byte(payload), &server); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	d, err := Lookup("users")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	rec := d.Map(server)

	if rec.ID() != "@alice:example.com" {
		t.Errorf("id: got %q", rec.ID())
	}
	if rec["admin"] != true {
		t.Errorf("admin: expected true, got %v", rec["admin"])
	}
	if rec["deactivated"] != false {
		t.Errorf("deactivated: expected false, got %v", rec["deactivated"])
	}
	if rec["displayname"] != "Alice" {
		t.Errorf("displayname: got %v", rec["displayname"])
	}
}

func TestMapIsDeterministic(t *testing.T) {
	d, err := Lookup("rooms")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	server := map[string]any{"room_id": "!abc:example.com", "name": "Lobby"}
	first := d.Map(server)
	second := d.Map(server)

	if first.ID() != second.ID() || first.ID() != "!abc:example.com" {
		t.Errorf("id not stable: %q vs %q", first.ID(), second.ID())
	}
}

func TestMapDoesNotAliasServerRecord(t *testing.T) {
	d, _ := Lookup("rooms")
	server := map[string]any{"room_id": "!abc:example.com"}
	rec := d.Map(server)
	rec["name"] = "mutated"

	if _, leaked := server["name"]; leaked {
		t.Error("mapper must not mutate the server payload")
	}
}

func TestRegistrationTokensTotalIsArrayLength(t *testing.T) {
	d, err := Lookup("registration_tokens")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	var resp map[string]any
	payload := `{"registration_tokens":[{"token":"abc"},{"token":"def"},{"token":"ghi"}]}`
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	// No explicit total field exists; the length is the total,
	// independent of paging inputs.
	for _, offset := range []int{0, 10, 40} {
		if got := d.Total(resp, offset, 20); got != 3 {
			t.Errorf("Total(offset=%d) = %d, want 3", offset, got)
		}
	}
}

func TestExplicitTotalIndependentOfPaging(t *testing.T) {
	d, _ := Lookup("users")
	resp := map[string]any{"users": []any{}, "total": float64(1234)}

	for _, offset := range []int{0, 20, 400} {
		for _, limit := range []int{10, 50} {
			if got := d.Total(resp, offset, limit); got != 1234 {
				t.Errorf("Total(offset=%d, limit=%d) = %d, want 1234", offset, limit, got)
			}
		}
	}
}

func TestDestinationsTotalEstimate(t *testing.T) {
	d, _ := Lookup("destinations")
	resp := map[string]any{"destinations": []any{map[string]any{}, map[string]any{}}}

	if got := d.Total(resp, 40, 20); got != 42 {
		t.Errorf("estimate: got %d, want 42", got)
	}
}

func TestUsersCreateOverrideIsPutByID(t *testing.T) {
	d, _ := Lookup("users")
	spec := d.Create(map[string]any{"id": "@bob:example.com", "displayname": "Bob"})

	if spec.Method != http.MethodPut {
		t.Errorf("method: got %q", spec.Method)
	}
	if spec.Endpoint != "/_synapse/admin/v2/users/@bob:example.com" {
		t.Errorf("endpoint: got %q", spec.Endpoint)
	}
	body, ok := spec.Body.(map[string]any)
	if !ok {
		t.Fatalf("body type: %T", spec.Body)
	}
	if _, hasID := body["id"]; hasID {
		t.Error("id must be stripped from the PUT body")
	}
	if body["displayname"] != "Bob" {
		t.Errorf("displayname: got %v", body["displayname"])
	}
}

func TestUsersDeleteIsDeactivation(t *testing.T) {
	d, _ := Lookup("users")
	spec := d.Delete(DeleteParams{
		ID:   "@bob:example.com",
		Meta: map[string]any{"erase": true},
	})

	if spec.Method != http.MethodPost {
		t.Errorf("method: got %q", spec.Method)
	}
	if spec.Endpoint != "/_synapse/admin/v1/deactivate/@bob:example.com" {
		t.Errorf("endpoint: got %q", spec.Endpoint)
	}
	if !spec.EmptyResponse {
		t.Error("deactivation must be marked EmptyResponse")
	}
	body := spec.Body.(map[string]any)
	if body["erase"] != true {
		t.Errorf("erase: got %v", body["erase"])
	}
}

func TestDestinationsDeleteIsResetConnection(t *testing.T) {
	d, _ := Lookup("destinations")
	spec := d.Delete(DeleteParams{ID: "remote.example.org"})

	if spec.Method != http.MethodPost {
		t.Errorf("method: got %q", spec.Method)
	}
	want := "/_synapse/admin/v1/federation/destinations/remote.example.org/reset_connection"
	if spec.Endpoint != want {
		t.Errorf("endpoint: got %q", spec.Endpoint)
	}
}

func TestJoinedRoomsMapWrapsBareStrings(t *testing.T) {
	d, _ := Lookup("joined_rooms")
	rec := d.Map("!lobby:example.com")
	if rec.ID() != "!lobby:example.com" {
		t.Errorf("id: got %q", rec.ID())
	}
}

func TestReferenceBuilders(t *testing.T) {
	tests := []struct {
		resource string
		parentID string
		want     string
	}{
		{"joined_rooms", "@alice:example.com", "/_synapse/admin/v1/users/@alice:example.com/joined_rooms"},
		{"devices", "@alice:example.com", "/_synapse/admin/v2/users/@alice:example.com/devices"},
		// PathEscape leaves '@' and ':' alone but escapes '!' in room ids.
		{"room_members", "!lobby:example.com", "/_synapse/admin/v1/rooms/%21lobby:example.com/joined_members"},
	}

	for _, tt := range tests {
		d, err := Lookup(tt.resource)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", tt.resource, err)
		}
		if got := d.Reference(tt.parentID); got != tt.want {
			t.Errorf("%s reference: got %q, want %q", tt.resource, got, tt.want)
		}
	}
}
