// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/synadmin/internal/config"
	"github.com/tomtom215/synadmin/internal/refcache"
	"github.com/tomtom215/synadmin/internal/registry"
	"github.com/tomtom215/synadmin/internal/session"
	"github.com/tomtom215/synadmin/internal/transport"
)

type noopRefresher struct{}

func (noopRefresher) Refresh(context.Context) error { return nil }

func newTestProvider(t *testing.T, handler http.Handler) (*Provider, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := session.NewMemoryStore()
	sess := &session.Session{
		BaseURL:     server.URL,
		HomeServer:  "example.com",
		UserID:      "@admin:example.com",
		AccessToken: "syt_test",
	}
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	cfg := &config.HomeserverConfig{
		URL:              server.URL,
		Timeout:          5 * time.Second,
		RefreshThreshold: 120 * time.Second,
		MaxRetries:       1,
		RetryBaseDelay:   time.Millisecond,
	}
	tr := transport.New(cfg, store, noopRefresher{})
	return New(tr, refcache.New(true), store), server
}

func writeJSON(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if _, err := io.WriteString(w, body); err != nil {
		t.Errorf("write response: %v", err)
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body
}

func TestGetListPaginationAndSort(t *testing.T) {
	var gotQuery map[string][]string
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_synapse/admin/v1/rooms" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		writeJSON(t, w, `{"rooms":[{"room_id":"!lobby:example.com","name":"Lobby"}],"total_rooms":123}`)
	}))

	// Page 3 of 20 per page, name descending.
	result, err := p.GetList(context.Background(), "rooms", GetListParams{
		Pagination: Pagination{Page: 3, PerPage: 20},
		Sort:       Sort{Field: "name", Order: "DESC"},
	})
	if err != nil {
		t.Fatalf("GetList failed: %v", err)
	}

	wantQuery := map[string]string{"from": "40", "limit": "20", "order_by": "name", "dir": "b"}
	for key, want := range wantQuery {
		if got := gotQuery[key]; len(got) != 1 || got[0] != want {
			t.Errorf("query %s: got %v, want %q", key, got, want)
		}
	}

	if result.Total != 123 {
		t.Errorf("total: got %d", result.Total)
	}
	if len(result.Data) != 1 || result.Data[0].ID() != "!lobby:example.com" {
		t.Errorf("data: got %+v", result.Data)
	}
}

func TestGetListAscendingDirection(t *testing.T) {
	var gotDir string
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDir = r.URL.Query().Get("dir")
		writeJSON(t, w, `{"rooms":[],"total_rooms":0}`)
	}))

	_, err := p.GetList(context.Background(), "rooms", GetListParams{
		Pagination: Pagination{Page: 1, PerPage: 10},
		Sort:       Sort{Field: "name", Order: "ASC"},
	})
	if err != nil {
		t.Fatalf("GetList failed: %v", err)
	}
	if gotDir != "f" {
		t.Errorf("dir: got %q, want \"f\"", gotDir)
	}
}

func TestGetListFilterSerialization(t *testing.T) {
	var gotQuery map[string][]string
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		writeJSON(t, w, `{"users":[],"total":0}`)
	}))

	_, err := p.GetList(context.Background(), "users", GetListParams{
		Pagination: Pagination{Page: 1, PerPage: 10},
		Filter: map[string]any{
			"name":        "ali",
			"deactivated": true,
			"guests":      nil,
		},
	})
	if err != nil {
		t.Fatalf("GetList failed: %v", err)
	}

	if got := gotQuery["name"]; len(got) != 1 || got[0] != "ali" {
		t.Errorf("name filter: got %v", got)
	}
	if got := gotQuery["deactivated"]; len(got) != 1 || got[0] != "true" {
		t.Errorf("deactivated filter: got %v", got)
	}
	if _, present := gotQuery["guests"]; present {
		t.Error("nil filter values must be dropped")
	}
}

func TestGetListInvalidResponseShape(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, `{"rooms":"not an array"}`)
	}))

	_, err := p.GetList(context.Background(), "rooms", GetListParams{
		Pagination: Pagination{Page: 1, PerPage: 10},
	})
	if !errors.Is(err, ErrInvalidResponseShape) {
		t.Fatalf("expected ErrInvalidResponseShape, got %v", err)
	}
}

func TestGetOne(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_synapse/admin/v2/users/@alice:example.com" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		writeJSON(t, w, `{"name":"@alice:example.com","displayname":"Alice","admin":1}`)
	}))

	rec, err := p.GetOne(context.Background(), "users", "@alice:example.com")
	if err != nil {
		t.Fatalf("GetOne failed: %v", err)
	}
	if rec.ID() != "@alice:example.com" {
		t.Errorf("id: got %q", rec.ID())
	}
	if rec["admin"] != true {
		t.Errorf("admin: got %v", rec["admin"])
	}
}

func TestGetManyPreservesOrderAndStubs(t *testing.T) {
	var remoteFetches atomic.Int64
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/_synapse/admin/v2/users/@alice:example.com":
			writeJSON(t, w, `{"name":"@alice:example.com","displayname":"Alice"}`)
		case "/_synapse/admin/v2/users/@gone:example.com":
			w.WriteHeader(http.StatusNotFound)
			writeJSON(t, w, `{"errcode":"M_NOT_FOUND","error":"User not found"}`)
		default:
			remoteFetches.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ids := []string{"@alice:example.com", "@gone:example.com", "@bob:remote.org"}
	out, err := p.GetMany(context.Background(), "users", ids)
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len: got %d", len(out))
	}

	// Position 0: real record, fetched.
	if out[0].ID() != "@alice:example.com" || out[0]["displayname"] != "Alice" {
		t.Errorf("out[0]: got %+v", out[0])
	}
	// Position 1: local but missing, stubbed instead of failing the batch.
	if out[1].ID() != "@gone:example.com" || out[1]["name"] != "@gone:example.com" {
		t.Errorf("out[1]: got %+v", out[1])
	}
	if _, fetched := out[1]["displayname"]; fetched {
		t.Error("out[1] must be a stub")
	}
	// Position 2: non-local identity, stubbed without an upstream call.
	if out[2].ID() != "@bob:remote.org" {
		t.Errorf("out[2]: got %+v", out[2])
	}
	if got := remoteFetches.Load(); got != 0 {
		t.Errorf("non-local ids must never be fetched, got %d calls", got)
	}
}

func TestGetManyFailsOnRealErrors(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(t, w, `{"errcode":"M_UNKNOWN","error":"boom"}`)
	}))

	if _, err := p.GetMany(context.Background(), "users", []string{"@alice:example.com"}); err == nil {
		t.Fatal("a non-404 failure must abort the batch")
	}
}

func TestGetManyReferenceCachesFullCollection(t *testing.T) {
	var upstreamCalls atomic.Int64
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_synapse/admin/v1/users/@alice:example.com/joined_rooms" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		upstreamCalls.Add(1)
		// This endpoint ignores paging and always returns everything.
		body := `{"joined_rooms":[`
		for i := 0; i < 30; i++ {
			if i > 0 {
				body += ","
			}
			body += `"!room` + string(rune('a'+i%26)) + `:example.com"`
		}
		writeJSON(t, w, body+`],"total":30}`)
	}))

	first, err := p.GetManyReference(context.Background(), "joined_rooms", GetManyReferenceParams{
		ID:         "@alice:example.com",
		Pagination: Pagination{Page: 1, PerPage: 10},
	})
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if first.Total != 30 || len(first.Data) != 10 {
		t.Errorf("first page: total %d, len %d", first.Total, len(first.Data))
	}

	second, err := p.GetManyReference(context.Background(), "joined_rooms", GetManyReferenceParams{
		ID:         "@alice:example.com",
		Pagination: Pagination{Page: 3, PerPage: 10},
	})
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if second.Total != 30 || len(second.Data) != 10 {
		t.Errorf("third page: total %d, len %d", second.Total, len(second.Data))
	}

	if got := upstreamCalls.Load(); got != 1 {
		t.Errorf("second page must be served from cache, got %d upstream calls", got)
	}
}

func TestGetManyReferencePaginatedUpstreamNotCached(t *testing.T) {
	var upstreamCalls atomic.Int64
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		// 5 records of 50: a genuinely paginating endpoint.
		writeJSON(t, w, `{"media":[{"media_id":"m1"},{"media_id":"m2"},{"media_id":"m3"},{"media_id":"m4"},{"media_id":"m5"}],"total":50}`)
	}))

	params := GetManyReferenceParams{
		ID:         "@alice:example.com",
		Pagination: Pagination{Page: 1, PerPage: 5},
	}
	for i := 0; i < 2; i++ {
		result, err := p.GetManyReference(context.Background(), "users_media", params)
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if result.Total != 50 || len(result.Data) != 5 {
			t.Errorf("call %d: total %d, len %d", i, result.Total, len(result.Data))
		}
	}

	if got := upstreamCalls.Load(); got != 2 {
		t.Errorf("partial collections must hit upstream every time, got %d calls", got)
	}
}

func TestGetManyReferenceMapShaped(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_synapse/admin/v1/rooms/!lobby:example.com/joined_members" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		writeJSON(t, w, `{"joined":{"@alice:example.com":{"display_name":"Alice"},"@bob:example.com":{"display_name":"Bob"}}}`)
	}))

	result, err := p.GetManyReference(context.Background(), "room_members", GetManyReferenceParams{
		ID:         "!lobby:example.com",
		Pagination: Pagination{Page: 1, PerPage: 10},
	})
	if err != nil {
		t.Fatalf("GetManyReference failed: %v", err)
	}
	if result.Total != 2 || len(result.Data) != 2 {
		t.Fatalf("total %d, len %d", result.Total, len(result.Data))
	}

	seen := map[string]bool{}
	for _, rec := range result.Data {
		seen[rec.ID()] = true
		if rec["display_name"] == nil {
			t.Errorf("record %q lost its membership detail", rec.ID())
		}
	}
	if !seen["@alice:example.com"] || !seen["@bob:example.com"] {
		t.Errorf("reshaped ids: got %v", seen)
	}
}

func TestUpdateStripsIDFromBody(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/_synapse/admin/v2/users/@alice:example.com" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body := decodeBody(t, r)
		if _, hasID := body["id"]; hasID {
			t.Error("id must not be sent in the PUT body")
		}
		if body["displayname"] != "Alicia" {
			t.Errorf("displayname: got %v", body["displayname"])
		}
		// avatar_url: null is the documented reset sentinel and must pass
		// through rather than being dropped.
		if v, present := body["avatar_url"]; !present || v != nil {
			t.Errorf("avatar_url: present=%v value=%v", present, v)
		}
		writeJSON(t, w, `{"name":"@alice:example.com","displayname":"Alicia"}`)
	}))

	rec, err := p.Update(context.Background(), "users", UpdateParams{
		ID:   "@alice:example.com",
		Data: map[string]any{"id": "@alice:example.com", "displayname": "Alicia", "avatar_url": nil},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if rec.ID() != "@alice:example.com" || rec["displayname"] != "Alicia" {
		t.Errorf("result: got %+v", rec)
	}
}

func TestUpdateManyPositionalResults(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Echo the user id from the path as the record name.
		id := r.URL.Path[len("/_synapse/admin/v2/users/"):]
		writeJSON(t, w, `{"name":"`+id+`"}`)
	}))

	ids := []string{"@a:example.com", "@b:example.com"}
	out, err := p.UpdateMany(context.Background(), "users", ids, map[string]any{"admin": true})
	if err != nil {
		t.Fatalf("UpdateMany failed: %v", err)
	}
	if len(out) != 2 || out[0].ID() != ids[0] || out[1].ID() != ids[1] {
		t.Errorf("results: got %+v", out)
	}
}

func TestCreateUserIsPutByID(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/_synapse/admin/v2/users/@new:example.com" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body := decodeBody(t, r)
		if _, hasID := body["id"]; hasID {
			t.Error("id must be stripped from the creation body")
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(t, w, `{"name":"@new:example.com","displayname":"Newbie"}`)
	}))

	rec, err := p.Create(context.Background(), "users", map[string]any{
		"id":          "@new:example.com",
		"displayname": "Newbie",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.ID() != "@new:example.com" {
		t.Errorf("id: got %q", rec.ID())
	}
}

func TestCreateManyPositionalResults(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		writeJSON(t, w, `{"token":"`+body["token"].(string)+`"}`)
	}))

	out, err := p.CreateMany(context.Background(), "registration_tokens", []map[string]any{
		{"token": "tok_a"},
		{"token": "tok_b"},
	})
	if err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}
	if len(out) != 2 || out[0].ID() != "tok_a" || out[1].ID() != "tok_b" {
		t.Errorf("results: got %+v", out)
	}
}

func TestCreateEchoesInputOnEmptyResponse(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	data := map[string]any{"id": "@new:example.com", "displayname": "Newbie"}
	rec, err := p.Create(context.Background(), "users", data)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.ID() != "@new:example.com" || rec["displayname"] != "Newbie" {
		t.Errorf("echoed record: got %+v", rec)
	}
}

func TestDeleteUserDeactivatesAndEchoesPrevious(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/_synapse/admin/v1/deactivate/@alice:example.com" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body := decodeBody(t, r)
		if body["erase"] != true {
			t.Errorf("erase: got %v", body["erase"])
		}
		writeJSON(t, w, `{"id_server_unbind_result":"success"}`)
	}))

	previous := registry.UIRecord{"id": "@alice:example.com", "displayname": "Alice"}
	rec, err := p.Delete(context.Background(), "users", DeleteParams{
		ID:           "@alice:example.com",
		PreviousData: previous,
		Meta:         map[string]any{"erase": true},
	})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if rec["displayname"] != "Alice" {
		t.Errorf("result must echo the prior record, got %+v", rec)
	}
}

func TestDeleteRoomUsesV2Endpoint(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/_synapse/admin/v2/rooms/!lobby:example.com" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body := decodeBody(t, r)
		if body["purge"] != true {
			t.Errorf("purge: got %v", body["purge"])
		}
		if body["block"] != true {
			t.Errorf("block: got %v", body["block"])
		}
		writeJSON(t, w, `{"delete_id":"d1"}`)
	}))

	previous := registry.UIRecord{"id": "!lobby:example.com", "name": "Lobby"}
	rec, err := p.Delete(context.Background(), "rooms", DeleteParams{
		ID:           "!lobby:example.com",
		PreviousData: previous,
		Meta:         map[string]any{"block": true},
	})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// The acknowledgement carries no record shape; the prior version wins.
	if rec.ID() != "!lobby:example.com" {
		t.Errorf("result: got %+v", rec)
	}
}

func TestDeleteManyStopsAtFirstFailure(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_synapse/admin/v1/registration_tokens/bad" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(t, w, `{"errcode":"M_NOT_FOUND","error":"no such token"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		writeJSON(t, w, `{}`)
	}))

	deleted, err := p.DeleteMany(context.Background(), "registration_tokens", []string{"good", "bad", "never"}, nil)
	if err == nil {
		t.Fatal("expected failure on second id")
	}
	if len(deleted) != 1 || deleted[0] != "good" {
		t.Errorf("deleted: got %v", deleted)
	}
}
