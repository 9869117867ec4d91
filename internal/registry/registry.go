// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package registry declares how each logical console resource maps onto the
// homeserver admin API: its collection endpoint, how server records become
// UI records, where the collection lives in a list response, how the total
// is computed, and any create/delete request overrides for resources that
// deviate from REST defaults.
//
// The table is static and built once at package init; looking up an
// unregistered resource is a fatal configuration error, not a retryable
// condition.
package registry

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnknownResource indicates a lookup for a resource that was never
// registered. This is a programming/configuration error.
var ErrUnknownResource = errors.New("unknown resource")

// UIRecord is the open-ended attribute bag handed to the console. Every
// record carries a mandatory "id" attribute, synthesized deterministically
// from server data by the descriptor's Map function; UI identity and cache
// keys depend on it being stable.
type UIRecord map[string]any

// ID returns the record's mandatory id attribute.
func (r UIRecord) ID() string {
	id, _ := r["id"].(string)
	return id
}

// RequestSpec describes one HTTP call produced by a descriptor override or
// by default REST conventions. Method defaults per operation when empty.
type RequestSpec struct {
	Endpoint      string
	Method        string
	Body          any
	EmptyResponse bool
}

// DeleteParams carries the inputs available to a delete override.
type DeleteParams struct {
	ID string

	// PreviousData is the caller's last known version of the record,
	// echoed back as the result when the server sends no body.
	PreviousData UIRecord

	// Meta carries operation metadata (e.g. erase flag for deactivation).
	Meta map[string]any
}

// Descriptor is the static configuration for one resource. An empty Path
// means the resource is only reachable through reference lookups scoped
// under a parent id.
type Descriptor struct {
	// Path is the collection endpoint on the admin API.
	Path string

	// CollectionKey names the JSON key holding the collection array (or
	// object, see MapShaped) in list responses.
	CollectionKey string

	// Map converts one server record into a UI record. It must be pure and
	// total for any well-formed payload and must synthesize a stable id.
	Map func(server any) UIRecord

	// Total computes the collection total from a list response. Upstream
	// conventions differ per resource: an explicit total field, a raw
	// array length, or an offset-based estimate.
	Total func(resp map[string]any, offset, limit int) int

	// Create overrides how create requests are built. Nil means
	// "POST {Path}" with the data as body.
	Create func(data map[string]any) RequestSpec

	// Delete overrides how delete requests are built. Nil means
	// "DELETE {Path}/{id}".
	Delete func(params DeleteParams) RequestSpec

	// Reference builds the scoped endpoint for get-many-by-reference
	// calls. Nil means the resource supports no reference lookups.
	Reference func(parentID string) string

	// MapShaped marks collections whose upstream shape is a key→value
	// object rather than an array; the adapter reshapes it into
	// {id, value} records before mapping.
	MapShaped bool
}

// table holds every registered descriptor, keyed by resource name.
var table = map[string]*Descriptor{}

// register adds a descriptor at init time. Registering a resource twice is
// a programming error.
func register(name string, d *Descriptor) {
	if _, dup := table[name]; dup {
		panic(fmt.Sprintf("registry: resource %q registered twice", name))
	}
	table[name] = d
}

// Lookup returns the descriptor for a resource name.
func Lookup(name string) (*Descriptor, error) {
	d, ok := table[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, name)
	}
	return d, nil
}

// Resources returns the names of all registered resources.
func Resources() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}

// asBool coerces upstream boolean representations: JSON booleans and the
// 0/1 integers several admin endpoints still emit.
func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		return b == "1" || b == "true"
	default:
		return false
	}
}

// asString coerces scalar ids (strings or JSON numbers) into strings.
// Absent fields coerce to "", which marks a record as having no id.
func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	default:
		return fmt.Sprint(v)
	}
}

// totalField returns a Total function reading an explicit integer field.
func totalField(field string) func(resp map[string]any, offset, limit int) int {
	return func(resp map[string]any, _, _ int) int {
		if n, ok := resp[field].(float64); ok {
			return int(n)
		}
		return 0
	}
}

// totalLen returns a Total function counting the collection itself, for
// endpoints with no concept of total.
func totalLen(key string) func(resp map[string]any, offset, limit int) int {
	return func(resp map[string]any, _, _ int) int {
		switch c := resp[key].(type) {
		case []any:
			return len(c)
		case map[string]any:
			return len(c)
		default:
			return 0
		}
	}
}

// totalEstimate returns a Total function estimating from the page position
// when the upstream reports no total: offset plus observed length.
func totalEstimate(key string) func(resp map[string]any, offset, limit int) int {
	return func(resp map[string]any, offset, _ int) int {
		if c, ok := resp[key].([]any); ok {
			return offset + len(c)
		}
		return offset
	}
}
