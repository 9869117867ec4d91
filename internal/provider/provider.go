// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package provider implements the abstract CRUD contract over the
// homeserver admin API. Each of the eight operations resolves a resource
// descriptor from the registry and drives the authenticated transport,
// owning pagination arithmetic, filter serialization, and per-operation
// fallback policies. Transport failures propagate unchanged; retry, if
// any, belongs to the console.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/synadmin/internal/refcache"
	"github.com/tomtom215/synadmin/internal/registry"
	"github.com/tomtom215/synadmin/internal/session"
	"github.com/tomtom215/synadmin/internal/transport"
)

// ErrInvalidResponseShape indicates an upstream payload that does not
// match the documented shape for the resource.
var ErrInvalidResponseShape = errors.New("invalid response shape")

// identityResource is the principal identity resource; ids that do not
// belong to the local home server are stubbed instead of fetched, since
// the upstream API permits no cross-server identity lookups.
const identityResource = "users"

// Upstream sort direction tokens: forward (ascending), backward
// (descending).
const (
	dirForward  = "f"
	dirBackward = "b"
)

// Pagination selects a page; offsets are derived as (page-1)*perPage.
type Pagination struct {
	Page    int
	PerPage int
}

func (p Pagination) offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// Sort orders a listing. Order is "ASC" or "DESC".
type Sort struct {
	Field string
	Order string
}

// GetListParams parametrizes GetList.
type GetListParams struct {
	Pagination Pagination
	Sort       Sort
	Filter     map[string]any
}

// GetManyReferenceParams parametrizes GetManyReference.
type GetManyReferenceParams struct {
	ID         string
	Pagination Pagination
	Sort       Sort
}

// UpdateParams parametrizes Update.
type UpdateParams struct {
	ID   string
	Data map[string]any
}

// DeleteParams parametrizes Delete. Meta carries resource-specific
// options (e.g. the erase flag on user deactivation).
type DeleteParams struct {
	ID           string
	PreviousData registry.UIRecord
	Meta         map[string]any
}

// ListResult is the outcome of GetList and GetManyReference.
type ListResult struct {
	Data  []registry.UIRecord `json:"data"`
	Total int                 `json:"total"`
}

// Provider translates abstract CRUD calls into admin API requests.
type Provider struct {
	tr    *transport.Client
	cache *refcache.Cache
	store session.Store
}

// New creates a Provider on top of the authenticated transport.
func New(tr *transport.Client, cache *refcache.Cache, store session.Store) *Provider {
	return &Provider{tr: tr, cache: cache, store: store}
}

// Cache exposes the reference cache for lifecycle invalidation hooks.
func (p *Provider) Cache() *refcache.Cache {
	return p.cache
}

// Transport exposes the authenticated transport for lifecycle side calls.
func (p *Provider) Transport() *transport.Client {
	return p.tr
}

// GetList fetches one page of a resource collection.
func (p *Provider) GetList(ctx context.Context, resource string, params GetListParams) (*ListResult, error) {
	desc, err := registry.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if desc.Path == "" {
		return nil, fmt.Errorf("resource %q is only reachable by reference", resource)
	}

	offset := params.Pagination.offset()
	query := buildQuery(offset, params.Pagination.PerPage, params.Sort, params.Filter)

	return p.fetchList(ctx, desc, desc.Path, query, offset, params.Pagination.PerPage)
}

// GetOne fetches a single record by id.
func (p *Provider) GetOne(ctx context.Context, resource, id string) (registry.UIRecord, error) {
	desc, err := registry.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if desc.Path == "" {
		return nil, fmt.Errorf("resource %q is only reachable by reference", resource)
	}

	var resp map[string]any
	if err := p.tr.DoJSON(ctx, http.MethodGet, desc.Path+"/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	return desc.Map(resp), nil
}

// GetMany fetches several records by id in parallel. Results are zipped
// back to the input id order regardless of completion order. Two
// degradation rules keep a page render alive: non-local identity ids and
// individual 404s yield minimal stub records instead of failing the batch.
func (p *Provider) GetMany(ctx context.Context, resource string, ids []string) ([]registry.UIRecord, error) {
	if _, err := registry.Lookup(resource); err != nil {
		return nil, err
	}

	var sess *session.Session
	if resource == identityResource {
		// Best effort: without a session every id is treated as local.
		sess, _ = p.store.Load(ctx)
	}

	out := make([]registry.UIRecord, len(ids))
	g, gctx := errgroup.WithContext(ctx)

	for i, id := range ids {
		if sess != nil && !sess.IsLocal(id) {
			out[i] = stubRecord(id)
			continue
		}

		g.Go(func() error {
			rec, err := p.GetOne(gctx, resource, id)
			if transport.IsNotFound(err) {
				// A single missing related record must not abort the
				// whole page.
				out[i] = stubRecord(id)
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetManyReference fetches a page of a sub-collection scoped under a
// parent record, consulting the reference cache first.
func (p *Provider) GetManyReference(ctx context.Context, resource string, params GetManyReferenceParams) (*ListResult, error) {
	desc, err := registry.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if desc.Reference == nil {
		return nil, fmt.Errorf("resource %q supports no reference lookups", resource)
	}

	endpoint := desc.Reference(params.ID)
	offset := params.Pagination.offset()
	limit := params.Pagination.PerPage

	if data, total, ok := p.cache.Get(endpoint, offset, limit); ok {
		return &ListResult{Data: data, Total: total}, nil
	}

	query := buildQuery(offset, limit, params.Sort, nil)
	result, err := p.fetchList(ctx, desc, endpoint, query, offset, limit)
	if err != nil {
		return nil, err
	}

	// Cache only when this response already held the entire collection;
	// that means the upstream ignored the paging parameters, so the page
	// is sliced locally here and on every later hit.
	if len(result.Data) >= result.Total {
		p.cache.Put(endpoint, result.Data, result.Total)
		result.Data = slicePage(result.Data, offset, limit)
	}

	return result, nil
}

// Update sends the record patch as a plain PUT and maps the result.
// Fields explicitly set to null pass through to the server; avatar_url
// uses null as its documented reset sentinel.
func (p *Provider) Update(ctx context.Context, resource string, params UpdateParams) (registry.UIRecord, error) {
	desc, err := registry.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if desc.Path == "" {
		return nil, fmt.Errorf("resource %q is only reachable by reference", resource)
	}

	body := make(map[string]any, len(params.Data))
	for k, v := range params.Data {
		if k != "id" {
			body[k] = v
		}
	}

	var resp map[string]any
	if err := p.tr.DoJSON(ctx, http.MethodPut, desc.Path+"/"+url.PathEscape(params.ID), nil, body, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		// Some endpoints acknowledge with an empty body; echo the patch.
		rec := registry.UIRecord(body)
		rec["id"] = params.ID
		return rec, nil
	}
	return desc.Map(resp), nil
}

// UpdateMany applies the same patch to several ids, sequentially,
// collecting results positionally. The first failure aborts the batch.
func (p *Provider) UpdateMany(ctx context.Context, resource string, ids []string, data map[string]any) ([]registry.UIRecord, error) {
	out := make([]registry.UIRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := p.Update(ctx, resource, UpdateParams{ID: id, Data: data})
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Create builds the creation request from the descriptor override when
// present, falling back to "POST {path}". When the override marks the
// response empty, the input data is echoed as the synthesized result.
func (p *Provider) Create(ctx context.Context, resource string, data map[string]any) (registry.UIRecord, error) {
	desc, err := registry.Lookup(resource)
	if err != nil {
		return nil, err
	}

	spec := registry.RequestSpec{Endpoint: desc.Path, Method: http.MethodPost, Body: data}
	if desc.Create != nil {
		spec = desc.Create(data)
		if spec.Method == "" {
			spec.Method = http.MethodPost
		}
	}
	if spec.Endpoint == "" {
		return nil, fmt.Errorf("resource %q supports no creation", resource)
	}

	var resp map[string]any
	if err := p.tr.DoJSON(ctx, spec.Method, spec.Endpoint, nil, spec.Body, &resp); err != nil {
		return nil, err
	}

	if spec.EmptyResponse || resp == nil {
		rec := make(registry.UIRecord, len(data))
		for k, v := range data {
			rec[k] = v
		}
		if id, ok := data["id"]; ok && rec.ID() == "" {
			rec["id"] = fmt.Sprint(id)
		}
		return rec, nil
	}
	return desc.Map(resp), nil
}

// CreateMany creates several records sequentially, collecting results
// positionally. The first failure aborts the batch.
func (p *Provider) CreateMany(ctx context.Context, resource string, records []map[string]any) ([]registry.UIRecord, error) {
	out := make([]registry.UIRecord, 0, len(records))
	for _, data := range records {
		rec, err := p.Create(ctx, resource, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete issues the descriptor's delete override when present (several
// deletions are semantically reset or deactivate actions expressed as
// POST/PUT), defaulting to "DELETE {path}/{id}". Empty responses echo the
// caller's prior version of the record.
func (p *Provider) Delete(ctx context.Context, resource string, params DeleteParams) (registry.UIRecord, error) {
	desc, err := registry.Lookup(resource)
	if err != nil {
		return nil, err
	}

	spec := registry.RequestSpec{Method: http.MethodDelete}
	if desc.Delete != nil {
		spec = desc.Delete(registry.DeleteParams{ID: params.ID, PreviousData: params.PreviousData, Meta: params.Meta})
		if spec.Method == "" {
			spec.Method = http.MethodDelete
		}
	} else {
		if desc.Path == "" {
			return nil, fmt.Errorf("resource %q supports no deletion", resource)
		}
		spec.Endpoint = desc.Path + "/" + url.PathEscape(params.ID)
	}

	var resp map[string]any
	if err := p.tr.DoJSON(ctx, spec.Method, spec.Endpoint, nil, spec.Body, &resp); err != nil {
		return nil, err
	}

	if spec.EmptyResponse || resp == nil {
		return previousOrStub(params), nil
	}
	// Deletion acknowledgements rarely carry the record shape; fall back
	// to the prior version when mapping yields no id.
	if rec := desc.Map(resp); rec.ID() != "" {
		return rec, nil
	}
	return previousOrStub(params), nil
}

// DeleteMany deletes several ids sequentially; the first failure aborts.
// Returns the ids actually deleted.
func (p *Provider) DeleteMany(ctx context.Context, resource string, ids []string, meta map[string]any) ([]string, error) {
	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := p.Delete(ctx, resource, DeleteParams{ID: id, Meta: meta}); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// fetchList performs one collection GET and maps the response.
func (p *Provider) fetchList(ctx context.Context, desc *registry.Descriptor, endpoint string, query url.Values, offset, limit int) (*ListResult, error) {
	var resp map[string]any
	if err := p.tr.DoJSON(ctx, http.MethodGet, endpoint, query, nil, &resp); err != nil {
		return nil, err
	}

	records, err := extractCollection(desc, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResponseShape, endpoint, err)
	}

	return &ListResult{
		Data:  records,
		Total: desc.Total(resp, offset, limit),
	}, nil
}

// extractCollection pulls the collection out of a list response and maps
// each element. Map-shaped collections (key→value objects) are reshaped
// into {id, value} records first.
func extractCollection(desc *registry.Descriptor, resp map[string]any) ([]registry.UIRecord, error) {
	raw, ok := resp[desc.CollectionKey]
	if !ok {
		return nil, fmt.Errorf("missing collection key %q", desc.CollectionKey)
	}

	if desc.MapShaped {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("collection %q is not an object", desc.CollectionKey)
		}
		records := make([]registry.UIRecord, 0, len(obj))
		for key, value := range obj {
			records = append(records, desc.Map(reshapeEntry(key, value)))
		}
		return records, nil
	}

	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("collection %q is not an array", desc.CollectionKey)
	}
	records := make([]registry.UIRecord, 0, len(arr))
	for _, element := range arr {
		records = append(records, desc.Map(element))
	}
	return records, nil
}

// reshapeEntry turns one key→value pair into a record-shaped map.
func reshapeEntry(key string, value any) map[string]any {
	if obj, ok := value.(map[string]any); ok {
		entry := make(map[string]any, len(obj)+1)
		for k, v := range obj {
			entry[k] = v
		}
		entry["id"] = key
		return entry
	}
	return map[string]any{"id": key, "value": value}
}

// buildQuery serializes pagination, sort, and filters, dropping empty
// values. Ascending maps to the forward token, descending to backward.
func buildQuery(offset, limit int, sort Sort, filter map[string]any) url.Values {
	query := url.Values{}
	query.Set("from", strconv.Itoa(offset))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	if sort.Field != "" {
		query.Set("order_by", sort.Field)
		if sort.Order == "DESC" {
			query.Set("dir", dirBackward)
		} else {
			query.Set("dir", dirForward)
		}
	}

	for key, value := range filter {
		if value == nil {
			continue
		}
		query.Set(key, fmt.Sprint(value))
	}

	return query
}

// stubRecord synthesizes the minimal record used when the real one cannot
// or should not be fetched.
func stubRecord(id string) registry.UIRecord {
	return registry.UIRecord{"id": id, "name": id}
}

// previousOrStub echoes the caller's prior record, or a stub when the
// caller supplied none.
func previousOrStub(params DeleteParams) registry.UIRecord {
	if params.PreviousData != nil {
		return params.PreviousData
	}
	return stubRecord(params.ID)
}

// slicePage clamps [offset, offset+limit) to the collection bounds.
func slicePage(data []registry.UIRecord, offset, limit int) []registry.UIRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(data) {
		return []registry.UIRecord{}
	}
	end := len(data)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return data[offset:end]
}
