package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/maintdesk/maintdesk/sdk/go/cache"
)

// ResourceClient reads and writes one REST collection. Payloads are opaque:
// pass any JSON-encodable value in and any decodable value (or
// *json.RawMessage) out.
type ResourceClient struct {
	client *Client
	name   string
	path   string
}

func newResourceClient(c *Client, name, path string) *ResourceClient {
	return &ResourceClient{client: c, name: name, path: path}
}

// Name is the cache family of the collection, e.g. "jobs".
func (r *ResourceClient) Name() string { return r.name }

// List fetches the collection with the given filters. Results are cached
// under the collection name and the sorted filters.
func (r *ResourceClient) List(ctx context.Context, params url.Values, out any) error {
	return r.client.Do(ctx, http.MethodGet, r.path, nil, out,
		WithQuery(params),
		WithCacheKey(cache.Key(r.name, params)),
	)
}

// Get fetches one entity.
func (r *ResourceClient) Get(ctx context.Context, id string, out any) error {
	path, err := r.entityPath(id)
	if err != nil {
		return err
	}
	return r.client.Do(ctx, http.MethodGet, path, nil, out,
		WithCacheKey(cache.Key(r.entityKey(id), nil)),
	)
}

// Create posts a new entity.
func (r *ResourceClient) Create(ctx context.Context, body, out any) error {
	return r.client.Do(ctx, http.MethodPost, r.path, body, out, WithInvalidation(r.familyPattern()))
}

// Update patches an entity.
func (r *ResourceClient) Update(ctx context.Context, id string, body, out any) error {
	return r.write(ctx, http.MethodPatch, id, "", body, out)
}

// Replace puts a full representation of an entity.
func (r *ResourceClient) Replace(ctx context.Context, id string, body, out any) error {
	return r.write(ctx, http.MethodPut, id, "", body, out)
}

// Delete removes an entity.
func (r *ResourceClient) Delete(ctx context.Context, id string) error {
	return r.write(ctx, http.MethodDelete, id, "", nil, nil)
}

// Action posts to a sub-route of an entity, e.g. /jobs/42/complete/.
func (r *ResourceClient) Action(ctx context.Context, id, action string, body, out any) error {
	return r.write(ctx, http.MethodPost, id, action, body, out)
}

// Upload attaches a file to an entity as multipart form data.
func (r *ResourceClient) Upload(ctx context.Context, id, filename string, data []byte, out any) error {
	body, err := NewFileBody("file", filename, data)
	if err != nil {
		return err
	}
	return r.write(ctx, http.MethodPost, id, "attachments", body, out)
}

func (r *ResourceClient) write(ctx context.Context, method, id, action string, body, out any) error {
	path, err := r.entityPath(id)
	if err != nil {
		return err
	}
	if action = strings.Trim(action, "/"); action != "" {
		path += action + "/"
	}
	return r.client.Do(ctx, method, path, body, out,
		WithInvalidation(r.entityKey(id), r.familyPattern()),
	)
}

func (r *ResourceClient) entityPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("sdk: resource id required")
	}
	return r.path + url.PathEscape(id) + "/", nil
}

// entityKey prefixes every cached read of one entity ("jobs/42").
func (r *ResourceClient) entityKey(id string) string {
	return r.name + "/" + strings.TrimSpace(id)
}

// familyPattern matches every cached listing ("jobs:").
func (r *ResourceClient) familyPattern() string {
	return r.name + ":"
}
