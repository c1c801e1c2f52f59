package backend

import (
	"context"
	"fmt"
	"net/url"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

type resourceListResponse struct {
	Items []model.Resource `json:"items"`
}

type probeListResponse struct {
	Probes []model.GuardrailProbe `json:"probes"`
}

// ListResources returns all records of one generic CRUD surface.
func (c *Client) ListResources(ctx context.Context, kind model.ResourceKind) ([]model.Resource, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("list_resources: unknown kind %q", kind)
	}
	var resp resourceListResponse
	if err := c.do(ctx, "list_"+string(kind), "GET", "/"+string(kind), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetResource fetches one record by id.
func (c *Client) GetResource(ctx context.Context, kind model.ResourceKind, id string) (*model.Resource, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("get_resource: unknown kind %q", kind)
	}
	var r model.Resource
	path := "/" + string(kind) + "/" + url.PathEscape(id)
	if err := c.do(ctx, "get_"+string(kind), "GET", path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateResource posts a new record and returns the backend's version.
func (c *Client) CreateResource(ctx context.Context, kind model.ResourceKind, r *model.Resource) (*model.Resource, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("create_resource: unknown kind %q", kind)
	}
	var created model.Resource
	if err := c.do(ctx, "create_"+string(kind), "POST", "/"+string(kind), r, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateResource replaces a record by id.
func (c *Client) UpdateResource(ctx context.Context, kind model.ResourceKind, r *model.Resource) error {
	if !kind.Valid() {
		return fmt.Errorf("update_resource: unknown kind %q", kind)
	}
	if r.ID == "" {
		return fmt.Errorf("update_resource: id is required")
	}
	path := "/" + string(kind) + "/" + url.PathEscape(r.ID)
	return c.do(ctx, "update_"+string(kind), "PUT", path, r, nil)
}

// DeleteResource removes a record by id.
func (c *Client) DeleteResource(ctx context.Context, kind model.ResourceKind, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("delete_resource: unknown kind %q", kind)
	}
	path := "/" + string(kind) + "/" + url.PathEscape(id)
	return c.do(ctx, "delete_"+string(kind), "DELETE", path, nil, nil)
}

// ListGuardrailProbes returns the guardrail probes known to the backend.
func (c *Client) ListGuardrailProbes(ctx context.Context) ([]model.GuardrailProbe, error) {
	var resp probeListResponse
	if err := c.do(ctx, "list_probes", "GET", "/guardrails/probes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Probes, nil
}
