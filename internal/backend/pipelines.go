package backend

import (
	"context"
	"fmt"
	"net/url"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

type pipelineListResponse struct {
	Pipelines []model.Pipeline `json:"pipelines"`
}

// ListPipelines returns the pipelines registered with the executor.
func (c *Client) ListPipelines(ctx context.Context) ([]model.Pipeline, error) {
	var resp pipelineListResponse
	if err := c.do(ctx, "list_pipelines", "GET", "/pipelines", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pipelines, nil
}

// GetPipeline fetches one registered pipeline definition.
func (c *Client) GetPipeline(ctx context.Context, name string) (*model.Pipeline, error) {
	var p model.Pipeline
	path := "/pipelines/" + url.PathEscape(name)
	if err := c.do(ctx, "get_pipeline", "GET", path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePipeline creates or updates a pipeline definition on the backend.
func (c *Client) SavePipeline(ctx context.Context, p *model.Pipeline) error {
	if p.Name == "" {
		return fmt.Errorf("save_pipeline: pipeline name is required")
	}
	path := "/pipelines/" + url.PathEscape(p.Name)
	return c.do(ctx, "save_pipeline", "PUT", path, p, nil)
}

// DeletePipeline removes a pipeline definition from the backend.
func (c *Client) DeletePipeline(ctx context.Context, name string) error {
	path := "/pipelines/" + url.PathEscape(name)
	return c.do(ctx, "delete_pipeline", "DELETE", path, nil, nil)
}

// ExecutePipeline submits a definition for execution with the given
// runtime parameters. Scheduling, retries, and partial-failure handling
// all happen on the executor; the returned run is display state only.
func (c *Client) ExecutePipeline(ctx context.Context, p *model.Pipeline, params map[string]any) (*model.PipelineRun, error) {
	body := struct {
		Pipeline *model.Pipeline `json:"pipeline"`
		Params   map[string]any  `json:"params,omitempty"`
	}{Pipeline: p, Params: params}

	var run model.PipelineRun
	path := "/pipelines/" + url.PathEscape(p.Name) + "/execute"
	if err := c.do(ctx, "execute_pipeline", "POST", path, body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun polls the externally-reported status of a pipeline run.
func (c *Client) GetRun(ctx context.Context, pipeline, runID string) (*model.PipelineRun, error) {
	var run model.PipelineRun
	path := "/pipelines/" + url.PathEscape(pipeline) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, "get_run", "GET", path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
