// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package backend

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// PipelineYAMLPath is the definition file new pipelines point at.
const PipelineYAMLPath = ".azure-pipelines/ci.yml"

// PipelineSpec describes a YAML pipeline to create and queue.
type PipelineSpec struct {
	Project    string
	Repository string
	Name       string
	// Branch defaults to main.
	Branch string
}

// PipelineRun is a queued or finished pipeline run.
type PipelineRun struct {
	PipelineID   int
	PipelineName string
	RunID        int
	RunName      string
	State        string
	Result       string
	CreatedDate  string
	FinishedDate string
	URL          string
}

type pipelineRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type runResponse struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	Result       string `json:"result"`
	CreatedDate  string `json:"createdDate"`
	FinishedDate string `json:"finishedDate"`
	Links        struct {
		Web struct {
			Href string `json:"href"`
		} `json:"web"`
	} `json:"_links"`
}

func (r runResponse) toRun(p pipelineRef) PipelineRun {
	return PipelineRun{
		PipelineID:   p.ID,
		PipelineName: p.Name,
		RunID:        r.ID,
		RunName:      r.Name,
		State:        r.State,
		Result:       r.Result,
		CreatedDate:  r.CreatedDate,
		FinishedDate: r.FinishedDate,
		URL:          r.Links.Web.Href,
	}
}

// CreateAndRunPipeline creates a YAML pipeline bound to a repository and
// queues its first run on spec.Branch.
func (c *Client) CreateAndRunPipeline(ctx context.Context, spec PipelineSpec) (PipelineRun, error) {
	if spec.Project == "" || spec.Repository == "" || strings.TrimSpace(spec.Name) == "" {
		return PipelineRun{}, tderr.New(tderr.CodeBackendInputInvalid, "project, repository and pipeline name are required")
	}
	if spec.Branch == "" {
		spec.Branch = "main"
	}

	if _, err := c.FindProject(ctx, spec.Project); err != nil {
		return PipelineRun{}, err
	}
	repo, err := c.FindRepository(ctx, spec.Project, spec.Repository)
	if err != nil {
		return PipelineRun{}, err
	}

	definition := map[string]any{
		"name": spec.Name,
		"configuration": map[string]any{
			"type": "yaml",
			"path": PipelineYAMLPath,
			"repository": map[string]any{
				"id":   repo.ID,
				"type": "azureReposGit",
			},
		},
	}
	var pipeline pipelineRef
	if err := c.do(ctx, http.MethodPost, c.endpoint(spec.Project, "_apis/pipelines", nil), "application/json", definition, &pipeline); err != nil {
		return PipelineRun{}, err
	}
	if pipeline.Name == "" {
		pipeline.Name = spec.Name
	}

	run := map[string]any{
		"resources": map[string]any{
			"repositories": map[string]any{
				"self": map[string]any{"refName": "refs/heads/" + strings.TrimPrefix(spec.Branch, "refs/heads/")},
			},
		},
	}
	var queued runResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(spec.Project, runsPath(pipeline.ID), nil), "application/json", run, &queued); err != nil {
		return PipelineRun{}, err
	}

	c.logger.Info("pipeline created and queued",
		"project", spec.Project,
		"pipeline_id", pipeline.ID,
		"run_id", queued.ID,
	)
	return queued.toRun(pipeline), nil
}

// LatestPipelineRun reports the most recent run of the first pipeline of
// project. The project name is matched case-insensitively.
func (c *Client) LatestPipelineRun(ctx context.Context, project string) (PipelineRun, error) {
	if project == "" {
		return PipelineRun{}, tderr.New(tderr.CodeBackendInputInvalid, "project is required")
	}
	p, err := c.findProject(ctx, project, strings.EqualFold)
	if err != nil {
		return PipelineRun{}, err
	}

	var pipelines listResponse[pipelineRef]
	if err := c.do(ctx, http.MethodGet, c.endpoint(p.Name, "_apis/pipelines", nil), "", nil, &pipelines); err != nil {
		return PipelineRun{}, err
	}
	if len(pipelines.Value) == 0 {
		return PipelineRun{}, tderr.New(tderr.CodeBackendPipelineMissing,
			fmt.Sprintf("project %q has no pipelines", p.Name), tderr.Field("project", p.Name))
	}
	pipeline := pipelines.Value[0]

	var runs listResponse[runResponse]
	if err := c.do(ctx, http.MethodGet, c.endpoint(p.Name, runsPath(pipeline.ID), nil), "", nil, &runs); err != nil {
		return PipelineRun{}, err
	}
	if len(runs.Value) == 0 {
		return PipelineRun{}, tderr.New(tderr.CodeBackendPipelineMissing,
			fmt.Sprintf("pipeline %q has no runs", pipeline.Name), tderr.Field("project", p.Name))
	}

	var detail runResponse
	endpoint := c.endpoint(p.Name, runsPath(pipeline.ID)+"/"+strconv.Itoa(runs.Value[0].ID), nil)
	if err := c.do(ctx, http.MethodGet, endpoint, "", nil, &detail); err != nil {
		return PipelineRun{}, err
	}
	return detail.toRun(pipeline), nil
}

func runsPath(pipelineID int) string {
	return "_apis/pipelines/" + strconv.Itoa(pipelineID) + "/runs"
}
