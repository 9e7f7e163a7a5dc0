// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package backend talks to the Azure DevOps REST API on behalf of the
// action agent: projects, repositories, work items, repository
// permissions and pipelines.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

const (
	defaultBaseURL    = "https://dev.azure.com"
	defaultIdentity   = "https://vssps.dev.azure.com"
	defaultAPIVersion = "7.1"
	defaultTimeout    = 30 * time.Second
	maxErrorBody      = 512
)

// Config configures a Client.
type Config struct {
	Organization    string
	// Project is used by tools when the model does not name one.
	Project         string
	PAT             string
	BaseURL         string
	// IdentityBaseURL hosts the identities API used to resolve users for
	// permission grants.
	IdentityBaseURL string
	APIVersion      string
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client is a minimal Azure DevOps REST client authenticated with a
// personal access token.
type Client struct {
	org        string
	project    string
	pat        string
	baseURL    string
	identity   string
	apiVersion string
	http       *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Organization) == "" {
		return nil, tderr.New(tderr.CodeBackendInputInvalid, "backend organization is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.IdentityBaseURL == "" {
		cfg.IdentityBaseURL = defaultIdentity
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		org:        cfg.Organization,
		project:    cfg.Project,
		pat:        cfg.PAT,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		identity:   strings.TrimRight(cfg.IdentityBaseURL, "/"),
		apiVersion: cfg.APIVersion,
		http:       cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// DefaultProject returns the configured fallback project, possibly empty.
func (c *Client) DefaultProject() string { return c.project }

// Project is an Azure DevOps team project.
type Project struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
	URL   string `json:"url"`
}

// Repository is a Git repository inside a project.
type Repository struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	WebURL        string `json:"webUrl"`
	DefaultBranch string `json:"defaultBranch"`
	Size          int64  `json:"size"`
	IsDisabled    bool   `json:"isDisabled"`
}

// Branch returns the default branch without its refs/heads/ prefix.
func (r Repository) Branch() string {
	return strings.TrimPrefix(r.DefaultBranch, "refs/heads/")
}

// WorkItem is the subset of work item fields the tools report.
type WorkItem struct {
	ID         int
	Type       string
	Title      string
	State      string
	AssignedTo string
	URL        string
}

// WorkItemQuery filters QueryWorkItems. Empty fields are not filtered on.
type WorkItemQuery struct {
	Project    string
	Type       string
	State      string
	AssignedTo string
	MaxResults int
}

// NewWorkItem describes a work item to create.
type NewWorkItem struct {
	Project     string
	Type        string
	Title       string
	Description string
	Priority    int
}

// CreatedWorkItem is the result of CreateWorkItem.
type CreatedWorkItem struct {
	ID        int
	URL       string
	ProjectID string
}

type listResponse[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp listResponse[Project]
	if err := c.do(ctx, http.MethodGet, c.endpoint("", "_apis/projects", nil), "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// FindProject returns the project whose name matches name exactly.
func (c *Client) FindProject(ctx context.Context, name string) (Project, error) {
	return c.findProject(ctx, name, func(a, b string) bool { return a == b })
}

func (c *Client) findProject(ctx context.Context, name string, match func(a, b string) bool) (Project, error) {
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return Project{}, err
	}
	for _, p := range projects {
		if match(p.Name, name) {
			return p, nil
		}
	}
	return Project{}, tderr.New(tderr.CodeBackendProjectNotFound,
		fmt.Sprintf("project %q not found", name), tderr.Field("project", name))
}

func (c *Client) ListRepositories(ctx context.Context, project string) ([]Repository, error) {
	if project == "" {
		return nil, tderr.New(tderr.CodeBackendInputInvalid, "project is required")
	}
	var resp listResponse[Repository]
	if err := c.do(ctx, http.MethodGet, c.endpoint(project, "_apis/git/repositories", nil), "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// FindRepository returns the repository of project named name.
func (c *Client) FindRepository(ctx context.Context, project, name string) (Repository, error) {
	repos, err := c.ListRepositories(ctx, project)
	if err != nil {
		return Repository{}, err
	}
	for _, r := range repos {
		if r.Name == name {
			return r, nil
		}
	}
	return Repository{}, tderr.New(tderr.CodeBackendRepoNotFound,
		fmt.Sprintf("repository %q not found in project %q", name, project),
		tderr.Field("project", project), tderr.Field("repository", name))
}

// QueryWorkItems runs a WIQL query built from q and fetches the details of
// the matching items.
func (c *Client) QueryWorkItems(ctx context.Context, q WorkItemQuery) ([]WorkItem, error) {
	if q.Project == "" {
		return nil, tderr.New(tderr.CodeBackendInputInvalid, "project is required")
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 50
	}

	var refs struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	body := map[string]string{"query": BuildWIQL(q)}
	if err := c.do(ctx, http.MethodPost, c.endpoint(q.Project, "_apis/wit/wiql", nil), "application/json", body, &refs); err != nil {
		return nil, err
	}
	if len(refs.WorkItems) == 0 {
		return nil, nil
	}
	if len(refs.WorkItems) > q.MaxResults {
		refs.WorkItems = refs.WorkItems[:q.MaxResults]
	}

	ids := make([]string, 0, len(refs.WorkItems))
	for _, r := range refs.WorkItems {
		ids = append(ids, strconv.Itoa(r.ID))
	}

	var details listResponse[struct {
		ID     int            `json:"id"`
		Fields map[string]any `json:"fields"`
		Links  struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"_links"`
	}]
	query := url.Values{"ids": {strings.Join(ids, ",")}}
	if err := c.do(ctx, http.MethodGet, c.endpoint(q.Project, "_apis/wit/workitems", query), "", nil, &details); err != nil {
		return nil, err
	}

	items := make([]WorkItem, 0, len(details.Value))
	for _, d := range details.Value {
		items = append(items, WorkItem{
			ID:         d.ID,
			Type:       stringField(d.Fields, "System.WorkItemType"),
			Title:      stringField(d.Fields, "System.Title"),
			State:      stringField(d.Fields, "System.State"),
			AssignedTo: identityField(d.Fields, "System.AssignedTo"),
			URL:        d.Links.HTML.Href,
		})
	}
	return items, nil
}

// BuildWIQL renders the WIQL text for q. Values are quoted with single
// quotes doubled.
func BuildWIQL(q WorkItemQuery) string {
	var b strings.Builder
	b.WriteString("SELECT [System.Id], [System.Title], [System.State], [System.AssignedTo] FROM WorkItems WHERE [System.TeamProject] = ")
	b.WriteString(wiqlString(q.Project))
	if q.Type != "" {
		b.WriteString(" AND [System.WorkItemType] = " + wiqlString(q.Type))
	}
	if q.State != "" {
		b.WriteString(" AND [System.State] = " + wiqlString(q.State))
	}
	if q.AssignedTo != "" {
		b.WriteString(" AND [System.AssignedTo] = " + wiqlString(q.AssignedTo))
	}
	b.WriteString(" ORDER BY [System.ChangedDate] DESC")
	return b.String()
}

func wiqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// CreateWorkItem creates a work item after checking that the project
// exists. Priority is clamped to 1..4, defaulting to 2.
func (c *Client) CreateWorkItem(ctx context.Context, in NewWorkItem) (CreatedWorkItem, error) {
	if in.Project == "" || in.Type == "" || strings.TrimSpace(in.Title) == "" {
		return CreatedWorkItem{}, tderr.New(tderr.CodeBackendInputInvalid, "project, type and title are required")
	}
	if in.Priority == 0 {
		in.Priority = 2
	}
	in.Priority = min(max(in.Priority, 1), 4)

	project, err := c.FindProject(ctx, in.Project)
	if err != nil {
		return CreatedWorkItem{}, err
	}

	ops := []patchOp{
		{Op: "add", Path: "/fields/System.Title", Value: in.Title},
		{Op: "add", Path: "/fields/System.Description", Value: in.Description},
		{Op: "add", Path: "/fields/Microsoft.VSTS.Common.Priority", Value: in.Priority},
	}

	var created struct {
		ID  int    `json:"id"`
		URL string `json:"url"`
	}
	endpoint := c.endpoint(in.Project, "_apis/wit/workitems/$"+url.PathEscape(in.Type), nil)
	if err := c.do(ctx, http.MethodPost, endpoint, "application/json-patch+json", ops, &created); err != nil {
		return CreatedWorkItem{}, err
	}

	c.logger.Info("work item created",
		"project", in.Project,
		"type", in.Type,
		"id", created.ID,
	)
	return CreatedWorkItem{ID: created.ID, URL: created.URL, ProjectID: project.ID}, nil
}

func (c *Client) endpoint(project, path string, query url.Values) string {
	return c.endpointAt(c.baseURL, project, path, query)
}

func (c *Client) endpointAt(base, project, path string, query url.Values) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("/")
	b.WriteString(url.PathEscape(c.org))
	if project != "" {
		b.WriteString("/")
		b.WriteString(url.PathEscape(project))
	}
	b.WriteString("/")
	b.WriteString(path)

	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)
	b.WriteString("?")
	b.WriteString(query.Encode())
	return b.String()
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return tderr.Wrap(err, tderr.CodeBackendRequestFailure, "encoding request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return tderr.Wrap(err, tderr.CodeBackendRequestFailure, "building request")
	}
	req.SetBasicAuth("", c.pat)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return tderr.Wrap(ctx.Err(), tderr.CodeBackendRequestFailure, "request cancelled")
		}
		return tderr.Wrapf(err, tderr.CodeBackendRequestFailure, "%s %s", method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("backend request",
		"method", method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return tderr.New(tderr.CodeBackendUpstreamFailure,
			fmt.Sprintf("%s %s returned %d: %s", method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet))),
			tderr.Field("status", resp.StatusCode),
		)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return tderr.Wrapf(err, tderr.CodeBackendUpstreamFailure, "decoding %s response", req.URL.Path)
	}
	return nil
}

// StatusOf returns the HTTP status carried by a backend upstream error,
// or 0.
func StatusOf(err error) int {
	if status, ok := tderr.FieldsOf(err)["status"].(int); ok {
		return status
	}
	return 0
}

func stringField(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}

func identityField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case map[string]any:
		if name, ok := v["displayName"].(string); ok {
			return name
		}
	case string:
		return v
	}
	return ""
}
