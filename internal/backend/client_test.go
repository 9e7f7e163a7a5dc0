// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package backend_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/backend"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

const testPAT = "secret-pat"

// fakeDevOps serves the subset of the Azure DevOps API the client uses.
type fakeDevOps struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

type recordedRequest struct {
	Method      string
	Path        string
	APIVersion  string
	ContentType string
	Auth        string
	Body        string
}

func newFakeDevOps(t *testing.T) (*fakeDevOps, *backend.Client) {
	t.Helper()
	f := &fakeDevOps{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := backend.NewClient(backend.Config{
		Organization:    "contoso",
		Project:         "Platform",
		PAT:             testPAT,
		BaseURL:         srv.URL,
		IdentityBaseURL: srv.URL + "/identity",
	})
	require.NoError(t, err)
	return f, client
}

func (f *fakeDevOps) failWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeDevOps) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeDevOps) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		APIVersion:  r.URL.Query().Get("api-version"),
		ContentType: r.Header.Get("Content-Type"),
		Auth:        r.Header.Get("Authorization"),
		Body:        string(body),
	})
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, "denied", status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/_apis/projects":
		_, _ = io.WriteString(w, `{"count":2,"value":[
			{"id":"p-1","name":"Platform","state":"wellFormed","url":"https://x/p-1"},
			{"id":"p-2","name":"Data","state":"wellFormed","url":"https://x/p-2"}]}`)
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/Platform/_apis/git/repositories":
		_, _ = io.WriteString(w, `{"count":1,"value":[
			{"id":"r-1","name":"api","url":"https://x/r-1","webUrl":"https://web/api","defaultBranch":"refs/heads/main","size":2048}]}`)
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/Empty/_apis/git/repositories":
		_, _ = io.WriteString(w, `{"count":0,"value":[]}`)
	case r.Method == http.MethodPost && r.URL.Path == "/contoso/Platform/_apis/wit/wiql":
		_, _ = io.WriteString(w, `{"workItems":[{"id":7},{"id":9}]}`)
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/Platform/_apis/wit/workitems":
		if r.URL.Query().Get("ids") != "7,9" {
			http.Error(w, "unexpected ids", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"count":2,"value":[
			{"id":7,"fields":{"System.WorkItemType":"Task","System.Title":"Install VS","System.State":"Active",
				"System.AssignedTo":{"displayName":"Ana"}},"_links":{"html":{"href":"https://web/7"}}},
			{"id":9,"fields":{"System.WorkItemType":"Bug","System.Title":"VPN down","System.State":"New"},
				"_links":{"html":{"href":"https://web/9"}}}]}`)
	case r.Method == http.MethodPost && r.URL.Path == "/contoso/Platform/_apis/wit/workitems/$Task":
		_, _ = io.WriteString(w, `{"id":42,"url":"https://x/wi/42"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/_apis/securitynamespaces":
		_, _ = io.WriteString(w, `{"count":2,"value":[
			{"namespaceId":"ns-wit","displayName":"Work Items","actions":[{"name":"Contribute","bit":2}]},
			{"namespaceId":"ns-git","displayName":"Git Repositories","actions":[
				{"name":"Read","bit":2},{"name":"Contribute","bit":4}]}]}`)
	case r.Method == http.MethodGet && r.URL.Path == "/identity/contoso/_apis/identities":
		if r.URL.Query().Get("filterValue") != "ana@example.com" {
			_, _ = io.WriteString(w, `{"count":0,"value":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"count":2,"value":[
			{"descriptor":"Microsoft.IdentityModel.Claims.ClaimsIdentity;other","providerDisplayName":"Ana Other"},
			{"descriptor":"Microsoft.IdentityModel.Claims.ClaimsIdentity;ana","providerDisplayName":"Ana Pérez"}]}`)
	case r.Method == http.MethodPost && r.URL.Path == "/contoso/_apis/accesscontrolentries/ns-git":
		_, _ = io.WriteString(w, `{"count":1,"value":[]}`)
	case r.Method == http.MethodPost && r.URL.Path == "/contoso/Platform/_apis/pipelines":
		_, _ = io.WriteString(w, `{"id":12,"name":"api-ci"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/contoso/Platform/_apis/pipelines/12/runs":
		_, _ = io.WriteString(w, `{"id":300,"name":"20261019.1","state":"inProgress",
			"_links":{"web":{"href":"https://web/runs/300"}}}`)
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/Platform/_apis/pipelines":
		_, _ = io.WriteString(w, `{"count":2,"value":[{"id":12,"name":"api-ci"},{"id":13,"name":"web-ci"}]}`)
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/Platform/_apis/pipelines/12/runs":
		_, _ = io.WriteString(w, `{"count":2,"value":[{"id":301},{"id":300}]}`)
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/Platform/_apis/pipelines/12/runs/301":
		_, _ = io.WriteString(w, `{"id":301,"name":"20261019.2","state":"completed","result":"succeeded",
			"createdDate":"2026-10-19T09:00:00Z","finishedDate":"2026-10-19T09:05:00Z"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/contoso/Data/_apis/pipelines":
		_, _ = io.WriteString(w, `{"count":0,"value":[]}`)
	default:
		http.NotFound(w, r)
	}
}

func TestNewClient_RequiresOrganization(t *testing.T) {
	_, err := backend.NewClient(backend.Config{})
	require.Error(t, err)
	assert.True(t, tderr.IsInvalidInput(err))
}

func TestClient_ListProjects(t *testing.T) {
	f, client := newFakeDevOps(t)

	projects, err := client.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Platform", projects[0].Name)
	assert.Equal(t, "p-1", projects[0].ID)

	reqs := f.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "7.1", reqs[0].APIVersion)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+testPAT)), reqs[0].Auth)
}

func TestClient_ListRepositories(t *testing.T) {
	_, client := newFakeDevOps(t)

	repos, err := client.ListRepositories(context.Background(), "Platform")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "main", repos[0].Branch())

	_, err = client.ListRepositories(context.Background(), "")
	assert.True(t, tderr.IsInvalidInput(err))
}

func TestClient_QueryWorkItems(t *testing.T) {
	f, client := newFakeDevOps(t)

	items, err := client.QueryWorkItems(context.Background(), backend.WorkItemQuery{Project: "Platform", State: "Active"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, backend.WorkItem{ID: 7, Type: "Task", Title: "Install VS", State: "Active", AssignedTo: "Ana", URL: "https://web/7"}, items[0])
	assert.Empty(t, items[1].AssignedTo)

	var wiql struct {
		Query string `json:"query"`
	}
	require.NoError(t, json.Unmarshal([]byte(f.recorded()[0].Body), &wiql))
	assert.Contains(t, wiql.Query, "[System.State] = 'Active'")
}

func TestBuildWIQL_EscapesQuotes(t *testing.T) {
	q := backend.BuildWIQL(backend.WorkItemQuery{Project: "O'Brien", AssignedTo: "a@b.com"})
	assert.Contains(t, q, "[System.TeamProject] = 'O''Brien'")
	assert.Contains(t, q, "[System.AssignedTo] = 'a@b.com'")
	assert.NotContains(t, q, "WorkItemType")
}

func TestClient_CreateWorkItem(t *testing.T) {
	f, client := newFakeDevOps(t)

	created, err := client.CreateWorkItem(context.Background(), backend.NewWorkItem{
		Project:     "Platform",
		Type:        "Task",
		Title:       "Approve admin access",
		Description: "Requested by ana@example.com",
		Priority:    9,
	})
	require.NoError(t, err)
	assert.Equal(t, backend.CreatedWorkItem{ID: 42, URL: "https://x/wi/42", ProjectID: "p-1"}, created)

	reqs := f.recorded()
	require.Len(t, reqs, 2)
	last := reqs[1]
	assert.Equal(t, "application/json-patch+json", last.ContentType)

	var ops []map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.Body), &ops))
	require.Len(t, ops, 3)
	assert.Equal(t, "/fields/System.Title", ops[0]["path"])
	assert.Equal(t, float64(4), ops[2]["value"], "priority is clamped")
}

func TestClient_CreateWorkItem_UnknownProject(t *testing.T) {
	_, client := newFakeDevOps(t)

	_, err := client.CreateWorkItem(context.Background(), backend.NewWorkItem{Project: "Nope", Type: "Task", Title: "x"})
	require.Error(t, err)
	assert.True(t, tderr.IsNotFound(err))
}

func TestClient_UpstreamStatus(t *testing.T) {
	f, client := newFakeDevOps(t)
	f.failWith(http.StatusUnauthorized)

	_, err := client.ListProjects(context.Background())
	require.Error(t, err)
	assert.True(t, tderr.IsUpstreamFailure(err))
	assert.Equal(t, http.StatusUnauthorized, backend.StatusOf(err))
	assert.True(t, strings.Contains(err.Error(), "401"))
}

func TestClient_Unreachable(t *testing.T) {
	client, err := backend.NewClient(backend.Config{Organization: "contoso", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = client.ListProjects(context.Background())
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeBackendRequestFailure))
	assert.Zero(t, backend.StatusOf(err))
}

func TestClient_FindRepository(t *testing.T) {
	_, client := newFakeDevOps(t)

	repo, err := client.FindRepository(context.Background(), "Platform", "api")
	require.NoError(t, err)
	assert.Equal(t, "r-1", repo.ID)

	_, err = client.FindRepository(context.Background(), "Platform", "web")
	require.Error(t, err)
	assert.True(t, tderr.IsNotFound(err))
	assert.True(t, tderr.HasCode(err, tderr.CodeBackendRepoNotFound))
}

func TestClient_AssignContributePermission(t *testing.T) {
	f, client := newFakeDevOps(t)

	granted, err := client.AssignContributePermission(context.Background(), backend.PermissionGrant{
		Project:    "Platform",
		Repository: "api",
		UserEmail:  "ana@example.com",
		UserName:   "Ana Pérez",
	})
	require.NoError(t, err)
	assert.Equal(t, backend.GrantedPermission{
		ProjectID:    "p-1",
		RepositoryID: "r-1",
		NamespaceID:  "ns-git",
		Descriptor:   "Microsoft.IdentityModel.Claims.ClaimsIdentity;ana",
		Bit:          4,
	}, granted)

	reqs := f.recorded()
	last := reqs[len(reqs)-1]
	assert.Equal(t, http.MethodPost, last.Method)
	assert.Equal(t, "/contoso/_apis/accesscontrolentries/ns-git", last.Path)

	var body struct {
		Token   string `json:"token"`
		Merge   bool   `json:"merge"`
		Entries []struct {
			Descriptor string `json:"descriptor"`
			Allow      int    `json:"allow"`
			Deny       int    `json:"deny"`
		} `json:"accessControlEntries"`
	}
	require.NoError(t, json.Unmarshal([]byte(last.Body), &body))
	assert.Equal(t, "repoV2/p-1/r-1", body.Token)
	assert.True(t, body.Merge)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, 4, body.Entries[0].Allow)
	assert.Zero(t, body.Entries[0].Deny)
}

func TestClient_AssignContributePermission_Failures(t *testing.T) {
	tests := []struct {
		name  string
		grant backend.PermissionGrant
		check func(error) bool
	}{
		{
			name:  "missing fields",
			grant: backend.PermissionGrant{Project: "Platform", Repository: "api"},
			check: tderr.IsInvalidInput,
		},
		{
			name:  "unknown repository",
			grant: backend.PermissionGrant{Project: "Platform", Repository: "web", UserEmail: "ana@example.com", UserName: "Ana Pérez"},
			check: func(err error) bool { return tderr.HasCode(err, tderr.CodeBackendRepoNotFound) },
		},
		{
			name:  "display name mismatch",
			grant: backend.PermissionGrant{Project: "Platform", Repository: "api", UserEmail: "ana@example.com", UserName: "Ana"},
			check: func(err error) bool { return tderr.HasCode(err, tderr.CodeBackendIdentityMissing) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, client := newFakeDevOps(t)

			_, err := client.AssignContributePermission(context.Background(), tt.grant)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
			for _, req := range f.recorded() {
				assert.NotEqual(t, http.MethodPost, req.Method, "no ACL is written on failure")
			}
		})
	}
}

func TestClient_CreateAndRunPipeline(t *testing.T) {
	f, client := newFakeDevOps(t)

	run, err := client.CreateAndRunPipeline(context.Background(), backend.PipelineSpec{
		Project:    "Platform",
		Repository: "api",
		Name:       "api-ci",
		Branch:     "develop",
	})
	require.NoError(t, err)
	assert.Equal(t, 12, run.PipelineID)
	assert.Equal(t, 300, run.RunID)
	assert.Equal(t, "https://web/runs/300", run.URL)

	reqs := f.recorded()
	require.GreaterOrEqual(t, len(reqs), 2)
	create, queue := reqs[len(reqs)-2], reqs[len(reqs)-1]

	var definition struct {
		Name          string `json:"name"`
		Configuration struct {
			Type       string `json:"type"`
			Path       string `json:"path"`
			Repository struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"repository"`
		} `json:"configuration"`
	}
	require.NoError(t, json.Unmarshal([]byte(create.Body), &definition))
	assert.Equal(t, "api-ci", definition.Name)
	assert.Equal(t, "yaml", definition.Configuration.Type)
	assert.Equal(t, backend.PipelineYAMLPath, definition.Configuration.Path)
	assert.Equal(t, "r-1", definition.Configuration.Repository.ID)
	assert.Equal(t, "azureReposGit", definition.Configuration.Repository.Type)

	assert.Equal(t, "/contoso/Platform/_apis/pipelines/12/runs", queue.Path)
	assert.Contains(t, queue.Body, `"refName":"refs/heads/develop"`)
}

func TestClient_CreateAndRunPipeline_DefaultsBranch(t *testing.T) {
	f, client := newFakeDevOps(t)

	_, err := client.CreateAndRunPipeline(context.Background(), backend.PipelineSpec{
		Project: "Platform", Repository: "api", Name: "api-ci",
	})
	require.NoError(t, err)
	reqs := f.recorded()
	assert.Contains(t, reqs[len(reqs)-1].Body, `"refName":"refs/heads/main"`)

	_, err = client.CreateAndRunPipeline(context.Background(), backend.PipelineSpec{Project: "Platform", Repository: "api"})
	assert.True(t, tderr.IsInvalidInput(err))
}

func TestClient_LatestPipelineRun(t *testing.T) {
	_, client := newFakeDevOps(t)

	run, err := client.LatestPipelineRun(context.Background(), "platform")
	require.NoError(t, err)
	assert.Equal(t, backend.PipelineRun{
		PipelineID:   12,
		PipelineName: "api-ci",
		RunID:        301,
		RunName:      "20261019.2",
		State:        "completed",
		Result:       "succeeded",
		CreatedDate:  "2026-10-19T09:00:00Z",
		FinishedDate: "2026-10-19T09:05:00Z",
	}, run)

	_, err = client.LatestPipelineRun(context.Background(), "Data")
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeBackendPipelineMissing))
	assert.True(t, tderr.IsNotFound(err))
}
