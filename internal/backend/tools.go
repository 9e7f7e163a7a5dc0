// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Markers the action tools put in their output. A successful mutation
// contains both SuccessMarker and SuccessWord; any failure starts with
// ErrorMarker. The action agent may rephrase a failure, so only the
// symbol is matched.
const (
	SuccessMarker = "✅"
	SuccessWord   = "EXITOSAMENTE"
	ErrorMarker   = "❌"
)

const separator = "================================================================================"

// Succeeded reports whether a tool output announces a successful action.
func Succeeded(output string) bool {
	return strings.Contains(output, SuccessMarker) && strings.Contains(output, SuccessWord)
}

// Failed reports whether a tool output carries the error marker.
func Failed(output string) bool {
	return strings.Contains(output, ErrorMarker)
}

// ActionInstructions is the prompt of the per-turn action agent.
const ActionInstructions = `You execute IT-support actions in Azure DevOps for an already authorized
request. Use the available tools: list_projects, list_repositories,
get_work_items, create_work_item, assign_contribute_permission,
create_and_run_pipeline and get_pipeline_run_report. When the input says mode is
CREATE_APPROVAL_TICKET, create exactly one work item of type "Task" whose
title summarises the request and whose description includes the requester,
the request text, the risk level, the policy references and the required
approver role. Grant repository permissions only with the exact user
email and display name given in the request. Never invent identifiers; report tool output faithfully,
including any line starting with ✅ or ❌.`

// ActionAgent returns the definition of the action agent backed by client.
func ActionAgent(client *Client, model string) agent.Definition {
	return agent.Definition{
		Name:         "ado-action-agent",
		Model:        model,
		Instructions: ActionInstructions,
		Tools:        Tools(client),
	}
}

// Tools returns the Azure DevOps tools. Backend failures are rendered as
// output starting with ErrorMarker instead of tool errors so the model can
// relay them.
func Tools(client *Client) []agent.Tool {
	return []agent.Tool{
		listProjectsTool(client),
		listRepositoriesTool(client),
		getWorkItemsTool(client),
		createWorkItemTool(client),
		assignContributeTool(client),
		createAndRunPipelineTool(client),
		pipelineRunReportTool(client),
	}
}

func listProjectsTool(client *Client) agent.Tool {
	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        "list_projects",
			Description: "Lists every project in the Azure DevOps organization.",
			InputSchema: agent.ObjectSchema(map[string]string{}),
		},
		Fn: func(ctx context.Context, _ string) (string, error) {
			projects, err := client.ListProjects(ctx)
			if err != nil {
				return failure(err, ""), nil
			}

			var b strings.Builder
			b.WriteString("Proyectos encontrados:\n\n")
			for _, p := range projects {
				fmt.Fprintf(&b, "- %s (ID: %s)\n  Estado: %s\n  URL: %s\n\n", p.Name, p.ID, p.State, p.URL)
			}
			return b.String(), nil
		},
	}
}

func listRepositoriesTool(client *Client) agent.Tool {
	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        "list_repositories",
			Description: "Lists the Git repositories of a project.",
			InputSchema: agent.ObjectSchema(map[string]string{
				"project": "Project name. Defaults to the configured project.",
			}),
		},
		Fn: func(ctx context.Context, arguments string) (string, error) {
			var args struct {
				Project string `json:"project"`
			}
			if err := decodeArgs(arguments, &args); err != nil {
				return failure(err, ""), nil
			}
			project := projectOrDefault(client, args.Project)

			repos, err := client.ListRepositories(ctx, project)
			if err != nil {
				return failure(err, project), nil
			}
			if len(repos) == 0 {
				return fmt.Sprintf("No se encontraron repositorios en el proyecto '%s'.", project), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "REPOSITORIOS EN '%s'\n%s\n\nTotal de repositorios: %d\n\n", project, separator, len(repos))
			for _, r := range repos {
				status := "Activo"
				if r.IsDisabled {
					status = "Deshabilitado"
				}
				branch := r.Branch()
				if branch == "" {
					branch = "N/A"
				}
				fmt.Fprintf(&b, "%s\n   ID: %s\n   URL: %s\n   Web URL: %s\n   Tamaño: %d bytes\n   Rama por defecto: %s\n   Estado: %s\n\n",
					r.Name, r.ID, r.URL, r.WebURL, r.Size, branch, status)
			}
			return b.String(), nil
		},
	}
}

func getWorkItemsTool(client *Client) agent.Tool {
	schema := agent.ObjectSchema(map[string]string{
		"project":        "Project name. Defaults to the configured project.",
		"work_item_type": "Work item type, e.g. Bug, Task, User Story.",
		"state":          "State, e.g. New, Active, Resolved, Closed.",
		"assigned_to":    "Assignee email or display name.",
	})
	schema["properties"].(map[string]any)["max_results"] = map[string]any{
		"type":        "integer",
		"description": "Maximum number of work items to return (default 50).",
	}

	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        "get_work_items",
			Description: "Searches work items of a project with optional type, state and assignee filters.",
			InputSchema: schema,
		},
		Fn: func(ctx context.Context, arguments string) (string, error) {
			var args struct {
				Project      string `json:"project"`
				WorkItemType string `json:"work_item_type"`
				State        string `json:"state"`
				AssignedTo   string `json:"assigned_to"`
				MaxResults   int    `json:"max_results"`
			}
			if err := decodeArgs(arguments, &args); err != nil {
				return failure(err, ""), nil
			}
			project := projectOrDefault(client, args.Project)

			items, err := client.QueryWorkItems(ctx, WorkItemQuery{
				Project:    project,
				Type:       args.WorkItemType,
				State:      args.State,
				AssignedTo: args.AssignedTo,
				MaxResults: args.MaxResults,
			})
			if err != nil {
				return failure(err, project), nil
			}
			if len(items) == 0 {
				return "No se encontraron work items con los criterios especificados.", nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Work Items encontrados (%d):\n\n", len(items))
			for _, it := range items {
				assigned := it.AssignedTo
				if assigned == "" {
					assigned = "Sin asignar"
				}
				fmt.Fprintf(&b, "ID: %d\nTipo: %s\nTítulo: %s\nEstado: %s\nAsignado a: %s\nURL: %s\n\n",
					it.ID, it.Type, it.Title, it.State, assigned, it.URL)
			}
			return b.String(), nil
		},
	}
}

func createWorkItemTool(client *Client) agent.Tool {
	schema := agent.ObjectSchema(map[string]string{
		"project":     "Project name. Defaults to the configured project.",
		"type":        `Work item type, e.g. "Task", "Bug", "Product Backlog Item".`,
		"title":       "Work item title.",
		"description": "Work item description.",
	}, "type", "title", "description")
	schema["properties"].(map[string]any)["priority"] = map[string]any{
		"type":        "integer",
		"description": "Priority from 1 (highest) to 4.",
	}

	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        "create_work_item",
			Description: "Creates a work item in an Azure DevOps project.",
			InputSchema: schema,
		},
		Fn: func(ctx context.Context, arguments string) (string, error) {
			var args struct {
				Project     string `json:"project"`
				Type        string `json:"type"`
				Title       string `json:"title"`
				Description string `json:"description"`
				Priority    int    `json:"priority"`
			}
			if err := decodeArgs(arguments, &args); err != nil {
				return failure(err, ""), nil
			}
			project := projectOrDefault(client, args.Project)

			created, err := client.CreateWorkItem(ctx, NewWorkItem{
				Project:     project,
				Type:        args.Type,
				Title:       args.Title,
				Description: args.Description,
				Priority:    args.Priority,
			})
			if err != nil {
				return failure(err, project), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%s WORK ITEM CREADO %s\n%s\n\n", SuccessMarker, SuccessWord, separator)
			fmt.Fprintf(&b, "Proyecto: %s\nTipo: %s\nProject ID: %s\nWork Item ID: %d\nURL Work Item: %s\n",
				project, args.Type, created.ProjectID, created.ID, created.URL)
			return b.String(), nil
		},
	}
}

func assignContributeTool(client *Client) agent.Tool {
	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        "assign_contribute_permission",
			Description: "Grants a user the Contribute permission on a Git repository.",
			InputSchema: agent.ObjectSchema(map[string]string{
				"project":    "Project name. Defaults to the configured project.",
				"repository": "Repository name.",
				"user_email": "Email of the user receiving the permission.",
				"user_name":  "Display name of the user, exactly as shown in Azure DevOps.",
			}, "repository", "user_email", "user_name"),
		},
		Fn: func(ctx context.Context, arguments string) (string, error) {
			var args struct {
				Project    string `json:"project"`
				Repository string `json:"repository"`
				UserEmail  string `json:"user_email"`
				UserName   string `json:"user_name"`
			}
			if err := decodeArgs(arguments, &args); err != nil {
				return failure(err, ""), nil
			}
			project := projectOrDefault(client, args.Project)

			granted, err := client.AssignContributePermission(ctx, PermissionGrant{
				Project:    project,
				Repository: args.Repository,
				UserEmail:  args.UserEmail,
				UserName:   args.UserName,
			})
			if err != nil {
				return failure(err, project), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%s PERMISO ASIGNADO %s\n%s\n\n", SuccessMarker, SuccessWord, separator)
			fmt.Fprintf(&b, "Usuario: %s (%s)\nRepositorio: %s\nProyecto: %s\nPermiso: %s\n",
				args.UserName, args.UserEmail, args.Repository, project, contributeAction)
			fmt.Fprintf(&b, "Project ID: %s\nRepository ID: %s\n", granted.ProjectID, granted.RepositoryID)
			return b.String(), nil
		},
	}
}

func createAndRunPipelineTool(client *Client) agent.Tool {
	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        "create_and_run_pipeline",
			Description: "Creates a YAML pipeline (" + PipelineYAMLPath + ") for a repository and queues its first run.",
			InputSchema: agent.ObjectSchema(map[string]string{
				"project":       "Project name. Defaults to the configured project.",
				"repository":    "Repository name.",
				"pipeline_name": "Name of the new pipeline.",
				"branch":        "Branch to run on. Defaults to main.",
			}, "repository", "pipeline_name"),
		},
		Fn: func(ctx context.Context, arguments string) (string, error) {
			var args struct {
				Project      string `json:"project"`
				Repository   string `json:"repository"`
				PipelineName string `json:"pipeline_name"`
				Branch       string `json:"branch"`
			}
			if err := decodeArgs(arguments, &args); err != nil {
				return failure(err, ""), nil
			}
			project := projectOrDefault(client, args.Project)

			run, err := client.CreateAndRunPipeline(ctx, PipelineSpec{
				Project:    project,
				Repository: args.Repository,
				Name:       args.PipelineName,
				Branch:     args.Branch,
			})
			if err != nil {
				return failure(err, project), nil
			}

			branch := args.Branch
			if branch == "" {
				branch = "main"
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%s PIPELINE CREADO Y EJECUTADO %s\n%s\n\n", SuccessMarker, SuccessWord, separator)
			fmt.Fprintf(&b, "Proyecto: %s\nRepositorio: %s\nPipeline: %s (ID: %d)\nRama: %s\nRun ID: %d\n",
				project, args.Repository, run.PipelineName, run.PipelineID, branch, run.RunID)
			if run.URL != "" {
				fmt.Fprintf(&b, "URL: %s\n", run.URL)
			}
			return b.String(), nil
		},
	}
}

func pipelineRunReportTool(client *Client) agent.Tool {
	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        "get_pipeline_run_report",
			Description: "Reports the state and result of the latest run of a project's pipeline.",
			InputSchema: agent.ObjectSchema(map[string]string{
				"project": "Project name. Defaults to the configured project.",
			}),
		},
		Fn: func(ctx context.Context, arguments string) (string, error) {
			var args struct {
				Project string `json:"project"`
			}
			if err := decodeArgs(arguments, &args); err != nil {
				return failure(err, ""), nil
			}
			project := projectOrDefault(client, args.Project)

			run, err := client.LatestPipelineRun(ctx, project)
			if err != nil {
				return failure(err, project), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%s PIPELINE RUN REPORT\n%s\n\n", SuccessMarker, separator)
			fmt.Fprintf(&b, "Proyecto: %s\nPipeline: %s (ID: %d)\nRun: %s (ID: %d)\nEstado: %s\nResultado: %s\nCreado: %s\nFinalizado: %s\n",
				project, run.PipelineName, run.PipelineID, orNA(run.RunName), run.RunID,
				orNA(run.State), orNA(run.Result), orNA(run.CreatedDate), orNA(run.FinishedDate))
			return b.String(), nil
		},
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func decodeArgs(arguments string, v any) error {
	if strings.TrimSpace(arguments) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return tderr.Wrap(err, tderr.CodeBackendInputInvalid, "decoding tool arguments")
	}
	return nil
}

func projectOrDefault(client *Client, project string) string {
	if p := strings.TrimSpace(project); p != "" {
		return p
	}
	return client.DefaultProject()
}

// failure renders err as a user-relayable message starting with ErrorMarker.
func failure(err error, project string) string {
	switch {
	case tderr.HasCode(err, tderr.CodeBackendProjectNotFound):
		return fmt.Sprintf("%s ERROR: no se encontró el proyecto '%s'.", ErrorMarker, project)
	case tderr.IsNotFound(err):
		return fmt.Sprintf("%s ERROR: %v", ErrorMarker, err)
	case tderr.IsInvalidInput(err):
		return fmt.Sprintf("%s ERROR: parámetros inválidos (%v).", ErrorMarker, err)
	}

	switch StatusOf(err) {
	case http.StatusUnauthorized:
		return ErrorMarker + " ERROR 401: no autorizado. Revisa el Personal Access Token (PAT)."
	case http.StatusForbidden:
		return ErrorMarker + " ERROR 403: no tienes permisos para esta operación."
	case http.StatusNotFound:
		return fmt.Sprintf("%s ERROR 404: no se encontró el recurso solicitado en '%s'.", ErrorMarker, project)
	case 0:
		return fmt.Sprintf("%s ERROR: %v", ErrorMarker, err)
	default:
		return fmt.Sprintf("%s ERROR HTTP %d: %v", ErrorMarker, StatusOf(err), err)
	}
}
