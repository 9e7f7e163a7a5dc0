// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/techdesk-dev/techdesk/internal/execution"
	"github.com/techdesk-dev/techdesk/internal/policy"
	"github.com/techdesk-dev/techdesk/internal/router"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func (s *Server) registerRoutes() {
	if s.services == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID:   "submit-support-request",
		Method:        http.MethodPost,
		Path:          "/support",
		Summary:       "Submit a support request or answer a pending confirmation",
		Tags:          []string{"support"},
		DefaultStatus: http.StatusOK,
	}, s.handleSupport)

	if s.services.threads != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-thread-state",
			Method:      http.MethodGet,
			Path:        "/api/v1/threads/{id}",
			Summary:     "Get the stored conversation state of a thread",
			Tags:        []string{"threads"},
		}, s.handleGetThread)
	}

	if s.services.providers != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-provider-health",
			Method:      http.MethodGet,
			Path:        "/api/v1/providers/{name}/health",
			Summary:     "Get provider health metrics",
			Tags:        []string{"providers"},
		}, s.handleProviderHealth)
	}
}

// SupportRequestBody is the body of POST /support.
type SupportRequestBody struct {
	UserRequest string `json:"user_request" minLength:"1" maxLength:"8000" doc:"Free-text request or yes/no reply"`
	UserEmail   string `json:"user_email" doc:"Requester email, used for profile lookup"`
	ThreadID    string `json:"thread_id,omitempty" required:"false" doc:"Continue an existing conversation"`
}

type supportInput struct {
	Body SupportRequestBody
}

// SupportResponseBody is the answer to a support turn.
type SupportResponseBody struct {
	ThreadID  string           `json:"thread_id"`
	Response  string           `json:"response"`
	ToolsUsed execution.Report `json:"tools_used"`
	RunStatus string           `json:"run_status" doc:"completed, needs_approval, waiting_confirmation, denied or the triage run status"`
}

type supportOutput struct {
	Body SupportResponseBody
}

func (s *Server) handleSupport(ctx context.Context, input *supportInput) (*supportOutput, error) {
	out, err := s.services.turns.HandleTurn(ctx, router.Turn{
		Request:  input.Body.UserRequest,
		Email:    input.Body.UserEmail,
		ThreadID: input.Body.ThreadID,
	})
	if err != nil {
		return nil, s.apiError("support turn failed", err)
	}
	return &supportOutput{Body: SupportResponseBody{
		ThreadID:  out.ThreadID,
		Response:  out.Response,
		ToolsUsed: out.ToolsUsed,
		RunStatus: out.RunStatus,
	}}, nil
}

type threadInput struct {
	ID string `path:"id"`
}

// ThreadStateBody mirrors the stored conversation state of one thread.
type ThreadStateBody struct {
	ThreadID             string          `json:"thread_id"`
	AwaitingConfirmation bool            `json:"awaiting_work_item_confirmation"`
	LastDeniedRequest    string          `json:"last_denied_request,omitempty"`
	LastPolicyDecision   *policy.Verdict `json:"last_policy_decision,omitempty"`
}

type threadOutput struct {
	Body ThreadStateBody
}

func (s *Server) handleGetThread(ctx context.Context, input *threadInput) (*threadOutput, error) {
	state, err := s.services.threads.Lookup(ctx, input.ID)
	if err != nil {
		return nil, s.apiError("thread lookup failed", err)
	}
	return &threadOutput{Body: ThreadStateBody{
		ThreadID:             input.ID,
		AwaitingConfirmation: state.AwaitingConfirmation,
		LastDeniedRequest:    state.LastDeniedRequest,
		LastPolicyDecision:   state.LastPolicyDecision,
	}}, nil
}

type providerHealthInput struct {
	Name string `path:"name"`
}

type providerHealthOutput struct {
	Body ProviderHealthDetail
}

func (s *Server) handleProviderHealth(ctx context.Context, input *providerHealthInput) (*providerHealthOutput, error) {
	detail, err := s.services.providers.GetHealth(ctx, input.Name)
	if err != nil {
		return nil, s.apiError("provider health failed", err)
	}
	return &providerHealthOutput{Body: *detail}, nil
}

// apiError maps a coded error onto an HTTP problem response. Server-side
// failures are logged here since huma only sees the status.
func (s *Server) apiError(op string, err error) error {
	status := tderr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, "error", err, "code", tderr.CodeOf(err), "status", status)
	}
	return huma.NewError(status, err.Error())
}
