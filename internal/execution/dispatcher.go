// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package execution runs the authorized part of a turn: a triage agent
// that answers from the knowledge base or acts through the ticketing
// backend.
package execution

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/backend"
	"github.com/techdesk-dev/techdesk/internal/conversation"
	"github.com/techdesk-dev/techdesk/internal/policy"
	"github.com/techdesk-dev/techdesk/internal/profile"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Mode selects what the triage agent is asked to do.
type Mode string

const (
	ModeNone                 Mode = "NONE"
	ModeCreateApprovalTicket Mode = "CREATE_APPROVAL_TICKET"
)

// Request is the input of one execution.
type Request struct {
	Text     string
	Email    string
	Profile  profile.Profile
	ThreadID string
	State    conversation.State
	// Verdict is the policy verdict of this turn, or the cached one when a
	// confirmed request is resumed.
	Verdict *policy.Verdict
	Mode    Mode
}

// Report records which capabilities took part in a turn. It is diagnostic
// only.
type Report struct {
	PolicyGuard   bool `json:"policy_guard"`
	MCPADO        bool `json:"mcp_ado"`
	KnowledgeBase bool `json:"knowledge_base"`
}

// Result is the outcome of one execution.
type Result struct {
	ThreadID  string
	Response  string
	ToolsUsed Report
	RunStatus string
}

// Config configures a Dispatcher.
type Config struct {
	Platform *agent.Platform
	Store    conversation.Store
	// Model is the triage agent's provider/model ref.
	Model string
	// KnowledgeAgentID is the long-lived knowledge-base agent. Empty
	// leaves the triage agent without knowledge search.
	KnowledgeAgentID string
	// Action is the template of the per-turn action agent. Nil leaves the
	// triage agent without backend access.
	Action *agent.Definition
	Logger *slog.Logger
}

// Dispatcher creates the per-turn agents, runs triage and cleans up.
type Dispatcher struct {
	platform    *agent.Platform
	store       conversation.Store
	model       string
	knowledgeID string
	action      *agent.Definition
	logger      *slog.Logger
}

type payload struct {
	UserRequest       string             `json:"user_request"`
	UserEmail         string             `json:"user_email"`
	UserProfile       profile.Profile    `json:"user_profile"`
	ConversationState conversation.State `json:"conversation_state"`
	PolicyDecision    *policy.Verdict    `json:"policy_decision"`
	Mode              Mode               `json:"mode,omitempty"`
}

func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Platform == nil || cfg.Store == nil {
		return nil, tderr.New(tderr.CodeAgentPlatformInvalid, "execution dispatcher needs a platform and a store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		platform:    cfg.Platform,
		store:       cfg.Store,
		model:       cfg.Model,
		knowledgeID: cfg.KnowledgeAgentID,
		action:      cfg.Action,
		logger:      logger,
	}, nil
}

// Execute runs the triage agent for req on its thread. Agents created for
// the turn are deleted before returning, also on failure. A missing final
// reply fails with capability.reply.missing.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (result Result, err error) {
	thread := d.platform.EnsureThread(req.ThreadID)
	result.ThreadID = thread
	logger := d.logger.With("thread_id", thread, "mode", req.Mode)

	var created []string
	defer func() {
		for _, id := range created {
			if derr := d.platform.DeleteAgent(id); derr != nil {
				logger.Warn("deleting turn agent", "agent_id", id, "error", derr)
			}
		}
	}()

	var tools []agent.Tool
	if d.knowledgeID != "" {
		tools = append(tools, d.platform.ConnectedTool(d.knowledgeID, KnowledgeToolName,
			"Answers questions about internal IT manuals, procedures and allowed software."))
	}

	var actionID string
	if d.action != nil {
		actionID, err = d.platform.CreateAgent(*d.action)
		if err != nil {
			return result, tderr.Wrap(err, tderr.CodeExecutionRunFailure, "creating action agent")
		}
		created = append(created, actionID)
		tools = append(tools, d.platform.ConnectedTool(actionID, ActionToolName,
			"Executes actions in Azure DevOps: projects, repositories and work items."))
	}

	triageID, err := d.platform.CreateAgent(agent.Definition{
		Name:         "triage-agent",
		Model:        d.model,
		Instructions: TriageInstructions,
		Tools:        tools,
	})
	if err != nil {
		return result, tderr.Wrap(err, tderr.CodeExecutionRunFailure, "creating triage agent")
	}
	created = append(created, triageID)

	p := payload{
		UserRequest:       req.Text,
		UserEmail:         req.Email,
		UserProfile:       req.Profile,
		ConversationState: req.State,
		PolicyDecision:    req.Verdict,
	}
	if req.Mode != "" && req.Mode != ModeNone {
		p.Mode = req.Mode
	}
	body, err := json.Marshal(p)
	if err != nil {
		return result, tderr.Wrap(err, tderr.CodeExecutionRunFailure, "encoding triage payload")
	}
	if err := d.platform.AddMessage(thread, provider.MessageRoleUser, string(body)); err != nil {
		return result, err
	}

	run, err := d.platform.Run(ctx, thread, triageID)
	if run != nil {
		result.RunStatus = string(run.Status)
	}
	if err != nil {
		return result, tderr.Wrap(err, tderr.CodeExecutionRunFailure, "triage run failed", tderr.FieldThreadID(thread))
	}

	result.ToolsUsed = Report{
		PolicyGuard:   true,
		MCPADO:        run.CalledAgent(actionID),
		KnowledgeBase: run.CalledAgent(d.knowledgeID),
	}
	d.logActionOutcome(logger, run, actionID)

	reply, ok := d.platform.LatestReply(thread)
	if !ok {
		return result, tderr.New(tderr.CodeCapabilityReplyMissing, "triage agent produced no reply", tderr.FieldThreadID(thread))
	}
	result.Response = reply

	if req.Mode == ModeCreateApprovalTicket {
		if err := d.store.ClearConfirmation(ctx, thread); err != nil {
			return result, err
		}
	}

	logger.Debug("execution finished",
		"run_status", result.RunStatus,
		"mcp_ado", result.ToolsUsed.MCPADO,
		"knowledge_base", result.ToolsUsed.KnowledgeBase)
	return result, nil
}

func (d *Dispatcher) logActionOutcome(logger *slog.Logger, run *agent.Run, actionID string) {
	if actionID == "" {
		return
	}
	for _, step := range run.Steps {
		for _, tc := range step.ToolCalls {
			if tc.AgentID != actionID {
				continue
			}
			switch {
			case backend.Succeeded(tc.Output):
				logger.Info("backend action succeeded", "tool_call_id", tc.ID)
			case backend.Failed(tc.Output), tc.Err != "":
				logger.Warn("backend action failed", "tool_call_id", tc.ID, "error", tc.Err)
			}
		}
	}
}
