// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// defaultMaxToolCallsPerTurn is the default maximum number of tool calls
// allowed in a single run when MaxToolCallsPerTurn is not configured.
const defaultMaxToolCallsPerTurn = 10

// maxToolLoopIterations is the maximum number of tool-loop iterations
// (LLM call → tool dispatch → re-call) before the run is cut short.
const maxToolLoopIterations = 5

type RunStatus string

const (
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
	RunStatusIncomplete RunStatus = "incomplete"
)

type StepType string

const (
	StepTypeMessageCreation StepType = "message_creation"
	StepTypeToolCalls       StepType = "tool_calls"
)

// Run is the trace of one agent execution against a thread.
type Run struct {
	ID        string
	ThreadID  string
	AgentID   string
	Status    RunStatus
	Steps     []Step
	Usage     provider.Usage
	LastError string
}

// Step is one model turn inside a run: either a final message or a batch
// of tool calls.
type Step struct {
	Type      StepType
	Text      string
	ToolCalls []StepToolCall
}

// StepToolCall records a dispatched tool call. AgentID is set when the
// tool delegated to another agent.
type StepToolCall struct {
	ID        string
	Name      string
	Arguments string
	Output    string
	AgentID   string
	Err       string
}

// CalledAgent reports whether any tool call in the run delegated to
// agentID.
func (r *Run) CalledAgent(agentID string) bool {
	if r == nil || agentID == "" {
		return false
	}
	for _, step := range r.Steps {
		for _, tc := range step.ToolCalls {
			if tc.AgentID == agentID {
				return true
			}
		}
	}
	return false
}

// ToolOutputs returns the outputs of every tool call in step order.
func (r *Run) ToolOutputs() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, step := range r.Steps {
		for _, tc := range step.ToolCalls {
			out = append(out, tc.Output)
		}
	}
	return out
}

// Run executes agentID against the current history of threadID. Messages
// produced by the run, including tool traffic, are appended to the thread.
// The returned Run is non-nil whenever the agent and thread exist, also
// when err is non-nil, so callers can inspect the partial trace.
func (p *Platform) Run(ctx context.Context, threadID, agentID string) (*Run, error) {
	def, err := p.Agent(agentID)
	if err != nil {
		return nil, err
	}
	history, err := p.Messages(threadID)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:       "run_" + uuid.NewString(),
		ThreadID: threadID,
		AgentID:  agentID,
	}
	logger := p.logger.With("run_id", run.ID, "agent", def.Name, "thread_id", threadID)
	logger.Debug("run started")

	if err := p.execute(ctx, run, def, history); err != nil {
		run.LastError = err.Error()
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			run.Status = RunStatusCancelled
		default:
			run.Status = RunStatusFailed
		}
		logger.Warn("run ended without completing", "status", run.Status, "error", err)
		return run, tderr.Wrapf(err, tderr.CodeAgentLoopFailure, "run %s of agent %s", run.ID, def.Name)
	}

	logger.Debug("run finished", "status", run.Status, "steps", len(run.Steps))
	return run, nil
}

func (p *Platform) execute(ctx context.Context, run *Run, def Definition, history []provider.Message) error {
	req := provider.ChatRequest{
		SystemPrompt: def.Instructions,
		Messages:     history,
		Tools:        toolDefinitions(def.Tools),
		Options:      provider.ChatOptions{Temperature: def.Temperature},
	}

	resp, err := p.callLLM(ctx, def.Model, req)
	if err != nil {
		return err
	}
	addUsage(&run.Usage, resp.Usage)

	if len(resp.ToolCalls) > 0 {
		resp, err = p.runToolLoop(ctx, run, def, req, resp)
		if err != nil {
			return err
		}
		if run.Status == RunStatusIncomplete {
			return nil
		}
	}

	return p.respond(run, resp.Text)
}

// callLLM routes ref to a provider and drains its stream. A failing
// provider is excluded and the next one in the failover chain is tried,
// up to the router's MaxAttempts.
func (p *Platform) callLLM(ctx context.Context, ref string, req provider.ChatRequest) (provider.Response, error) {
	var (
		exclude []string
		lastErr error
	)

	for attempt := 0; attempt < max(1, p.router.MaxAttempts()); attempt++ {
		if err := ctx.Err(); err != nil {
			return provider.Response{}, err
		}

		prov, model, err := p.router.Route(ctx, ref, exclude)
		if err != nil {
			if lastErr != nil {
				return provider.Response{}, tderr.Wrap(lastErr, tderr.CodeProviderUpstreamFailure, "no failover provider left")
			}
			return provider.Response{}, err
		}

		req.Model = model
		resp, err := p.chatOnce(ctx, prov, req)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return provider.Response{}, ctxErr
		}

		p.logger.Warn("provider call failed, trying failover",
			"provider", prov.Name(), "model", model, "attempt", attempt+1, "error", err)
		lastErr = err
		exclude = append(exclude, prov.Name())
	}

	return provider.Response{}, tderr.Wrap(lastErr, tderr.CodeProviderUpstreamFailure, "provider attempts exhausted")
}

func (p *Platform) chatOnce(ctx context.Context, prov provider.Provider, req provider.ChatRequest) (provider.Response, error) {
	// Cancelling on return releases the provider's stream goroutine when
	// the response is abandoned early.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := prov.Chat(callCtx, req)
	if err != nil {
		return provider.Response{}, tderr.Wrapf(err, tderr.CodeProviderUpstreamFailure, "chat call to %s", prov.Name())
	}
	return provider.Collect(callCtx, events)
}

// runToolLoop dispatches the tool calls in resp, appends their results to
// the thread and re-calls the model until it stops asking for tools.
// Bounded by maxToolLoopIterations; running out marks the run incomplete.
func (p *Platform) runToolLoop(
	ctx context.Context,
	run *Run,
	def Definition,
	req provider.ChatRequest,
	resp provider.Response,
) (provider.Response, error) {
	tools := make(map[string]Tool, len(def.Tools))
	for _, t := range def.Tools {
		tools[t.Definition().Name] = t
	}

	calls := 0
	for iteration := 0; iteration < maxToolLoopIterations; iteration++ {
		assistant := provider.Message{
			Role:      provider.MessageRoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		}
		step := Step{Type: StepTypeToolCalls, Text: resp.Text}
		results := []provider.Message{assistant}

		for _, tc := range resp.ToolCalls {
			calls++
			rec := p.dispatch(ctx, tools, tc, calls)
			step.ToolCalls = append(step.ToolCalls, rec)
			results = append(results, provider.Message{
				Role:       provider.MessageRoleTool,
				Content:    rec.Output,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
		run.Steps = append(run.Steps, step)

		if err := p.appendMessages(run.ThreadID, results...); err != nil {
			return provider.Response{}, err
		}
		if err := ctx.Err(); err != nil {
			return provider.Response{}, err
		}
		req.Messages = append(req.Messages, results...)

		var err error
		resp, err = p.callLLM(ctx, def.Model, req)
		if err != nil {
			return provider.Response{}, err
		}
		addUsage(&run.Usage, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			return resp, nil
		}
	}

	p.logger.Warn("tool loop iteration limit reached",
		"run_id", run.ID, "agent", def.Name, "limit", maxToolLoopIterations)
	run.Status = RunStatusIncomplete
	return resp, nil
}

// dispatch executes one tool call. Failures are reported back to the model
// as the tool output rather than failing the run.
func (p *Platform) dispatch(ctx context.Context, tools map[string]Tool, tc provider.ToolCall, callNumber int) StepToolCall {
	rec := StepToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}

	t, ok := tools[tc.Name]
	var err error
	switch {
	case !ok:
		err = tderr.Errorf(tderr.CodeAgentPlatformNotFound, "unknown tool %q", tc.Name)
	case callNumber > p.maxToolCallsPerTurn:
		err = tderr.Errorf(tderr.CodeAgentToolBudgetExceeded, "tool call budget of %d exceeded", p.maxToolCallsPerTurn)
	default:
		if c, isConnected := t.(connectedAgent); isConnected {
			rec.AgentID = c.ConnectedAgentID()
		}
		rec.Output, err = p.callTool(ctx, t, tc.Arguments)
	}

	if err != nil {
		p.logger.Warn("tool call failed", "tool", tc.Name, "error", err)
		rec.Err = err.Error()
		rec.Output = fmt.Sprintf("error: %s", err.Error())
	}
	return rec
}

func (p *Platform) callTool(ctx context.Context, t Tool, args string) (string, error) {
	toolCtx, cancel := context.WithTimeout(ctx, p.toolTimeout)
	defer cancel()

	out, err := t.Call(toolCtx, args)
	if err != nil && errors.Is(toolCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", tderr.Wrapf(err, tderr.CodeAgentToolTimeout, "tool %s timed out after %s", t.Definition().Name, p.toolTimeout)
	}
	return out, err
}

// respond persists the final assistant message and completes the run.
func (p *Platform) respond(run *Run, text string) error {
	run.Steps = append(run.Steps, Step{Type: StepTypeMessageCreation, Text: text})
	run.Status = RunStatusCompleted
	if text == "" {
		return nil
	}
	return p.appendMessages(run.ThreadID, provider.Message{Role: provider.MessageRoleAssistant, Content: text})
}

func toolDefinitions(tools []Tool) []provider.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]provider.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

func addUsage(total *provider.Usage, u provider.Usage) {
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.CacheReadTokens += u.CacheReadTokens
	total.CacheWriteTokens += u.CacheWriteTokens
}
