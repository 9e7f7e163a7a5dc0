// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package router decides, turn by turn, whether a support conversation
// resumes a pending confirmation, goes through the policy gate or is
// executed.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/compose"
	"github.com/techdesk-dev/techdesk/internal/confirm"
	"github.com/techdesk-dev/techdesk/internal/conversation"
	"github.com/techdesk-dev/techdesk/internal/execution"
	"github.com/techdesk-dev/techdesk/internal/policy"
	"github.com/techdesk-dev/techdesk/internal/profile"
	"github.com/techdesk-dev/techdesk/internal/redact"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Run statuses reported for turns that stop before execution. Executed
// turns report the status of the triage run.
const (
	StatusCompleted           = "completed"
	StatusWaitingConfirmation = "waiting_confirmation"
	StatusNeedsApproval       = "needs_approval"
	StatusDenied              = "denied"
)

// Turn is one inbound message. An empty ThreadID starts a conversation.
type Turn struct {
	Request  string
	Email    string
	ThreadID string
}

// Outcome is the answer to a turn.
type Outcome struct {
	ThreadID  string
	Response  string
	ToolsUsed execution.Report
	RunStatus string
}

// ProfileResolver maps a requester email to a profile.
type ProfileResolver interface {
	Resolve(email string) profile.Profile
}

// PolicyEvaluator asks the policy gate for a verdict on a fresh request.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, req policy.Request) (policy.Evaluation, error)
}

// ConfirmationInterpreter classifies a reply to the approval-ticket question.
type ConfirmationInterpreter interface {
	Interpret(ctx context.Context, reply string) confirm.Decision
}

// MessageComposer writes the reply for turns that stop before execution.
type MessageComposer interface {
	Compose(ctx context.Context, req compose.Request) (string, error)
}

// Executor runs the authorized part of a turn.
type Executor interface {
	Execute(ctx context.Context, req execution.Request) (execution.Result, error)
}

// Scrubber masks credentials in user text before it reaches an agent or
// the conversation store.
type Scrubber interface {
	Scrub(text string) redact.Result
}

// Config wires a Router. Every field except Scrubber, Lanes and Logger is
// required.
type Config struct {
	Store        conversation.Store
	Profiles     ProfileResolver
	Policy       PolicyEvaluator
	Confirmation ConfirmationInterpreter
	Composer     MessageComposer
	Executor     Executor
	Scrubber     Scrubber
	// Lanes serializes turns per thread. Nil creates a private pool.
	Lanes  *agent.LanePool
	Logger *slog.Logger
}

// Router runs the per-turn state machine. Turns on the same thread are
// processed one at a time in arrival order; different threads run
// concurrently.
type Router struct {
	store    conversation.Store
	profiles ProfileResolver
	policy   PolicyEvaluator
	confirm  ConfirmationInterpreter
	composer MessageComposer
	executor Executor
	scrubber Scrubber
	lanes    *agent.LanePool
	logger   *slog.Logger
}

// New returns a Router, failing when a required dependency is missing.
func New(cfg Config) (*Router, error) {
	if cfg.Store == nil || cfg.Profiles == nil || cfg.Policy == nil ||
		cfg.Confirmation == nil || cfg.Composer == nil || cfg.Executor == nil {
		return nil, tderr.New(tderr.CodeRouterTurnInvalidInput, "router is missing a dependency")
	}
	lanes := cfg.Lanes
	if lanes == nil {
		lanes = agent.NewLanePool()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    cfg.Store,
		profiles: cfg.Profiles,
		policy:   cfg.Policy,
		confirm:  cfg.Confirmation,
		composer: cfg.Composer,
		executor: cfg.Executor,
		scrubber: cfg.Scrubber,
		lanes:    lanes,
		logger:   logger,
	}, nil
}

// HandleTurn processes one turn. A missing thread id is minted here so the
// turn can be queued on its lane. On error the returned Outcome still
// carries the thread id.
func (r *Router) HandleTurn(ctx context.Context, turn Turn) (Outcome, error) {
	if strings.TrimSpace(turn.Request) == "" {
		return Outcome{}, tderr.New(tderr.CodeRouterTurnInvalidInput, "user_request must not be empty")
	}

	thread := turn.ThreadID
	if thread == "" {
		thread = uuid.NewString()
	}
	turn.ThreadID = thread

	if r.scrubber != nil {
		res := r.scrubber.Scrub(turn.Request)
		if !res.Clean() {
			r.logger.Warn("user request scrubbed", "thread_id", thread, "masked", res.Masked, "flagged", res.Flagged)
		}
		turn.Request = res.Text
	}

	// A cancelled ctx can return from Do while handle is still running, so
	// the outcome travels over a channel rather than a shared variable.
	done := make(chan Outcome, 1)
	err := r.lanes.Do(ctx, thread, func(ctx context.Context) error {
		out, err := r.handle(ctx, turn)
		done <- out
		return err
	})

	var out Outcome
	select {
	case out = <-done:
	default:
	}
	if out.ThreadID == "" {
		out.ThreadID = thread
	}
	if err != nil {
		r.logger.Error("turn failed", "thread_id", thread, "error", err)
		return out, tderr.With(err, tderr.FieldThreadID(thread))
	}

	r.logger.Info("turn handled", "thread_id", thread, "run_status", out.RunStatus)
	return out, nil
}

// Close stops the lane workers.
func (r *Router) Close() {
	r.lanes.Close()
}

func (r *Router) handle(ctx context.Context, turn Turn) (Outcome, error) {
	state, err := r.store.Get(ctx, turn.ThreadID)
	if err != nil {
		return Outcome{}, err
	}
	if state.AwaitingConfirmation {
		return r.resume(ctx, turn, state)
	}
	return r.evaluate(ctx, turn)
}

// resume handles a reply to the "shall I open an approval ticket?" question.
func (r *Router) resume(ctx context.Context, turn Turn, state conversation.State) (Outcome, error) {
	decision := r.confirm.Interpret(ctx, turn.Request)
	r.logger.Debug("confirmation interpreted", "thread_id", turn.ThreadID, "decision", decision)

	switch decision {
	case confirm.No:
		if err := r.store.ClearConfirmation(ctx, turn.ThreadID); err != nil {
			return Outcome{}, err
		}
		return r.halt(ctx, turn.ThreadID, StatusCompleted, compose.Request{
			Mode:         compose.ModeInfo,
			Verdict:      state.LastPolicyDecision,
			ExtraContext: compose.ExtraDeclined,
		})

	case confirm.Yes:
		// The reply itself is never executed. An armed thread without a
		// stored request is disarmed and the user asked to start over.
		if state.LastDeniedRequest == "" {
			r.logger.Warn("armed thread has no pending request", "thread_id", turn.ThreadID)
			if err := r.store.ClearConfirmation(ctx, turn.ThreadID); err != nil {
				return Outcome{}, err
			}
			return r.halt(ctx, turn.ThreadID, StatusCompleted, compose.Request{
				Mode:         compose.ModeInfo,
				Verdict:      state.LastPolicyDecision,
				ExtraContext: compose.ExtraLostRequest,
			})
		}
		return r.execute(ctx, execution.Request{
			Text:     state.LastDeniedRequest,
			Email:    turn.Email,
			Profile:  r.profiles.Resolve(turn.Email),
			ThreadID: turn.ThreadID,
			State:    state,
			Verdict:  state.LastPolicyDecision,
			Mode:     execution.ModeCreateApprovalTicket,
		})

	default:
		return r.halt(ctx, turn.ThreadID, StatusWaitingConfirmation, compose.Request{
			Mode:         compose.ModeAskConfirmationAgain,
			Verdict:      state.LastPolicyDecision,
			ExtraContext: compose.ExtraUnclear,
		})
	}
}

// evaluate sends a fresh request through the policy gate.
func (r *Router) evaluate(ctx context.Context, turn Turn) (Outcome, error) {
	prof := r.profiles.Resolve(turn.Email)

	eval, err := r.policy.Evaluate(ctx, policy.Request{
		Text:     turn.Request,
		Email:    turn.Email,
		Profile:  prof,
		ThreadID: turn.ThreadID,
	})
	if err != nil {
		return Outcome{ThreadID: turn.ThreadID}, err
	}
	thread := eval.ThreadID
	if thread == "" {
		thread = turn.ThreadID
	}
	verdict := eval.Verdict

	state, err := r.store.Get(ctx, thread)
	if err != nil {
		return Outcome{ThreadID: thread}, err
	}
	state.LastPolicyDecision = verdict.Clone()
	if err := r.store.Put(ctx, thread, state); err != nil {
		return Outcome{ThreadID: thread}, err
	}

	r.logger.Debug("policy decision", "thread_id", thread, "decision", verdict.Outcome)

	switch verdict.Outcome {
	case policy.RequiresApproval:
		if err := r.store.ArmConfirmation(ctx, thread, turn.Request, verdict); err != nil {
			return Outcome{ThreadID: thread}, err
		}
		return r.halt(ctx, thread, StatusNeedsApproval, compose.Request{
			Mode:         compose.ModeNeedsApproval,
			Verdict:      &verdict,
			ExtraContext: compose.ExtraNeedsApproval,
		})

	case policy.Deny:
		return r.halt(ctx, thread, StatusDenied, compose.Request{
			Mode:    compose.ModeDenied,
			Verdict: &verdict,
		})

	default:
		return r.execute(ctx, execution.Request{
			Text:     turn.Request,
			Email:    turn.Email,
			Profile:  prof,
			ThreadID: thread,
			State:    state,
			Verdict:  &verdict,
			Mode:     execution.ModeNone,
		})
	}
}

// halt answers without executing anything.
func (r *Router) halt(ctx context.Context, thread, status string, req compose.Request) (Outcome, error) {
	msg, err := r.composer.Compose(ctx, req)
	if err != nil {
		return Outcome{ThreadID: thread}, err
	}
	return Outcome{
		ThreadID:  thread,
		Response:  msg,
		ToolsUsed: execution.Report{PolicyGuard: true},
		RunStatus: status,
	}, nil
}

func (r *Router) execute(ctx context.Context, req execution.Request) (Outcome, error) {
	res, err := r.executor.Execute(ctx, req)
	thread := res.ThreadID
	if thread == "" {
		thread = req.ThreadID
	}
	if err != nil {
		return Outcome{ThreadID: thread, RunStatus: res.RunStatus}, err
	}
	return Outcome{
		ThreadID:  thread,
		Response:  res.Response,
		ToolsUsed: res.ToolsUsed,
		RunStatus: res.RunStatus,
	}, nil
}
