// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package policy evaluates a support request against company access
// policies through a dedicated policy agent.
package policy

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/profile"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Request is the input of one policy evaluation. An empty ThreadID starts
// a new conversational thread.
type Request struct {
	Text     string
	Email    string
	Profile  profile.Profile
	ThreadID string
}

// Evaluation carries the verdict together with the thread it was produced
// on, which the caller keeps for the rest of the turn.
type Evaluation struct {
	ThreadID string
	Verdict  Verdict
}

// GateConfig configures a Gate.
type GateConfig struct {
	Platform *agent.Platform
	// Model is a provider/model ref; empty selects the platform default.
	Model string
	// Instructions overrides the built-in policy prompt.
	Instructions string
	// Tools are offered to the policy agent, typically a policy search.
	Tools  []agent.Tool
	Logger *slog.Logger
}

// Gate asks the policy agent for a verdict. The agent is created once and
// lives until Close.
type Gate struct {
	platform *agent.Platform
	agentID  string
	logger   *slog.Logger
}

type payload struct {
	UserRequest string          `json:"user_request"`
	UserEmail   string          `json:"user_email"`
	UserProfile profile.Profile `json:"user_profile"`
}

func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Platform == nil {
		return nil, tderr.New(tderr.CodeAgentPlatformInvalid, "policy gate needs an agent platform")
	}
	instructions := cfg.Instructions
	if instructions == "" {
		instructions = DefaultInstructions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	temperature := float32(0)
	id, err := cfg.Platform.CreateAgent(agent.Definition{
		Name:         "policy-guard",
		Model:        cfg.Model,
		Instructions: instructions,
		Tools:        cfg.Tools,
		Temperature:  &temperature,
	})
	if err != nil {
		return nil, err
	}

	return &Gate{platform: cfg.Platform, agentID: id, logger: logger}, nil
}

// AgentID identifies the long-lived policy agent.
func (g *Gate) AgentID() string { return g.agentID }

// Evaluate runs the policy agent once. There is no retry: a missing or
// unparseable reply fails with policy.verdict.malformed.
func (g *Gate) Evaluate(ctx context.Context, req Request) (Evaluation, error) {
	thread := g.platform.EnsureThread(req.ThreadID)

	body, err := json.Marshal(payload{
		UserRequest: req.Text,
		UserEmail:   req.Email,
		UserProfile: req.Profile,
	})
	if err != nil {
		return Evaluation{}, tderr.Wrapf(err, tderr.CodeAgentLoopFailure, "encoding policy payload")
	}
	if err := g.platform.AddMessage(thread, provider.MessageRoleUser, string(body)); err != nil {
		return Evaluation{}, err
	}

	if _, err := g.platform.Run(ctx, thread, g.agentID); err != nil {
		return Evaluation{ThreadID: thread}, tderr.Wrap(err, tderr.CodeAgentLoopFailure, "policy evaluation failed", tderr.FieldThreadID(thread))
	}

	reply, ok := g.platform.LatestReply(thread)
	if !ok {
		return Evaluation{ThreadID: thread}, tderr.New(tderr.CodePolicyVerdictMalformed,
			"policy agent returned no reply", tderr.FieldThreadID(thread))
	}

	verdict, err := ParseVerdict(reply)
	if err != nil {
		g.logger.Error("malformed policy verdict", "thread_id", thread, "reply", reply, "error", err)
		return Evaluation{ThreadID: thread}, tderr.With(err, tderr.FieldThreadID(thread))
	}

	g.logger.Debug("policy verdict",
		"thread_id", thread,
		"decision", verdict.Outcome,
		"risk_level", verdict.RiskLevel,
		"policy_refs", verdict.PolicyRefs)
	return Evaluation{ThreadID: thread, Verdict: verdict}, nil
}

// Close deletes the policy agent.
func (g *Gate) Close() error {
	return g.platform.DeleteAgent(g.agentID)
}
