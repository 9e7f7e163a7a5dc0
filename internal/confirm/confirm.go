// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package confirm classifies a user's answer to a yes/no question.
package confirm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/provider"
)

// Decision is the interpreted answer.
type Decision string

const (
	Yes     Decision = "yes"
	No      Decision = "no"
	Unclear Decision = "unclear"
)

// Instructions is the classifier prompt.
const Instructions = `You are a classifier. Given the user's last message, which answers a yes/no
question, reply ONLY with JSON:
{ "confirmation": "yes" | "no" | "unclear" }
Do not include any other text.`

// Interpreter runs a short-lived classification agent per call.
type Interpreter struct {
	platform *agent.Platform
	model    string
	logger   *slog.Logger
}

// NewInterpreter returns an Interpreter using model, a provider/model ref
// where empty selects the platform default.
func NewInterpreter(platform *agent.Platform, model string, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{platform: platform, model: model, logger: logger}
}

// Interpret never fails. Any problem on the way, from a provider error to
// an unknown label, yields Unclear so the caller asks again.
func (i *Interpreter) Interpret(ctx context.Context, reply string) Decision {
	raw, err := i.classify(ctx, reply)
	if err != nil {
		i.logger.Warn("confirmation classification failed, treating as unclear", "error", err)
		return Unclear
	}

	d, ok := parseDecision(raw)
	if !ok {
		i.logger.Warn("unrecognised confirmation reply, treating as unclear", "reply", raw)
		return Unclear
	}
	i.logger.Debug("confirmation interpreted", "decision", d)
	return d
}

func (i *Interpreter) classify(ctx context.Context, reply string) (string, error) {
	temperature := float32(0)
	id, err := i.platform.CreateAgent(agent.Definition{
		Name:         "confirmation-agent",
		Model:        i.model,
		Instructions: Instructions,
		Temperature:  &temperature,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		if err := i.platform.DeleteAgent(id); err != nil {
			i.logger.Warn("deleting confirmation agent", "agent_id", id, "error", err)
		}
	}()

	thread := i.platform.EnsureThread("")
	defer i.platform.DeleteThread(thread)

	if err := i.platform.AddMessage(thread, provider.MessageRoleUser, reply); err != nil {
		return "", err
	}
	if _, err := i.platform.Run(ctx, thread, id); err != nil {
		return "", err
	}

	text, _ := i.platform.LatestReply(thread)
	return text, nil
}

func parseDecision(raw string) (Decision, bool) {
	var out struct {
		Confirmation string `json:"confirmation"`
	}
	if err := json.Unmarshal([]byte(agent.TrimCodeFence(raw)), &out); err != nil {
		return Unclear, false
	}

	switch d := Decision(strings.ToLower(strings.TrimSpace(out.Confirmation))); d {
	case Yes, No, Unclear:
		return d, true
	default:
		return Unclear, false
	}
}
