// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Tool is something an agent can call. Arguments arrive as the raw JSON
// object produced by the model; the returned string is fed back to it.
type Tool interface {
	Definition() provider.ToolDefinition
	Call(ctx context.Context, arguments string) (string, error)
}

// connectedAgent is implemented by tools that delegate to another agent,
// so the run trace can attribute the call.
type connectedAgent interface {
	ConnectedAgentID() string
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	Def provider.ToolDefinition
	Fn  func(ctx context.Context, arguments string) (string, error)
}

func (f FuncTool) Definition() provider.ToolDefinition { return f.Def }

func (f FuncTool) Call(ctx context.Context, arguments string) (string, error) {
	return f.Fn(ctx, arguments)
}

// ObjectSchema builds a JSON Schema object with string properties. Every
// property named in required must also appear in props.
func ObjectSchema(props map[string]string, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]any{"type": "string", "description": desc}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type connectedTool struct {
	platform *Platform
	agentID  string
	def      provider.ToolDefinition
}

// ConnectedTool exposes agentID as a tool. Each call runs the agent on a
// scratch thread seeded with the "input" argument and returns its reply.
// The scratch thread is deleted afterwards.
func (p *Platform) ConnectedTool(agentID, name, description string) Tool {
	return &connectedTool{
		platform: p,
		agentID:  agentID,
		def: provider.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: ObjectSchema(map[string]string{
				"input": "The question or instruction for the agent.",
			}, "input"),
		},
	}
}

func (c *connectedTool) Definition() provider.ToolDefinition { return c.def }

func (c *connectedTool) ConnectedAgentID() string { return c.agentID }

func (c *connectedTool) Call(ctx context.Context, arguments string) (string, error) {
	input := connectedInput(arguments)
	if input == "" {
		return "", tderr.New(tderr.CodeAgentPlatformInvalid, "connected agent call needs a non-empty input", tderr.FieldAgentID(c.agentID))
	}

	thread := c.platform.EnsureThread("")
	defer c.platform.DeleteThread(thread)

	if err := c.platform.AddMessage(thread, provider.MessageRoleUser, input); err != nil {
		return "", err
	}
	if _, err := c.platform.Run(ctx, thread, c.agentID); err != nil {
		return "", err
	}

	reply, ok := c.platform.LatestReply(thread)
	if !ok {
		return "", tderr.New(tderr.CodeCapabilityReplyMissing, "connected agent produced no reply", tderr.FieldAgentID(c.agentID))
	}
	return reply, nil
}

// connectedInput extracts the "input" argument, falling back to the raw
// argument text when the model did not send a JSON object.
func connectedInput(arguments string) string {
	var args struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err == nil {
		return strings.TrimSpace(args.Input)
	}
	return strings.TrimSpace(arguments)
}
