// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package agent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/agent/agenttest"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func echoTool(name string) agent.Tool {
	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        name,
			Description: "echoes its arguments",
			InputSchema: agent.ObjectSchema(map[string]string{"text": "text to echo"}, "text"),
		},
		Fn: func(_ context.Context, args string) (string, error) {
			return "echo:" + args, nil
		},
	}
}

func TestNewPlatform_RequiresRouter(t *testing.T) {
	_, err := agent.NewPlatform(agent.Config{})
	require.Error(t, err)
	assert.True(t, tderr.IsInvalidInput(err))
}

func TestCreateAgent_Validation(t *testing.T) {
	p := agenttest.NewPlatform(t, agenttest.NewProvider("primary", agenttest.Static("ok")))

	tests := []struct {
		name string
		def  agent.Definition
	}{
		{name: "missing name", def: agent.Definition{}},
		{name: "duplicate tool", def: agent.Definition{Name: "a", Tools: []agent.Tool{echoTool("x"), echoTool("x")}}},
		{name: "empty tool name", def: agent.Definition{Name: "a", Tools: []agent.Tool{echoTool("")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.CreateAgent(tt.def)
			require.Error(t, err)
			assert.True(t, tderr.IsInvalidInput(err))
		})
	}
}

func TestAgentLifecycle(t *testing.T) {
	p := agenttest.NewPlatform(t, agenttest.NewProvider("primary", agenttest.Static("ok")))

	id, err := p.CreateAgent(agent.Definition{Name: "helper", Instructions: "be brief"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	def, err := p.Agent(id)
	require.NoError(t, err)
	assert.Equal(t, "helper", def.Name)

	require.NoError(t, p.DeleteAgent(id))
	_, err = p.Agent(id)
	assert.True(t, tderr.IsNotFound(err))

	err = p.DeleteAgent(id)
	assert.True(t, tderr.IsNotFound(err))
}

func TestEnsureThread(t *testing.T) {
	p := agenttest.NewPlatform(t, agenttest.NewProvider("primary", agenttest.Static("ok")))

	minted := p.EnsureThread("")
	assert.NotEmpty(t, minted)
	assert.NotEqual(t, minted, p.EnsureThread(""), "each empty id mints a new thread")

	assert.Equal(t, "thread-1", p.EnsureThread("thread-1"))
	require.NoError(t, p.AddMessage("thread-1", provider.MessageRoleUser, "hi"))

	// Ensuring an existing thread keeps its history.
	p.EnsureThread("thread-1")
	msgs, err := p.Messages("thread-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	p.DeleteThread("thread-1")
	_, err = p.Messages("thread-1")
	assert.True(t, tderr.IsNotFound(err))
}

func TestAddMessage_UnknownThread(t *testing.T) {
	p := agenttest.NewPlatform(t, agenttest.NewProvider("primary", agenttest.Static("ok")))

	err := p.AddMessage("missing", provider.MessageRoleUser, "hi")
	require.Error(t, err)
	assert.True(t, tderr.IsNotFound(err))
}

func TestLatestReply(t *testing.T) {
	p := agenttest.NewPlatform(t, agenttest.NewProvider("primary", agenttest.Static("ok")))
	thread := p.EnsureThread("")

	_, ok := p.LatestReply(thread)
	assert.False(t, ok, "empty thread has no reply")

	require.NoError(t, p.AddMessage(thread, provider.MessageRoleUser, "first"))
	require.NoError(t, p.AddMessage(thread, provider.MessageRoleAssistant, "answer one"))

	reply, ok := p.LatestReply(thread)
	require.True(t, ok)
	assert.Equal(t, "answer one", reply)

	require.NoError(t, p.AddMessage(thread, provider.MessageRoleUser, "second"))
	_, ok = p.LatestReply(thread)
	assert.False(t, ok, "a reply from before the last user message does not count")

	_, ok = p.LatestReply("missing")
	assert.False(t, ok)
}
