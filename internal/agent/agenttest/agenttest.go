// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package agenttest provides a scripted provider and platform constructor
// for tests of code built on the agent platform.
package agenttest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/provider"
)

// DefaultModel is the model half of the default ref used by NewPlatform.
const DefaultModel = "test-model"

// Reply is one scripted model response. A non-empty Err is streamed as an
// error event instead of the text and tool calls.
type Reply struct {
	Text      string
	ToolCalls []provider.ToolCall
	Err       string
}

// Responder produces the reply for a request.
type Responder func(req provider.ChatRequest) Reply

// Queue answers with replies in order. Once exhausted it streams an error.
func Queue(replies ...Reply) Responder {
	var (
		mu   sync.Mutex
		next int
	)
	return func(provider.ChatRequest) Reply {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(replies) {
			return Reply{Err: "scripted replies exhausted"}
		}
		r := replies[next]
		next++
		return r
	}
}

// Static always answers with text.
func Static(text string) Responder {
	return func(provider.ChatRequest) Reply { return Reply{Text: text} }
}

// JSON always answers with v marshalled to JSON.
func JSON(v any) Responder {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Static(string(b))
}

// ToolCall builds a provider.ToolCall with JSON-encoded arguments.
func ToolCall(id, name string, args map[string]any) provider.ToolCall {
	b, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return provider.ToolCall{ID: id, Name: name, Arguments: string(b)}
}

// Provider is a provider.Provider driven by a Responder. It records every
// request it receives.
type Provider struct {
	name string

	mu          sync.Mutex
	respond     Responder
	requests    []provider.ChatRequest
	unavailable bool
}

var _ provider.Provider = (*Provider)(nil)

func NewProvider(name string, respond Responder) *Provider {
	return &Provider{name: name, respond: respond}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Available(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unavailable
}

func (p *Provider) SetAvailable(ok bool) {
	p.mu.Lock()
	p.unavailable = !ok
	p.mu.Unlock()
}

// SetResponder swaps the script.
func (p *Provider) SetResponder(r Responder) {
	p.mu.Lock()
	p.respond = r
	p.mu.Unlock()
}

// Requests returns a copy of the requests received so far.
func (p *Provider) Requests() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	req.Messages = append([]provider.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	respond := p.respond
	p.mu.Unlock()

	reply := Reply{Err: "no responder configured"}
	if respond != nil {
		reply = respond(req)
	}

	var events []provider.ChatEvent
	if reply.Err != "" {
		events = append(events, provider.ChatEvent{Type: provider.EventTypeError, Error: reply.Err})
	} else {
		if reply.Text != "" {
			events = append(events, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: reply.Text})
		}
		for i := range reply.ToolCalls {
			tc := reply.ToolCalls[i]
			events = append(events, provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &tc})
		}
		events = append(events, provider.ChatEvent{
			Type:  provider.EventTypeDone,
			Usage: &provider.Usage{InputTokens: 10, OutputTokens: 5},
		})
	}

	ch := make(chan provider.ChatEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *Provider) Close() error { return nil }

// NewPlatform returns a platform whose registry holds providers, with the
// first as default and the rest as failover, all on DefaultModel.
func NewPlatform(t testing.TB, providers ...*Provider) *agent.Platform {
	t.Helper()
	require.NotEmpty(t, providers, "at least one provider is required")

	reg := provider.NewRegistry()
	var failover []string
	for i, p := range providers {
		reg.Register(p.Name(), p)
		if i > 0 {
			failover = append(failover, p.Name()+"/"+DefaultModel)
		}
	}
	require.NoError(t, reg.SetDefault(providers[0].Name()+"/"+DefaultModel))
	require.NoError(t, reg.SetFailover(failover))

	platform, err := agent.NewPlatform(agent.Config{Router: reg})
	require.NoError(t, err)
	return platform
}
