// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package provider

import (
	"context"

	"github.com/techdesk-dev/techdesk/pkg/health"
)

// Provider is the interface every LLM backend implements. Chat streams
// events on the returned channel and closes it when the response ends.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
	Close() error
}

// HealthReporter is implemented by providers that track their own
// failure history.
type HealthReporter interface {
	HealthMetrics() health.Metrics
}

// ChatRequest is a single completion request.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Options      ChatOptions
}

// ChatOptions tunes sampling. A nil Temperature leaves the model default.
type ChatOptions struct {
	Temperature   *float32
	MaxTokens     int
	StopSequences []string
}

// Message is one entry of the conversation sent to the model.
//
// Assistant messages that requested tools carry those calls in ToolCalls;
// the matching results follow as MessageRoleTool entries with ToolCallID
// set.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// ToolDefinition describes a tool offered to the model. InputSchema is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatEvent is one streaming event.
type ChatEvent struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
	Error    string
}

type EventType string

const (
	EventTypeTextDelta EventType = "text_delta"
	EventTypeToolCall  EventType = "tool_call"
	EventTypeUsage     EventType = "usage"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
)

// ToolCall is a tool invocation requested by the model. Arguments holds
// raw JSON.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Send delivers ev unless ctx is cancelled first. Provider stream
// goroutines use it so an abandoned consumer does not leak them.
func Send(ctx context.Context, ch chan<- ChatEvent, ev ChatEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
