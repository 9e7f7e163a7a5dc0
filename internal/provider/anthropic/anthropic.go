// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package anthropic

import (
	"context"
	"encoding/json"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"github.com/techdesk-dev/techdesk/pkg/health"
)

const defaultMaxTokens = 4096

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, for tests against a mock server
	// MaxRetries overrides the SDK retry count when non-nil.
	MaxRetries *int
}

// Provider implements provider.Provider on the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	health *provider.HealthTracker
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, tderr.New(tderr.CodeProviderRequestInvalid, "anthropic: missing api_key in config",
			tderr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}

	return &Provider{
		client: anthropicsdk.NewClient(opts...),
		health: provider.MustHealthTracker(),
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Available(_ context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) Close() error { return nil }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan provider.ChatEvent, 64)
	go func() {
		defer close(ch)
		p.streamChat(ctx, params, ch)
	}()
	return ch, nil
}

func buildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*req.Options.Temperature))
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// convertMessages maps the conversation onto Anthropic turns. Consecutive
// tool results are folded into one user turn, which the API requires when
// an assistant turn issued several tool_use blocks.
func convertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	var (
		out     []anthropicsdk.MessageParam
		results []anthropicsdk.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropicsdk.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range msgs {
		if msg.Role != provider.MessageRoleTool {
			flush()
		}

		switch msg.Role {
		case provider.MessageRoleUser:
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case provider.MessageRoleAssistant:
			var blocks []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, rawArguments(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
		case provider.MessageRoleTool:
			results = append(results, anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case provider.MessageRoleSystem:
			// carried in the top-level system param
		default:
			return nil, tderr.Errorf(tderr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
	}
	flush()

	return out, nil
}

func rawArguments(args string) json.RawMessage {
	if args == "" || !json.Valid([]byte(args)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.Opt(t.Description),
				InputSchema: inputSchema(t.InputSchema),
			},
		})
	}
	return out
}

// inputSchema splits a JSON Schema object into the properties/required
// fields the SDK models separately.
func inputSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	switch req := raw["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func (p *Provider) streamChat(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	type toolAccum struct {
		id, name string
		args     []byte
	}
	tools := make(map[int64]*toolAccum)

	for stream.Next() {
		event := stream.Current()

		var ev *provider.ChatEvent
		switch event.Type {
		case "message_start":
			u := event.Message.Usage
			ev = &provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &provider.Usage{
				InputTokens:      int(u.InputTokens),
				OutputTokens:     int(u.OutputTokens),
				CacheReadTokens:  int(u.CacheReadInputTokens),
				CacheWriteTokens: int(u.CacheCreationInputTokens),
			}}
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				tools[event.Index] = &toolAccum{id: event.ContentBlock.ID, name: event.ContentBlock.Name}
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				ev = &provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: event.Delta.Text}
			case "input_json_delta":
				if acc, ok := tools[event.Index]; ok {
					acc.args = append(acc.args, event.Delta.PartialJSON...)
				}
			}
		case "content_block_stop":
			if acc, ok := tools[event.Index]; ok {
				delete(tools, event.Index)
				ev = &provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{
					ID:        acc.id,
					Name:      acc.name,
					Arguments: string(rawArguments(string(acc.args))),
				}}
			}
		case "message_delta":
			ev = &provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &provider.Usage{
				OutputTokens: int(event.Usage.OutputTokens),
			}}
		}

		if ev != nil && !provider.Send(ctx, ch, *ev) {
			return
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
		return
	}

	p.health.RecordSuccess()
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone})
}
