// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package openai

import (
	"context"
	"encoding/json"
	"slices"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"github.com/techdesk-dev/techdesk/pkg/health"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Config holds configuration for any OpenAI-compatible Chat Completions
// endpoint.
type Config struct {
	// Name is the registry name; defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string
	// Headers are sent on every request, e.g. OpenRouter attribution.
	Headers    map[string]string
	MaxRetries *int
}

// Provider implements provider.Provider on the Chat Completions API.
type Provider struct {
	name   string
	client openaisdk.Client
	health *provider.HealthTracker
}

func New(cfg Config) (*Provider, error) {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	if cfg.APIKey == "" {
		return nil, tderr.New(tderr.CodeProviderRequestInvalid, name+": missing api_key in config",
			tderr.FieldProvider(name))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}

	return &Provider{
		name:   name,
		client: openaisdk.NewClient(opts...),
		health: provider.MustHealthTracker(),
	}, nil
}

// NewOpenRouter returns a Provider named "openrouter". An empty baseURL
// selects the public OpenRouter endpoint.
func NewOpenRouter(apiKey, baseURL string) (*Provider, error) {
	if baseURL == "" {
		baseURL = OpenRouterBaseURL
	}
	return New(Config{
		Name:    "openrouter",
		APIKey:  apiKey,
		BaseURL: baseURL,
		Headers: map[string]string{"X-Title": "TechDesk"},
	})
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Available(_ context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) Close() error { return nil }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := p.buildParams(req)
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

func (p *Provider) buildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := p.convertMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}
	if req.Options.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Options.Temperature))
	}
	if len(req.Options.StopSequences) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{OfStringArray: req.Options.StopSequences}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

func (p *Provider) convertMessages(msgs []provider.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var out []openaisdk.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		out = append(out, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			out = append(out, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			out = append(out, assistantMessage(msg))
		case provider.MessageRoleTool:
			out = append(out, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		case provider.MessageRoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		default:
			return nil, tderr.Errorf(tderr.CodeProviderRequestInvalid, "%s: unsupported message role %q", p.name, msg.Role)
		}
	}
	return out, nil
}

func assistantMessage(msg provider.Message) openaisdk.ChatCompletionMessageParamUnion {
	if len(msg.ToolCalls) == 0 {
		return openaisdk.AssistantMessage(msg.Content)
	}

	am := openaisdk.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		am.Content = openaisdk.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(msg.Content)}
	}
	for _, tc := range msg.ToolCalls {
		am.ToolCalls = append(am.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: validJSON(tc.Arguments),
			},
		})
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &am}
}

func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return out
}

func validJSON(s string) string {
	if s == "" || !json.Valid([]byte(s)) {
		return "{}"
	}
	return s
}

func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	type toolAccum struct {
		id, name string
		args     []byte
	}
	pending := make(map[int64]*toolAccum)

	// flush emits buffered tool calls in index order.
	flush := func() bool {
		indexes := make([]int64, 0, len(pending))
		for idx := range pending {
			indexes = append(indexes, idx)
		}
		slices.Sort(indexes)
		for _, idx := range indexes {
			acc := pending[idx]
			delete(pending, idx)
			ev := provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{
				ID:        acc.id,
				Name:      acc.name,
				Arguments: validJSON(string(acc.args)),
			}}
			if !provider.Send(ctx, ch, ev) {
				return false
			}
		}
		return true
	}

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: choice.Delta.Content}) {
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				acc, ok := pending[tc.Index]
				if !ok {
					acc = &toolAccum{}
					pending[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args = append(acc.args, tc.Function.Arguments...)
			}

			if choice.FinishReason == "tool_calls" && !flush() {
				return
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage := &provider.Usage{
				InputTokens:     int(chunk.Usage.PromptTokens),
				OutputTokens:    int(chunk.Usage.CompletionTokens),
				CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
			}
			if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeUsage, Usage: usage}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
		return
	}

	// Some compatible servers end the stream without a tool_calls finish reason.
	if !flush() {
		return
	}

	p.health.RecordSuccess()
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone})
}
