// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package google

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/genai"

	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"github.com/techdesk-dev/techdesk/pkg/health"
)

// Config holds Google Gemini provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, for tests against a mock server
}

// Provider implements provider.Provider on the Gemini API.
type Provider struct {
	client *genai.Client
	health *provider.HealthTracker
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, tderr.New(tderr.CodeProviderRequestInvalid, "google: missing api_key in config",
			tderr.FieldProvider("google"))
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeProviderRequestInvalid, "google: creating client")
	}

	return &Provider{client: client, health: provider.MustHealthTracker()}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Available(_ context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) Close() error { return nil }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	config := buildConfig(req)

	ch := make(chan provider.ChatEvent, 64)
	go func() {
		defer close(ch)
		p.streamChat(ctx, req.Model, contents, config, ch)
	}()
	return ch, nil
}

func buildConfig(req provider.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.Options.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Options.Temperature)
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}
	if len(req.Options.StopSequences) > 0 {
		cfg.StopSequences = req.Options.StopSequences
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// convertMessages maps the conversation to Gemini contents. Tool results
// become functionResponse parts on a user turn, grouped like the calls
// that produced them.
func convertMessages(msgs []provider.Message) ([]*genai.Content, error) {
	var out []*genai.Content

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: msg.Content}}})
		case provider.MessageRoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						args = map[string]any{}
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		case provider.MessageRoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.ToolName,
				Response: map[string]any{"output": msg.Content},
			}}
			if n := len(out); n > 0 && out[n-1].Role == genai.RoleUser && out[n-1].Parts[0].FunctionResponse != nil {
				out[n-1].Parts = append(out[n-1].Parts, part)
				continue
			}
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		case provider.MessageRoleSystem:
			// carried in SystemInstruction
		default:
			return nil, tderr.Errorf(tderr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
	}
	return out, nil
}

func (p *Provider) streamChat(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, ch chan<- provider.ChatEvent) {
	var usage *provider.Usage

	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			p.health.RecordFailure()
			provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
			return
		}

		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if ev, ok := partEvent(part); ok && !provider.Send(ctx, ch, ev) {
					return
				}
			}
		}

		if md := result.UsageMetadata; md != nil {
			usage = &provider.Usage{
				InputTokens:     int(md.PromptTokenCount),
				OutputTokens:    int(md.CandidatesTokenCount),
				CacheReadTokens: int(md.CachedContentTokenCount),
			}
		}
	}

	p.health.RecordSuccess()
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone, Usage: usage})
}

func partEvent(part *genai.Part) (provider.ChatEvent, bool) {
	switch {
	case part.FunctionCall != nil:
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			slog.Warn("google: dropping unserialisable tool arguments", "function", part.FunctionCall.Name, "error", err)
			args = []byte("{}")
		}
		id := part.FunctionCall.ID
		if id == "" {
			// Gemini omits ids on the public API; the name pairs call and result.
			id = part.FunctionCall.Name
		}
		return provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{
			ID:        id,
			Name:      part.FunctionCall.Name,
			Arguments: string(args),
		}}, true
	case part.Text != "" && !part.Thought:
		return provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: part.Text}, true
	default:
		return provider.ChatEvent{}, false
	}
}
