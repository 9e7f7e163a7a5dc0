// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package provider

import (
	"context"
	"strings"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Response is a fully drained chat stream.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Collect drains events into a Response. An error event fails the whole
// response and partial text is discarded.
func Collect(ctx context.Context, events <-chan ChatEvent) (Response, error) {
	var (
		buf  strings.Builder
		resp Response
	)

	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				resp.Text = buf.String()
				return resp, nil
			}

			switch ev.Type {
			case EventTypeTextDelta:
				buf.WriteString(ev.Text)
			case EventTypeToolCall:
				if ev.ToolCall != nil {
					resp.ToolCalls = append(resp.ToolCalls, *ev.ToolCall)
				}
			case EventTypeUsage, EventTypeDone:
				if ev.Usage != nil {
					resp.Usage = mergeUsage(resp.Usage, *ev.Usage)
				}
			case EventTypeError:
				return Response{}, tderr.New(tderr.CodeProviderUpstreamFailure, ev.Error)
			}
		}
	}
}

// mergeUsage keeps the larger count per field; providers report input
// tokens at stream start and output tokens at the end.
func mergeUsage(a, b Usage) Usage {
	return Usage{
		InputTokens:      max(a.InputTokens, b.InputTokens),
		OutputTokens:     max(a.OutputTokens, b.OutputTokens),
		CacheReadTokens:  max(a.CacheReadTokens, b.CacheReadTokens),
		CacheWriteTokens: max(a.CacheWriteTokens, b.CacheWriteTokens),
	}
}
