// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package provider_test

import (
	"context"

	"github.com/techdesk-dev/techdesk/internal/provider"
)

// mockProvider is a scripted provider.Provider. When events is nil Chat
// answers with a single "hello" delta.
type mockProvider struct {
	name      string
	available bool
	events    []provider.ChatEvent
	chatErr   error
	closed    bool
}

func newMockProvider(name string, available bool) *mockProvider {
	return &mockProvider{name: name, available: available}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Available(context.Context) bool { return m.available }

func (m *mockProvider) Chat(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	if m.chatErr != nil {
		return nil, m.chatErr
	}

	events := m.events
	if events == nil {
		events = []provider.ChatEvent{
			{Type: provider.EventTypeTextDelta, Text: "hello"},
			{Type: provider.EventTypeDone},
		}
	}

	ch := make(chan provider.ChatEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return nil
}
