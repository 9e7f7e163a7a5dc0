// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package conversation

import (
	"context"
	"sync"

	"github.com/techdesk-dev/techdesk/internal/policy"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps states in a map for the lifetime of the process. It
// never fails. Values are copied on the way in and out so callers cannot
// mutate stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, threadID string) (State, error) {
	m.mu.RLock()
	s, ok := m.states[threadID]
	m.mu.RUnlock()
	if ok {
		return s.Clone(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[threadID]; ok {
		return s.Clone(), nil
	}
	m.states[threadID] = State{}
	return State{}, nil
}

func (m *MemoryStore) Lookup(_ context.Context, threadID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[threadID]
	if !ok {
		return State{}, tderr.New(tderr.CodeConversationNotFound, "no state for thread", tderr.FieldThreadID(threadID))
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, threadID string, state State) error {
	m.mu.Lock()
	m.states[threadID] = state.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ClearConfirmation(_ context.Context, threadID string) error {
	m.mu.Lock()
	s := m.states[threadID]
	s.AwaitingConfirmation = false
	m.states[threadID] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ArmConfirmation(_ context.Context, threadID, request string, verdict policy.Verdict) error {
	m.mu.Lock()
	m.states[threadID] = State{
		AwaitingConfirmation: true,
		LastDeniedRequest:    request,
		LastPolicyDecision:   verdict.Clone(),
	}
	m.mu.Unlock()
	return nil
}

// Len reports the number of tracked threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func (m *MemoryStore) Close() error { return nil }
