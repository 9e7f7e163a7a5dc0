// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package conversation keeps the per-thread state that lets a pending
// approval confirmation survive across turns.
package conversation

import (
	"context"

	"github.com/techdesk-dev/techdesk/internal/policy"
)

// State is the routing state of one conversation thread. The zero value is
// the state of a thread that has never been seen.
//
// LastDeniedRequest is set only together with AwaitingConfirmation by
// ArmConfirmation; a cleared confirmation leaves it in place.
type State struct {
	AwaitingConfirmation bool            `json:"awaiting_work_item_confirmation"`
	LastDeniedRequest    string          `json:"last_denied_request,omitempty"`
	LastPolicyDecision   *policy.Verdict `json:"last_policy_decision,omitempty"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.LastPolicyDecision = s.LastPolicyDecision.Clone()
	return s
}

// Store owns the State of every thread. Writes are last-writer-wins and
// implementations are safe for concurrent use.
type Store interface {
	// Get returns the state for threadID, creating the zero state on a miss.
	Get(ctx context.Context, threadID string) (State, error)
	// Lookup returns the state for threadID without creating it; unknown
	// threads fail with conversation.state.not_found.
	Lookup(ctx context.Context, threadID string) (State, error)
	Put(ctx context.Context, threadID string, state State) error
	// ClearConfirmation resets AwaitingConfirmation and leaves the other
	// fields as they are.
	ClearConfirmation(ctx context.Context, threadID string) error
	// ArmConfirmation records a request waiting for the user's yes/no
	// together with the verdict that required it.
	ArmConfirmation(ctx context.Context, threadID, request string, verdict policy.Verdict) error
	Close() error
}
