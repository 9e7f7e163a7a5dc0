// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package conversation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/conversation"
	"github.com/techdesk-dev/techdesk/internal/policy"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func approvalVerdict() policy.Verdict {
	return policy.Verdict{
		Outcome:              policy.RequiresApproval,
		RiskLevel:            "MEDIUM",
		Reason:               "write access",
		PolicyRefs:           []string{"SEC-1"},
		RequiredApproverRole: "Tech Lead",
	}
}

func TestMemoryStore_GetCreatesDefault(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewMemoryStore()

	_, err := s.Lookup(ctx, "t1")
	assert.True(t, tderr.IsNotFound(err))

	st, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.State{}, st)
	assert.Equal(t, 1, s.Len())

	st, err = s.Lookup(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, st.AwaitingConfirmation)
}

func TestMemoryStore_ArmAndClear(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewMemoryStore()

	require.NoError(t, s.ArmConfirmation(ctx, "t1", "admin on prod", approvalVerdict()))
	st, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, st.AwaitingConfirmation)
	assert.Equal(t, "admin on prod", st.LastDeniedRequest)
	require.NotNil(t, st.LastPolicyDecision)
	assert.Equal(t, "Tech Lead", st.LastPolicyDecision.RequiredApproverRole)

	require.NoError(t, s.ClearConfirmation(ctx, "t1"))
	st, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, st.AwaitingConfirmation)
	assert.Equal(t, "admin on prod", st.LastDeniedRequest, "clear leaves the other fields")
	assert.NotNil(t, st.LastPolicyDecision)
}

func TestMemoryStore_ClearOnUnknownThread(t *testing.T) {
	s := conversation.NewMemoryStore()
	require.NoError(t, s.ClearConfirmation(context.Background(), "new"))

	st, err := s.Lookup(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, conversation.State{}, st)
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewMemoryStore()
	require.NoError(t, s.ArmConfirmation(ctx, "t1", "req", approvalVerdict()))

	v := policy.Verdict{Outcome: policy.AutoApprove}
	require.NoError(t, s.Put(ctx, "t1", conversation.State{LastPolicyDecision: &v}))

	st, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, st.AwaitingConfirmation)
	assert.Empty(t, st.LastDeniedRequest)
	assert.Equal(t, policy.AutoApprove, st.LastPolicyDecision.Outcome)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewMemoryStore()

	v := approvalVerdict()
	in := conversation.State{LastPolicyDecision: &v}
	require.NoError(t, s.Put(ctx, "t1", in))

	// Mutating the caller's copy must not leak into the store.
	v.PolicyRefs[0] = "mutated"
	v.Reason = "mutated"

	out, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "SEC-1", out.LastPolicyDecision.PolicyRefs[0])
	assert.Equal(t, "write access", out.LastPolicyDecision.Reason)

	out.LastPolicyDecision.Reason = "mutated again"
	again, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "write access", again.LastPolicyDecision.Reason)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewMemoryStore()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i%5)
			_, _ = s.Get(ctx, id)
			_ = s.ArmConfirmation(ctx, id, "req", approvalVerdict())
			_ = s.ClearConfirmation(ctx, id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, s.Len())
}

func TestOpen(t *testing.T) {
	s, err := conversation.Open(conversation.Config{})
	require.NoError(t, err)
	assert.IsType(t, &conversation.MemoryStore{}, s)
	require.NoError(t, s.Close())

	_, err = conversation.Open(conversation.Config{Backend: "redis"})
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeConversationUnsupported))

	assert.Contains(t, conversation.Backends(), conversation.BackendMemory)
}
