// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package provider_test

import (
	"testing"
	"time"

	"github.com/techdesk-dev/techdesk/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthTracker_RejectsNonPositiveCooldown(t *testing.T) {
	_, err := provider.NewHealthTracker(0)
	require.Error(t, err)
	_, err = provider.NewHealthTracker(-time.Second)
	require.Error(t, err)
}

func TestHealthTracker_CooldownCycle(t *testing.T) {
	h, err := provider.NewHealthTracker(10 * time.Second)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.SetNowFunc(func() time.Time { return now })

	assert.True(t, h.IsHealthy())
	m := h.HealthMetrics()
	assert.True(t, m.Available)
	assert.Zero(t, m.FailureCount)
	assert.Nil(t, m.LastFailureAt)
	assert.Nil(t, m.CooldownUntil)

	h.RecordFailure()
	assert.False(t, h.IsHealthy())
	m = h.HealthMetrics()
	assert.False(t, m.Available)
	assert.Equal(t, int64(1), m.FailureCount)
	require.NotNil(t, m.CooldownUntil)
	assert.Equal(t, now.Add(10*time.Second), *m.CooldownUntil)

	now = now.Add(10 * time.Second)
	assert.True(t, h.IsHealthy(), "cooldown elapsed")

	h.RecordSuccess()
	m = h.HealthMetrics()
	assert.True(t, m.Available)
	assert.Nil(t, m.CooldownUntil)
	assert.NotNil(t, m.LastFailureAt, "failure history is kept")
}

func TestMustHealthTracker(t *testing.T) {
	assert.True(t, provider.MustHealthTracker().IsHealthy())
}
