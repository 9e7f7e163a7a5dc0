// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package provider

import (
	"sync"
	"time"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"github.com/techdesk-dev/techdesk/pkg/health"
)

// DefaultHealthCooldown is how long a failed provider is skipped before
// the registry tries it again.
const DefaultHealthCooldown = 30 * time.Second

// HealthTracker records provider failures. A provider is healthy until
// RecordFailure is called and becomes eligible again once the cooldown
// elapses.
type HealthTracker struct {
	mu           sync.RWMutex
	healthy      bool
	failedAt     time.Time
	cooldown     time.Duration
	failureCount int64
	now          func() time.Time
}

func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &HealthTracker{healthy: true, cooldown: cooldown, now: time.Now}, nil
}

// MustHealthTracker is NewHealthTracker for the package default cooldown,
// which is always valid.
func MustHealthTracker() *HealthTracker {
	h, _ := NewHealthTracker(DefaultHealthCooldown)
	return h
}

// caller holds h.mu
func (h *HealthTracker) availableLocked() bool {
	return h.healthy || h.now().Sub(h.failedAt) >= h.cooldown
}

func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.availableLocked()
}

func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.healthy = true
	h.mu.Unlock()
}

func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	h.healthy = false
	h.failedAt = h.now()
	h.failureCount++
	h.mu.Unlock()
}

// SetNowFunc overrides the clock in tests.
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.now = fn
	h.mu.Unlock()
}

// HealthMetrics returns a snapshot that shares no state with the tracker.
func (h *HealthTracker) HealthMetrics() health.Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := health.Metrics{
		FailureCount: h.failureCount,
		Available:    h.availableLocked(),
	}
	if h.failureCount > 0 {
		last := h.failedAt
		m.LastFailureAt = &last
	}
	if !h.healthy {
		until := h.failedAt.Add(h.cooldown)
		m.CooldownUntil = &until
	}
	return m
}
