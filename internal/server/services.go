// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package server

import (
	"context"

	"github.com/techdesk-dev/techdesk/internal/conversation"
	"github.com/techdesk-dev/techdesk/internal/provider"
	"github.com/techdesk-dev/techdesk/internal/router"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"github.com/techdesk-dev/techdesk/pkg/health"
)

// TurnService handles support turns.
type TurnService interface {
	HandleTurn(ctx context.Context, turn router.Turn) (router.Outcome, error)
}

// ThreadService reads stored conversation state. Unknown threads fail with
// a not-found code.
type ThreadService interface {
	Lookup(ctx context.Context, threadID string) (conversation.State, error)
}

// ProviderService reports LLM provider health.
type ProviderService interface {
	GetHealth(ctx context.Context, name string) (*ProviderHealthDetail, error)
}

// Services holds dependencies injected into route handlers. Threads and
// providers are optional; their endpoints are registered only when set.
type Services struct {
	turns     TurnService
	threads   ThreadService
	providers ProviderService
}

func NewServices(turns TurnService, threads ThreadService, providers ProviderService) (*Services, error) {
	if turns == nil {
		return nil, tderr.New(tderr.CodeServerConfigInvalid, "turn service is required")
	}
	return &Services{turns: turns, threads: threads, providers: providers}, nil
}

// ProviderHealthDetail is the REST representation of a provider's health.
type ProviderHealthDetail struct {
	Provider         string `json:"provider" doc:"Provider name"`
	Message          string `json:"message" doc:"Human-readable status message"`
	MetricsAvailable bool   `json:"metricsAvailable" doc:"Whether the provider reported health metrics"`
	health.Metrics
}

type registryHealth struct {
	registry *provider.Registry
}

// NewProviderHealthService reports health for the providers of registry.
func NewProviderHealthService(registry *provider.Registry) ProviderService {
	return &registryHealth{registry: registry}
}

func (h *registryHealth) GetHealth(ctx context.Context, name string) (*ProviderHealthDetail, error) {
	p, err := h.registry.Get(name)
	if err != nil {
		return nil, tderr.Errorf(tderr.CodeServerEntityNotFound, "provider %q not found", name)
	}

	detail := &ProviderHealthDetail{Provider: name}
	reporter, ok := p.(provider.HealthReporter)
	if !ok {
		detail.Available = p.Available(ctx)
		detail.Message = "provider does not report health metrics"
		return detail, nil
	}

	detail.Metrics = reporter.HealthMetrics()
	detail.MetricsAvailable = true
	if detail.Available {
		detail.Message = "ok"
	} else {
		detail.Message = "cooling down after failures"
	}
	return detail, nil
}
