// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package provider

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Router picks a provider for a "provider/model" reference.
type Router interface {
	// Route returns the provider and bare model name for ref, skipping
	// providers named in exclude. An empty ref or "default" selects the
	// configured default.
	Route(ctx context.Context, ref string, exclude []string) (Provider, string, error)
	// MaxAttempts bounds how many distinct providers a caller should try.
	MaxAttempts() int
}

// Registry holds the configured providers plus the default and failover
// chain. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string
	failover   []string
}

var _ Router = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, tderr.New(tderr.CodeProviderNotFound, "provider not found: "+name, tderr.FieldProvider(name))
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefault sets the fallback "provider/model" ref. The provider must
// already be registered.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRegisteredLocked(ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// SetFailover sets the ordered chain tried after the requested ref.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRegisteredLocked(ref); err != nil {
			return err
		}
	}
	r.failover = slices.Clone(chain)
	return nil
}

func (r *Registry) MaxAttempts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return 1 + len(r.failover)
}

func (r *Registry) Route(ctx context.Context, ref string, exclude []string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref == "" || ref == "default" {
		ref = r.defaultRef
	}
	if ref == "" {
		return nil, "", tderr.New(tderr.CodeProviderNoDefault, "no default provider configured")
	}
	if !strings.Contains(ref, "/") {
		return nil, "", tderr.Errorf(tderr.CodeProviderInvalidModelRef, "model %q must use provider/model format", ref)
	}

	for _, candidate := range append([]string{ref}, r.failover...) {
		name, model := ParseRef(candidate)
		if slices.Contains(exclude, name) {
			continue
		}
		p, ok := r.providers[name]
		if !ok || !p.Available(ctx) {
			continue
		}
		return p, model, nil
	}

	return nil, "", tderr.New(tderr.CodeProviderAllUnavailable, "all providers unavailable: no healthy provider found")
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return tderr.Join(errs...)
}

func (r *Registry) checkRegisteredLocked(ref string) error {
	name, _ := ParseRef(ref)
	if _, ok := r.providers[name]; !ok {
		return tderr.New(tderr.CodeProviderNotFound, "provider not registered: "+name, tderr.FieldProvider(name))
	}
	return nil
}

// ParseRef splits "provider/model" on the first slash, so OpenRouter refs
// such as "openrouter/anthropic/claude-sonnet-4-5" keep their vendor prefix.
func ParseRef(ref string) (providerName, model string) {
	name, model, _ := strings.Cut(ref, "/")
	return name, model
}
