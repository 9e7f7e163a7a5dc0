// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/backend"
	"github.com/techdesk-dev/techdesk/internal/compose"
	"github.com/techdesk-dev/techdesk/internal/config"
	"github.com/techdesk-dev/techdesk/internal/confirm"
	"github.com/techdesk-dev/techdesk/internal/conversation"
	_ "github.com/techdesk-dev/techdesk/internal/conversation/sqlite" // register sqlite backend
	"github.com/techdesk-dev/techdesk/internal/execution"
	"github.com/techdesk-dev/techdesk/internal/knowledge"
	"github.com/techdesk-dev/techdesk/internal/policy"
	"github.com/techdesk-dev/techdesk/internal/profile"
	"github.com/techdesk-dev/techdesk/internal/provider"
	anthropicprov "github.com/techdesk-dev/techdesk/internal/provider/anthropic"
	googleprov "github.com/techdesk-dev/techdesk/internal/provider/google"
	openaiprov "github.com/techdesk-dev/techdesk/internal/provider/openai"
	"github.com/techdesk-dev/techdesk/internal/redact"
	"github.com/techdesk-dev/techdesk/internal/router"
	"github.com/techdesk-dev/techdesk/internal/server"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// App holds every wired component and owns their lifecycle.
type App struct {
	Server    *server.Server
	Router    *router.Router
	Store     conversation.Store
	Index     *knowledge.Index
	Gate      *policy.Gate
	Platform  *agent.Platform
	Providers *provider.Registry

	closers []func() error
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject fakes.
var builtinProviderFactories = map[string]providerFactory{
	"anthropic": func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"google": func(pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey})
	},
	"openai": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openrouter": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.NewOpenRouter(pc.APIKey, pc.Endpoint)
	},
}

// registerBuiltinProviders registers every configured provider with a known
// factory. Unknown names and empty keys are logged and skipped.
func registerBuiltinProviders(cfg *config.Config, reg *provider.Registry, logger *slog.Logger) {
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			logger.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[name]
		if !ok {
			logger.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			logger.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		reg.Register(name, p)
		logger.Info("registered provider", "provider", name)
	}
}

// Wire creates all components and connects them. On error everything
// created so far is closed.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	app := &App{}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	// 1. Providers and the agent platform.
	reg := provider.NewRegistry()
	app.Providers = reg
	app.closers = append(app.closers, reg.Close)
	registerBuiltinProviders(cfg, reg, logger)

	if err := reg.SetDefault(cfg.Models.Default); err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeCLISetupFailure, "setting default model %s", cfg.Models.Default)
	}
	if len(cfg.Models.Failover) > 0 {
		if err := reg.SetFailover(cfg.Models.Failover); err != nil {
			return nil, tderr.Wrap(err, tderr.CodeCLISetupFailure, "setting failover chain")
		}
	}

	platform, err := agent.NewPlatform(agent.Config{Router: reg, Logger: logger})
	if err != nil {
		return nil, err
	}
	app.Platform = platform

	// 2. Conversation state.
	store, err := conversation.Open(conversation.Config{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path})
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, store.Close)

	profiles, err := profile.Load(cfg.Profiles.File)
	if err != nil {
		return nil, err
	}

	// 3. Knowledge base.
	index, err := knowledge.Open(cfg.Knowledge.IndexPath, logger)
	if err != nil {
		return nil, err
	}
	app.Index = index
	app.closers = append(app.closers, index.Close)
	warnIfEmptyIndex(ctx, index, cfg.Knowledge.Dir, logger)

	kbAgentID, err := platform.CreateAgent(knowledge.AgentDefinition(index, cfg.Models.For("knowledge")))
	if err != nil {
		return nil, err
	}

	// 4. Policy gate, backed by the policies collection.
	instructions, err := policyInstructions(cfg.Agents.Policy.InstructionsFile)
	if err != nil {
		return nil, err
	}
	gate, err := policy.NewGate(policy.GateConfig{
		Platform:     platform,
		Model:        cfg.Models.For("policy"),
		Instructions: instructions,
		Tools:        []agent.Tool{knowledge.PoliciesTool(index)},
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	app.Gate = gate
	app.closers = append(app.closers, gate.Close)

	// 5. Action backend; optional.
	action, err := actionAgent(cfg, logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := execution.NewDispatcher(execution.Config{
		Platform:         platform,
		Store:            store,
		Model:            cfg.Models.For("triage"),
		KnowledgeAgentID: kbAgentID,
		Action:           action,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	// 6. Router and HTTP server.
	scrubber, err := redact.New()
	if err != nil {
		return nil, err
	}

	rt, err := router.New(router.Config{
		Store:        store,
		Profiles:     profiles,
		Policy:       gate,
		Confirmation: confirm.NewInterpreter(platform, cfg.Models.For("confirmation"), logger),
		Composer:     compose.NewComposer(platform, cfg.Models.For("composer"), logger),
		Executor:     dispatcher,
		Scrubber:     scrubber,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	app.Router = rt
	app.closers = append(app.closers, func() error { rt.Close(); return nil })

	services, err := server.NewServices(rt, store, server.NewProviderHealthService(reg))
	if err != nil {
		return nil, err
	}
	srv, err := server.New(server.Config{
		ListenAddr:   cfg.Server.Listen,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		EnableHSTS:   cfg.Server.EnableHSTS,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		},
		Services: services,
		Logger:   logger,
	})
	if err != nil {
		return nil, tderr.Wrap(err, tderr.CodeCLISetupFailure, "creating server")
	}
	app.Server = srv
	app.closers = append(app.closers, srv.Close)

	return app, nil
}

// Start runs the HTTP server until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	return a.Server.Start(ctx)
}

// Close releases components in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func policyInstructions(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", tderr.Wrapf(err, tderr.CodeCLISetupFailure, "reading policy instructions %s", path)
	}
	return string(data), nil
}

// actionAgent returns nil when no Azure DevOps organization is configured;
// the triage agent then runs without the ticketing tool.
func actionAgent(cfg *config.Config, logger *slog.Logger) (*agent.Definition, error) {
	if cfg.Backend.Organization == "" {
		logger.Warn("backend.organization not set, ticket creation is disabled")
		return nil, nil
	}
	client, err := backend.NewClient(backend.Config{
		Organization:    cfg.Backend.Organization,
		Project:         cfg.Backend.Project,
		PAT:             cfg.Backend.PAT,
		BaseURL:         cfg.Backend.BaseURL,
		IdentityBaseURL: cfg.Backend.IdentityBaseURL,
		APIVersion:      cfg.Backend.APIVersion,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	def := backend.ActionAgent(client, cfg.Models.For("action"))
	return &def, nil
}

func warnIfEmptyIndex(ctx context.Context, index *knowledge.Index, dir string, logger *slog.Logger) {
	for _, collection := range []string{knowledge.CollectionManuals, knowledge.CollectionPolicies} {
		n, err := index.Count(ctx, collection)
		if err != nil {
			logger.Warn("counting knowledge index", "collection", collection, "error", err)
			continue
		}
		if n == 0 {
			logger.Warn("knowledge collection is empty; run `techdesk index`", "collection", collection, "dir", dir)
		}
	}
}
