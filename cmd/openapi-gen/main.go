// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/techdesk-dev/techdesk/internal/conversation"
	"github.com/techdesk-dev/techdesk/internal/router"
	"github.com/techdesk-dev/techdesk/internal/server"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func main() {
	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := run(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

func run(outPath string) error {
	spec, err := generateSpec()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return tderr.Wrapf(err, tderr.CodeCLISetupFailure, "creating output dir for %s", outPath)
	}
	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		return tderr.Wrapf(err, tderr.CodeCLISetupFailure, "writing %s", outPath)
	}
	return nil
}

// generateSpec builds a server with every optional route registered and
// returns the OpenAPI document huma derives from the handler types.
func generateSpec() ([]byte, error) {
	svc, err := server.NewServices(stubTurns{}, conversation.NewMemoryStore(), stubProviders{})
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		Services:   svc,
	})
	if err != nil {
		return nil, tderr.Errorf(tderr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// Handlers are never invoked during generation.

type stubTurns struct{}

func (stubTurns) HandleTurn(context.Context, router.Turn) (router.Outcome, error) {
	return router.Outcome{}, nil
}

type stubProviders struct{}

func (stubProviders) GetHealth(context.Context, string) (*server.ProviderHealthDetail, error) {
	return nil, nil
}
