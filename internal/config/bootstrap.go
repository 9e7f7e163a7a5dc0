// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

//go:embed techdesk.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/techdesk/techdesk.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", tderr.Errorf(tderr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "techdesk", "techdesk.yaml"), nil
}

// BootstrapConfig writes the commented default config to the default path
// when nothing is there yet. It returns the written path, or "" when the
// file already existed or could not be written.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}
	return bootstrapAt(cfgPath)
}

func bootstrapAt(cfgPath string) string {
	if _, err := os.Stat(cfgPath); err == nil {
		return ""
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", cfgPath, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
