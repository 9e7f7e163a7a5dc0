// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/techdesk-dev/techdesk/internal/config"
	"github.com/techdesk-dev/techdesk/internal/knowledge"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"golang.org/x/sys/unix"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check configuration, provider keys, the knowledge index, the Azure DevOps connection settings, disk space and whether a server is reachable.",
		RunE:  runDoctor,
	}
	cmd.Flags().String("server", "", "server address (defaults to server.listen)")
	return cmd
}

type doctorCheck struct {
	name string
	fn   func() string
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, cfgErr := loadConfig()

	checks := []doctorCheck{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfgErr) }},
		{"Server", func() string { return checkServer(ctx, clientFromFlags(cmd)) }},
	}
	if cfg != nil {
		checks = append(checks,
			doctorCheck{"Providers", func() string { return checkProviders(cfg) }},
			doctorCheck{"Knowledge index", func() string { return checkKnowledge(ctx, cfg.Knowledge) }},
			doctorCheck{"Azure DevOps", func() string { return checkBackend(cfg.Backend) }},
			doctorCheck{"Disk space", func() string { return checkDiskSpace(dataDir(cfg)) }},
		)
	}

	return printChecks(cmd.OutOrStdout(), checks)
}

func printChecks(w io.Writer, checks []doctorCheck) error {
	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}
	return nil
}

func checkBinary() string {
	return fmt.Sprintf("techdesk %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(loadErr error) string {
	if loadErr != nil {
		return fmt.Sprintf("invalid: %s", loadErr)
	}
	if f := viper.ConfigFileUsed(); f != "" {
		return fmt.Sprintf("loaded from %s", f)
	}
	return "using defaults (no config file found)"
}

func checkServer(ctx context.Context, c *supportClient) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status, err := c.Health(ctx)
	if err != nil {
		if tderr.HasCode(err, tderr.CodeCLIServerNotRunning) {
			return fmt.Sprintf("not running at %s (run 'techdesk serve')", c.baseURL)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", status, c.baseURL)
}

func checkProviders(cfg *config.Config) string {
	var ready, missing []string
	for name, p := range cfg.Providers {
		if p.APIKey == "" {
			missing = append(missing, name)
			continue
		}
		ready = append(ready, name)
	}
	if len(ready) == 0 {
		return "no provider has an API key"
	}
	sort.Strings(ready)
	out := fmt.Sprintf("%s (default model %s)", strings.Join(ready, ", "), cfg.Models.Default)
	if len(missing) > 0 {
		sort.Strings(missing)
		out += fmt.Sprintf("; missing key: %s", strings.Join(missing, ", "))
	}
	return out
}

// checkKnowledge never creates the index file.
func checkKnowledge(ctx context.Context, kc config.KnowledgeConfig) string {
	if kc.IndexPath == "" || kc.IndexPath == ":memory:" {
		return "in-memory index (rebuilt by 'techdesk serve --reindex')"
	}
	if _, err := os.Stat(kc.IndexPath); err != nil {
		return fmt.Sprintf("not built at %s (run 'techdesk index')", kc.IndexPath)
	}

	idx, err := knowledge.Open(kc.IndexPath, slog.New(slog.DiscardHandler))
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer func() { _ = idx.Close() }()

	manuals, err := idx.Count(ctx, knowledge.CollectionManuals)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	policies, err := idx.Count(ctx, knowledge.CollectionPolicies)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%d manual and %d policy sections in %s", manuals, policies, kc.IndexPath)
}

func checkBackend(bc config.BackendConfig) string {
	if bc.Organization == "" {
		return "disabled (backend.organization not set)"
	}
	if bc.PAT == "" {
		return fmt.Sprintf("%s/%s configured without a PAT", bc.Organization, bc.Project)
	}
	return fmt.Sprintf("%s/%s", bc.Organization, bc.Project)
}

// dataDir is where persistent state lives: the conversation database or,
// failing that, the knowledge index.
func dataDir(cfg *config.Config) string {
	for _, p := range []string{cfg.Storage.Path, cfg.Knowledge.IndexPath} {
		if p != "" && p != ":memory:" {
			return filepath.Dir(p)
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

func checkDiskSpace(dir string) string {
	path := dir
	if _, err := os.Stat(path); err != nil {
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}
	return formatBytes(stat.Bavail*uint64(stat.Bsize)) + " available"
}

func formatBytes(b uint64) string {
	const (
		gb = 1 << 30
		mb = 1 << 20
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
