// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/techdesk-dev/techdesk/internal/config"
	"github.com/techdesk-dev/techdesk/internal/knowledge"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the knowledge index from markdown files",
		Long:  "Index every .md file under knowledge.dir. Files below a top-level policies/ directory feed the policy gate; the rest feed the knowledge agent.",
		RunE:  runIndex,
	}
	cmd.Flags().String("dir", "", "override knowledge.dir")
	return cmd
}

func runIndex(cmd *cobra.Command, _ []string) error {
	var kc config.KnowledgeConfig
	if err := viper.UnmarshalKey("knowledge", &kc); err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		kc.Dir = dir
	}

	var lc config.LoggingConfig
	_ = viper.UnmarshalKey("logging", &lc)
	logger := newLogger(lc, viper.GetBool("verbose"), cmd.ErrOrStderr())

	index, err := knowledge.Open(kc.IndexPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	stats, err := index.IndexDir(cmd.Context(), kc.Dir)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files (%d sections) from %s into %s\n",
		stats.Files, stats.Sections, kc.Dir, kc.IndexPath)
	return err
}
