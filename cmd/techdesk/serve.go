// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the TechDesk HTTP API",
		Long:  "Load configuration, wire providers, agents and stores, and serve the support API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().Bool("reindex", false, "rebuild the knowledge index from knowledge.dir before serving")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, viper.GetBool("verbose"), cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("closing components", "error", err)
		}
	}()

	if reindex, _ := cmd.Flags().GetBool("reindex"); reindex {
		if _, err := app.Index.IndexDir(ctx, cfg.Knowledge.Dir); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})

	err = g.Wait()
	if tderr.HasCode(err, tderr.CodeServerShutdownFailure) {
		logger.Warn("graceful shutdown incomplete", "error", err)
		return nil
	}
	return err
}
