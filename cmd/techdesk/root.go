// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/techdesk-dev/techdesk/internal/config"
	"github.com/techdesk-dev/techdesk/internal/secrets"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// NewRootCmd creates the root techdesk command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "techdesk",
		Short:         "TechDesk: IT-support request router",
		Long:          "TechDesk routes employee IT requests through a policy gate, asks for confirmation before opening approval tickets and dispatches the rest to knowledge and action agents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before configuration")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newChatCmd(),
		newIndexCmd(),
		newDoctorCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings and an optional config file so the precedence
// flag > env > file > defaults holds everywhere.
func initViper(cmd *cobra.Command) error {
	if err := loadEnvFile(cmd); err != nil {
		return err
	}

	v := viper.GetViper()
	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return tderr.Errorf(tderr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is left unset: Viper would otherwise also try the
		// bare name, which is the techdesk binary in a source checkout.
		v.SetConfigName("techdesk")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/techdesk")
		v.AddConfigPath("/etc/techdesk")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return tderr.Errorf(tderr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return tderr.Errorf(tderr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	if used := v.ConfigFileUsed(); used != "" {
		config.WarnInsecurePermissions(used)
	}

	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return tderr.Errorf(tderr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}
	return nil
}

// loadEnvFile loads KEY=value pairs without overriding variables already
// set in the environment. A missing file is not an error.
func loadEnvFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return tderr.Errorf(tderr.CodeConfigLoadReadFailure, "loading %s: %w", path, err)
	}
	slog.Debug("loaded env file", "path", path)
	return nil
}

// loadConfig resolves keyring references in the global Viper and decodes
// the result. Only commands that need credentials call it.
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	if err := secrets.ResolveViperSecrets(v, secretStoreFactory()); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}
