// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/techdesk-dev/techdesk/internal/secrets"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// secretStoreFactory creates a secrets.Store. Tests substitute an
// in-memory implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: "Store provider API keys and the Azure DevOps token in the operating system keyring. " +
			"Reference them from the config as keyring://" + secrets.ServiceName + "/<name>.",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret; the value is read from the first line of stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
	return cmd
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	value := strings.TrimSpace(line)
	if value == "" {
		if err != nil {
			return tderr.Wrapf(err, tderr.CodeCLIInputInvalid, "reading value for %q from stdin", name)
		}
		return tderr.Errorf(tderr.CodeCLIInputInvalid, "secret %q must not be empty", name)
	}

	if err := secretStoreFactory().Set(secrets.ServiceName, name, value); err != nil {
		return tderr.Wrapf(err, tderr.CodeSecretStoreFailure, "storing secret %q", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s (use keyring://%s/%s)\n", name, secrets.ServiceName, name)
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.ServiceName)
	if err != nil {
		return tderr.Errorf(tderr.CodeSecretListFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}
	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(secrets.ServiceName, name); err != nil {
		if tderr.HasCode(err, tderr.CodeSecretNotFound) {
			return tderr.Errorf(tderr.CodeSecretNotFound, "secret %q not found", name)
		}
		return tderr.Errorf(tderr.CodeSecretStoreFailure, "deleting secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
