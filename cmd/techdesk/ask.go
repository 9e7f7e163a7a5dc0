// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/techdesk-dev/techdesk/internal/execution"
	"github.com/techdesk-dev/techdesk/internal/server"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one support request to a running server",
		Long:  "Send a single turn. Pass --thread with the id printed by a previous call to answer a confirmation question.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}

	addClientFlags(cmd)
	cmd.Flags().Bool("json", false, "print the raw JSON response")

	return cmd
}

// addClientFlags registers the flags shared by ask and chat.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "server address (defaults to server.listen)")
	cmd.Flags().StringP("email", "e", "", "requester email used for profile lookup")
	cmd.Flags().StringP("thread", "t", "", "continue an existing thread")
}

func clientFromFlags(cmd *cobra.Command) *supportClient {
	addr, _ := cmd.Flags().GetString("server")
	if addr == "" {
		addr = viper.GetString("server.listen")
	}
	return newSupportClient(addr)
}

func runAsk(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	thread, _ := cmd.Flags().GetString("thread")
	asJSON, _ := cmd.Flags().GetBool("json")

	resp, err := clientFromFlags(cmd).Send(cmd.Context(), server.SupportRequestBody{
		UserRequest: strings.Join(args, " "),
		UserEmail:   email,
		ThreadID:    thread,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	_, _ = fmt.Fprintln(out, resp.Response)
	_, _ = fmt.Fprintf(out, "\nthread: %s  status: %s  tools: %s\n", resp.ThreadID, resp.RunStatus, toolsSummary(resp.ToolsUsed))
	return nil
}

func toolsSummary(r execution.Report) string {
	var used []string
	if r.PolicyGuard {
		used = append(used, "policy")
	}
	if r.KnowledgeBase {
		used = append(used, "knowledge")
	}
	if r.MCPADO {
		used = append(used, "devops")
	}
	if len(used) == 0 {
		return "none"
	}
	return strings.Join(used, ",")
}
