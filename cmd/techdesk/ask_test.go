// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/execution"
	"github.com/techdesk-dev/techdesk/internal/server"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func fakeSupportServer(t *testing.T, handler func(server.SupportRequestBody) (int, any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/support", r.URL.Path)
		var body server.SupportRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status, out := handler(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAsk_PrintsReply(t *testing.T) {
	var got server.SupportRequestBody
	ts := fakeSupportServer(t, func(b server.SupportRequestBody) (int, any) {
		got = b
		return http.StatusOK, server.SupportResponseBody{
			ThreadID:  "t-1",
			Response:  "Se abrió el ticket 42.",
			ToolsUsed: execution.Report{PolicyGuard: true, MCPADO: true},
			RunStatus: "completed",
		}
	})

	isolateHome(t)
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"ask", "--env-file=", "--server", ts.URL, "--email", "ana@example.com", "--thread", "t-1", "sí,", "ábrelo"})
	require.NoError(t, root.Execute())

	assert.Equal(t, server.SupportRequestBody{UserRequest: "sí, ábrelo", UserEmail: "ana@example.com", ThreadID: "t-1"}, got)
	assert.Contains(t, out.String(), "Se abrió el ticket 42.")
	assert.Contains(t, out.String(), "thread: t-1")
	assert.Contains(t, out.String(), "tools: policy,devops")
}

func TestAsk_JSONOutput(t *testing.T) {
	ts := fakeSupportServer(t, func(server.SupportRequestBody) (int, any) {
		return http.StatusOK, server.SupportResponseBody{ThreadID: "t-2", RunStatus: "denied"}
	})

	isolateHome(t)
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"ask", "--env-file=", "--server", ts.URL, "--json", "hola"})
	require.NoError(t, root.Execute())

	var resp server.SupportResponseBody
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "denied", resp.RunStatus)
}

func TestSupportClient_ProblemResponse(t *testing.T) {
	ts := fakeSupportServer(t, func(server.SupportRequestBody) (int, any) {
		return http.StatusBadGateway, map[string]any{"title": "Bad Gateway", "status": 502, "detail": "policy agent returned no reply"}
	})

	_, err := newSupportClient(ts.URL).Send(context.Background(), server.SupportRequestBody{UserRequest: "hola"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "policy agent returned no reply")
	assert.Equal(t, 502, tderr.FieldsOf(err)["status"])
}

func TestSupportClient_NotRunning(t *testing.T) {
	_, err := newSupportClient("127.0.0.1:1").Send(context.Background(), server.SupportRequestBody{UserRequest: "hola"})
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeCLIServerNotRunning))
}

func TestNewSupportClient_BaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:3000", newSupportClient("127.0.0.1:3000").baseURL)
	assert.Equal(t, "https://desk.example.com", newSupportClient("https://desk.example.com/").baseURL)
}

func TestToolsSummary(t *testing.T) {
	assert.Equal(t, "none", toolsSummary(execution.Report{}))
	assert.True(t, strings.HasPrefix(toolsSummary(execution.Report{PolicyGuard: true, KnowledgeBase: true}), "policy,knowledge"))
}
