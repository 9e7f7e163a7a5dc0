// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package knowledge_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/knowledge"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func TestSearchTools(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	_, err := idx.IndexMarkdown(ctx, knowledge.CollectionManuals, "vpn.md", []byte("# VPN\n\nReset the token from the portal."))
	require.NoError(t, err)
	_, err = idx.IndexMarkdown(ctx, knowledge.CollectionPolicies, "sec.md", []byte("# SEC-1\n\nProduction admin needs approval."))
	require.NoError(t, err)

	manuals := knowledge.ManualsTool(idx)
	assert.Equal(t, "search_knowledge", manuals.Definition().Name)

	out, err := manuals.Call(ctx, `{"query":"vpn token"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "## VPN (vpn.md)")
	assert.Contains(t, out, "Reset the token")

	out, err = manuals.Call(ctx, `{"query":"printer"}`)
	require.NoError(t, err)
	assert.Equal(t, knowledge.NoResults, out)

	policies := knowledge.PoliciesTool(idx)
	assert.Equal(t, "search_policies", policies.Definition().Name)
	out, err = policies.Call(ctx, `{"query":"production"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "SEC-1")

	_, err = manuals.Call(ctx, `not json`)
	require.Error(t, err)
	assert.True(t, tderr.IsInvalidInput(err))
}

func TestFormatResults_Truncates(t *testing.T) {
	long := strings.Repeat("á", 1500)
	out := knowledge.FormatResults([]knowledge.Result{{Document: knowledge.Document{Title: "T", Source: "s.md", Body: long}}})
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.Less(t, len([]rune(out)), 1300)
}

func TestAgentDefinition(t *testing.T) {
	idx := openIndex(t)
	def := knowledge.AgentDefinition(idx, "openai/gpt-4o-mini")
	assert.Equal(t, "openai/gpt-4o-mini", def.Model)
	require.Len(t, def.Tools, 1)
	assert.Equal(t, "search_knowledge", def.Tools[0].Definition().Name)
}
