// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package knowledge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/knowledge"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func openIndex(t *testing.T) *knowledge.Index {
	t.Helper()
	idx, err := knowledge.Open(filepath.Join(t.TempDir(), "knowledge.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestMatchExpression(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "VPN token", want: `"vpn" OR "token"`},
		{in: `¿Cómo instalo "Visual Studio"?`, want: `"cómo" OR "instalo" OR "visual" OR "studio"`},
		{in: "a OR b NEAR(c)", want: `"or" OR "near"`},
		{in: "vpn vpn VPN", want: `"vpn"`},
		{in: "?!*", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, knowledge.MatchExpression(tt.in))
		})
	}
}

func TestIndex_SearchByCollection(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)

	n, err := idx.IndexMarkdown(ctx, knowledge.CollectionManuals, "vpn.md", []byte("# VPN\n\nReset the VPN token from the portal.\n\n# Printers\n\nAdd printers from settings."))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = idx.IndexMarkdown(ctx, knowledge.CollectionPolicies, "access.md", []byte("# Access\n\nAdmin access to production requires security approval."))
	require.NoError(t, err)

	results, err := idx.Search(ctx, knowledge.CollectionManuals, "vpn token", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "VPN", results[0].Title)
	assert.Equal(t, "vpn.md", results[0].Source)

	results, err = idx.Search(ctx, knowledge.CollectionManuals, "production admin", 5)
	require.NoError(t, err)
	assert.Empty(t, results, "policies are not visible in the manuals collection")

	results, err = idx.Search(ctx, knowledge.CollectionPolicies, "production admin", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, knowledge.CollectionPolicies, results[0].Collection)
}

func TestIndex_DiacriticsInsensitive(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)

	_, err := idx.IndexMarkdown(ctx, knowledge.CollectionManuals, "instalacion.md", []byte("# Instalación\n\nGuía de instalación del software aprobado."))
	require.NoError(t, err)

	results, err := idx.Search(ctx, knowledge.CollectionManuals, "instalacion", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIndex_ReindexReplacesSource(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)

	_, err := idx.IndexMarkdown(ctx, knowledge.CollectionManuals, "doc.md", []byte("# One\n\nalpha\n\n# Two\n\nbeta"))
	require.NoError(t, err)
	_, err = idx.IndexMarkdown(ctx, knowledge.CollectionManuals, "doc.md", []byte("# Only\n\ngamma"))
	require.NoError(t, err)

	count, err := idx.Count(ctx, knowledge.CollectionManuals)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := idx.Search(ctx, knowledge.CollectionManuals, "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_InvalidQuery(t *testing.T) {
	idx := openIndex(t)
	_, err := idx.Search(context.Background(), knowledge.CollectionManuals, "??", 5)
	require.Error(t, err)
	assert.True(t, tderr.IsInvalidInput(err))
}

func TestIndex_IndexDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "vpn.md"), "# VPN\n\nToken reset steps.")
	writeFile(t, filepath.Join(dir, "software", "ide.md"), "# IDE\n\nVisual Studio 2022 is approved.")
	writeFile(t, filepath.Join(dir, "policies", "access.md"), "# Access\n\nProduction access needs approval.")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	idx := openIndex(t)
	stats, err := idx.IndexDir(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, knowledge.Stats{Files: 3, Sections: 3}, stats)

	manuals, err := idx.Count(ctx, knowledge.CollectionManuals)
	require.NoError(t, err)
	assert.Equal(t, 2, manuals)

	policies, err := idx.Count(ctx, knowledge.CollectionPolicies)
	require.NoError(t, err)
	assert.Equal(t, 1, policies)

	results, err := idx.Search(ctx, knowledge.CollectionManuals, "visual studio", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "software/ide.md", results[0].Source)
}

func TestIndex_IndexDirMissing(t *testing.T) {
	idx := openIndex(t)
	_, err := idx.IndexDir(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeKnowledgeIndexFailure))
}

func TestIndex_InMemory(t *testing.T) {
	idx, err := knowledge.Open(":memory:", nil)
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.IndexMarkdown(context.Background(), knowledge.CollectionManuals, "a.md", []byte("# A\n\nhello world"))
	require.NoError(t, err)
	results, err := idx.Search(context.Background(), knowledge.CollectionManuals, "hello", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
