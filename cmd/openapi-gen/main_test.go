// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSpec(t *testing.T) {
	spec, err := generateSpec()
	require.NoError(t, err)

	var doc struct {
		OpenAPI string         `json:"openapi"`
		Paths   map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(spec, &doc))
	assert.Contains(t, doc.OpenAPI, "3.1")
	for _, path := range []string{"/health", "/support", "/api/v1/threads/{id}", "/api/v1/providers/{name}/health"} {
		assert.Contains(t, doc.Paths, path)
	}
	assert.Contains(t, string(spec), "awaiting_work_item_confirmation")
}

func TestRun_WritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "api", "openapi", "spec.json")
	require.NoError(t, run(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, byte('{'), data[0])
}
