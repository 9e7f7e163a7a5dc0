// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/secrets"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// mockSecretStore is an in-memory secrets.Store.
type mockSecretStore struct {
	data map[string]string
}

func newMockSecretStore(keys ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for _, k := range keys {
		m.data[k] = "redacted"
	}
	return m
}

func (m *mockSecretStore) Set(_, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Get(_, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", tderr.Errorf(tderr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	if _, ok := m.data[key]; !ok {
		return tderr.Errorf(tderr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func useSecretStore(t *testing.T, store secrets.Store) {
	t.Helper()
	old := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = old })
}

func runSecret(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	isolateHome(t)
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"secret", "--env-file="}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSecretList(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want string
	}{
		{name: "empty store", want: "No secrets stored.\n"},
		{name: "keys", keys: []string{"ado-pat", "anthropic-api-key"}, want: "ado-pat\nanthropic-api-key\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useSecretStore(t, newMockSecretStore(tt.keys...))
			out, err := runSecret(t, "", "list")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestSecretSet(t *testing.T) {
	store := newMockSecretStore()
	useSecretStore(t, store)

	out, err := runSecret(t, "  s3cr3t-pat  \n", "set", "ado-pat")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-pat", store.data["ado-pat"])
	assert.Contains(t, out, "keyring://techdesk/ado-pat")
}

func TestSecretSet_EmptyValue(t *testing.T) {
	useSecretStore(t, newMockSecretStore())

	_, err := runSecret(t, "\n", "set", "ado-pat")
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeCLIInputInvalid))

	_, err = runSecret(t, "", "set", "ado-pat")
	require.Error(t, err)
}

func TestSecretDelete(t *testing.T) {
	store := newMockSecretStore("ado-pat")
	useSecretStore(t, store)

	out, err := runSecret(t, "", "delete", "ado-pat")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted secret: ado-pat")
	assert.Empty(t, store.data)

	_, err = runSecret(t, "", "delete", "ado-pat")
	require.Error(t, err)
	assert.True(t, tderr.IsNotFound(err))
}
