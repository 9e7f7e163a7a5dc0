// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"slices"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"github.com/zalando/go-keyring"
)

// indexKey names the entry holding the JSON list of keys for a service.
// The OS keyrings behind go-keyring cannot enumerate entries.
const indexKey = "__index__"

// KeyringStore keeps secrets in the OS keyring (Keychain, secret-service
// or Credential Manager).
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Set(service, key, value string) error {
	if err := checkName(service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return tderr.Wrapf(err, tderr.CodeSecretStoreFailure, "saving secret %s/%s", service, key)
	}

	keys, err := s.List(service)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return s.writeIndex(service, append(keys, key))
}

func (s *KeyringStore) Get(service, key string) (string, error) {
	if err := checkName(service, key); err != nil {
		return "", err
	}

	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", tderr.Errorf(tderr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", tderr.Wrapf(err, tderr.CodeSecretStoreFailure, "reading secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkName(service, key); err != nil {
		return err
	}

	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return tderr.Errorf(tderr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return tderr.Wrapf(err, tderr.CodeSecretStoreFailure, "deleting secret %s/%s", service, key)
	}

	keys, err := s.List(service)
	if err != nil {
		return err
	}
	return s.writeIndex(service, slices.DeleteFunc(keys, func(k string) bool { return k == key }))
}

func (s *KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, indexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeSecretListFailure, "reading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeSecretListFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) writeIndex(service string, keys []string) error {
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return tderr.Wrapf(err, tderr.CodeSecretListFailure, "clearing key index for %s", service)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return tderr.Wrapf(err, tderr.CodeSecretListFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return tderr.Wrapf(err, tderr.CodeSecretListFailure, "writing key index for %s", service)
	}
	return nil
}

func checkName(service, key string) error {
	if service == "" || key == "" {
		return tderr.New(tderr.CodeSecretInvalidInput, "secret service and key must not be empty")
	}
	if key == indexKey {
		return tderr.Errorf(tderr.CodeSecretInvalidInput, "secret key %q is reserved", key)
	}
	return nil
}
