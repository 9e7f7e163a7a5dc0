// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package secrets

import (
	"log/slog"
	"strings"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"github.com/spf13/viper"
)

const uriScheme = "keyring://"

// IsKeyringURI reports whether value is a keyring://service/key reference.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, uriScheme)
}

// ParseKeyringURI splits a keyring://service/key reference. The key may
// itself contain slashes.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", tderr.Errorf(tderr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok := strings.Cut(strings.TrimPrefix(uri, uriScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", tderr.Errorf(tderr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// Resolve returns the secret a keyring URI points at, or value unchanged
// when it is a literal.
func Resolve(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Get(service, key)
	if err != nil {
		return "", tderr.Wrapf(err, tderr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets replaces every keyring URI found in v with the
// secret it references. All keys are attempted; failures are returned
// together so the operator sees every broken reference at once.
func ResolveViperSecrets(v *viper.Viper, store Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		raw := v.GetString(key)
		if !IsKeyringURI(raw) {
			continue
		}

		resolved, err := Resolve(store, raw)
		if err != nil {
			errs = append(errs, tderr.Wrapf(err, tderr.CodeSecretResolveFailure, "config key %s (%s)", key, raw))
			continue
		}

		slog.Debug("resolved keyring secret", "config_key", key)
		v.Set(key, resolved)
	}

	if len(errs) > 0 {
		return tderr.Join(errs...)
	}
	return nil
}
