// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package secrets

// ServiceName is the keyring service under which TechDesk keeps its
// provider keys and the Azure DevOps token.
const ServiceName = "techdesk"

// Store reads and writes named secrets grouped by service.
type Store interface {
	// Set saves value under service/key, replacing any previous value.
	Set(service, key, value string) error

	// Get returns the value for service/key. A missing entry yields an
	// error carrying CodeSecretNotFound.
	Get(service, key string) (string, error)

	Delete(service, key string) error

	// List returns the key names saved under service, in insertion order.
	List(service string) ([]string, error)
}
