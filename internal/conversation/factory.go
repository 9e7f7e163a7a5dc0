// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package conversation

import (
	"sort"
	"sync"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// BackendMemory is the default, process-lifetime backend.
const BackendMemory = "memory"

// Config selects a backend. Path is interpreted by the backend.
type Config struct {
	Backend string
	Path    string
}

// Factory opens a Store for a backend.
type Factory func(cfg Config) (Store, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

func init() {
	RegisterBackend(BackendMemory, func(Config) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// RegisterBackend registers a named backend. Backend packages call this
// from init(). This function is goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the store for cfg.Backend, defaulting to memory.
func Open(cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
	}

	factoriesMu.RLock()
	f, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, tderr.Errorf(tderr.CodeConversationUnsupported, "unsupported storage backend: %q", backend)
	}
	return f(cfg)
}
