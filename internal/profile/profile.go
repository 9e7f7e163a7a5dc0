// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package profile maps employee email addresses to the role, area and
// trust level the policy agent uses when scoring a request.
package profile

import (
	"log/slog"
	"os"
	"strings"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultKey is the mapping entry used for unknown emails.
const DefaultKey = "_default"

// Profile describes who is asking.
type Profile struct {
	Role       string `json:"role" yaml:"role"`
	Area       string `json:"area" yaml:"area"`
	TrustLevel int    `json:"trust_level" yaml:"trust_level"`
}

// Unknown is the profile used when neither the email nor a _default entry
// is configured.
var Unknown = Profile{Role: "Unknown", Area: "Unknown", TrustLevel: 1}

// Resolver is a static, read-only email to profile lookup.
type Resolver struct {
	profiles map[string]Profile
	fallback Profile
}

// NewResolver builds a resolver from entries keyed by email. Keys are
// matched case-insensitively; the _default entry, when present, replaces
// Unknown as the fallback.
func NewResolver(entries map[string]Profile) *Resolver {
	r := &Resolver{
		profiles: make(map[string]Profile, len(entries)),
		fallback: Unknown,
	}
	for email, p := range entries {
		key := normalize(email)
		if key == DefaultKey {
			r.fallback = p
			continue
		}
		r.profiles[key] = p
	}
	return r
}

// Resolve never fails: unknown or empty emails get the fallback profile.
func (r *Resolver) Resolve(email string) Profile {
	if r == nil {
		return Unknown
	}
	if p, ok := r.profiles[normalize(email)]; ok {
		return p
	}
	return r.fallback
}

// Len reports the number of explicitly mapped emails.
func (r *Resolver) Len() int {
	return len(r.profiles)
}

// Load reads a YAML (or JSON, which is valid YAML) mapping file. An empty
// path or a missing file yields a resolver that only knows the fallback,
// so a fresh install works without a profiles file.
func Load(path string) (*Resolver, error) {
	if path == "" {
		return NewResolver(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("profiles file not found, every user gets the default profile", "path", path)
			return NewResolver(nil), nil
		}
		return nil, tderr.Wrapf(err, tderr.CodeProfileLoadFailure, "reading profiles file %s", path)
	}

	var entries map[string]Profile
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeProfileLoadFailure, "parsing profiles file %s", path)
	}
	return NewResolver(entries), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
