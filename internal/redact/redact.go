// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package redact masks credentials that users paste into support requests
// and flags text that tries to override agent instructions.
package redact

import (
	"regexp"
	"slices"
	"strings"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Placeholder replaces every masked region.
const Placeholder = "[REDACTED]"

// Action says what a rule does with a match.
type Action string

const (
	// ActionMask replaces the match with Placeholder.
	ActionMask Action = "mask"
	// ActionFlag reports the match and leaves the text intact.
	ActionFlag Action = "flag"
)

// Rule is a named pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Action  Action
}

// Result is the outcome of Scrub. Masked and Flagged hold rule names in
// the order they first matched, without duplicates.
type Result struct {
	Text    string
	Masked  []string
	Flagged []string
}

// Clean reports whether no rule matched.
func (r Result) Clean() bool {
	return len(r.Masked) == 0 && len(r.Flagged) == 0
}

// Scrubber applies a fixed rule set. It is safe for concurrent use.
type Scrubber struct {
	rules []Rule
}

// New returns a Scrubber over rules, or over DefaultRules when none are given.
func New(rules ...Rule) (*Scrubber, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	for i, r := range rules {
		switch {
		case r.Name == "":
			return nil, tderr.Errorf(tderr.CodeConfigValidateInvalidValue, "redact rule %d has empty name", i)
		case r.Pattern == nil:
			return nil, tderr.Errorf(tderr.CodeConfigValidateInvalidValue, "redact rule %s has nil pattern", r.Name)
		case r.Action != ActionMask && r.Action != ActionFlag:
			return nil, tderr.Errorf(tderr.CodeConfigValidateInvalidValue, "redact rule %s has unknown action %q", r.Name, r.Action)
		}
	}
	return &Scrubber{rules: rules}, nil
}

// Scrub normalizes text and masks every credential match. Text with no
// mask matches is returned normalized but otherwise unchanged.
func (s *Scrubber) Scrub(text string) Result {
	text = normalize(text)
	res := Result{Text: text}

	var spans []span
	for _, rule := range s.rules {
		locs := rule.Pattern.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		if rule.Action == ActionFlag {
			res.Flagged = appendUnique(res.Flagged, rule.Name)
			continue
		}
		res.Masked = appendUnique(res.Masked, rule.Name)
		for _, l := range locs {
			spans = append(spans, span{l[0], l[1]})
		}
	}
	if len(spans) > 0 {
		res.Text = mask(text, spans)
	}
	return res
}

type span struct{ start, end int }

// mask replaces the union of spans with Placeholder.
func mask(text string, spans []span) string {
	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)
			continue
		}
		merged = append(merged, s)
	}

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, s := range merged {
		b.WriteString(text[pos:s.start])
		b.WriteString(Placeholder)
		pos = s.end
	}
	b.WriteString(text[pos:])
	return b.String()
}

func appendUnique(names []string, name string) []string {
	if slices.Contains(names, name) {
		return names
	}
	return append(names, name)
}

var invisible = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // byte order mark
	"\u00ad", "", // soft hyphen
	"\u2060", "", // word joiner
)

// normalize strips invisible characters and applies NFKC so that
// look-alike or split tokens still match.
func normalize(s string) string {
	return norm.NFKC.String(invisible.Replace(s))
}
