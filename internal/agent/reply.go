// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package agent

import "strings"

// TrimCodeFence strips surrounding whitespace and a single Markdown code
// fence (```json ... ```) that models like to put around JSON answers.
func TrimCodeFence(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}

	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// Drop the info string ("json") on the opening fence line.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}
