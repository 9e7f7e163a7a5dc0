// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package redact

import "regexp"

// DefaultRules masks common credential formats, including the personal
// access tokens and connection strings people paste when asking for help
// with Azure DevOps, and flags attempts to override agent instructions.
func DefaultRules() []Rule {
	return []Rule{
		maskRule("azure_devops_pat", `(?i)\bpat\b\s*[:=]?\s*[a-z2-7]{52}\b`),
		maskRule("azure_storage_key", `(?i)AccountKey\s*=\s*[A-Za-z0-9+/=]{20,}`),
		maskRule("mssql_connection_string", `(?i)(?:Server|Data Source)\s*=\s*[^;]+;\s*(?:Password|Pwd)\s*=\s*[^;]+`),
		maskRule("database_url", `(?i)(?:postgres(?:ql)?|mysql|mongodb|redis)://[^\s:@]+:[^\s@]+@\S+`),
		maskRule("aws_access_key", `AKIA[0-9A-Z]{16}`),
		maskRule("github_pat", `ghp_[A-Za-z0-9]{36}`),
		maskRule("github_fine_grained_pat", `github_pat_[A-Za-z0-9_]{22,}`),
		maskRule("anthropic_api_key", `sk-ant-api\d{2}-[A-Za-z0-9_-]{20,}`),
		maskRule("openai_api_key", `sk-(?:proj-)?[A-Za-z0-9_-]{32,}`),
		maskRule("google_api_key", `AIza[0-9A-Za-z_-]{35}`),
		maskRule("slack_token", `xox[bpas]-[A-Za-z0-9-]{10,}`),
		maskRule("bearer_token", `(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`),
		maskRule("pem_private_key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
		maskRule("password_assignment", `(?i)\b(?:password|passwd|contraseña)\s*[:=]\s*\S+`),

		flagRule("instruction_override", `(?i)(?:ignore|disregard|forget|override)\s+(?:all\s+)?(?:previous|prior|above)\s+(?:instructions|rules|prompts)`),
		flagRule("system_block", `(?i)(?:<\|?system\|?>|\[system\]|<<SYS>>|`+"```"+`system\b)`),
		flagRule("instruction_override_es", `(?i)ignora\s+(?:todas\s+)?las\s+instrucciones\s+(?:anteriores|previas)`),
	}
}

func maskRule(name, pattern string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(pattern), Action: ActionMask}
}

func flagRule(name, pattern string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(pattern), Action: ActionFlag}
}
