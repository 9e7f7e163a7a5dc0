// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package policy

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/techdesk-dev/techdesk/internal/agent"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Outcome is the decision of a policy evaluation.
type Outcome string

const (
	AutoApprove      Outcome = "AUTO_APPROVE"
	RequiresApproval Outcome = "REQUIRES_APPROVAL"
	Deny             Outcome = "DENY"
)

// outcomeLabels maps every label the policy agent may emit to its outcome.
// The Spanish labels come from the original policy prompt.
var outcomeLabels = map[string]Outcome{
	"AUTO_APPROVE":        AutoApprove,
	"AUTO_APROBAR":        AutoApprove,
	"REQUIRES_APPROVAL":   RequiresApproval,
	"REQUIERE_APROBACION": RequiresApproval,
	"DENY":                Deny,
	"DENIED":              Deny,
	"DENEGAR":             Deny,
}

// ParseOutcome maps a decision label to its Outcome. Matching ignores case
// and surrounding space.
func ParseOutcome(label string) (Outcome, error) {
	o, ok := outcomeLabels[strings.ToUpper(strings.TrimSpace(label))]
	if !ok {
		return "", tderr.Errorf(tderr.CodePolicyVerdictMalformed, "unknown policy decision %q", label)
	}
	return o, nil
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Verdict is the structured result of a policy evaluation. A Verdict is
// treated as immutable once returned; use Clone before handing it to code
// that may retain it.
type Verdict struct {
	Outcome              Outcome  `json:"decision"`
	RiskLevel            string   `json:"risk_level"`
	Reason               string   `json:"reason"`
	PolicyRefs           []string `json:"policy_refs"`
	RequiredApproverRole string   `json:"required_approver_role,omitempty"`
}

// Clone returns a deep copy of v. A nil receiver returns nil.
func (v *Verdict) Clone() *Verdict {
	if v == nil {
		return nil
	}
	c := *v
	c.PolicyRefs = slices.Clone(v.PolicyRefs)
	return &c
}

// ParseVerdict decodes a policy agent reply. The reply must be a single
// JSON object, optionally inside a Markdown code fence, with a recognised
// decision label.
func ParseVerdict(reply string) (Verdict, error) {
	raw := agent.TrimCodeFence(reply)
	if raw == "" {
		return Verdict{}, tderr.New(tderr.CodePolicyVerdictMalformed, "policy reply is empty")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		if tderr.HasCode(err, tderr.CodePolicyVerdictMalformed) {
			return Verdict{}, err
		}
		return Verdict{}, tderr.Wrapf(err, tderr.CodePolicyVerdictMalformed, "policy reply is not valid verdict JSON")
	}
	if v.Outcome == "" {
		return Verdict{}, tderr.New(tderr.CodePolicyVerdictMalformed, "policy reply has no decision")
	}
	return v, nil
}
