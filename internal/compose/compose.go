// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package compose turns a structured routing state into a short message for
// the employee.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/policy"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Mode tells the composer what kind of message to write.
type Mode string

const (
	ModeNeedsApproval        Mode = "NEEDS_APPROVAL"
	ModeDenied               Mode = "DENIED"
	ModeInfo                 Mode = "INFO"
	ModeAskConfirmationAgain Mode = "ASK_CONFIRMATION_AGAIN"
)

// Extra context passed with each mode.
const (
	ExtraNeedsApproval = "Explica brevemente que la acción requiere aprobación previa y pregunta al usuario si desea que se cree un ticket de aprobación en Azure DevOps. Pídele que responda sí o no."
	ExtraDeclined      = "Usuario rechazó la creación del ticket de aprobación."
	ExtraUnclear       = "El usuario no fue claro, pídele que responda solo sí o no."
	ExtraLostRequest   = "No se encontró la solicitud pendiente de aprobación. Pide al usuario que vuelva a escribir su solicitud."
)

// Instructions is the composer agent prompt.
const Instructions = `Eres un asistente de Service Desk. Recibirás un JSON con un campo 'mode', un objeto 'policy_decision' y, opcionalmente, 'extra_context'. Devuelve una respuesta breve, clara y empática en español para el usuario final. No muestres el JSON ni menciones que es un JSON.`

// Request is the structured state to render. Verdict may be nil when no
// policy decision is known for the thread.
type Request struct {
	Mode         Mode
	Verdict      *policy.Verdict
	ExtraContext string
}

type payload struct {
	Mode           Mode            `json:"mode"`
	PolicyDecision *policy.Verdict `json:"policy_decision"`
	ExtraContext   string          `json:"extra_context,omitempty"`
}

// Composer writes messages with a short-lived agent per call.
type Composer struct {
	platform *agent.Platform
	model    string
	logger   *slog.Logger
}

func NewComposer(platform *agent.Platform, model string, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{platform: platform, model: model, logger: logger}
}

// Compose returns the agent's message. An empty reply falls back to
// Template; a failed run is returned as an error.
func (c *Composer) Compose(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(payload{Mode: req.Mode, PolicyDecision: req.Verdict, ExtraContext: req.ExtraContext})
	if err != nil {
		return "", tderr.Wrapf(err, tderr.CodeAgentLoopFailure, "encoding composer payload")
	}

	id, err := c.platform.CreateAgent(agent.Definition{
		Name:         "ux-agent",
		Model:        c.model,
		Instructions: Instructions,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		if err := c.platform.DeleteAgent(id); err != nil {
			c.logger.Warn("deleting composer agent", "agent_id", id, "error", err)
		}
	}()

	thread := c.platform.EnsureThread("")
	defer c.platform.DeleteThread(thread)

	if err := c.platform.AddMessage(thread, provider.MessageRoleUser, string(body)); err != nil {
		return "", err
	}
	if _, err := c.platform.Run(ctx, thread, id); err != nil {
		return "", tderr.Wrapf(err, tderr.CodeAgentLoopFailure, "composing %s message", req.Mode)
	}

	text, ok := c.platform.LatestReply(thread)
	if !ok || strings.TrimSpace(text) == "" {
		c.logger.Warn("composer returned no text, using template", "mode", req.Mode)
		return Template(req), nil
	}
	return text, nil
}

// Template renders a deterministic message for req without a model.
func Template(req Request) string {
	v := req.Verdict
	if v == nil {
		v = &policy.Verdict{}
	}

	var b strings.Builder
	switch req.Mode {
	case ModeNeedsApproval:
		b.WriteString("🟡 Tu solicitud requiere aprobación previa.")
		writeVerdictDetails(&b, v)
		if v.RequiredApproverRole != "" {
			fmt.Fprintf(&b, "\n👤 Aprobador requerido: %s", v.RequiredApproverRole)
		}
		b.WriteString("\n❓ ¿Deseas que cree un ticket de aprobación en Azure DevOps? Responde sí o no.")
	case ModeDenied:
		b.WriteString("❌ Solicitud denegada.")
		writeVerdictDetails(&b, v)
	case ModeAskConfirmationAgain:
		b.WriteString("No entendí tu respuesta. ¿Deseas que cree el ticket de aprobación? Responde solo sí o no.")
	default:
		if req.ExtraContext == ExtraDeclined {
			b.WriteString("Entendido, no se creará el ticket de aprobación.")
		} else {
			b.WriteString("Entendido.")
		}
	}
	return b.String()
}

func writeVerdictDetails(b *strings.Builder, v *policy.Verdict) {
	if v.Reason != "" {
		fmt.Fprintf(b, "\n📝 Razón: %s", v.Reason)
	}
	if len(v.PolicyRefs) > 0 {
		fmt.Fprintf(b, "\n📋 Políticas: %s", strings.Join(v.PolicyRefs, ", "))
	}
}
