// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error. Codes follow the
// domain.operation.reason layout; the trailing segment drives the Is*
// classifiers and HTTPStatus.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeSecretInvalidInput   Code = "secret.keyring.invalid_input"
	CodeSecretNotFound       Code = "secret.keyring.not_found"
	CodeSecretStoreFailure   Code = "secret.keyring.failure"
	CodeSecretListFailure    Code = "secret.index.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeProviderRequestInvalid   Code = "provider.request.invalid"
	CodeProviderResponseInvalid  Code = "provider.response.invalid"
	CodeProviderUpstreamFailure  Code = "provider.upstream.failure"
	CodeProviderNotFound         Code = "provider.registry.not_found"
	CodeProviderAllUnavailable   Code = "provider.routing.all_unavailable"
	CodeProviderNoDefault        Code = "provider.routing.no_default"
	CodeProviderInvalidModelRef  Code = "provider.routing.invalid_model_ref"
	CodeAgentPlatformNotFound    Code = "agent.platform.not_found"
	CodeAgentPlatformInvalid     Code = "agent.platform.invalid_input"
	CodeAgentLoopFailure         Code = "agent.loop.failure"
	CodeAgentToolBudgetExceeded  Code = "agent.tool.budget_exceeded"
	CodeAgentToolTimeout         Code = "agent.tool.timeout"
	CodeAgentLaneClosed          Code = "agent.lane.closed"
	CodeConversationStoreFailure Code = "conversation.store.failure"
	CodeConversationUnsupported  Code = "conversation.backend.unsupported"
	CodeConversationNotFound     Code = "conversation.state.not_found"

	CodeProfileLoadFailure Code = "profile.load.failure"

	// CodePolicyVerdictMalformed marks policy agent output that is not a
	// verdict JSON object with a recognised decision.
	CodePolicyVerdictMalformed Code = "policy.verdict.malformed"
	// CodeCapabilityReplyMissing marks an agent run that finished without
	// any assistant text on its thread.
	CodeCapabilityReplyMissing Code = "capability.reply.missing"
	CodeExecutionRunFailure    Code = "execution.run.failure"

	CodeKnowledgeIndexFailure  Code = "knowledge.index.failure"
	CodeKnowledgeQueryInvalid  Code = "knowledge.query.invalid_input"
	CodeBackendRequestFailure  Code = "backend.request.failure"
	CodeBackendUpstreamFailure Code = "backend.upstream.failure"
	CodeBackendInputInvalid    Code = "backend.request.invalid_input"
	CodeBackendProjectNotFound Code = "backend.project.not_found"
	CodeBackendRepoNotFound    Code = "backend.repository.not_found"
	CodeBackendIdentityMissing Code = "backend.identity.not_found"
	CodeBackendPipelineMissing Code = "backend.pipeline.not_found"

	CodeRouterTurnInvalidInput Code = "router.turn.invalid_input"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"
	CodeServerNotImplemented  Code = "server.method.not_implemented"

	CodeCLIServerNotRunning Code = "cli.server.not_running"
	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIResponseInvalid  Code = "cli.response.invalid"
	CodeCLISetupFailure     Code = "cli.setup.failure"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldThreadID(value string) Attr {
	return Field("thread_id", value)
}

func FieldAgentID(value string) Attr {
	return Field("agent_id", value)
}

func FieldEmail(value string) Attr {
	return Field("user_email", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsBudgetExceeded(err error) bool {
	r := reason(CodeOf(err))
	return r == "exceeded" || r == "budget_exceeded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case HasCode(err, CodeServerNotImplemented):
		return http.StatusNotImplemented
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsBudgetExceeded(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err), HasCode(err, CodeProviderAllUnavailable),
		HasCode(err, CodePolicyVerdictMalformed), HasCode(err, CodeCapabilityReplyMissing):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
