// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/agent/agenttest"
	"github.com/techdesk-dev/techdesk/internal/conversation"
	"github.com/techdesk-dev/techdesk/internal/execution"
	"github.com/techdesk-dev/techdesk/internal/policy"
	"github.com/techdesk-dev/techdesk/internal/provider"
	"github.com/techdesk-dev/techdesk/internal/router"
	"github.com/techdesk-dev/techdesk/internal/server"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// stripSchema drops the "$schema" link huma adds to response bodies.
func stripSchema(t *testing.T, body []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

type mockTurns struct {
	mu    sync.Mutex
	turns []router.Turn
	out   router.Outcome
	err   error
}

func (m *mockTurns) HandleTurn(_ context.Context, turn router.Turn) (router.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	if m.err != nil {
		return router.Outcome{ThreadID: turn.ThreadID}, m.err
	}
	out := m.out
	if out.ThreadID == "" {
		out.ThreadID = turn.ThreadID
	}
	return out, nil
}

type mockProviderService struct {
	healthMap map[string]*server.ProviderHealthDetail
}

func (m *mockProviderService) GetHealth(_ context.Context, name string) (*server.ProviderHealthDetail, error) {
	if detail, ok := m.healthMap[name]; ok {
		return detail, nil
	}
	return nil, tderr.Errorf(tderr.CodeServerEntityNotFound, "provider %q not found", name)
}

func newServerWith(t *testing.T, turns server.TurnService, threads server.ThreadService, providers server.ProviderService) *server.Server {
	t.Helper()
	svc, err := server.NewServices(turns, threads, providers)
	require.NoError(t, err)
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", Services: svc})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func postSupport(t *testing.T, srv *server.Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/support", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServices_RequiresTurns(t *testing.T) {
	_, err := server.NewServices(nil, nil, nil)
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeServerConfigInvalid))
}

func TestRoutes_Support(t *testing.T) {
	turns := &mockTurns{out: router.Outcome{
		ThreadID:  "thread-1",
		Response:  "Esta solicitud requiere aprobación del Security Lead.",
		ToolsUsed: execution.Report{PolicyGuard: true},
		RunStatus: router.StatusNeedsApproval,
	}}
	srv := newServerWith(t, turns, nil, nil)

	w := postSupport(t, srv, `{"user_request":"admin en producción","user_email":"ana@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got server.SupportResponseBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "thread-1", got.ThreadID)
	assert.Equal(t, "needs_approval", got.RunStatus)
	assert.Equal(t, execution.Report{PolicyGuard: true}, got.ToolsUsed)
	assert.Contains(t, w.Body.String(), `"policy_guard":true`)

	require.Len(t, turns.turns, 1)
	assert.Equal(t, router.Turn{Request: "admin en producción", Email: "ana@example.com"}, turns.turns[0])
}

func TestRoutes_Support_PassesThreadID(t *testing.T) {
	turns := &mockTurns{out: router.Outcome{RunStatus: "completed"}}
	srv := newServerWith(t, turns, nil, nil)

	w := postSupport(t, srv, `{"user_request":"sí","user_email":"ana@example.com","thread_id":"t-9"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "t-9", turns.turns[0].ThreadID)
	assert.Contains(t, w.Body.String(), `"thread_id":"t-9"`)
}

func TestRoutes_Support_Validation(t *testing.T) {
	srv := newServerWith(t, &mockTurns{}, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty request", body: `{"user_request":"","user_email":"a@b.c"}`},
		{name: "missing request", body: `{"user_email":"a@b.c"}`},
		{name: "not json", body: `hola`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postSupport(t, srv, tt.body)
			assert.GreaterOrEqual(t, w.Code, 400)
			assert.Less(t, w.Code, 500)
		})
	}
}

func TestRoutes_Support_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid input", err: tderr.New(tderr.CodeRouterTurnInvalidInput, "user_request must not be empty"), status: http.StatusBadRequest},
		{name: "malformed verdict", err: tderr.New(tderr.CodePolicyVerdictMalformed, "bad verdict"), status: http.StatusBadGateway},
		{name: "missing reply", err: tderr.New(tderr.CodeCapabilityReplyMissing, "no reply"), status: http.StatusBadGateway},
		{name: "internal", err: tderr.New(tderr.CodeServerInternalFailure, "boom"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServerWith(t, &mockTurns{err: tt.err}, nil, nil)
			w := postSupport(t, srv, `{"user_request":"hola","user_email":"a@b.c"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.err.Error())
		})
	}
}

func TestRoutes_GetThread(t *testing.T) {
	store := conversation.NewMemoryStore()
	verdict := policy.Verdict{Outcome: policy.RequiresApproval, RiskLevel: "HIGH", Reason: "prod", RequiredApproverRole: "Security Lead"}
	require.NoError(t, store.ArmConfirmation(context.Background(), "t-1", "admin en producción", verdict))

	srv := newServerWith(t, &mockTurns{}, store, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/threads/t-1", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got server.ThreadStateBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "t-1", got.ThreadID)
	assert.True(t, got.AwaitingConfirmation)
	assert.Equal(t, "admin en producción", got.LastDeniedRequest)
	require.NotNil(t, got.LastPolicyDecision)
	assert.Equal(t, "Security Lead", got.LastPolicyDecision.RequiredApproverRole)
}

func TestRoutes_GetThread_NotFound(t *testing.T) {
	srv := newServerWith(t, &mockTurns{}, conversation.NewMemoryStore(), nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/threads/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_OptionalEndpointsNotRegistered(t *testing.T) {
	srv := newServerWith(t, &mockTurns{}, nil, nil)

	for _, path := range []string{"/api/v1/threads/x", "/api/v1/providers/anthropic/health"} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestRoutes_GetProviderHealth(t *testing.T) {
	failedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ps := &mockProviderService{healthMap: map[string]*server.ProviderHealthDetail{
		"openai": {Provider: "openai", Message: "cooling down after failures", MetricsAvailable: true},
	}}
	ps.healthMap["openai"].FailureCount = 3
	ps.healthMap["openai"].LastFailureAt = &failedAt

	srv := newServerWith(t, &mockTurns{}, nil, ps)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/providers/openai/health", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "openai", got["provider"])
	assert.Equal(t, false, got["available"])
	assert.InDelta(t, 3, got["failure_count"], 0)
	assert.Equal(t, true, got["metricsAvailable"])

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/providers/unknown/health", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type trackedProvider struct {
	*agenttest.Provider
	*provider.HealthTracker
}

func TestProviderHealthService(t *testing.T) {
	tracker, err := provider.NewHealthTracker(time.Minute)
	require.NoError(t, err)
	tracker.RecordFailure()

	reg := provider.NewRegistry()
	reg.Register("tracked", trackedProvider{
		Provider:      agenttest.NewProvider("tracked", agenttest.Static("ok")),
		HealthTracker: tracker,
	})
	reg.Register("plain", agenttest.NewProvider("plain", agenttest.Static("ok")))

	svc := server.NewProviderHealthService(reg)
	ctx := context.Background()

	detail, err := svc.GetHealth(ctx, "tracked")
	require.NoError(t, err)
	assert.True(t, detail.MetricsAvailable)
	assert.Equal(t, int64(1), detail.FailureCount)
	assert.False(t, detail.Available)
	assert.Equal(t, "cooling down after failures", detail.Message)

	detail, err = svc.GetHealth(ctx, "plain")
	require.NoError(t, err)
	assert.False(t, detail.MetricsAvailable)
	assert.True(t, detail.Available)

	_, err = svc.GetHealth(ctx, "missing")
	require.Error(t, err)
	assert.True(t, tderr.IsNotFound(err))
}
