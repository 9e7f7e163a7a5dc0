// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techdesk-dev/techdesk/internal/server"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Close()
	})
	return srv
}

func TestServer_New_EmptyListenAddr(t *testing.T) {
	_, err := server.New(server.Config{})
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeServerConfigInvalid), "got %s", tderr.CodeOf(err))
	assert.Contains(t, err.Error(), "listen address is required")
}

func TestServer_New_RejectsWildcardCORS(t *testing.T) {
	_, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", CORSOrigins: []string{"*"}})
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeServerConfigInvalid))
}

func TestServer_New_InvalidRateLimit(t *testing.T) {
	_, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		RateLimit:  server.RateLimitConfig{RequestsPerSecond: 5},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "burst must be positive")
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, stripSchema(t, w.Body.Bytes()))
}

func TestServer_SecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "0", w.Header().Get("X-XSS-Protection"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestServer_HSTS(t *testing.T) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", EnableHSTS: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestServer_OpenAPISpec(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "openapi")
	assert.Contains(t, w.Body.String(), "TechDesk API")
}

func TestServer_CORSHeaders(t *testing.T) {
	srv, err := server.New(server.Config{
		ListenAddr:  "127.0.0.1:0",
		CORSOrigins: []string{"http://localhost:5173"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	req := httptest.NewRequest(http.MethodOptions, "/support", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_GracefulShutdown(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	<-ctx.Done()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}
}

func TestServer_StartListenFailure(t *testing.T) {
	srv, err := server.New(server.Config{ListenAddr: "256.0.0.1:bad"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, tderr.HasCode(err, tderr.CodeServerStartFailure))
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	assert.NoError(t, srv.Close())
	assert.NoError(t, srv.Close())
}
