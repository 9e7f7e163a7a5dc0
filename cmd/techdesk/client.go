// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/techdesk-dev/techdesk/internal/server"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// defaultHTTPClient is shared by the client commands. A turn can involve
// several model calls, hence the long timeout.
var defaultHTTPClient = &http.Client{Timeout: 3 * time.Minute}

// supportClient talks to a running techdesk server.
type supportClient struct {
	baseURL string
	http    *http.Client
}

// newSupportClient accepts host:port or a full URL.
func newSupportClient(addr string) *supportClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &supportClient{baseURL: strings.TrimRight(base, "/"), http: defaultHTTPClient}
}

// Send submits one turn.
func (c *supportClient) Send(ctx context.Context, req server.SupportRequestBody) (server.SupportResponseBody, error) {
	var out server.SupportResponseBody

	body, err := json.Marshal(req)
	if err != nil {
		return out, tderr.Wrap(err, tderr.CodeCLIInputInvalid, "encoding request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/support", bytes.NewReader(body))
	if err != nil {
		return out, tderr.Wrap(err, tderr.CodeCLIInputInvalid, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isDialError(err) {
			return out, tderr.Errorf(tderr.CodeCLIServerNotRunning, "techdesk server is not running at %s", c.baseURL)
		}
		return out, tderr.Wrap(err, tderr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return out, problemError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, tderr.Wrap(err, tderr.CodeCLIResponseInvalid, "invalid response")
	}
	return out, nil
}

// Health returns the status reported by GET /health.
func (c *supportClient) Health(ctx context.Context) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", tderr.Wrap(err, tderr.CodeCLIInputInvalid, "building request")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isDialError(err) {
			return "", tderr.Errorf(tderr.CodeCLIServerNotRunning, "techdesk server is not running at %s", c.baseURL)
		}
		return "", tderr.Wrap(err, tderr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", problemError(resp)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", tderr.Wrap(err, tderr.CodeCLIResponseInvalid, "invalid health response")
	}
	return body.Status, nil
}

// problemError turns an RFC 9457 problem body into an error, keeping the
// status as a field.
func problemError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &problem) == nil && (problem.Detail != "" || problem.Title != "") {
		msg = problem.Detail
		if msg == "" {
			msg = problem.Title
		}
	}
	return tderr.New(tderr.CodeCLIRequestFailure,
		fmt.Sprintf("server returned %d: %s", resp.StatusCode, msg),
		tderr.Field("status", resp.StatusCode))
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
