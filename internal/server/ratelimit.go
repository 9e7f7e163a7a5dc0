// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package server

import (
	"cmp"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

const (
	visitorStaleAfter    = 10 * time.Minute
	visitorSweepInterval = 5 * time.Minute
	defaultMaxVisitors   = 10000
)

// RateLimitConfig configures per-IP rate limiting of API requests.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client IP. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxVisitors caps the number of tracked IPs; the least recently seen
	// are evicted on each sweep. Defaults to 10000.
	MaxVisitors int
}

// Validate checks the configuration and applies defaults.
func (c *RateLimitConfig) Validate() error {
	switch {
	case c.RequestsPerSecond < 0:
		return tderr.Errorf(tderr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	case c.RequestsPerSecond > 0 && c.Burst <= 0:
		return tderr.Errorf(tderr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)", c.Burst, c.RequestsPerSecond)
	case c.MaxVisitors < 0:
		return tderr.Errorf(tderr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = defaultMaxVisitors
	}
	return nil
}

type bucket struct {
	tokens     float64
	lastSeen   time.Time
	lastRefill time.Time
}

// ipLimiter is a token bucket per client IP.
type ipLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newIPLimiter(cfg RateLimitConfig) *ipLimiter {
	return &ipLimiter{cfg: cfg, now: time.Now, buckets: make(map[string]*bucket)}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), lastRefill: now}
		l.buckets[ip] = b
	}
	b.lastSeen = now

	b.tokens = min(float64(l.cfg.Burst), b.tokens+now.Sub(b.lastRefill).Seconds()*l.cfg.RequestsPerSecond)
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops stale buckets and enforces MaxVisitors. It returns how many
// live buckets were evicted for the cap.
func (l *ipLimiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	type seen struct {
		ip string
		at time.Time
	}
	live := make([]seen, 0, len(l.buckets))
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > visitorStaleAfter {
			delete(l.buckets, ip)
			continue
		}
		live = append(live, seen{ip: ip, at: b.lastSeen})
	}

	over := len(live) - l.cfg.MaxVisitors
	if l.cfg.MaxVisitors <= 0 || over <= 0 {
		return 0
	}
	slices.SortFunc(live, func(a, b seen) int { return cmp.Compare(a.at.UnixNano(), b.at.UnixNano()) })
	for _, s := range live[:over] {
		delete(l.buckets, s.ip)
	}
	return over
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *ipLimiter) sweepUntil(done <-chan struct{}) {
	ticker := time.NewTicker(visitorSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if evicted := l.sweep(); evicted > 0 {
				slog.Warn("rate limiter visitor cap enforced",
					"evicted", evicted, "max_visitors", l.cfg.MaxVisitors)
			}
		case <-done:
			return
		}
	}
}

// rateLimitMiddleware enforces per-IP limits on everything except /health.
// A zero rate returns a pass-through middleware. The sweeper goroutine
// exits when done is closed.
func rateLimitMiddleware(cfg RateLimitConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := newIPLimiter(cfg)
	go limiter.sweepUntil(done)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !limiter.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/problem+json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
