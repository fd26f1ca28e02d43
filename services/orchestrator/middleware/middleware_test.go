// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func get(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// RateLimiter Tests
// =============================================================================

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	r := newRouter(rl.Middleware())

	for i := 0; i < 3; i++ {
		w := get(r, "/ping", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d within burst", i)
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	r := newRouter(rl.Middleware())

	get(r, "/ping", nil)
	get(r, "/ping", nil)
	w := get(r, "/ping", nil)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestRateLimiter_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	r := newRouter(rl.Middleware())

	w := get(r, "/ping", map[string]string{"X-User-ID": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = get(r, "/ping", map[string]string{"X-User-ID": "alice"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// A different user has a fresh bucket.
	w = get(r, "/ping", map[string]string{"X-User-ID": "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_SweepReclaimsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.allow("user:stale")
	rl.allow("user:fresh")

	rl.mu.Lock()
	rl.clients["user:stale"].lastSeen = time.Now().Add(-staleAfter - time.Minute)
	rl.mu.Unlock()

	assert.Equal(t, 1, rl.Sweep())

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "user:stale")
	assert.Contains(t, rl.clients, "user:fresh")
}

func TestClientKey(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-User-ID", "u-1")
	assert.Equal(t, "user:u-1", clientKey(c))

	c.Request.Header.Del("X-User-ID")
	assert.True(t, strings.HasPrefix(clientKey(c), "ip:"))
}

// =============================================================================
// RequestLogger Tests
// =============================================================================

func TestRequestLogger_LogsRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := newRouter(RequestLogger(logger))

	w := get(r, "/ping", nil)
	require.Equal(t, http.StatusOK, w.Code)

	line := buf.String()
	assert.Contains(t, line, `"path":"/ping"`)
	assert.Contains(t, line, `"method":"GET"`)
	assert.Contains(t, line, `"status":200`)
	assert.Contains(t, line, `"level":"INFO"`)
}

func TestRequestLogger_ServerErrorAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := newRouter(RequestLogger(logger))

	get(r, "/boom", nil)

	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestRequestLogger_SkipsHealthProbes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := newRouter(RequestLogger(logger))

	get(r, "/health", nil)

	assert.Empty(t, buf.String())
}
