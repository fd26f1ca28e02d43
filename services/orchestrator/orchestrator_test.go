// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// newTestService builds a fully assembled service on temp storage
// with the hash embedder and no collector dependencies.
func newTestService(t *testing.T, cfg Config) *service {
	t.Helper()

	t.Setenv("LLM_BACKEND_TYPE", "openai")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_MODEL", "test-model")
	t.Setenv("EMBEDDING_BACKEND", "hash")

	dir := t.TempDir()
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(dir, "store")
	}
	if cfg.AnalyticsDBPath == "" {
		cfg.AnalyticsDBPath = filepath.Join(dir, "analytics.db")
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = filepath.Join(dir, "artifacts")
	}

	svc, err := New(cfg, nil)
	require.NoError(t, err)

	s := svc.(*service)
	t.Cleanup(s.cleanup)
	return s
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port)
	assert.Equal(t, "./data/store", result.StorePath)
	assert.Equal(t, "./data/analytics.db", result.AnalyticsDBPath)
	assert.Equal(t, "./data/artifacts", result.ArtifactDir)
	assert.Equal(t, "aleutian-otel-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 5.0, result.RatePerSec)
	assert.Equal(t, 20, result.RateBurst)
	assert.Equal(t, time.Hour, result.SweepInterval)
	assert.False(t, result.EnableTracing, "tracing requires explicit opt-in")
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:          9000,
		StorePath:     "/var/lib/query/store",
		OTelEndpoint:  "collector:4317",
		RatePerSec:    2,
		RateBurst:     5,
		SweepInterval: 10 * time.Minute,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 9000, result.Port)
	assert.Equal(t, "/var/lib/query/store", result.StorePath)
	assert.Equal(t, "collector:4317", result.OTelEndpoint)
	assert.Equal(t, 2.0, result.RatePerSec)
	assert.Equal(t, 5, result.RateBurst)
	assert.Equal(t, 10*time.Minute, result.SweepInterval)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ORCHESTRATOR_PORT", "9100")
	t.Setenv("STORE_DB_PATH", "/data/store")
	t.Setenv("ANALYTICS_DB_PATH", "/data/analytics.db")
	t.Setenv("KNOWLEDGE_SEED_PATH", "/etc/query/seed.yaml")
	t.Setenv("ADMIN_USER_IDS", "alice, bob,,carol")
	t.Setenv("OTEL_TRACING_ENABLED", "true")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("EMBEDDING_RATE_PER_SEC", "3.5")

	cfg := ConfigFromEnv()

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/data/store", cfg.StorePath)
	assert.Equal(t, "/data/analytics.db", cfg.AnalyticsDBPath)
	assert.Equal(t, "/etc/query/seed.yaml", cfg.KnowledgeSeedPath)
	assert.Equal(t, []string{"alice", "bob", "carol"}, cfg.AdminUserIDs)
	assert.True(t, cfg.EnableTracing)
	assert.False(t, cfg.EnableMetrics)
	assert.Equal(t, 3.5, cfg.EmbedRatePerSec)
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("ORCHESTRATOR_PORT", "")
	t.Setenv("METRICS_ENABLED", "")

	cfg := ConfigFromEnv()

	assert.Zero(t, cfg.Port, "unset port defers to applyConfigDefaults")
	assert.True(t, cfg.EnableMetrics, "metrics default on in production")
	assert.False(t, cfg.EnableTracing)
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_AssemblesPipeline(t *testing.T) {
	s := newTestService(t, Config{})

	require.NotNil(t, s.Router())
	assert.NotNil(t, s.store)
	assert.NotNil(t, s.dicts)
	assert.NotNil(t, s.exec)
	assert.NotNil(t, s.learner)
	assert.NotNil(t, s.limiter)
	assert.NotNil(t, s.sweeper)
	assert.Nil(t, s.metrics, "metrics stay off unless enabled")
}

func TestNew_UnknownLLMBackendFails(t *testing.T) {
	t.Setenv("LLM_BACKEND_TYPE", "mainframe")

	dir := t.TempDir()
	_, err := New(Config{
		StorePath:       filepath.Join(dir, "store"),
		AnalyticsDBPath: filepath.Join(dir, "analytics.db"),
		ArtifactDir:     filepath.Join(dir, "artifacts"),
	}, nil)

	assert.Error(t, err)
}

func TestNew_AdminConfigGrantsAdminGroup(t *testing.T) {
	s := newTestService(t, Config{AdminUserIDs: []string{"u-admin"}})

	resolved, err := s.opts.UserResolver.Resolve(t.Context(), "u-admin", "")
	require.NoError(t, err)
	assert.Equal(t, extensions.GroupAdmin, resolved.Group)

	resolved, err = s.opts.UserResolver.Resolve(t.Context(), "u-plain", "")
	require.NoError(t, err)
	assert.Equal(t, extensions.GroupUser, resolved.Group)
}

// =============================================================================
// Router Tests
// =============================================================================

func TestService_HealthEndpoint(t *testing.T) {
	s := newTestService(t, Config{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestService_RateLimiterGuardsAPI(t *testing.T) {
	s := newTestService(t, Config{RatePerSec: 0.001, RateBurst: 1})

	first := httptest.NewRecorder()
	s.Router().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/feedback/stats", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	s.Router().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/feedback/stats", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Probes bypass the limiter.
	health := httptest.NewRecorder()
	s.Router().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}
