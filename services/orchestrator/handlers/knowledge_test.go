// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeRuleEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/api/knowledge/time-rules", map[string]any{
		"keyword":   "最近7天",
		"rule_type": "recent_days",
		"config":    `{"days":7}`,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/knowledge/time-rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["time_rules"], 1)

	w = env.do(t, http.MethodDelete,
		"/api/knowledge/time-rules/"+url.PathEscape("最近7天"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/knowledge/time-rules", nil)
	assert.Empty(t, decode(t, w)["time_rules"])
}

func TestTimeRuleEndpoints_Validation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	w := env.do(t, http.MethodPost, "/api/knowledge/time-rules", map[string]any{
		"keyword": "最近7天",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBusinessTermEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/api/knowledge/terms", map[string]any{
		"term":       "访问量",
		"term_type":  "metric",
		"definition": "页面访问次数",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/knowledge/terms", nil)
	assert.Len(t, decode(t, w)["business_terms"], 1)

	w = env.do(t, http.MethodDelete,
		"/api/knowledge/terms/"+url.PathEscape("访问量"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/knowledge/terms", nil)
	assert.Empty(t, decode(t, w)["business_terms"])
}

func TestFieldMappingEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/api/knowledge/mappings", map[string]any{
		"display_name": "小说频道",
		"table_name":   "gio_event",
		"field_name":   "channel",
		"field_value":  "novel",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/knowledge/mappings", map[string]any{
		"display_name": "不完整",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/knowledge/mappings", nil)
	assert.Len(t, decode(t, w)["field_mappings"], 1)
}

func TestPromptVersionEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/api/knowledge/prompts/system_prompt", map[string]any{
		"version": "v1",
		"content": "你是数据分析助手。{schema}",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/knowledge/prompts/system_prompt", map[string]any{
		"version": "v2",
		"content": "你是更好的数据分析助手。{schema}",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The first version auto-activated; v2 did not.
	active, err := env.st.ActivePrompt("system_prompt")
	require.NoError(t, err)
	assert.Equal(t, "v1", active.Version)

	w = env.do(t, http.MethodPost, "/api/knowledge/prompts/system_prompt/activate/v2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	active, err = env.st.ActivePrompt("system_prompt")
	require.NoError(t, err)
	assert.Equal(t, "v2", active.Version)

	w = env.do(t, http.MethodGet, "/api/knowledge/prompts/system_prompt", nil)
	assert.Len(t, decode(t, w)["versions"], 2)

	w = env.do(t, http.MethodPost, "/api/knowledge/prompts/system_prompt/activate/v9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKnowledgeStatsAndReload(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, http.MethodPost, "/api/knowledge/time-rules", map[string]any{
		"keyword": "最近30天", "rule_type": "recent_days", "config": `{"days":30}`,
	})
	env.do(t, http.MethodPost, "/api/knowledge/terms", map[string]any{
		"term": "活跃用户", "term_type": "metric", "definition": "有行为的用户数",
	})

	w := env.do(t, http.MethodGet, "/api/knowledge/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["time_rules"])
	assert.Equal(t, float64(1), body["business_terms"])

	w = env.do(t, http.MethodPost, "/api/knowledge/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
