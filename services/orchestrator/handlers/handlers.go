// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers is the HTTP surface: the streaming chat endpoint
// plus the management endpoints for conversations, feedback, knowledge,
// and user memory.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/analyzer"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/fewshot"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/learner"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

// Handlers carries the assembled pipeline. One instance serves all
// requests; every field is safe for concurrent use.
type Handlers struct {
	store    *store.Store
	dicts    *analyzer.Dictionaries
	analyzer *analyzer.Analyzer
	selector *fewshot.Selector
	composer *prompts.Composer
	loop     *agent.Loop
	learner  *learner.Learner
	resolver extensions.UserResolver
	audit    extensions.AuditLogger
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger
}

// Config collects the collaborators for NewHandlers.
type Config struct {
	Store    *store.Store
	Dicts    *analyzer.Dictionaries
	Analyzer *analyzer.Analyzer
	Selector *fewshot.Selector
	Composer *prompts.Composer
	Loop     *agent.Loop
	Learner  *learner.Learner
	Options  extensions.ServiceOptions

	// Metrics is optional; all recording is a no-op when nil.
	Metrics *observability.PipelineMetrics
	Logger  *slog.Logger
}

func NewHandlers(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:    cfg.Store,
		dicts:    cfg.Dicts,
		analyzer: cfg.Analyzer,
		selector: cfg.Selector,
		composer: cfg.Composer,
		loop:     cfg.Loop,
		learner:  cfg.Learner,
		resolver: cfg.Options.UserResolver,
		audit:    cfg.Options.AuditLogger,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// resolveUser maps the request identity onto a permission group.
func (h *Handlers) resolveUser(ctx context.Context, userID, nickname string) (datatypes.User, error) {
	resolved, err := h.resolver.Resolve(ctx, userID, nickname)
	if err != nil {
		return datatypes.User{}, err
	}
	return datatypes.User{ID: resolved.ID, Nickname: resolved.Nickname, Group: resolved.Group}, nil
}

// auditLog records one audit event, best-effort.
func (h *Handlers) auditLog(ctx context.Context, ev extensions.AuditEvent) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, ev); err != nil {
		h.logger.Warn("audit log failed", "event_type", ev.EventType, "error", err)
	}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func notFoundOr500(c *gin.Context, err error) {
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
