// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the handler set onto the Gin router.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/handlers"
)

// SetupRoutes registers the full API surface. The streaming chat
// endpoint and its management routes share one /api group; operational
// endpoints (/health, /metrics) stay at the root so probes bypass any
// group middleware.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, extra ...gin.HandlerFunc) {
	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(extra...)
	{
		api.POST("/chat/stream", h.HandleChatStream)

		conversations := api.Group("/conversations")
		{
			conversations.GET("", h.HandleListConversations)
			conversations.GET("/:id", h.HandleGetConversation)
			conversations.DELETE("/:id", h.HandleDeleteConversation)
			conversations.GET("/:id/feedback", h.HandleGetFeedback)
		}

		feedback := api.Group("/feedback")
		{
			feedback.POST("/vote", h.HandleVote)
			feedback.POST("/rate", h.HandleRate)
			feedback.GET("/stats", h.HandleFeedbackStats)
		}

		knowledge := api.Group("/knowledge")
		{
			knowledge.GET("/time-rules", h.HandleListTimeRules)
			knowledge.POST("/time-rules", h.HandlePutTimeRule)
			knowledge.DELETE("/time-rules/:keyword", h.HandleDeleteTimeRule)
			knowledge.GET("/terms", h.HandleListBusinessTerms)
			knowledge.POST("/terms", h.HandlePutBusinessTerm)
			knowledge.DELETE("/terms/:term", h.HandleDeleteBusinessTerm)
			knowledge.GET("/mappings", h.HandleListFieldMappings)
			knowledge.POST("/mappings", h.HandlePutFieldMapping)
			knowledge.DELETE("/mappings/:display", h.HandleDeleteFieldMapping)
			knowledge.GET("/prompts/:name", h.HandleListPromptVersions)
			knowledge.POST("/prompts/:name", h.HandlePutPromptVersion)
			knowledge.POST("/prompts/:name/activate/:version", h.HandleActivatePrompt)
			knowledge.GET("/stats", h.HandleKnowledgeStats)
			knowledge.POST("/reload", h.HandleReloadKnowledge)
		}

		memory := api.Group("/memory")
		{
			memory.GET("/stats", h.HandleMemoryStats)
			memory.GET("/tools", h.HandleRecentToolMemories)
			memory.GET("/texts", h.HandleRecentTextMemories)
			memory.GET("/rag-high-score", h.HandleRAGHighScore)
			memory.GET("/profile/:userId", h.HandleGetProfile)
			memory.POST("/profile/:userId/refresh", h.HandleRefreshProfile)
			memory.GET("/history/:userId", h.HandleQueryHistory)
			memory.GET("/tools/:userId", h.HandleToolMemory)
		}
	}
}
