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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
)

// HandleListConversations is GET /api/conversations?userId=…
func (h *Handlers) HandleListConversations(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	convs, err := h.store.ListConversations(userID)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// HandleGetConversation is GET /api/conversations/:id, the transcript
// loader: conversation metadata plus ordered messages with their extra
// blocks.
func (h *Handlers) HandleGetConversation(c *gin.Context) {
	id := c.Param("id")
	conv, err := h.store.GetConversation(id)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	msgs, err := h.store.ListMessages(id)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

// HandleDeleteConversation is DELETE /api/conversations/:id. Removes
// the conversation, its messages, and its feedback.
func (h *Handlers) HandleDeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetConversation(id); err != nil {
		notFoundOr500(c, err)
		return
	}
	if err := h.store.DeleteConversation(id); err != nil {
		notFoundOr500(c, err)
		return
	}
	h.auditLog(c.Request.Context(), extensions.AuditEvent{
		EventType:    "conversation.delete",
		Timestamp:    time.Now().UTC(),
		UserID:       c.Query("userId"),
		Action:       "delete",
		ResourceType: "conversation",
		ResourceID:   id,
		Outcome:      "deleted",
	})
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
