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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// recompile rebuilds the analyzer dictionaries after a knowledge write.
// The write already succeeded; a failed recompile keeps serving the
// previous snapshot, so this only logs.
func (h *Handlers) recompile() {
	if h.dicts == nil {
		return
	}
	if err := h.dicts.Reload(); err != nil {
		h.logger.Warn("dictionary reload failed", "error", err)
	}
}

// ----- time rules ------------------------------------------------------------

func (h *Handlers) HandleListTimeRules(c *gin.Context) {
	rules, err := h.store.ListTimeRules()
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"time_rules": rules})
}

func (h *Handlers) HandlePutTimeRule(c *gin.Context) {
	var rule datatypes.TimeRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rule.Keyword == "" || rule.RuleType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keyword and rule_type are required"})
		return
	}
	if err := h.store.PutTimeRule(&rule); err != nil {
		notFoundOr500(c, err)
		return
	}
	h.recompile()
	c.JSON(http.StatusOK, rule)
}

func (h *Handlers) HandleDeleteTimeRule(c *gin.Context) {
	keyword := c.Param("keyword")
	if err := h.store.DeleteTimeRule(keyword); err != nil {
		notFoundOr500(c, err)
		return
	}
	h.recompile()
	c.JSON(http.StatusOK, gin.H{"deleted": keyword})
}

// ----- business terms --------------------------------------------------------

func (h *Handlers) HandleListBusinessTerms(c *gin.Context) {
	terms, err := h.store.ListBusinessTerms()
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"business_terms": terms})
}

func (h *Handlers) HandlePutBusinessTerm(c *gin.Context) {
	var term datatypes.BusinessTerm
	if err := c.ShouldBindJSON(&term); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if term.Term == "" || term.Definition == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "term and definition are required"})
		return
	}
	if err := h.store.PutBusinessTerm(&term); err != nil {
		notFoundOr500(c, err)
		return
	}
	h.recompile()
	c.JSON(http.StatusOK, term)
}

func (h *Handlers) HandleDeleteBusinessTerm(c *gin.Context) {
	term := c.Param("term")
	if err := h.store.DeleteBusinessTerm(term); err != nil {
		notFoundOr500(c, err)
		return
	}
	h.recompile()
	c.JSON(http.StatusOK, gin.H{"deleted": term})
}

// ----- field mappings --------------------------------------------------------

func (h *Handlers) HandleListFieldMappings(c *gin.Context) {
	mappings, err := h.store.ListFieldMappings()
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"field_mappings": mappings})
}

func (h *Handlers) HandlePutFieldMapping(c *gin.Context) {
	var m datatypes.FieldMapping
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if m.DisplayName == "" || m.TableName == "" || m.FieldName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "display_name, table_name, and field_name are required"})
		return
	}
	if err := h.store.PutFieldMapping(&m); err != nil {
		notFoundOr500(c, err)
		return
	}
	h.recompile()
	c.JSON(http.StatusOK, m)
}

func (h *Handlers) HandleDeleteFieldMapping(c *gin.Context) {
	display := c.Param("display")
	if err := h.store.DeleteFieldMapping(display); err != nil {
		notFoundOr500(c, err)
		return
	}
	h.recompile()
	c.JSON(http.StatusOK, gin.H{"deleted": display})
}

// ----- prompt versions -------------------------------------------------------

func (h *Handlers) HandleListPromptVersions(c *gin.Context) {
	name := c.Param("name")
	versions, err := h.store.ListPromptVersions(name)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "versions": versions})
}

func (h *Handlers) HandlePutPromptVersion(c *gin.Context) {
	var p datatypes.PromptVersion
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.Name = c.Param("name")
	if p.Version == "" || p.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version and content are required"})
		return
	}
	if err := h.store.PutPromptVersion(&p); err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// HandleActivatePrompt flips the active version of a prompt name. The
// store deactivates the previous version in the same transaction.
func (h *Handlers) HandleActivatePrompt(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")
	if err := h.store.ActivatePrompt(name, version); err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "active_version": version})
}

// ----- stats and reload ------------------------------------------------------

func (h *Handlers) HandleKnowledgeStats(c *gin.Context) {
	stats, err := h.store.GetKnowledgeStats()
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleReloadKnowledge forces a dictionary rebuild, picking up seed
// file edits without waiting for the file watcher.
func (h *Handlers) HandleReloadKnowledge(c *gin.Context) {
	if h.dicts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dictionaries unavailable"})
		return
	}
	if err := h.dicts.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}
