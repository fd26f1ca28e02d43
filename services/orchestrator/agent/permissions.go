// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"sync"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// allTools grants every tool, present and future.
const allTools = "*"

// PermissionManager decides which tools a user group may invoke.
// Consulted before every dispatch; a denial is reported to the stream
// but never aborts the loop.
type PermissionManager struct {
	mu     sync.RWMutex
	grants map[string]map[string]bool
}

// NewPermissionManager applies the default policy: admins get
// everything, all other groups get the two query tools.
func NewPermissionManager() *PermissionManager {
	m := &PermissionManager{grants: make(map[string]map[string]bool)}
	m.Grant(datatypes.GroupAdmin, allTools)
	for _, g := range []string{datatypes.GroupExpert, datatypes.GroupUser, datatypes.GroupGuest} {
		m.Grant(g, ToolRunSQL, ToolVisualizeData)
	}
	return m
}

// Grant replaces nothing; it adds tools to a group's set.
func (m *PermissionManager) Grant(group string, tools ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.grants[group]
	if set == nil {
		set = make(map[string]bool)
		m.grants[group] = set
	}
	for _, t := range tools {
		set[t] = true
	}
}

// Revoke removes tools from a group's set.
func (m *PermissionManager) Revoke(group string, tools ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tools {
		delete(m.grants[group], t)
	}
}

// Allowed reports whether the group may invoke the tool. Unknown
// groups may invoke nothing.
func (m *PermissionManager) Allowed(group, tool string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.grants[group]
	if !ok {
		return false
	}
	return set[allTools] || set[tool]
}
