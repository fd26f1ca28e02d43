// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Expertise levels.
const (
	ExpertiseBeginner     = "beginner"
	ExpertiseIntermediate = "intermediate"
	ExpertiseExpert       = "expert"
)

// User groups, in decreasing privilege order.
const (
	GroupAdmin  = "admin"
	GroupExpert = "expert"
	GroupUser   = "user"
	GroupGuest  = "guest"
)

// User is the resolved identity of a request. Group drives tool
// permissions; the profile fields drive prompt personalization.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname,omitempty"`
	Group    string `json:"group"`
}

// UserProfile is the learned personalization state for one user. It is
// rebuilt by the preference learner from recent query history; at most
// five focus dimensions are kept.
type UserProfile struct {
	UserID             string    `json:"user_id"`
	Nickname           string    `json:"nickname,omitempty"`
	ExpertiseLevel     string    `json:"expertise_level"`
	PreferredChartType string    `json:"preferred_chart_type,omitempty"`
	PreferredTimeRange string    `json:"preferred_time_range,omitempty"`
	FocusDimensions    []string  `json:"focus_dimensions,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// QueryHistoryEntry is one append-only record of a user question, mined by
// the preference learner.
type QueryHistoryEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	QueryText  string    `json:"query_text"`
	Rewritten  string    `json:"rewritten,omitempty"`
	QueryType  string    `json:"query_type,omitempty"`
	ChartType  string    `json:"chart_type,omitempty"`
	Dimensions []string  `json:"dimensions,omitempty"`
	Metrics    []string  `json:"metrics,omitempty"`
	TimeRange  string    `json:"time_range,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
