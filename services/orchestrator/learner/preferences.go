// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package learner

import (
	"context"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

const (
	profileHistoryWindow = 50
	maxFocusDimensions   = 5

	expertQueryCount       = 30
	intermediateQueryCount = 10
)

// UpdateProfile rebuilds a user's personalization profile from their
// recent query history: most-used dimensions, preferred chart type and
// time range, and an activity-derived expertise level.
func (l *Learner) UpdateProfile(ctx context.Context, userID string) error {
	_, span := tracer.Start(ctx, "learner.UpdateProfile")
	defer span.End()

	history, err := l.store.ListQueryHistory(userID, profileHistoryWindow)
	if err != nil {
		return fmt.Errorf("load query history: %w", err)
	}
	if len(history) == 0 {
		return nil
	}

	dims := map[string]int{}
	charts := map[string]int{}
	ranges := map[string]int{}
	for _, h := range history {
		for _, d := range h.Dimensions {
			dims[d]++
		}
		if h.ChartType != "" {
			charts[h.ChartType]++
		}
		if h.TimeRange != "" {
			ranges[h.TimeRange]++
		}
	}

	profile, err := l.store.GetProfile(userID)
	if err != nil {
		if err != store.ErrNotFound {
			return fmt.Errorf("load profile: %w", err)
		}
		profile = &datatypes.UserProfile{UserID: userID}
	}

	profile.FocusDimensions = topKeys(dims, maxFocusDimensions)
	profile.PreferredChartType = topKey(charts)
	profile.PreferredTimeRange = topKey(ranges)
	profile.ExpertiseLevel = expertiseFor(len(history), profile.ExpertiseLevel)

	return l.store.PutProfile(profile)
}

// expertiseFor never demotes a level an admin already set.
func expertiseFor(queries int, current string) string {
	derived := datatypes.ExpertiseBeginner
	switch {
	case queries >= expertQueryCount:
		derived = datatypes.ExpertiseExpert
	case queries >= intermediateQueryCount:
		derived = datatypes.ExpertiseIntermediate
	}
	if rank(current) > rank(derived) {
		return current
	}
	return derived
}

func rank(level string) int {
	switch level {
	case datatypes.ExpertiseExpert:
		return 2
	case datatypes.ExpertiseIntermediate:
		return 1
	}
	return 0
}

func topKeys(counts map[string]int, limit int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

func topKey(counts map[string]int) string {
	keys := topKeys(counts, 1)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
