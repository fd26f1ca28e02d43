// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
)

// User groups in decreasing privilege order. The agent loop keys its
// tool permission table on these values.
const (
	GroupAdmin  = "admin"
	GroupExpert = "expert"
	GroupUser   = "user"
	GroupGuest  = "guest"
)

// ResolvedUser is the identity produced by a UserResolver.
type ResolvedUser struct {
	ID       string
	Nickname string
	Group    string
}

// UserResolver maps a request's claimed identity onto a user group.
//
// The open source resolver trusts the client-supplied user ID; identity
// verification (tokens, SSO) is an enterprise concern layered on top by
// replacing this interface.
type UserResolver interface {
	// Resolve returns the user for the given claimed ID. An empty ID
	// resolves to a guest; Resolve never fails the request for an
	// unknown user.
	Resolve(ctx context.Context, userID, nickname string) (ResolvedUser, error)
}

// ExpertiseLookup reports a user's expertise level ("beginner",
// "intermediate", "expert"). An error or empty result means unknown.
type ExpertiseLookup func(ctx context.Context, userID string) (string, error)

// StaticUserResolver resolves groups from a fixed admin allowlist plus
// an optional expertise lookup:
//
//   - empty ID            -> guest
//   - ID in admin list    -> admin
//   - expertise "expert"  -> expert
//   - otherwise           -> user
type StaticUserResolver struct {
	adminIDs  map[string]struct{}
	expertise ExpertiseLookup
}

// NewStaticUserResolver builds a resolver from an admin ID list and an
// optional expertise lookup. Both may be nil.
func NewStaticUserResolver(adminIDs []string, expertise ExpertiseLookup) *StaticUserResolver {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return &StaticUserResolver{adminIDs: admins, expertise: expertise}
}

// Resolve implements UserResolver.
func (r *StaticUserResolver) Resolve(ctx context.Context, userID, nickname string) (ResolvedUser, error) {
	if userID == "" {
		return ResolvedUser{ID: "guest", Group: GroupGuest}, nil
	}

	user := ResolvedUser{ID: userID, Nickname: nickname, Group: GroupUser}

	if _, ok := r.adminIDs[userID]; ok {
		user.Group = GroupAdmin
		return user, nil
	}

	if r.expertise != nil {
		level, err := r.expertise(ctx, userID)
		if err == nil && level == "expert" {
			user.Group = GroupExpert
		}
	}

	return user, nil
}

var _ UserResolver = (*StaticUserResolver)(nil)
