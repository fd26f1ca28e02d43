// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines injection points for deployment-specific
// behavior.
//
// The open source orchestrator runs with permissive defaults: a header
// based user resolver and a no-op audit logger. Enterprise deployments
// provide concrete implementations of these interfaces and inject them
// via ServiceOptions without modifying the core codebase.
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points passed to service
// constructors. Nil fields are replaced with defaults.
type ServiceOptions struct {
	// UserResolver maps request identity onto a user and group.
	// Default: StaticUserResolver with no admins configured.
	UserResolver UserResolver

	// AuditLogger records security-relevant events.
	// Default: NopAuditLogger (discards all events).
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with permissive defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		UserResolver: NewStaticUserResolver(nil, nil),
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithResolver returns a copy of opts with the given UserResolver.
func (opts ServiceOptions) WithResolver(r UserResolver) ServiceOptions {
	opts.UserResolver = r
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(l AuditLogger) ServiceOptions {
	opts.AuditLogger = l
	return opts
}
