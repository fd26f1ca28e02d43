// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs read-only SQL against the analytics database
// and exposes its schema to the analyzer and prompt composer.
package executor

import "context"

// ResultSet is the tabular outcome of one query. All values are
// stringified for CSV artifact writing and preview rendering.
type ResultSet struct {
	Columns []string
	Rows    [][]string
}

// TableInfo describes one table for selection and prompting.
type TableInfo struct {
	Name     string
	Columns  []string
	RowCount int
}

// QueryExecutor runs SELECT statements and introspects the schema.
//
// Implementations enforce read-only access at the connection level;
// the agent's SQL safeguard runs before any statement reaches here.
type QueryExecutor interface {
	// Query runs one SELECT and returns at most maxRows rows.
	Query(ctx context.Context, sql string, maxRows int) (*ResultSet, error)

	// Tables lists all user tables with columns and row counts.
	Tables(ctx context.Context) ([]TableInfo, error)

	// Close releases the underlying connection.
	Close() error
}
