// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("aleutian.executor")

// SQLiteExecutor runs queries against a SQLite analytics database.
// The connection is opened read-only via URI query parameters, so even
// a statement that slipped past the safeguard cannot mutate data.
type SQLiteExecutor struct {
	db *sql.DB
}

// NewSQLiteExecutor opens the database at path in read-only mode.
func NewSQLiteExecutor(path string) (*SQLiteExecutor, error) {
	if path == "" {
		return nil, fmt.Errorf("database path not set")
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach analytics database at %s: %w", path, err)
	}
	slog.Info("Opened analytics database", "path", path)
	return &SQLiteExecutor{db: db}, nil
}

// Query implements the QueryExecutor interface.
func (e *SQLiteExecutor) Query(ctx context.Context, query string, maxRows int) (*ResultSet, error) {
	ctx, span := tracer.Start(ctx, "SQLiteExecutor.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("sql.max_rows", maxRows))

	if maxRows <= 0 {
		maxRows = 1000
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &ResultSet{Columns: columns}
	values := make([]sql.NullString, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Rows) >= maxRows {
			slog.Warn("Query result truncated", "max_rows", maxRows)
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		row := make([]string, len(columns))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}

	span.SetAttributes(attribute.Int("sql.row_count", len(result.Rows)))
	return result, nil
}

// Tables implements the QueryExecutor interface.
func (e *SQLiteExecutor) Tables(ctx context.Context) ([]TableInfo, error) {
	ctx, span := tracer.Start(ctx, "SQLiteExecutor.Tables")
	defer span.End()

	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table listing failed: %w", err)
	}

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		info := TableInfo{Name: name}

		cols, err := e.tableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		info.Columns = cols

		// Identifier can't be a placeholder; name comes from
		// sqlite_master, not user input.
		var count int
		countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, strings.ReplaceAll(name, `"`, `""`))
		if err := e.db.QueryRowContext(ctx, countQuery).Scan(&count); err != nil {
			slog.Warn("Failed to count table rows", "table", name, "error", err)
		}
		info.RowCount = count

		tables = append(tables, info)
	}
	return tables, nil
}

func (e *SQLiteExecutor) tableColumns(ctx context.Context, table string) ([]string, error) {
	quoted := strings.ReplaceAll(table, `"`, `""`)
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, quoted))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info for %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// Close implements the QueryExecutor interface.
func (e *SQLiteExecutor) Close() error {
	return e.db.Close()
}

var _ QueryExecutor = (*SQLiteExecutor)(nil)
