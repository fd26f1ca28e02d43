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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDatabase creates a small analytics database and returns its path.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analytics.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE gio_event (
			event_date TEXT,
			channel TEXT,
			pv INTEGER
		);
		CREATE TABLE employee (
			id INTEGER PRIMARY KEY,
			name TEXT,
			department TEXT
		);
		INSERT INTO gio_event VALUES
			('2026-08-20', 'novel', 120),
			('2026-08-21', 'novel', 150),
			('2026-08-21', 'comic', 90);
		INSERT INTO employee (name, department) VALUES ('张三', '研发部');
	`)
	require.NoError(t, err)
	return path
}

func TestNewSQLiteExecutor_MissingPath(t *testing.T) {
	_, err := NewSQLiteExecutor("")
	assert.Error(t, err)
}

func TestSQLiteExecutor_Query(t *testing.T) {
	e, err := NewSQLiteExecutor(seedDatabase(t))
	require.NoError(t, err)
	defer e.Close()

	result, err := e.Query(context.Background(),
		`SELECT event_date, SUM(pv) AS total FROM gio_event GROUP BY event_date ORDER BY event_date`, 100)
	require.NoError(t, err)

	assert.Equal(t, []string{"event_date", "total"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, []string{"2026-08-20", "120"}, result.Rows[0])
	assert.Equal(t, []string{"2026-08-21", "240"}, result.Rows[1])
}

func TestSQLiteExecutor_Query_MaxRows(t *testing.T) {
	e, err := NewSQLiteExecutor(seedDatabase(t))
	require.NoError(t, err)
	defer e.Close()

	result, err := e.Query(context.Background(), `SELECT * FROM gio_event`, 2)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
}

func TestSQLiteExecutor_Query_NullValues(t *testing.T) {
	path := seedDatabase(t)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO gio_event VALUES (NULL, NULL, NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	e, err := NewSQLiteExecutor(path)
	require.NoError(t, err)
	defer e.Close()

	result, err := e.Query(context.Background(),
		`SELECT * FROM gio_event WHERE event_date IS NULL`, 10)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, []string{"", "", ""}, result.Rows[0])
}

func TestSQLiteExecutor_Query_InvalidSQL(t *testing.T) {
	e, err := NewSQLiteExecutor(seedDatabase(t))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Query(context.Background(), `SELECT FROM nowhere`, 10)
	assert.Error(t, err)
}

func TestSQLiteExecutor_ReadOnly(t *testing.T) {
	e, err := NewSQLiteExecutor(seedDatabase(t))
	require.NoError(t, err)
	defer e.Close()

	// Connection-level enforcement, independent of the SQL safeguard.
	_, err = e.Query(context.Background(), `DELETE FROM gio_event`, 10)
	assert.Error(t, err)
}

func TestSQLiteExecutor_Tables(t *testing.T) {
	e, err := NewSQLiteExecutor(seedDatabase(t))
	require.NoError(t, err)
	defer e.Close()

	tables, err := e.Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)

	byName := map[string]TableInfo{}
	for _, tbl := range tables {
		byName[tbl.Name] = tbl
	}

	gio, ok := byName["gio_event"]
	require.True(t, ok)
	assert.Equal(t, []string{"event_date", "channel", "pv"}, gio.Columns)
	assert.Equal(t, 3, gio.RowCount)

	emp, ok := byName["employee"]
	require.True(t, ok)
	assert.Equal(t, 1, emp.RowCount)
}
