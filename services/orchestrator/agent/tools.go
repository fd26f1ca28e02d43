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
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/executor"
	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

// Tool names.
const (
	ToolRunSQL        = "run_sql"
	ToolVisualizeData = "visualize_data"
)

const (
	previewRows = 10
	maxToolRows = 1000
)

// runSQLArgs is the parsed argument payload of a run_sql call.
type runSQLArgs struct {
	SQL string `json:"sql"`
}

// visualizeArgs is the parsed argument payload of a visualize_data call.
type visualizeArgs struct {
	FileHash      string `json:"file_hash"`
	ChartTypeHint string `json:"chart_type_hint,omitempty"`
}

// toolResult is what a dispatch hands back: Reply goes to the model as
// the tool-role message; the optional payloads go to the stream.
type toolResult struct {
	Reply     string
	DataFrame *datatypes.DataFrameInfo
	Chart     *datatypes.ChartInfo
	SQL       string
}

// Definitions returns the tool catalogue advertised to the model.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolRunSQL,
			Description: "Execute a read-only SELECT statement and return a result descriptor. Full rows are written to a CSV artifact addressed by file_hash.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"sql": {"type": "string", "description": "A single SELECT statement."}
				},
				"required": ["sql"]
			}`),
		},
		{
			Name:        ToolVisualizeData,
			Description: "Suggest a chart for a previously produced dataframe. Returns a chart descriptor; nothing is rendered server-side.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file_hash": {"type": "string", "description": "The file_hash of a run_sql result."},
					"chart_type_hint": {"type": "string", "enum": ["line", "bar", "pie"]}
				},
				"required": ["file_hash"]
			}`),
		},
	}
}

// Toolbox executes tool calls against the data layer.
type Toolbox struct {
	exec      executor.QueryExecutor
	artifacts *store.ArtifactStore
	logger    *slog.Logger
}

func NewToolbox(exec executor.QueryExecutor, artifacts *store.ArtifactStore, logger *slog.Logger) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{exec: exec, artifacts: artifacts, logger: logger}
}

// Dispatch runs one tool call. An error return is a recoverable tool
// failure: the loop forwards err.Error() to the model and keeps going.
func (t *Toolbox) Dispatch(ctx context.Context, name, arguments string) (*toolResult, error) {
	switch name {
	case ToolRunSQL:
		var args runSQLArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("bad run_sql arguments: %w", err)
		}
		return t.runSQL(ctx, args.SQL)
	case ToolVisualizeData:
		var args visualizeArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("bad visualize_data arguments: %w", err)
		}
		return t.visualize(args)
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func (t *Toolbox) runSQL(ctx context.Context, sqlText string) (*toolResult, error) {
	if err := CheckSQL(sqlText); err != nil {
		return nil, fmt.Errorf("sql rejected: %w", err)
	}

	rs, err := t.exec.Query(ctx, sqlText, maxToolRows)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	fileHash := store.HashFor(sqlText, rs.Columns)
	if _, err := t.artifacts.WriteCSV(fileHash, rs.Columns, rs.Rows); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}

	preview := rs.Rows
	if len(preview) > previewRows {
		preview = preview[:previewRows]
	}
	df := &datatypes.DataFrameInfo{
		FileHash: fileHash,
		RowCount: len(rs.Rows),
		Columns:  rs.Columns,
		Preview:  preview,
	}

	reply, err := json.Marshal(df)
	if err != nil {
		return nil, fmt.Errorf("encode result descriptor: %w", err)
	}
	return &toolResult{Reply: string(reply), DataFrame: df, SQL: sqlText}, nil
}

func (t *Toolbox) visualize(args visualizeArgs) (*toolResult, error) {
	if args.FileHash == "" {
		return nil, fmt.Errorf("visualize_data needs a file_hash")
	}
	path, err := t.artifacts.LatestCSV(args.FileHash)
	if err != nil {
		return nil, fmt.Errorf("no dataframe for hash %s", args.FileHash)
	}
	columns, rowCount, err := readCSVShape(path)
	if err != nil {
		return nil, fmt.Errorf("read dataframe: %w", err)
	}

	chart := &datatypes.ChartInfo{
		Type:     suggestChartType(args.ChartTypeHint, columns, rowCount),
		FileHash: args.FileHash,
	}
	if len(columns) > 0 {
		chart.XKey = columns[0]
	}
	if len(columns) > 1 {
		chart.YKey = columns[1]
	}
	chart.Title = chartTitle(chart.XKey, chart.YKey)

	reply, err := json.Marshal(chart)
	if err != nil {
		return nil, fmt.Errorf("encode chart descriptor: %w", err)
	}
	return &toolResult{Reply: string(reply), Chart: chart}, nil
}

// chartTitle derives a display title from the plotted columns.
func chartTitle(xKey, yKey string) string {
	switch {
	case xKey != "" && yKey != "":
		return yKey + " by " + xKey
	case yKey != "":
		return yKey
	case xKey != "":
		return xKey
	default:
		return "query result"
	}
}

func readCSVShape(path string) (columns []string, rowCount int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 {
		return nil, 0, nil
	}
	return records[0], len(records) - 1, nil
}

// suggestChartType picks a chart: an explicit valid hint wins, then a
// date-like x column means line, then small categorical sets mean pie.
func suggestChartType(hint string, columns []string, rowCount int) string {
	switch hint {
	case "line", "bar", "pie":
		return hint
	}
	if len(columns) > 0 {
		x := strings.ToLower(columns[0])
		for _, cue := range []string{"date", "day", "time", "month", "week", "日期", "时间", "月份"} {
			if strings.Contains(x, cue) {
				return "line"
			}
		}
	}
	if rowCount > 0 && rowCount <= 8 && len(columns) == 2 {
		return "pie"
	}
	return "bar"
}
