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
	"fmt"
	"regexp"
	"strings"
)

// The executor connection is already read-only; this guard exists so a
// bad statement is bounced back to the model as a recoverable tool
// error instead of surfacing a driver failure.
var (
	forbiddenSQLRe = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|ALTER|PRAGMA|ATTACH)\b`)
	fromClauseRe   = regexp.MustCompile(`(?i)\bFROM\b`)
)

// CheckSQL validates a run_sql argument: must start with SELECT, must
// reference a table with FROM, must not contain a mutating or
// connection-level keyword.
func CheckSQL(sqlText string) error {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))
	if trimmed == "" {
		return fmt.Errorf("empty SQL statement")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	if !fromClauseRe.MatchString(trimmed) {
		return fmt.Errorf("statement has no FROM clause")
	}
	if m := forbiddenSQLRe.FindString(trimmed); m != "" {
		return fmt.Errorf("forbidden keyword %s", strings.ToUpper(m))
	}
	return nil
}
