// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ArtifactStore writes query result CSVs under a content-addressed
// layout: {dir}/{fileHash}/query_results_{timestamp}.csv. Files are
// written to a temp name and renamed, so readers never observe a
// partial artifact.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates the artifact directory if needed.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory not set")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", dir, err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Dir returns the artifact root directory.
func (a *ArtifactStore) Dir() string { return a.dir }

// HashFor derives the artifact hash for a query and its columns. The
// same query re-run lands in the same artifact directory.
func HashFor(query string, columns []string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(query)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(columns, ",")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// WriteCSV persists one result set and returns (fileHash, path).
func (a *ArtifactStore) WriteCSV(fileHash string, columns []string, rows [][]string) (string, error) {
	if fileHash == "" {
		return "", fmt.Errorf("artifact hash not set")
	}
	subdir := filepath.Join(a.dir, fileHash)
	if err := os.MkdirAll(subdir, 0750); err != nil {
		return "", fmt.Errorf("create artifact subdirectory: %w", err)
	}

	final := filepath.Join(subdir,
		fmt.Sprintf("query_results_%s.csv", time.Now().UTC().Format("20060102T150405.000")))

	tmp, err := os.CreateTemp(subdir, ".tmp_*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	writeErr := w.Write(columns)
	if writeErr == nil {
		writeErr = w.WriteAll(rows)
	}
	if writeErr == nil {
		w.Flush()
		writeErr = w.Error()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write artifact csv: %w", writeErr)
	}

	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("publish artifact csv: %w", err)
	}
	return final, nil
}

// LatestCSV returns the newest artifact path for a hash, or an error
// when none exists.
func (a *ArtifactStore) LatestCSV(fileHash string) (string, error) {
	subdir := filepath.Join(a.dir, fileHash)
	entries, err := os.ReadDir(subdir)
	if err != nil {
		return "", fmt.Errorf("artifact %s: %w", fileHash, ErrNotFound)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "query_results_") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("artifact %s: %w", fileHash, ErrNotFound)
	}
	sort.Strings(names)
	return filepath.Join(subdir, names[len(names)-1]), nil
}
