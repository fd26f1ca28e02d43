// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retention prunes aged query result artifacts.
//
// Every executed query writes a CSV artifact under a content-addressed
// directory. Re-running the pipeline regenerates them on demand, so
// artifacts are a cache, not a system of record: the sweeper deletes
// whole hash directories once their newest generation passes MaxAge,
// and trims superseded generations inside directories that stay.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds sweeper settings. DefaultConfig provides production
// values.
type Config struct {
	// Interval is how often a sweep cycle runs. Default: 6 hours.
	Interval time.Duration

	// MaxAge is how long the newest generation of an artifact keeps
	// the whole hash directory alive. Default: 30 days.
	MaxAge time.Duration

	// MaxDeletesPerCycle bounds filesystem churn per sweep.
	// Default: 1000.
	MaxDeletesPerCycle int
}

// DefaultConfig returns production defaults: 6 hour cycles, 30 day
// retention, at most 1000 deletes per cycle.
func DefaultConfig() Config {
	return Config{
		Interval:           6 * time.Hour,
		MaxAge:             30 * 24 * time.Hour,
		MaxDeletesPerCycle: 1000,
	}
}

// Result summarizes one sweep cycle.
type Result struct {
	StartTime     time.Time
	EndTime       time.Time
	HashesScanned int
	HashesDeleted int
	FilesDeleted  int
	Errors        []string
}

// Duration reports the cycle's elapsed wall time.
func (r Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// =============================================================================
// Sweeper
// =============================================================================

// Sweeper runs periodic retention sweeps over an artifact directory.
// Start launches the loop; Stop waits for the current cycle. All
// methods are safe for concurrent use, but only one sweeper should
// serve a directory.
type Sweeper struct {
	dir    string
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}

	now func() time.Time
}

// NewSweeper creates a sweeper over the artifact root directory.
func NewSweeper(dir string, config Config, logger *slog.Logger) (*Sweeper, error) {
	if dir == "" {
		return nil, errors.New("artifact directory not set")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultConfig().MaxAge
	}
	if config.MaxDeletesPerCycle <= 0 {
		config.MaxDeletesPerCycle = DefaultConfig().MaxDeletesPerCycle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		dir:    dir,
		config: config,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Start launches the sweep loop. The first cycle runs immediately;
// subsequent cycles follow the configured interval. Returns an error
// when already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("retention sweeper already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("artifact retention sweeper starting",
		"interval", s.config.Interval.String(),
		"max_age", s.config.MaxAge.String(),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the loop to exit. Safe to call repeatedly.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.done)
	s.running = false
}

// RunNow performs one sweep cycle immediately, independent of the
// schedule.
func (s *Sweeper) RunNow(ctx context.Context) (Result, error) {
	return s.sweep(ctx)
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

// executeSweep runs one cycle; errors are logged, never fatal to the
// loop.
func (s *Sweeper) executeSweep(ctx context.Context) {
	result, err := s.sweep(ctx)
	if err != nil {
		s.logger.Error("artifact retention sweep failed", "error", err)
		return
	}
	if result.HashesDeleted > 0 || result.FilesDeleted > 0 {
		s.logger.Info("artifact retention sweep completed",
			"hashes_scanned", result.HashesScanned,
			"hashes_deleted", result.HashesDeleted,
			"files_deleted", result.FilesDeleted,
			"duration_ms", result.Duration().Milliseconds(),
		)
	} else {
		s.logger.Debug("artifact retention sweep completed, nothing expired")
	}
}

// sweep walks all hash directories once. A hash directory is removed
// whole when its newest artifact is older than MaxAge; otherwise only
// superseded generations past MaxAge are trimmed, keeping the newest.
func (s *Sweeper) sweep(ctx context.Context) (Result, error) {
	result := Result{StartTime: s.now()}
	cutoff := result.StartTime.Add(-s.config.MaxAge)
	budget := s.config.MaxDeletesPerCycle

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		result.EndTime = s.now()
		return result, fmt.Errorf("read artifact directory %s: %w", s.dir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			result.EndTime = s.now()
			return result, err
		}
		if !entry.IsDir() || budget <= 0 {
			continue
		}
		result.HashesScanned++

		removedDir, removedFiles, err := s.sweepHashDir(filepath.Join(s.dir, entry.Name()), cutoff, budget)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		if removedDir {
			result.HashesDeleted++
		}
		result.FilesDeleted += removedFiles
		budget -= removedFiles
	}

	result.EndTime = s.now()
	return result, nil
}

// sweepHashDir prunes one content-addressed directory. Returns whether
// the directory itself was removed and how many files went.
func (s *Sweeper) sweepHashDir(dir string, cutoff time.Time, budget int) (bool, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, 0, err
	}

	type generation struct {
		name    string
		modTime time.Time
	}
	var gens []generation
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "query_results_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		gens = append(gens, generation{name: e.Name(), modTime: info.ModTime()})
	}

	// Empty or foreign-content directory: leave untouched.
	if len(gens) == 0 {
		return false, 0, nil
	}

	sort.Slice(gens, func(i, j int) bool { return gens[i].modTime.Before(gens[j].modTime) })
	newest := gens[len(gens)-1]

	// Whole directory expired.
	if newest.modTime.Before(cutoff) {
		if len(gens) > budget {
			return false, 0, nil
		}
		if err := os.RemoveAll(dir); err != nil {
			return false, 0, err
		}
		return true, len(gens), nil
	}

	// Directory stays: trim superseded generations past the cutoff.
	removed := 0
	for _, g := range gens[:len(gens)-1] {
		if removed >= budget || !g.modTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, g.name)); err != nil {
			return false, removed, err
		}
		removed++
	}
	return false, removed, nil
}
