// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides embedded BadgerDB storage for raw run output blobs.
//
// The relational store keeps the ledger row per run; the raw structured
// output the provider returned is kept here, keyed by run ID. A cache hit
// resolves fingerprint -> succeeded ledger row -> output blob. Blobs can be
// large and are written once, read many times, which fits Badger's value
// log better than a relational TEXT column.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrOutputMissing indicates no blob exists for the run ID. The ledger row
// may still exist; callers should treat the run as uncacheable and re-run.
var ErrOutputMissing = errors.New("run output not in cache")

// keyPrefix namespaces run output blobs inside the database.
const keyPrefix = "runout:"

// Config holds configuration for the output cache.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for testing: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// OutputCache stores run output blobs in an embedded BadgerDB.
type OutputCache struct {
	db     *badger.DB
	stopGC chan struct{}
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates and opens the output cache.
func Open(cfg Config) (*OutputCache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("cache path required for persistent mode")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(&badgerLogger{logger: slog.Default()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open output cache: %w", err)
	}

	c := &OutputCache{db: db, stopGC: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go c.runGC(cfg.GCInterval)
	}
	return c, nil
}

// Close stops background GC and closes the database.
func (c *OutputCache) Close() error {
	close(c.stopGC)
	return c.db.Close()
}

// PutOutput stores the raw structured output for a run. Called exactly once
// per succeeded run, at finalization time.
func (c *OutputCache) PutOutput(runID string, output []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+runID), output)
	})
	if err != nil {
		return fmt.Errorf("put output for run %s: %w", runID, err)
	}
	return nil
}

// GetOutput returns the raw structured output for a run, or ErrOutputMissing.
func (c *OutputCache) GetOutput(runID string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + runID))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrOutputMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get output for run %s: %w", runID, err)
	}
	return out, nil
}

// runGC runs value log garbage collection on an interval until Close.
func (c *OutputCache) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			// Badger returns ErrNoRewrite when there is nothing to collect.
			if err := c.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("Output cache GC failed", "error", err)
			}
		}
	}
}
