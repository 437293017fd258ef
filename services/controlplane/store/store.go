// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides an embedded BadgerDB mirror of experiment
// assignments and outcomes.
//
// The in-memory engine state remains the source of truth; this mirror
// is a best-effort durable copy so sticky assignments can survive a
// restart and outcome ledgers can be inspected offline. Writes are
// fire-and-forget from the engine's point of view.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// ErrNotFound indicates the requested key has no mirrored value.
var ErrNotFound = errors.New("not found in mirror")

// Config holds configuration for the mirror database.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites forces fsync per write. The mirror is best-effort, so
	// the default is false.
	SyncWrites bool `yaml:"sync_writes"`

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns production defaults for a given path.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// InMemoryConfig returns a test configuration with no disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Mirror Store
// =============================================================================

// Store is the BadgerDB-backed mirror. It implements the experiment
// engine's Mirror interface.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB handles transaction isolation.
type Store struct {
	db *badger.DB
}

// Open creates the database directory if needed and opens the mirror.
// Caller must Close it.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for persistent mirror")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create mirror directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open mirror database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database. Safe to call once.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key layout:
//
//	assign/<experimentID>/<userID>   -> variantID (raw string)
//	outcome/<experimentID>/<requestID> -> Outcome (JSON)
func assignmentKey(experimentID, userID string) []byte {
	return []byte("assign/" + experimentID + "/" + userID)
}

func outcomeKey(experimentID, requestID string) []byte {
	return []byte("outcome/" + experimentID + "/" + requestID)
}

// SaveAssignment mirrors one sticky assignment.
func (s *Store) SaveAssignment(ctx context.Context, experimentID, userID, variantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(assignmentKey(experimentID, userID), []byte(variantID))
	})
	if err != nil {
		return fmt.Errorf("mirror assignment: %w", err)
	}
	return nil
}

// Assignment reads back one mirrored assignment.
func (s *Store) Assignment(ctx context.Context, experimentID, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var variantID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(assignmentKey(experimentID, userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			variantID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("assignment %s/%s: %w", experimentID, userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read assignment: %w", err)
	}
	return variantID, nil
}

// Assignments iterates all mirrored assignments for one experiment.
func (s *Store) Assignments(ctx context.Context, experimentID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte("assign/" + experimentID + "/")
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			userID := string(item.Key()[len(prefix):])
			if err := item.Value(func(val []byte) error {
				out[userID] = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan assignments: %w", err)
	}
	return out, nil
}

// storedOutcome is the on-disk outcome envelope.
type storedOutcome struct {
	Success       bool               `json:"success"`
	Value         float64            `json:"value,omitempty"`
	CustomMetrics map[string]float64 `json:"custom_metrics,omitempty"`
	RecordedAt    time.Time          `json:"recorded_at"`
}

// SaveOutcome mirrors one recorded outcome.
func (s *Store) SaveOutcome(ctx context.Context, experimentID, requestID string, outcome datatypes.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(storedOutcome{
		Success:       outcome.Success,
		Value:         outcome.Value,
		CustomMetrics: outcome.CustomMetrics,
		RecordedAt:    outcome.RecordedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(outcomeKey(experimentID, requestID), payload)
	})
	if err != nil {
		return fmt.Errorf("mirror outcome: %w", err)
	}
	return nil
}

// Outcome reads back one mirrored outcome.
func (s *Store) Outcome(ctx context.Context, experimentID, requestID string) (datatypes.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.Outcome{}, err
	}
	var stored storedOutcome
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(outcomeKey(experimentID, requestID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.Outcome{}, fmt.Errorf("outcome %s/%s: %w", experimentID, requestID, ErrNotFound)
	}
	if err != nil {
		return datatypes.Outcome{}, fmt.Errorf("read outcome: %w", err)
	}
	return datatypes.Outcome{
		Success:       stored.Success,
		Value:         stored.Value,
		CustomMetrics: stored.CustomMetrics,
		RecordedAt:    stored.RecordedAt,
	}, nil
}

// PurgeExperiment removes every mirrored key for one experiment.
// Called when an experiment is archived.
func (s *Store) PurgeExperiment(ctx context.Context, experimentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefixes := [][]byte{
		[]byte("assign/" + experimentID + "/"),
		[]byte("outcome/" + experimentID + "/"),
	}
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		var keys [][]byte
		for _, prefix := range prefixes {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("purge key: %w", err)
			}
		}
		return nil
	})
}
