// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package controlplane

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/modelplane/services/controlplane/balancer"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// policyReloadDebounce is how long to wait after a change before
// reloading, so editors that write in multiple syscalls trigger one
// reload.
const policyReloadDebounce = 200 * time.Millisecond

// PolicyWatcher hot-reloads scaling policies from a YAML file.
//
// # Description
//
// The file maps model names to scaling policies:
//
//	ranker:
//	  min_instances: 2
//	  max_instances: 8
//	  target_latency_ms: 250
//	  scale_up_threshold: 0.8
//	  scale_down_threshold: 0.3
//	  cooldown_period: 1m
//
// On every change the file is re-parsed and each entry applied via
// the balancer's UpdatePolicy. Entries for unregistered models are
// skipped; invalid policies are logged and leave the running policy
// untouched. A broken file never affects serving.
//
// # Thread Safety
//
// Start/Stop are safe to call from any goroutine; Stop is idempotent.
type PolicyWatcher struct {
	path     string
	balancer *balancer.Balancer
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewPolicyWatcher creates a watcher for path and applies the current
// file contents once. The file must exist and parse.
func NewPolicyWatcher(path string, b *balancer.Balancer) (*PolicyWatcher, error) {
	w := &PolicyWatcher{
		path:     path,
		balancer: b,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}

	if err := w.apply(); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: editors and config reloaders
	// replace files by rename, which drops a direct file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	w.watcher = fw
	return w, nil
}

// Start launches the reload loop.
func (w *PolicyWatcher) Start() {
	go w.loop()
}

// Stop ends the reload loop and closes the underlying watcher.
func (w *PolicyWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}

func (w *PolicyWatcher) loop() {
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(policyReloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := w.apply(); err != nil {
				w.logger.Warn("scaling policy reload failed",
					"path", w.path, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", "error", err)
		}
	}
}

// apply parses the policy file and pushes each entry to the balancer.
func (w *PolicyWatcher) apply() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	policies := make(map[string]datatypes.ScalingPolicy)
	if err := yaml.Unmarshal(raw, &policies); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}

	registered := make(map[string]struct{})
	for _, name := range w.balancer.Models() {
		registered[name] = struct{}{}
	}

	applied := 0
	for name, policy := range policies {
		if _, ok := registered[name]; !ok {
			w.logger.Debug("policy entry for unregistered model skipped", "model", name)
			continue
		}
		if err := w.balancer.UpdatePolicy(name, policy); err != nil {
			w.logger.Warn("policy entry rejected", "model", name, "error", err)
			continue
		}
		applied++
	}

	w.logger.Info("scaling policies applied",
		"path", w.path, "entries", len(policies), "applied", applied)
	return nil
}
