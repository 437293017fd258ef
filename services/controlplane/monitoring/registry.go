// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitoring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// Registry owns the per-model monitors. It is created at service start
// and closed at shutdown; there is no package-level state.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	monitors map[string]*Monitor
	closed   bool
}

// NewRegistry creates an empty Registry whose monitors share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		monitors: make(map[string]*Monitor),
	}
}

// StartMonitoring creates and starts a monitor for cfg.ModelName.
func (r *Registry) StartMonitoring(cfg datatypes.MonitoringConfig) (*Monitor, error) {
	mon, err := NewMonitor(cfg, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("monitoring registry closed: %w", ErrInvalidConfig)
	}
	if _, exists := r.monitors[mon.ModelName()]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("model %q: %w", mon.ModelName(), ErrAlreadyMonitored)
	}
	r.monitors[mon.ModelName()] = mon
	r.mu.Unlock()

	mon.Start()
	return mon, nil
}

// StopMonitoring stops and removes the model's monitor.
func (r *Registry) StopMonitoring(modelName string) error {
	r.mu.Lock()
	mon, ok := r.monitors[modelName]
	if ok {
		delete(r.monitors, modelName)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("model %q: %w", modelName, ErrModelNotMonitored)
	}
	mon.Stop()
	return nil
}

// Monitor returns the model's monitor.
func (r *Registry) Monitor(modelName string) (*Monitor, error) {
	r.mu.RLock()
	mon, ok := r.monitors[modelName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model %q: %w", modelName, ErrModelNotMonitored)
	}
	return mon, nil
}

// Models lists monitored model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.monitors))
	for name := range r.monitors {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Health reports every monitored model, ordered by name.
func (r *Registry) Health() []datatypes.ModelHealthStatus {
	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, mon := range r.monitors {
		monitors = append(monitors, mon)
	}
	r.mu.RUnlock()

	sort.Slice(monitors, func(i, j int) bool {
		return monitors[i].ModelName() < monitors[j].ModelName()
	})
	out := make([]datatypes.ModelHealthStatus, 0, len(monitors))
	for _, mon := range monitors {
		out = append(out, mon.Health())
	}
	return out
}

// Alerts gathers alerts across all monitors, optionally including
// resolved ones.
func (r *Registry) Alerts(includeResolved bool) []datatypes.Alert {
	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, mon := range r.monitors {
		monitors = append(monitors, mon)
	}
	r.mu.RUnlock()

	var out []datatypes.Alert
	for _, mon := range monitors {
		out = append(out, mon.Alerts(includeResolved)...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Close stops every monitor. The registry rejects new monitors after
// Close.
func (r *Registry) Close() {
	r.mu.Lock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, mon := range r.monitors {
		monitors = append(monitors, mon)
	}
	r.monitors = make(map[string]*Monitor)
	r.closed = true
	r.mu.Unlock()

	for _, mon := range monitors {
		mon.Stop()
	}
}
