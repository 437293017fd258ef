// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package balancer

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// =============================================================================
// Instance Lifecycle
// =============================================================================

// spawnInstance creates one instance via the pool's factory, warms it,
// and marks it ready. The instance is visible in the pool in starting
// state for the whole warmup so pool snapshots reflect reality.
func (b *Balancer) spawnInstance(ctx context.Context, p *pool) (*instance, error) {
	p.mu.Lock()
	factory := p.factory
	warmupInputs := p.warmupInputs
	warmupTimeout := p.policy.WarmupTimeout
	p.mu.Unlock()

	mdl, err := factory()
	if err != nil {
		// Creation failures stay visible as an error-state instance
		// and propagate to the caller.
		failed := &instance{
			id:        newInstanceID(),
			status:    datatypes.InstanceError,
			createdAt: b.clk.Now(),
		}
		p.mu.Lock()
		p.instances = append(p.instances, failed)
		b.publishGauges(p)
		p.mu.Unlock()
		return nil, fmt.Errorf("instance creation: %w", err)
	}

	inst := &instance{
		id:        newInstanceID(),
		mdl:       mdl,
		status:    datatypes.InstanceStarting,
		createdAt: b.clk.Now(),
		lastUsed:  b.clk.Now(),
	}
	p.mu.Lock()
	p.instances = append(p.instances, inst)
	b.publishGauges(p)
	p.mu.Unlock()

	b.warmup(ctx, p, inst, warmupInputs, warmupTimeout)

	p.mu.Lock()
	inst.status = datatypes.InstanceReady
	b.publishGauges(p)
	p.broadcast()
	p.mu.Unlock()

	b.logger.Debug("instance ready", "model", p.name, "instance", inst.id)
	return inst, nil
}

// warmup runs the representative sample inputs against a starting
// instance. Prediction failures are logged and tolerated: registration
// must not fail because a model stumbles on warmup traffic.
func (b *Balancer) warmup(ctx context.Context, p *pool, inst *instance, inputs []any, timeout time.Duration) {
	if len(inputs) == 0 {
		return
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, input := range inputs {
		if ctx.Err() != nil {
			return
		}
		if _, err := inst.mdl.Predict(ctx, input); err != nil {
			b.logger.Debug("warmup prediction failed",
				"model", p.name,
				"instance", inst.id,
				"error", err,
			)
		}
	}
}

// =============================================================================
// Scaling Evaluation Loop
// =============================================================================

// Start launches the periodic scaling-evaluation loop. Safe to call
// once per Balancer; subsequent calls are no-ops.
func (b *Balancer) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	ticker := b.clk.NewTicker(b.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				b.evaluateAll()
			}
		}
	}()
	b.logger.Info("scaling loop started", "interval", b.interval)
}

// Stop cancels the scaling loop. Safe to call multiple times;
// in-flight spawns complete on their own.
func (b *Balancer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.done)
}

// evaluateAll runs one scaling evaluation over every pool.
func (b *Balancer) evaluateAll() {
	b.mu.RLock()
	pools := make([]*pool, 0, len(b.pools))
	for _, p := range b.pools {
		pools = append(pools, p)
	}
	b.mu.RUnlock()

	for _, p := range pools {
		b.evaluate(p)
	}
}

// evaluate applies the scaling rules to one pool.
//
// Hysteresis: a pool inside its cooldown window is skipped entirely,
// and every decision (including a failed spawn) stamps the cooldown
// tracker, so at most one automatic action lands per cooldown period.
func (b *Balancer) evaluate(p *pool) {
	p.mu.Lock()
	policy := p.policy
	if b.clk.Since(p.lastScaling) < policy.CooldownPeriod {
		p.mu.Unlock()
		return
	}

	total, _, _, _ := p.counts()
	busy := p.busyRatio()
	latency := p.avgLatency()
	waiters := p.waiters

	scaleUp := total < policy.MaxInstances &&
		(busy > policy.ScaleUpThreshold || latency > policy.TargetLatencyMs)
	scaleDown := !scaleUp &&
		total > policy.MinInstances &&
		busy < policy.ScaleDownThreshold &&
		latency < 0.7*policy.TargetLatencyMs &&
		waiters == 0

	var victim *instance
	if scaleDown {
		// LRU-first; never a busy instance, never below min.
		if victim = p.lruReady(); victim == nil {
			scaleDown = false
		}
	}
	if scaleUp || scaleDown {
		p.lastScaling = b.clk.Now()
	}
	if scaleDown {
		victim.status = datatypes.InstanceStopping
		p.remove(victim)
		b.publishGauges(p)
	}
	p.mu.Unlock()

	switch {
	case scaleUp:
		b.logger.Info("scaling up",
			"model", p.name,
			"busy_ratio", busy,
			"avg_latency_ms", latency,
		)
		if _, err := b.spawnInstance(context.Background(), p); err != nil {
			b.logger.Error("scale-up failed", "model", p.name, "error", err)
			return
		}
		b.metrics.RecordScaling(p.name, "up")

	case scaleDown:
		b.logger.Info("scaling down",
			"model", p.name,
			"instance", victim.id,
			"busy_ratio", busy,
		)
		b.metrics.RecordScaling(p.name, "down")
	}
}

// =============================================================================
// Manual Scaling
// =============================================================================

// ScaleUp adds count instances, bypassing cooldown and thresholds but
// respecting MaxInstances.
func (b *Balancer) ScaleUp(ctx context.Context, modelName string, count int) error {
	b.mu.RLock()
	p, ok := b.pools[modelName]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("model %q: %w", modelName, ErrModelNotFound)
	}

	for i := 0; i < count; i++ {
		p.mu.Lock()
		atMax := len(p.instances) >= p.policy.MaxInstances
		if !atMax {
			p.lastScaling = b.clk.Now()
		}
		p.mu.Unlock()
		if atMax {
			return fmt.Errorf("model %q: %w", modelName, ErrAtMaxInstances)
		}
		if _, err := b.spawnInstance(ctx, p); err != nil {
			return fmt.Errorf("manual scale-up %q: %w", modelName, err)
		}
		b.metrics.RecordScaling(modelName, "up")
	}
	return nil
}

// ScaleDown removes up to count least-recently-used ready instances,
// bypassing cooldown but respecting MinInstances. Busy instances are
// never removed.
func (b *Balancer) ScaleDown(modelName string, count int) error {
	b.mu.RLock()
	p, ok := b.pools[modelName]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("model %q: %w", modelName, ErrModelNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < count; i++ {
		if len(p.instances) <= p.policy.MinInstances {
			return fmt.Errorf("model %q: %w", modelName, ErrAtMinInstances)
		}
		victim := p.lruReady()
		if victim == nil {
			return fmt.Errorf("model %q: no removable ready instance: %w", modelName, ErrAtMinInstances)
		}
		victim.status = datatypes.InstanceStopping
		p.remove(victim)
		p.lastScaling = b.clk.Now()
		b.metrics.RecordScaling(modelName, "down")
	}
	b.publishGauges(p)
	return nil
}
