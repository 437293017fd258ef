// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package balancer maintains a pool of instances per registered model,
// routes predictions to healthy instances, and scales pools elastically.
//
// # Description
//
// Each registered model owns a pool. The request path selects a ready
// instance via a load-balancing strategy, marks it busy for the
// duration of the call, and folds the observed latency into the
// instance's running average. A periodic evaluation loop grows or
// shrinks each pool against its ScalingPolicy, with a per-model
// cooldown providing hysteresis.
//
// # Failure Semantics
//
// A failing prediction marks only that instance unhealthy and surfaces
// the error to the caller as a *ModelError; other in-flight requests
// are unaffected. When more than half of a pool is in error state the
// failing instance is removed and a replacement spawned.
//
// # Thread Safety
//
// Balancer is safe for concurrent use. Pool membership and instance
// status share a single mutation point: the pool mutex.
package balancer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/modelplane/services/controlplane/clock"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
	"github.com/AleutianAI/modelplane/services/controlplane/observability"
)

// DefaultAcquireTimeout bounds the wait for a ready instance when the
// caller does not supply one.
const DefaultAcquireTimeout = 5 * time.Second

// DefaultEvaluationInterval is the cadence of the scaling loop.
const DefaultEvaluationInterval = 10 * time.Second

// Options configures a Balancer. Zero values get sensible defaults.
type Options struct {
	// Clock is the time source. Default: clock.Real().
	Clock clock.Clock

	// Logger receives structured diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives pool gauges and latency observations. May be nil.
	Metrics *observability.Metrics

	// DefaultStrategy is used when PredictOptions does not name one.
	// Default: StrategyLeastConnections.
	DefaultStrategy Strategy

	// EvaluationInterval is the scaling loop cadence.
	// Default: DefaultEvaluationInterval.
	EvaluationInterval time.Duration
}

// Registration describes a model to pool.
type Registration struct {
	// Name is the model identifier. Required, unique.
	Name string

	// Factory creates pool instances. Required.
	Factory model.Factory

	// Policy bounds automatic scaling for this model.
	Policy datatypes.ScalingPolicy

	// WarmupInputs are representative sample inputs run against each
	// new instance before it is marked ready. Prediction failures
	// during warmup are tolerated.
	WarmupInputs []any
}

// PredictOptions tunes a single Predict call.
type PredictOptions struct {
	// Timeout bounds the wait for a ready instance.
	// Default: DefaultAcquireTimeout.
	Timeout time.Duration

	// Strategy overrides the balancer's default selection strategy.
	Strategy Strategy
}

// Balancer routes predictions across per-model instance pools.
type Balancer struct {
	clk      clock.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	strategy Strategy
	interval time.Duration

	mu      sync.RWMutex
	pools   map[string]*pool
	done    chan struct{}
	running bool
}

// New creates a Balancer. Call Start to run the scaling loop.
func New(opts Options) *Balancer {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = StrategyLeastConnections
	}
	if opts.EvaluationInterval <= 0 {
		opts.EvaluationInterval = DefaultEvaluationInterval
	}
	return &Balancer{
		clk:      opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		strategy: opts.DefaultStrategy,
		interval: opts.EvaluationInterval,
		pools:    make(map[string]*pool),
	}
}

// RegisterModel creates the pool and eagerly spawns MinInstances, each
// warmed before serving. Instance creation failures abort registration
// and propagate; warmup prediction failures do not.
func (b *Balancer) RegisterModel(ctx context.Context, reg Registration) error {
	if reg.Name == "" || reg.Factory == nil {
		return fmt.Errorf("%w: name and factory are required", ErrInvalidPolicy)
	}
	if err := validatePolicy(reg.Policy); err != nil {
		return err
	}

	p := newPool(reg.Name, reg.Factory, reg.Policy)
	p.warmupInputs = reg.WarmupInputs

	b.mu.Lock()
	if _, exists := b.pools[reg.Name]; exists {
		b.mu.Unlock()
		return fmt.Errorf("model %q: %w", reg.Name, ErrAlreadyRegistered)
	}
	b.pools[reg.Name] = p
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < reg.Policy.MinInstances; i++ {
		g.Go(func() error {
			_, err := b.spawnInstance(gctx, p)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("register model %q: %w", reg.Name, err)
	}

	b.logger.Info("model registered",
		"model", reg.Name,
		"min_instances", reg.Policy.MinInstances,
		"max_instances", reg.Policy.MaxInstances,
	)
	return nil
}

// validatePolicy enforces the structural invariants of a policy.
func validatePolicy(p datatypes.ScalingPolicy) error {
	switch {
	case p.MinInstances < 1:
		return fmt.Errorf("%w: min_instances must be >= 1", ErrInvalidPolicy)
	case p.MaxInstances < p.MinInstances:
		return fmt.Errorf("%w: max_instances must be >= min_instances", ErrInvalidPolicy)
	case p.TargetLatencyMs <= 0:
		return fmt.Errorf("%w: target_latency_ms must be > 0", ErrInvalidPolicy)
	case p.ScaleUpThreshold <= 0 || p.ScaleUpThreshold > 1:
		return fmt.Errorf("%w: scale_up_threshold must be in (0, 1]", ErrInvalidPolicy)
	case p.ScaleDownThreshold < 0 || p.ScaleDownThreshold >= p.ScaleUpThreshold:
		return fmt.Errorf("%w: scale_down_threshold must be in [0, scale_up_threshold)", ErrInvalidPolicy)
	}
	return nil
}

// Predict routes one prediction to a ready instance of modelName.
//
// # Description
//
// When no instance is ready and the pool is eligible (below max, busy
// ratio above the scale-up threshold), a scale-up is triggered
// asynchronously and the caller waits for readiness up to the timeout.
// Expiry yields ErrNoCapacity; the caller never blocks indefinitely.
func (b *Balancer) Predict(ctx context.Context, modelName string, input any, opts PredictOptions) (model.Output, error) {
	b.mu.RLock()
	p, ok := b.pools[modelName]
	b.mu.RUnlock()
	if !ok {
		return model.Output{}, fmt.Errorf("model %q: %w", modelName, ErrModelNotFound)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = b.strategy
	}

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitStart := b.clk.Now()
	inst, err := b.acquire(acquireCtx, p, strategy)
	if err != nil {
		b.metrics.ObserveCapacityWait(modelName, "timeout", b.clk.Since(waitStart).Seconds())
		return model.Output{}, err
	}
	b.metrics.ObserveCapacityWait(modelName, "acquired", b.clk.Since(waitStart).Seconds())

	start := b.clk.Now()
	out, err := inst.mdl.Predict(ctx, input)
	latencyMs := float64(b.clk.Since(start)) / float64(time.Millisecond)

	if err != nil {
		b.releaseFailed(p, inst)
		return model.Output{}, &ModelError{Model: modelName, InstanceID: inst.id, Err: err}
	}

	b.release(p, inst, latencyMs)
	b.metrics.ObserveLatency(modelName, latencyMs/1000)
	return out, nil
}

// acquire blocks until a ready instance is selected and marked busy,
// or ctx expires.
func (b *Balancer) acquire(ctx context.Context, p *pool, strategy Strategy) (*instance, error) {
	for {
		p.mu.Lock()
		if inst := pickReady(p.instances, strategy); inst != nil {
			inst.status = datatypes.InstanceBusy
			inst.requestCount++
			inst.lastUsed = b.clk.Now()
			b.publishGauges(p)
			p.mu.Unlock()
			return inst, nil
		}

		triggerScale := len(p.instances) < p.policy.MaxInstances &&
			p.busyRatio() > p.policy.ScaleUpThreshold &&
			!p.scalingUp
		if triggerScale {
			p.scalingUp = true
		}
		ch := p.notifyCh
		p.waiters++
		p.mu.Unlock()

		if triggerScale {
			go b.scaleUpAsync(p)
		}

		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.waiters--
			p.mu.Unlock()
			return nil, fmt.Errorf("model %q: %w", p.name, ErrNoCapacity)
		case <-ch:
			p.mu.Lock()
			p.waiters--
			p.mu.Unlock()
		}
	}
}

// release returns a busy instance to ready and folds the observed
// latency into its running average.
func (b *Balancer) release(p *pool, inst *instance, latencyMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst.avgLatencyMs += (latencyMs - inst.avgLatencyMs) / float64(inst.requestCount)
	inst.status = datatypes.InstanceReady
	b.publishGauges(p)
	p.broadcast()
}

// releaseFailed marks the instance errored and, when more than half of
// the pool is in error state, removes it and spawns a replacement.
func (b *Balancer) releaseFailed(p *pool, inst *instance) {
	p.mu.Lock()
	inst.status = datatypes.InstanceError
	total, _, _, errored := p.counts()
	replace := total > 0 && errored*2 > total
	if replace {
		p.remove(inst)
	}
	b.publishGauges(p)
	p.broadcast()
	p.mu.Unlock()

	b.logger.Warn("instance failed",
		"model", p.name,
		"instance", inst.id,
		"replacing", replace,
	)

	if replace {
		b.metrics.RecordScaling(p.name, "replace")
		go func() {
			if _, err := b.spawnInstance(context.Background(), p); err != nil {
				b.logger.Error("replacement spawn failed", "model", p.name, "error", err)
			}
		}()
	}
}

// scaleUpAsync grows the pool by one from the request path. The
// scalingUp flag guarantees at most one in flight per pool.
func (b *Balancer) scaleUpAsync(p *pool) {
	defer func() {
		p.mu.Lock()
		p.scalingUp = false
		p.mu.Unlock()
	}()

	if _, err := b.spawnInstance(context.Background(), p); err != nil {
		b.logger.Error("demand scale-up failed", "model", p.name, "error", err)
		return
	}
	b.metrics.RecordScaling(p.name, "up")
}

// Instances returns a snapshot of the model's pool.
func (b *Balancer) Instances(modelName string) ([]datatypes.ModelInstance, error) {
	b.mu.RLock()
	p, ok := b.pools[modelName]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model %q: %w", modelName, ErrModelNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]datatypes.ModelInstance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst.snapshot(p.name))
	}
	return out, nil
}

// Models returns the registered model names.
func (b *Balancer) Models() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.pools))
	for name := range b.pools {
		names = append(names, name)
	}
	return names
}

// UpdatePolicy replaces the scaling policy for a registered model.
// This is the administrative escape hatch; it does not rescale
// immediately, the next evaluation tick applies the new bounds.
func (b *Balancer) UpdatePolicy(modelName string, policy datatypes.ScalingPolicy) error {
	if err := validatePolicy(policy); err != nil {
		return err
	}
	b.mu.RLock()
	p, ok := b.pools[modelName]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("model %q: %w", modelName, ErrModelNotFound)
	}

	p.mu.Lock()
	p.policy = policy
	p.mu.Unlock()
	b.logger.Info("scaling policy updated", "model", modelName)
	return nil
}

// publishGauges pushes instance counts by status. Caller must hold the
// pool lock.
func (b *Balancer) publishGauges(p *pool) {
	if b.metrics == nil {
		return
	}
	byStatus := map[datatypes.InstanceStatus]int{}
	for _, inst := range p.instances {
		byStatus[inst.status]++
	}
	for _, st := range []datatypes.InstanceStatus{
		datatypes.InstanceStarting, datatypes.InstanceReady,
		datatypes.InstanceBusy, datatypes.InstanceError,
	} {
		b.metrics.SetInstanceCount(p.name, string(st), byStatus[st])
	}
}

// newInstanceID returns a short unique instance identifier.
func newInstanceID() string {
	return uuid.NewString()[:8]
}
