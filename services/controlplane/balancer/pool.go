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
	"sync"
	"time"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
)

// instance is one pooled model instance. All fields are guarded by the
// owning pool's mutex; status transitions are therefore atomic.
type instance struct {
	id           string
	mdl          model.Model
	status       datatypes.InstanceStatus
	requestCount int64
	avgLatencyMs float64
	lastUsed     time.Time
	createdAt    time.Time
}

// snapshot copies the instance into its exported form. Caller must
// hold the pool lock.
func (i *instance) snapshot(modelName string) datatypes.ModelInstance {
	return datatypes.ModelInstance{
		ID:           i.id,
		ModelName:    modelName,
		Status:       i.status,
		RequestCount: i.requestCount,
		AvgLatencyMs: i.avgLatencyMs,
		LastUsed:     i.lastUsed,
		CreatedAt:    i.createdAt,
	}
}

// pool is the per-model shared mutable resource: the instance set, the
// scaling cooldown tracker, and the waiter bookkeeping. The pool mutex
// is the single mutation point; both the request path and the scaling
// loop take it before touching membership or status.
type pool struct {
	name         string
	factory      model.Factory
	warmupInputs []any

	mu          sync.Mutex
	policy      datatypes.ScalingPolicy
	instances   []*instance
	lastScaling time.Time
	waiters     int
	scalingUp   bool
	notifyCh    chan struct{}
}

func newPool(name string, factory model.Factory, policy datatypes.ScalingPolicy) *pool {
	return &pool{
		name:     name,
		factory:  factory,
		policy:   policy,
		notifyCh: make(chan struct{}),
	}
}

// broadcast wakes every goroutine blocked in notify(). Caller must
// hold the pool lock.
func (p *pool) broadcast() {
	close(p.notifyCh)
	p.notifyCh = make(chan struct{})
}

// notify returns the channel closed on the next membership or status
// change.
func (p *pool) notify() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifyCh
}

// counts returns instance totals by status. Caller must hold the lock.
func (p *pool) counts() (total, ready, busy, errored int) {
	for _, inst := range p.instances {
		switch inst.status {
		case datatypes.InstanceReady:
			ready++
		case datatypes.InstanceBusy:
			busy++
		case datatypes.InstanceError:
			errored++
		}
	}
	return len(p.instances), ready, busy, errored
}

// busyRatio returns busy/total, 0 for an empty pool. Caller must hold
// the lock.
func (p *pool) busyRatio() float64 {
	total, _, busy, _ := p.counts()
	if total == 0 {
		return 0
	}
	return float64(busy) / float64(total)
}

// avgLatency returns the mean observed latency across instances that
// have served traffic. Caller must hold the lock.
func (p *pool) avgLatency() float64 {
	var sum float64
	var n int
	for _, inst := range p.instances {
		if inst.requestCount > 0 {
			sum += inst.avgLatencyMs
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// remove drops inst from the pool. Caller must hold the lock.
func (p *pool) remove(inst *instance) {
	for idx, cur := range p.instances {
		if cur == inst {
			p.instances = append(p.instances[:idx], p.instances[idx+1:]...)
			return
		}
	}
}

// lruReady returns the least-recently-used ready instance, or nil.
// Caller must hold the lock.
func (p *pool) lruReady() *instance {
	var lru *instance
	for _, inst := range p.instances {
		if inst.status != datatypes.InstanceReady {
			continue
		}
		if lru == nil || inst.lastUsed.Before(lru.lastUsed) {
			lru = inst
		}
	}
	return lru
}
