// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Instance Pool State
// =============================================================================

// InstanceStatus is the lifecycle state of one model instance.
//
// Transitions: starting -> ready -> busy -> ready, with error and
// stopping as terminal-ish branches. Transitions are atomic under the
// owning pool's lock.
type InstanceStatus string

const (
	InstanceStarting InstanceStatus = "starting"
	InstanceReady    InstanceStatus = "ready"
	InstanceBusy     InstanceStatus = "busy"
	InstanceError    InstanceStatus = "error"
	InstanceStopping InstanceStatus = "stopping"
)

// ModelInstance is a read-only snapshot of one pooled instance.
type ModelInstance struct {
	ID           string         `json:"id"`
	ModelName    string         `json:"model_name"`
	Status       InstanceStatus `json:"status"`
	RequestCount int64          `json:"request_count"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
	LastUsed     time.Time      `json:"last_used"`
	CreatedAt    time.Time      `json:"created_at"`
}

// =============================================================================
// Scaling Policy
// =============================================================================

// ScalingPolicy bounds and tunes automatic scaling for one model.
//
// Read-only after registration except via an explicit administrative
// update (policy file reload or the admin endpoint).
type ScalingPolicy struct {
	// MinInstances is the floor; instantiated eagerly at registration.
	MinInstances int `json:"min_instances" yaml:"min_instances" validate:"gte=1"`

	// MaxInstances is the hard ceiling for automatic and manual scaling.
	MaxInstances int `json:"max_instances" yaml:"max_instances" validate:"gtefield=MinInstances"`

	// TargetLatencyMs drives latency-based scale-up; scale-down requires
	// average latency under 0.7x this value.
	TargetLatencyMs float64 `json:"target_latency_ms" yaml:"target_latency_ms" validate:"gt=0"`

	// TargetThroughput is the desired per-model requests/second. Used
	// for reporting; scaling keys off busy ratio and latency.
	TargetThroughput float64 `json:"target_throughput" yaml:"target_throughput"`

	// ScaleUpThreshold is the busy ratio above which the pool grows.
	ScaleUpThreshold float64 `json:"scale_up_threshold" yaml:"scale_up_threshold" validate:"gt=0,lte=1"`

	// ScaleDownThreshold is the busy ratio below which the pool shrinks.
	ScaleDownThreshold float64 `json:"scale_down_threshold" yaml:"scale_down_threshold" validate:"gte=0,ltfield=ScaleUpThreshold"`

	// CooldownPeriod gates consecutive automatic scaling decisions.
	CooldownPeriod time.Duration `json:"cooldown_period" yaml:"cooldown_period"`

	// WarmupTimeout caps the warmup phase of a new instance.
	WarmupTimeout time.Duration `json:"warmup_timeout" yaml:"warmup_timeout"`
}

// DefaultScalingPolicy returns production defaults: 1-4 instances,
// 500ms latency target, scale up past 80% busy, down under 30%,
// 1 minute cooldown.
func DefaultScalingPolicy() ScalingPolicy {
	return ScalingPolicy{
		MinInstances:       1,
		MaxInstances:       4,
		TargetLatencyMs:    500,
		TargetThroughput:   50,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.3,
		CooldownPeriod:     time.Minute,
		WarmupTimeout:      30 * time.Second,
	}
}
