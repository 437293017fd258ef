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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/modelplane/services/controlplane/clock"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
)

// instanceCount polls the pool size.
func instanceCount(t *testing.T, b *Balancer, name string) int {
	t.Helper()
	instances, err := b.Instances(name)
	require.NoError(t, err)
	return len(instances)
}

// TestScalingLoop_ScaleUpOncePerCooldown tests that sustained pressure
// produces exactly one scale-up per cooldown interval, never more.
func TestScalingLoop_ScaleUpOncePerCooldown(t *testing.T) {
	fake := clock.NewFake()
	gate := &gatedModel{
		name:    "hot",
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	b := New(Options{Clock: fake, EvaluationInterval: 10 * time.Second})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "hot",
		Factory: func() (model.Model, error) { return gate, nil },
		Policy: datatypes.ScalingPolicy{
			MinInstances:       1,
			MaxInstances:       3,
			TargetLatencyMs:    500,
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.3,
			CooldownPeriod:     time.Minute,
		},
	}))
	b.Start()
	defer b.Stop()
	defer close(gate.release)

	// Saturate the single instance.
	go func() { _, _ = b.Predict(context.Background(), "hot", "a", PredictOptions{Timeout: time.Hour}) }()
	<-gate.started

	// First tick under pressure scales up once.
	fake.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return instanceCount(t, b, "hot") == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Saturate both instances so pressure persists.
	go func() { _, _ = b.Predict(context.Background(), "hot", "b", PredictOptions{Timeout: time.Hour}) }()
	<-gate.started

	// Ticks inside the cooldown window must not scale again.
	fake.Advance(10 * time.Second)
	fake.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, instanceCount(t, b, "hot"), "cooldown must suppress a second scale-up")

	// Past the cooldown, one more scale-up lands.
	fake.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return instanceCount(t, b, "hot") == 3
	}, 2*time.Second, 5*time.Millisecond)
}

// TestScalingLoop_ScaleDownIdlePool tests that an idle oversized pool
// shrinks one instance per cooldown and never drops below min.
func TestScalingLoop_ScaleDownIdlePool(t *testing.T) {
	fake := clock.NewFake()
	b := New(Options{Clock: fake, EvaluationInterval: 10 * time.Second})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "idle",
		Factory: echoFactory("idle"),
		Policy: datatypes.ScalingPolicy{
			MinInstances:       1,
			MaxInstances:       4,
			TargetLatencyMs:    500,
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.3,
			CooldownPeriod:     30 * time.Second,
		},
	}))
	require.NoError(t, b.ScaleUp(context.Background(), "idle", 2))
	require.Equal(t, 3, instanceCount(t, b, "idle"))

	b.Start()
	defer b.Stop()

	// Manual scaling stamped the cooldown; step past it, then tick.
	fake.Advance(30 * time.Second)
	fake.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return instanceCount(t, b, "idle") == 2
	}, 2*time.Second, 5*time.Millisecond)

	fake.Advance(40 * time.Second)
	require.Eventually(t, func() bool {
		return instanceCount(t, b, "idle") == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Further ticks never go below MinInstances.
	fake.Advance(40 * time.Second)
	fake.Advance(40 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, instanceCount(t, b, "idle"))
}

// TestScaleDown_NeverRemovesBusyInstance tests manual scale-down
// safety: busy instances stay, min bound holds.
func TestScaleDown_NeverRemovesBusyInstance(t *testing.T) {
	gate := &gatedModel{
		name:    "pinned",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	b := New(Options{})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "pinned",
		Factory: func() (model.Model, error) { return gate, nil },
		Policy:  testPolicy(1, 3),
	}))
	require.NoError(t, b.ScaleUp(context.Background(), "pinned", 1))

	go func() { _, _ = b.Predict(context.Background(), "pinned", "x", PredictOptions{Timeout: time.Hour}) }()
	<-gate.started

	// One busy, one ready. Removing one takes the ready instance.
	require.NoError(t, b.ScaleDown("pinned", 1))
	instances, err := b.Instances("pinned")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, datatypes.InstanceBusy, instances[0].Status)

	// The busy instance is the last one; the min bound now blocks.
	err = b.ScaleDown("pinned", 1)
	assert.ErrorIs(t, err, ErrAtMinInstances)

	close(gate.release)
}

// TestManualScaleUp_RespectsMax tests the max bound on manual scaling.
func TestManualScaleUp_RespectsMax(t *testing.T) {
	b := New(Options{})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "capped",
		Factory: echoFactory("capped"),
		Policy:  testPolicy(1, 2),
	}))

	require.NoError(t, b.ScaleUp(context.Background(), "capped", 1))
	err := b.ScaleUp(context.Background(), "capped", 1)
	assert.ErrorIs(t, err, ErrAtMaxInstances)
	assert.Equal(t, 2, instanceCount(t, b, "capped"))
}

// TestUpdatePolicy_Validates tests administrative policy replacement.
func TestUpdatePolicy_Validates(t *testing.T) {
	b := New(Options{})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "m",
		Factory: echoFactory("m"),
		Policy:  testPolicy(1, 2),
	}))

	bad := testPolicy(1, 2)
	bad.TargetLatencyMs = 0
	assert.ErrorIs(t, b.UpdatePolicy("m", bad), ErrInvalidPolicy)

	good := testPolicy(1, 8)
	require.NoError(t, b.UpdatePolicy("m", good))

	assert.ErrorIs(t, b.UpdatePolicy("ghost", good), ErrModelNotFound)
}
