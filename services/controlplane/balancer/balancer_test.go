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
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
)

// testPolicy returns a permissive policy for unit tests.
func testPolicy(minInst, maxInst int) datatypes.ScalingPolicy {
	return datatypes.ScalingPolicy{
		MinInstances:       minInst,
		MaxInstances:       maxInst,
		TargetLatencyMs:    500,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.3,
		CooldownPeriod:     time.Minute,
	}
}

// echoFactory produces instances that echo their input immediately.
func echoFactory(name string) model.Factory {
	return model.FuncFactory(name, func(_ context.Context, input any) (model.Output, error) {
		return model.Output{Value: input}, nil
	})
}

// gatedModel blocks inside Predict until released, so tests can hold
// an instance busy deterministically.
type gatedModel struct {
	name    string
	started chan struct{}
	release chan struct{}
}

func (g *gatedModel) Name() string { return g.name }

func (g *gatedModel) Predict(ctx context.Context, input any) (model.Output, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return model.Output{Value: input}, nil
	case <-ctx.Done():
		return model.Output{}, ctx.Err()
	}
}

// TestRegisterModel_MinInstancesReady tests that registration eagerly
// spawns exactly MinInstances ready instances.
func TestRegisterModel_MinInstancesReady(t *testing.T) {
	b := New(Options{})
	err := b.RegisterModel(context.Background(), Registration{
		Name:    "scorer",
		Factory: echoFactory("scorer"),
		Policy:  testPolicy(2, 4),
	})
	require.NoError(t, err)

	instances, err := b.Instances("scorer")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	for _, inst := range instances {
		assert.Equal(t, datatypes.InstanceReady, inst.Status)
	}
}

// TestRegisterModel_WarmupFailuresTolerated tests that a model failing
// its warmup samples still registers.
func TestRegisterModel_WarmupFailuresTolerated(t *testing.T) {
	factory := model.FuncFactory("flaky", func(_ context.Context, input any) (model.Output, error) {
		if input == "warmup" {
			return model.Output{}, errors.New("cold start")
		}
		return model.Output{Value: input}, nil
	})

	b := New(Options{})
	err := b.RegisterModel(context.Background(), Registration{
		Name:         "flaky",
		Factory:      factory,
		Policy:       testPolicy(1, 2),
		WarmupInputs: []any{"warmup", "warmup"},
	})
	require.NoError(t, err)

	instances, err := b.Instances("flaky")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, datatypes.InstanceReady, instances[0].Status)
}

// TestRegisterModel_InvalidPolicy tests structural policy validation.
func TestRegisterModel_InvalidPolicy(t *testing.T) {
	b := New(Options{})

	cases := []struct {
		name   string
		policy datatypes.ScalingPolicy
	}{
		{"zero min", datatypes.ScalingPolicy{MinInstances: 0, MaxInstances: 2, TargetLatencyMs: 100, ScaleUpThreshold: 0.8}},
		{"max below min", datatypes.ScalingPolicy{MinInstances: 3, MaxInstances: 2, TargetLatencyMs: 100, ScaleUpThreshold: 0.8}},
		{"zero latency target", datatypes.ScalingPolicy{MinInstances: 1, MaxInstances: 2, ScaleUpThreshold: 0.8}},
		{"down above up", datatypes.ScalingPolicy{MinInstances: 1, MaxInstances: 2, TargetLatencyMs: 100, ScaleUpThreshold: 0.5, ScaleDownThreshold: 0.6}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := b.RegisterModel(context.Background(), Registration{
				Name:    "m-" + tc.name,
				Factory: echoFactory("m"),
				Policy:  tc.policy,
			})
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

// TestRegisterModel_Duplicate tests duplicate registration rejection.
func TestRegisterModel_Duplicate(t *testing.T) {
	b := New(Options{})
	reg := Registration{Name: "dup", Factory: echoFactory("dup"), Policy: testPolicy(1, 2)}

	require.NoError(t, b.RegisterModel(context.Background(), reg))
	err := b.RegisterModel(context.Background(), reg)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

// TestPredict_UnknownModel tests the not-found path.
func TestPredict_UnknownModel(t *testing.T) {
	b := New(Options{})
	_, err := b.Predict(context.Background(), "ghost", "x", PredictOptions{})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

// TestPredict_Success tests the happy path updates instance counters.
func TestPredict_Success(t *testing.T) {
	b := New(Options{})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "echo",
		Factory: echoFactory("echo"),
		Policy:  testPolicy(1, 2),
	}))

	out, err := b.Predict(context.Background(), "echo", "hello", PredictOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Value)

	instances, err := b.Instances("echo")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, int64(1), instances[0].RequestCount)
	assert.Equal(t, datatypes.InstanceReady, instances[0].Status)
}

// TestPredict_Timeout_NoCapacity tests that a saturated pool at max
// size yields ErrNoCapacity within the caller's timeout instead of
// blocking indefinitely.
func TestPredict_Timeout_NoCapacity(t *testing.T) {
	gate := &gatedModel{
		name:    "slow",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	b := New(Options{})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "slow",
		Factory: func() (model.Model, error) { return gate, nil },
		Policy:  testPolicy(1, 1),
	}))

	go func() {
		_, _ = b.Predict(context.Background(), "slow", "first", PredictOptions{})
	}()
	<-gate.started

	_, err := b.Predict(context.Background(), "slow", "second", PredictOptions{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrNoCapacity)

	close(gate.release)
}

// TestPredict_DemandScaleUp tests that a saturated pool below max
// triggers an asynchronous scale-up and the waiting caller completes
// on the new instance.
func TestPredict_DemandScaleUp(t *testing.T) {
	gate := &gatedModel{
		name:    "burst",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	var created atomic.Int32
	factory := func() (model.Model, error) {
		if created.Add(1) == 1 {
			return gate, nil
		}
		return model.NewFunc("burst", func(_ context.Context, input any) (model.Output, error) {
			return model.Output{Value: input}, nil
		}), nil
	}

	b := New(Options{})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "burst",
		Factory: factory,
		Policy:  testPolicy(1, 2),
	}))

	go func() {
		_, _ = b.Predict(context.Background(), "burst", "first", PredictOptions{})
	}()
	<-gate.started

	out, err := b.Predict(context.Background(), "burst", "second", PredictOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "second", out.Value)

	instances, err := b.Instances("burst")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	close(gate.release)
}

// TestPredict_FailurePropagatesAndReplaces tests fault isolation: the
// model error surfaces unmodified, the failing instance is removed
// once a majority errored, and a replacement is spawned.
func TestPredict_FailurePropagatesAndReplaces(t *testing.T) {
	boom := errors.New("weights corrupted")
	var created atomic.Int32
	factory := func() (model.Model, error) {
		if created.Add(1) == 1 {
			return model.NewFunc("frail", func(_ context.Context, _ any) (model.Output, error) {
				return model.Output{}, boom
			}), nil
		}
		return model.NewFunc("frail", func(_ context.Context, input any) (model.Output, error) {
			return model.Output{Value: input}, nil
		}), nil
	}

	b := New(Options{})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "frail",
		Factory: factory,
		Policy:  testPolicy(1, 2),
	}))

	_, err := b.Predict(context.Background(), "frail", "x", PredictOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "model failure must surface unmodified")

	var modelErr *ModelError
	assert.ErrorAs(t, err, &modelErr)

	// The replacement spawn is asynchronous.
	require.Eventually(t, func() bool {
		instances, ierr := b.Instances("frail")
		if ierr != nil || len(instances) != 1 {
			return false
		}
		return instances[0].Status == datatypes.InstanceReady
	}, 2*time.Second, 10*time.Millisecond, "expected a ready replacement instance")

	out, err := b.Predict(context.Background(), "frail", "y", PredictOptions{})
	require.NoError(t, err)
	assert.Equal(t, "y", out.Value)
}

// TestPredict_ConcurrentLoad tests that concurrent predictions across
// a small pool all complete and are accounted for.
func TestPredict_ConcurrentLoad(t *testing.T) {
	b := New(Options{})
	require.NoError(t, b.RegisterModel(context.Background(), Registration{
		Name:    "echo",
		Factory: echoFactory("echo"),
		Policy:  testPolicy(2, 4),
	}))

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := b.Predict(context.Background(), "echo", fmt.Sprintf("req-%d", i), PredictOptions{Timeout: 2 * time.Second})
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	instances, err := b.Instances("echo")
	require.NoError(t, err)
	var total int64
	for _, inst := range instances {
		total += inst.RequestCount
	}
	assert.Equal(t, int64(n), total, "every request must be counted once")
}
