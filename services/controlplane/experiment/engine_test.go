// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/modelplane/services/controlplane/clock"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
)

func echoInvoker() Invoker {
	return InvokerFunc(func(_ context.Context, modelName string, input any) (model.Output, error) {
		return model.Output{Value: fmt.Sprintf("%s:%v", modelName, input)}, nil
	})
}

func validConfig() datatypes.ExperimentConfig {
	cfg := splitConfig(50, 50)
	cfg.Name = "checkout scorer test"
	cfg.MinSampleSize = 10
	cfg.SignificanceLevel = 0.05
	return cfg
}

func newTestEngine(invoker Invoker, fake *clock.Fake) *Engine {
	return NewEngine(Options{Invoker: invoker, Clock: fake})
}

func TestStartExperiment_Validation(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())

	cases := []struct {
		name   string
		mutate func(*datatypes.ExperimentConfig)
	}{
		{"split does not sum to 100", func(c *datatypes.ExperimentConfig) {
			c.Control.Percentage = 40
		}},
		{"no challenger variants", func(c *datatypes.ExperimentConfig) {
			c.Variants = nil
			c.Control.Percentage = 100
		}},
		{"duplicate variant id", func(c *datatypes.ExperimentConfig) {
			c.Variants[0].ID = "control"
		}},
		{"zero min sample size", func(c *datatypes.ExperimentConfig) {
			c.MinSampleSize = 0
		}},
		{"significance level out of range", func(c *datatypes.ExperimentConfig) {
			c.SignificanceLevel = 1.0
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			_, err := e.StartExperiment(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
	assert.Empty(t, e.Experiments(), "failed starts must not register state")
}

func TestStartExperiment_RegistersRunning(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	exp, err := e.Experiment(id)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ExperimentRunning, exp.Status)
	assert.Equal(t, "checkout scorer test", exp.Config.Name)
}

func TestPredict_UnknownExperiment(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	_, err := e.Predict(context.Background(), "ghost", PredictRequest{UserID: "u1"})
	assert.ErrorIs(t, err, ErrExperimentNotFound)
}

func TestPredict_StickyAcrossCalls(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	first, err := e.Predict(context.Background(), id, PredictRequest{UserID: "u1", Input: "x"})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		resp, err := e.Predict(context.Background(), id, PredictRequest{UserID: "u1", Input: "x"})
		require.NoError(t, err)
		assert.Equal(t, first.VariantID, resp.VariantID)
	}
}

func TestPredict_ConcurrentFirstCallsConverge(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	const workers = 32
	variants := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := e.Predict(context.Background(), id, PredictRequest{UserID: "same-user", Input: i})
			if err == nil {
				variants[i] = resp.VariantID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, variants[0], variants[i])
	}
}

func TestPredict_StoppedExperimentRejected(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	_, err = e.StopExperiment(id, "manual")
	require.NoError(t, err)

	_, err = e.Predict(context.Background(), id, PredictRequest{UserID: "u1"})
	assert.ErrorIs(t, err, ErrExperimentNotRunning)
}

func TestPredict_ModelFailurePropagatesAndIsRecorded(t *testing.T) {
	boom := errors.New("inference backend down")
	failing := InvokerFunc(func(context.Context, string, any) (model.Output, error) {
		return model.Output{}, boom
	})
	e := newTestEngine(failing, clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	_, err = e.Predict(context.Background(), id, PredictRequest{UserID: "u1"})
	assert.ErrorIs(t, err, boom)

	results, err := e.Results(id)
	require.NoError(t, err)
	assert.Equal(t, 1, results.TotalRequests, "failed predictions still count")
	errorsTotal := 0
	for _, v := range results.Variants {
		errorsTotal += v.Errors
	}
	assert.Equal(t, 1, errorsTotal)
}

func TestRecordOutcome_Semantics(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	resp, err := e.Predict(context.Background(), id, PredictRequest{UserID: "u1"})
	require.NoError(t, err)

	assert.ErrorIs(t,
		e.RecordOutcome(id, "no-such-request", true, 0, nil),
		ErrRequestNotFound)

	require.NoError(t, e.RecordOutcome(id, resp.RequestID, true, 12.5, map[string]float64{"basket": 3}))

	// First write wins.
	err = e.RecordOutcome(id, resp.RequestID, false, 0, nil)
	assert.ErrorIs(t, err, ErrOutcomeRecorded)

	results, err := e.Results(id)
	require.NoError(t, err)
	succ := 0
	for _, v := range results.Variants {
		succ += v.Successes
	}
	assert.Equal(t, 1, succ, "the losing duplicate write must not flip the outcome")
}

func TestResults_ZeroTraffic(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	results, err := e.Results(id)
	require.NoError(t, err)
	assert.False(t, results.Stats.IsSignificant)
	assert.Equal(t, datatypes.ActionContinue, results.Recommendation.Action)
	require.Len(t, results.Variants, 2, "zero-traffic variants are reported, not omitted")
	assert.Zero(t, results.Variants[0].Requests)
	assert.Zero(t, results.Variants[1].Requests)
}

func TestResults_SignificantWinnerRecommendsDeploy(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	// Route 200 distinct users, then make the challenger convert far
	// better than control.
	byVariant := map[string][]string{}
	for i := 0; i < 200; i++ {
		resp, err := e.Predict(context.Background(), id,
			PredictRequest{UserID: fmt.Sprintf("user-%d", i), Input: i})
		require.NoError(t, err)
		byVariant[resp.VariantID] = append(byVariant[resp.VariantID], resp.RequestID)
	}
	require.Len(t, byVariant, 2, "both arms should receive traffic")

	for variantID, requests := range byVariant {
		for i, reqID := range requests {
			success := i%10 == 0 // 10% baseline
			if variantID == "v1" {
				success = i%10 != 0 // 90% challenger
			}
			require.NoError(t, e.RecordOutcome(id, reqID, success, 0, nil))
		}
	}

	results, err := e.Results(id)
	require.NoError(t, err)
	assert.True(t, results.Stats.IsSignificant)
	assert.Equal(t, "v1", results.Stats.WinningVariant)
	assert.Positive(t, results.Stats.LiftPercent)
	assert.Equal(t, datatypes.ActionStopAndDeploy, results.Recommendation.Action)
	assert.NotEmpty(t, results.Insights)
}

func TestResults_ControlWinnerRecommendsRevert(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	byVariant := map[string][]string{}
	for i := 0; i < 200; i++ {
		resp, err := e.Predict(context.Background(), id,
			PredictRequest{UserID: fmt.Sprintf("user-%d", i), Input: i})
		require.NoError(t, err)
		byVariant[resp.VariantID] = append(byVariant[resp.VariantID], resp.RequestID)
	}

	for variantID, requests := range byVariant {
		for i, reqID := range requests {
			success := i%10 != 0
			if variantID == "v1" {
				success = i%10 == 0
			}
			require.NoError(t, e.RecordOutcome(id, reqID, success, 0, nil))
		}
	}

	results, err := e.Results(id)
	require.NoError(t, err)
	assert.True(t, results.Stats.IsSignificant)
	assert.Equal(t, "control", results.Stats.WinningVariant)
	assert.Equal(t, datatypes.ActionStopAndRevert, results.Recommendation.Action)
}

func TestRoundTrip_HundredPredictionsAccounted(t *testing.T) {
	e := newTestEngine(echoInvoker(), clock.NewFake())
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := e.Predict(context.Background(), id,
			PredictRequest{UserID: fmt.Sprintf("user-%d", i), Input: i})
		require.NoError(t, err)
	}

	results, err := e.StopExperiment(id, "test complete")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ExperimentStopped, results.Status)
	assert.Equal(t, 100, results.TotalRequests)

	perVariant := 0
	for _, v := range results.Variants {
		perVariant += v.Requests
	}
	assert.Equal(t, 100, perVariant)
}

func TestStopExperiment_Idempotent(t *testing.T) {
	fake := clock.NewFake()
	e := newTestEngine(echoInvoker(), fake)
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	first, err := e.StopExperiment(id, "done")
	require.NoError(t, err)
	endedAt1, err := e.Experiment(id)
	require.NoError(t, err)
	require.NotNil(t, endedAt1.EndedAt)

	fake.Advance(time.Hour)
	second, err := e.StopExperiment(id, "done again")
	require.NoError(t, err)

	endedAt2, err := e.Experiment(id)
	require.NoError(t, err)
	assert.Equal(t, *endedAt1.EndedAt, *endedAt2.EndedAt, "end timestamp is frozen")
	assert.Equal(t, "done", endedAt2.StopReason)
	assert.Equal(t, first.TotalRequests, second.TotalRequests)

	_, err = e.StopExperiment("ghost", "x")
	assert.ErrorIs(t, err, ErrExperimentNotFound)
}

func TestMaxDuration_AutoCompletes(t *testing.T) {
	fake := clock.NewFake()
	e := newTestEngine(echoInvoker(), fake)

	cfg := validConfig()
	cfg.MaxDuration = time.Hour
	id, err := e.StartExperiment(cfg)
	require.NoError(t, err)

	fake.Advance(time.Hour)

	exp, err := e.Experiment(id)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ExperimentCompleted, exp.Status)
	require.NotNil(t, exp.EndedAt)

	_, err = e.Predict(context.Background(), id, PredictRequest{UserID: "u1"})
	assert.ErrorIs(t, err, ErrExperimentNotRunning)
}

func TestMaxDuration_StopCancelsTimer(t *testing.T) {
	fake := clock.NewFake()
	e := newTestEngine(echoInvoker(), fake)

	cfg := validConfig()
	cfg.MaxDuration = time.Hour
	id, err := e.StartExperiment(cfg)
	require.NoError(t, err)

	_, err = e.StopExperiment(id, "early")
	require.NoError(t, err)
	fake.Advance(2 * time.Hour)

	exp, err := e.Experiment(id)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ExperimentStopped, exp.Status)
	assert.Equal(t, "early", exp.StopReason)
}

type capturingTelemetry struct {
	mu  sync.Mutex
	got []datatypes.MonitoringMetric
}

func (c *capturingTelemetry) Record(m datatypes.MonitoringMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, m)
}

func TestPredict_ForwardsTelemetry(t *testing.T) {
	tel := &capturingTelemetry{}
	e := NewEngine(Options{Invoker: echoInvoker(), Clock: clock.NewFake(), Telemetry: tel})
	id, err := e.StartExperiment(validConfig())
	require.NoError(t, err)

	resp, err := e.Predict(context.Background(), id, PredictRequest{
		UserID:   "u1",
		Input:    "payload",
		Features: map[string]float64{"amount": 42},
	})
	require.NoError(t, err)

	tel.mu.Lock()
	defer tel.mu.Unlock()
	require.Len(t, tel.got, 1)
	assert.Equal(t, resp.RequestID, tel.got[0].RequestID)
	assert.Equal(t, resp.ModelName, tel.got[0].ModelName)
	assert.Equal(t, 42.0, tel.got[0].Features["amount"])
	assert.Equal(t, "u1", tel.got[0].UserID)
}
