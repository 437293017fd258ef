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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/modelplane/services/controlplane/clock"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

func testConfig() datatypes.MonitoringConfig {
	return datatypes.MonitoringConfig{
		ModelName:    "scorer",
		MaxLatencyMs: 100,
	}
}

func newTestMonitor(t *testing.T, cfg datatypes.MonitoringConfig, fake *clock.Fake) *Monitor {
	t.Helper()
	mon, err := NewMonitor(cfg, Options{
		Clock: fake,
		Rand:  func() float64 { return 0 },
	})
	require.NoError(t, err)
	return mon
}

func alertsOfType(alerts []datatypes.Alert, typ datatypes.AlertType) []datatypes.Alert {
	var out []datatypes.Alert
	for _, a := range alerts {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestNewMonitor_InvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*datatypes.MonitoringConfig)
	}{
		{"missing model name", func(c *datatypes.MonitoringConfig) { c.ModelName = "" }},
		{"zero max latency", func(c *datatypes.MonitoringConfig) { c.MaxLatencyMs = 0 }},
		{"sampling rate above one", func(c *datatypes.MonitoringConfig) { c.SamplingRate = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := NewMonitor(cfg, Options{})
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRecordPrediction_LatencyAlertSeverities(t *testing.T) {
	// Above threshold raises high, above twice the threshold critical.
	for _, tc := range []struct {
		latency float64
		want    datatypes.AlertSeverity
	}{
		{150, datatypes.SeverityHigh},
		{250, datatypes.SeverityCritical},
	} {
		mon := newTestMonitor(t, testConfig(), clock.NewFake())
		mon.RecordPrediction(datatypes.MonitoringMetric{
			RequestID: "r1",
			LatencyMs: tc.latency,
		})

		alerts := alertsOfType(mon.Alerts(false), datatypes.AlertPerformance)
		require.Len(t, alerts, 1)
		assert.Equal(t, tc.want, alerts[0].Severity)
		assert.Equal(t, "scorer", alerts[0].ModelName)
	}
}

func TestRecordPrediction_LowConfidenceAlert(t *testing.T) {
	mon := newTestMonitor(t, testConfig(), clock.NewFake())
	conf := 0.3
	mon.RecordPrediction(datatypes.MonitoringMetric{
		RequestID:  "r1",
		LatencyMs:  10,
		Confidence: &conf,
	})

	alerts := mon.Alerts(false)
	require.Len(t, alerts, 1)
	assert.Equal(t, datatypes.AlertPerformance, alerts[0].Type)
	assert.Equal(t, datatypes.SeverityMedium, alerts[0].Severity)
}

func TestAlertCooldown_SuppressesRepeats(t *testing.T) {
	fake := clock.NewFake()
	mon := newTestMonitor(t, testConfig(), fake)

	mon.RecordPrediction(datatypes.MonitoringMetric{RequestID: "r1", LatencyMs: 150})
	mon.RecordPrediction(datatypes.MonitoringMetric{RequestID: "r2", LatencyMs: 150})
	assert.Len(t, mon.Alerts(false), 1, "second alert inside cooldown must be suppressed")

	fake.Advance(DefaultAlertCooldown + time.Second)
	mon.RecordPrediction(datatypes.MonitoringMetric{RequestID: "r3", LatencyMs: 150})
	assert.Len(t, mon.Alerts(false), 2)
}

func TestSamplingRate_SkipsPredictions(t *testing.T) {
	cfg := testConfig()
	cfg.SamplingRate = 0.5
	mon, err := NewMonitor(cfg, Options{
		Clock: clock.NewFake(),
		Rand:  func() float64 { return 0.99 },
	})
	require.NoError(t, err)

	mon.RecordPrediction(datatypes.MonitoringMetric{RequestID: "r1", LatencyMs: 10})
	assert.Equal(t, 0, mon.Health().Window.Requests)
}

func TestRecordOutcome_UnknownRequest(t *testing.T) {
	mon := newTestMonitor(t, testConfig(), clock.NewFake())
	err := mon.RecordOutcome("ghost", 1.0)
	assert.ErrorIs(t, err, ErrMetricNotFound)
}

func TestRecordOutcome_ConceptDriftAlert(t *testing.T) {
	mon := newTestMonitor(t, testConfig(), clock.NewFake())

	for i := 0; i < 100; i++ {
		mon.RecordPrediction(datatypes.MonitoringMetric{
			RequestID:  fmt.Sprintf("r%d", i),
			LatencyMs:  10,
			Prediction: 1.0,
		})
	}
	// First 75 outcomes match the prediction, the last 25 do not: the
	// recent window's accuracy collapses relative to the prior window.
	for i := 0; i < 100; i++ {
		actual := 1.0
		if i >= 75 {
			actual = 0.0
		}
		require.NoError(t, mon.RecordOutcome(fmt.Sprintf("r%d", i), actual))
	}

	driftAlerts := alertsOfType(mon.Alerts(false), datatypes.AlertDrift)
	require.Len(t, driftAlerts, 1)
	assert.Equal(t, datatypes.SeverityCritical, driftAlerts[0].Severity)
}

func TestRecordOutcome_NoDriftWhenAccuracyStable(t *testing.T) {
	mon := newTestMonitor(t, testConfig(), clock.NewFake())

	for i := 0; i < 120; i++ {
		id := fmt.Sprintf("r%d", i)
		mon.RecordPrediction(datatypes.MonitoringMetric{
			RequestID:  id,
			LatencyMs:  10,
			Prediction: 1.0,
		})
		require.NoError(t, mon.RecordOutcome(id, 1.0))
	}
	assert.Empty(t, alertsOfType(mon.Alerts(false), datatypes.AlertDrift))
}

func TestRingBuffer_EvictsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMetrics = 5
	mon := newTestMonitor(t, cfg, clock.NewFake())

	for i := 0; i < 8; i++ {
		mon.RecordPrediction(datatypes.MonitoringMetric{
			RequestID: fmt.Sprintf("r%d", i),
			LatencyMs: 10,
		})
	}
	assert.Equal(t, 5, mon.Health().Window.Requests)

	// Evicted requests are no longer addressable by outcome.
	err := mon.RecordOutcome("r0", 1.0)
	assert.ErrorIs(t, err, ErrMetricNotFound)
	assert.NoError(t, mon.RecordOutcome("r7", 1.0))
}

func TestEvaluationLoop_PurgesByAge(t *testing.T) {
	fake := clock.NewFake()
	cfg := testConfig()
	cfg.RetentionWindow = time.Minute
	cfg.EvaluationInterval = 30 * time.Second
	mon := newTestMonitor(t, cfg, fake)

	for i := 0; i < 3; i++ {
		mon.RecordPrediction(datatypes.MonitoringMetric{
			RequestID: fmt.Sprintf("r%d", i),
			LatencyMs: 10,
		})
	}
	require.Equal(t, 3, mon.Health().Window.Requests)

	mon.Start()
	defer mon.Stop()
	fake.Advance(2 * time.Minute)

	require.Eventually(t, func() bool {
		return mon.Health().Window.Requests == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEvaluationLoop_ErrorRateAlert(t *testing.T) {
	fake := clock.NewFake()
	cfg := testConfig()
	cfg.MaxErrorRate = 0.05
	mon := newTestMonitor(t, cfg, fake)

	for i := 0; i < 10; i++ {
		metric := datatypes.MonitoringMetric{
			RequestID: fmt.Sprintf("r%d", i),
			LatencyMs: 10,
		}
		if i < 3 {
			metric.ErrorCode = "model_failure"
		}
		mon.RecordPrediction(metric)
	}

	mon.Start()
	defer mon.Stop()
	fake.Advance(DefaultEvaluationInterval)

	require.Eventually(t, func() bool {
		return len(alertsOfType(mon.Alerts(false), datatypes.AlertError)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	alert := alertsOfType(mon.Alerts(false), datatypes.AlertError)[0]
	assert.Equal(t, datatypes.SeverityCritical, alert.Severity, "30%% errors is more than twice the threshold")
}

func TestDetectDrift_UpdatesHealthTrend(t *testing.T) {
	mon := newTestMonitor(t, testConfig(), clock.NewFake())

	baseline := make([]float64, 100)
	shifted := make([]float64, 100)
	for i := range baseline {
		baseline[i] = float64(i)
		shifted[i] = float64(i) + 500
	}
	mon.SetBaseline(map[string][]float64{"amount": baseline})

	findings := mon.DetectDrift(map[string][]float64{"amount": shifted})
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Drifted)
	assert.InDelta(t, 1.0, findings[0].Score, 0.01)

	health := mon.Health()
	assert.Equal(t, datatypes.DriftIncreasing, health.Drift.Trend)
	assert.Greater(t, health.Drift.MaxScore, 0.5)
	assert.Equal(t, datatypes.HealthWarning, health.Status)
	assert.Contains(t, health.Recommendations, "model drift detected - consider retraining")
}

func TestHealth_StatusRollup(t *testing.T) {
	t.Run("healthy with traffic", func(t *testing.T) {
		mon := newTestMonitor(t, testConfig(), clock.NewFake())
		for i := 0; i < 20; i++ {
			mon.RecordPrediction(datatypes.MonitoringMetric{
				RequestID: fmt.Sprintf("r%d", i),
				LatencyMs: 10,
			})
		}
		health := mon.Health()
		assert.Equal(t, datatypes.HealthHealthy, health.Status)
		assert.Empty(t, health.Recommendations)
	})

	t.Run("warning on medium alert", func(t *testing.T) {
		mon := newTestMonitor(t, testConfig(), clock.NewFake())
		conf := 0.1
		mon.RecordPrediction(datatypes.MonitoringMetric{
			RequestID:  "r1",
			LatencyMs:  10,
			Confidence: &conf,
		})
		assert.Equal(t, datatypes.HealthWarning, mon.Health().Status)
	})

	t.Run("degraded on high alert", func(t *testing.T) {
		mon := newTestMonitor(t, testConfig(), clock.NewFake())
		mon.RecordPrediction(datatypes.MonitoringMetric{RequestID: "r1", LatencyMs: 150})
		assert.Equal(t, datatypes.HealthDegraded, mon.Health().Status)
	})

	t.Run("critical on critical alert", func(t *testing.T) {
		mon := newTestMonitor(t, testConfig(), clock.NewFake())
		mon.RecordPrediction(datatypes.MonitoringMetric{RequestID: "r1", LatencyMs: 500})
		assert.Equal(t, datatypes.HealthCritical, mon.Health().Status)
	})

	t.Run("low volume recommendation", func(t *testing.T) {
		mon := newTestMonitor(t, testConfig(), clock.NewFake())
		assert.Contains(t, mon.Health().Recommendations, "insufficient request volume")
	})
}

func TestHealth_WindowAggregates(t *testing.T) {
	fake := clock.NewFake()
	mon := newTestMonitor(t, testConfig(), fake)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("r%d", i)
		mon.RecordPrediction(datatypes.MonitoringMetric{
			RequestID:  id,
			LatencyMs:  float64(10 * (i + 1)),
			Prediction: 1.0,
		})
	}
	require.NoError(t, mon.RecordOutcome("r0", 1.0))
	require.NoError(t, mon.RecordOutcome("r1", 0.0))

	window := mon.Health().Window
	assert.Equal(t, 4, window.Requests)
	assert.InDelta(t, 25.0, window.AvgLatencyMs, 0.001)
	assert.Zero(t, window.ErrorRate)
	require.NotNil(t, window.Accuracy)
	assert.InDelta(t, 0.5, *window.Accuracy, 0.001)
}

func TestResolveAlert(t *testing.T) {
	mon := newTestMonitor(t, testConfig(), clock.NewFake())
	mon.RecordPrediction(datatypes.MonitoringMetric{RequestID: "r1", LatencyMs: 150})

	alerts := mon.Alerts(false)
	require.Len(t, alerts, 1)

	require.NoError(t, mon.ResolveAlert(alerts[0].ID))
	assert.Empty(t, mon.Alerts(false))
	assert.Len(t, mon.Alerts(true), 1)
	assert.Equal(t, datatypes.HealthHealthy, mon.Health().Status)

	// Resolving again is a no-op; an unknown id is an error.
	require.NoError(t, mon.ResolveAlert(alerts[0].ID))
	assert.ErrorIs(t, mon.ResolveAlert(uuid.New()), ErrAlertNotFound)
}

func TestRegistry_Lifecycle(t *testing.T) {
	fake := clock.NewFake()
	reg := NewRegistry(Options{Clock: fake, Rand: func() float64 { return 0 }})
	defer reg.Close()

	mon, err := reg.StartMonitoring(testConfig())
	require.NoError(t, err)
	require.NotNil(t, mon)

	_, err = reg.StartMonitoring(testConfig())
	assert.ErrorIs(t, err, ErrAlreadyMonitored)

	got, err := reg.Monitor("scorer")
	require.NoError(t, err)
	assert.Same(t, mon, got)
	assert.Equal(t, []string{"scorer"}, reg.Models())

	health := reg.Health()
	require.Len(t, health, 1)
	assert.Equal(t, "scorer", health[0].ModelName)

	require.NoError(t, reg.StopMonitoring("scorer"))
	assert.ErrorIs(t, reg.StopMonitoring("scorer"), ErrModelNotMonitored)
	_, err = reg.Monitor("scorer")
	assert.ErrorIs(t, err, ErrModelNotMonitored)
}

func TestRegistry_ClosedRejectsNewMonitors(t *testing.T) {
	reg := NewRegistry(Options{Clock: clock.NewFake()})
	reg.Close()
	_, err := reg.StartMonitoring(testConfig())
	assert.Error(t, err)
}
