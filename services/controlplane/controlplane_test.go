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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/modelplane/services/controlplane/balancer"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) Service {
	t.Helper()
	svc, err := New(Config{StoreInMemory: true})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

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

func registerEcho(t *testing.T, svc Service, name string) {
	t.Helper()
	err := svc.Balancer().RegisterModel(context.Background(), balancer.Registration{
		Name: name,
		Factory: model.FuncFactory(name, func(_ context.Context, input any) (model.Output, error) {
			return model.Output{Value: fmt.Sprintf("%s:%v", name, input), Confidence: model.Confidence(0.9)}, nil
		}),
		Policy: testPolicy(1, 3),
	})
	require.NoError(t, err)
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestServiceEndToEnd wires an in-process model through an experiment
// over HTTP and verifies the prediction flows through the balancer and
// lands in the model's monitor.
func TestServiceEndToEnd(t *testing.T) {
	svc := newTestService(t)
	registerEcho(t, svc, "scorer")

	require.NotNil(t, svc.Monitoring())
	_, err := svc.Monitoring().StartMonitoring(datatypes.MonitoringConfig{
		ModelName:    "scorer",
		MaxLatencyMs: 1000,
	})
	require.NoError(t, err)

	w := postJSON(t, svc.Router(), "/v1/experiments", map[string]any{
		"name": "scorer-rollout",
		"control": map[string]any{
			"id": "control", "name": "baseline", "model_name": "scorer", "percentage": 50,
		},
		"variants": []map[string]any{
			{"id": "v1", "name": "candidate", "model_name": "scorer", "percentage": 50},
		},
		"min_sample_size":    10,
		"significance_level": 0.05,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = postJSON(t, svc.Router(), "/v1/experiments/"+created.ExperimentID+"/predict",
		map[string]any{"user_id": "user-1", "input": "txn-42"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "scorer:txn-42")

	// The prediction sample reaches the monitor through the telemetry
	// adapter.
	mon, err := svc.Monitoring().Monitor("scorer")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return mon.Health().Window.Requests == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPredict_UnregisteredModelSurfacesError(t *testing.T) {
	svc := newTestService(t)

	w := postJSON(t, svc.Router(), "/v1/experiments", map[string]any{
		"name": "ghost-test",
		"control": map[string]any{
			"id": "control", "name": "baseline", "model_name": "ghost", "percentage": 100,
		},
		"variants": []map[string]any{
			{"id": "v1", "name": "candidate", "model_name": "ghost", "percentage": 0},
		},
		"min_sample_size":    10,
		"significance_level": 0.05,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = postJSON(t, svc.Router(), "/v1/experiments/"+created.ExperimentID+"/predict",
		map[string]any{"user_id": "u", "input": "x"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "model not found")
}

func TestRegistryTelemetry_UnmonitoredModelDropped(t *testing.T) {
	svc := newTestService(t)

	// Must not panic or create a monitor.
	tel := registryTelemetry{svc.Monitoring()}
	tel.Record(datatypes.MonitoringMetric{RequestID: "r", ModelName: "nobody"})
	assert.Empty(t, svc.Monitoring().Models())
}

func writePolicyFile(t *testing.T, path string, maxInstances int) {
	t.Helper()
	content := fmt.Sprintf(`ranker:
  min_instances: 1
  max_instances: %d
  target_latency_ms: 500
  scale_up_threshold: 0.8
  scale_down_threshold: 0.3
  cooldown_period: 1m
`, maxInstances)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPolicyWatcher_HotReload(t *testing.T) {
	svc := newTestService(t)
	registerEcho(t, svc, "ranker")

	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	writePolicyFile(t, path, 3)

	watcher, err := NewPolicyWatcher(path, svc.Balancer())
	require.NoError(t, err)
	watcher.Start()
	defer watcher.Stop()

	// Initial apply: max 3, so growing past it fails.
	require.NoError(t, svc.Balancer().ScaleUp(context.Background(), "ranker", 2))
	require.ErrorIs(t, svc.Balancer().ScaleUp(context.Background(), "ranker", 1),
		balancer.ErrAtMaxInstances)

	// Raise the ceiling and wait for the reload to land.
	writePolicyFile(t, path, 10)
	assert.Eventually(t, func() bool {
		return svc.Balancer().ScaleUp(context.Background(), "ranker", 1) == nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestNewPolicyWatcher_RejectsBrokenFile(t *testing.T) {
	svc := newTestService(t)

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := NewPolicyWatcher(path, svc.Balancer())
	assert.Error(t, err)

	_, err = NewPolicyWatcher(filepath.Join(t.TempDir(), "missing.yaml"), svc.Balancer())
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nstore_in_memory: true\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.StoreInMemory)
	assert.Equal(t, time.Minute, cfg.ExportInterval)
	assert.Equal(t, "modelplane-otel-collector:4317", cfg.OTelEndpoint)
}

func TestLoadConfig_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alert_rate_per_second: -2\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNew_InfluxRequiresCredentials(t *testing.T) {
	cfg := Config{}
	cfg.Influx.URL = "http://influx:8086"

	_, err := New(cfg)
	assert.ErrorContains(t, err, "influx")
}
