// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the control
// plane: experiment traffic, instance pool state, scaling actions, and
// alert volume.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "modelplane"

// Metrics holds all Prometheus collectors for the control plane.
//
// # Description
//
// Initialize once at startup via InitMetrics(). Engine packages accept
// a *Metrics and tolerate nil, so unit tests run without touching the
// default registry.
type Metrics struct {
	// PredictionsTotal counts experiment predictions.
	// Labels: experiment, variant, status (success, error)
	PredictionsTotal *prometheus.CounterVec

	// AssignmentsTotal counts first-time sticky assignments.
	// Labels: experiment, variant
	AssignmentsTotal *prometheus.CounterVec

	// OutcomesTotal counts recorded outcomes.
	// Labels: experiment, variant, result (success, failure)
	OutcomesTotal *prometheus.CounterVec

	// PredictionLatencySeconds measures end-to-end prediction latency.
	// Labels: model
	PredictionLatencySeconds *prometheus.HistogramVec

	// InstanceCount tracks pool membership by state.
	// Labels: model, status
	InstanceCount *prometheus.GaugeVec

	// ScalingActionsTotal counts scaling decisions.
	// Labels: model, direction (up, down, replace)
	ScalingActionsTotal *prometheus.CounterVec

	// AlertsTotal counts raised alerts.
	// Labels: model, type, severity
	AlertsTotal *prometheus.CounterVec

	// CapacityWaitSeconds measures time spent waiting for a ready
	// instance. Labels: model, outcome (acquired, timeout)
	CapacityWaitSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics creates and registers all collectors on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		PredictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "experiment",
				Name:      "predictions_total",
				Help:      "Experiment predictions by variant and status",
			},
			[]string{"experiment", "variant", "status"},
		),

		AssignmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "experiment",
				Name:      "assignments_total",
				Help:      "First-time sticky variant assignments",
			},
			[]string{"experiment", "variant"},
		),

		OutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "experiment",
				Name:      "outcomes_total",
				Help:      "Recorded experiment outcomes by result",
			},
			[]string{"experiment", "variant", "result"},
		),

		PredictionLatencySeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "balancer",
				Name:      "prediction_latency_seconds",
				Help:      "End-to-end prediction latency per model",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"model"},
		),

		InstanceCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "balancer",
				Name:      "instances",
				Help:      "Pool instances by model and status",
			},
			[]string{"model", "status"},
		),

		ScalingActionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "balancer",
				Name:      "scaling_actions_total",
				Help:      "Scaling decisions by model and direction",
			},
			[]string{"model", "direction"},
		),

		AlertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "monitoring",
				Name:      "alerts_total",
				Help:      "Alerts raised by model, type, and severity",
			},
			[]string{"model", "type", "severity"},
		),

		CapacityWaitSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "balancer",
				Name:      "capacity_wait_seconds",
				Help:      "Time spent waiting for a ready instance",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
			},
			[]string{"model", "outcome"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Nil-safe helpers
// =============================================================================

// RecordPrediction records one experiment prediction.
func (m *Metrics) RecordPrediction(experiment, variant string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.PredictionsTotal.WithLabelValues(experiment, variant, status).Inc()
}

// RecordAssignment records a first-time sticky assignment.
func (m *Metrics) RecordAssignment(experiment, variant string) {
	if m == nil {
		return
	}
	m.AssignmentsTotal.WithLabelValues(experiment, variant).Inc()
}

// RecordOutcome records a conversion outcome.
func (m *Metrics) RecordOutcome(experiment, variant string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.OutcomesTotal.WithLabelValues(experiment, variant, result).Inc()
}

// ObserveLatency records end-to-end prediction latency.
func (m *Metrics) ObserveLatency(modelName string, seconds float64) {
	if m == nil {
		return
	}
	m.PredictionLatencySeconds.WithLabelValues(modelName).Observe(seconds)
}

// SetInstanceCount sets the gauge for one (model, status) pair.
func (m *Metrics) SetInstanceCount(modelName, status string, n int) {
	if m == nil {
		return
	}
	m.InstanceCount.WithLabelValues(modelName, status).Set(float64(n))
}

// RecordScaling records a scaling decision.
func (m *Metrics) RecordScaling(modelName, direction string) {
	if m == nil {
		return
	}
	m.ScalingActionsTotal.WithLabelValues(modelName, direction).Inc()
}

// RecordAlert records a raised alert.
func (m *Metrics) RecordAlert(modelName, alertType, severity string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(modelName, alertType, severity).Inc()
}

// ObserveCapacityWait records time spent waiting for capacity.
func (m *Metrics) ObserveCapacityWait(modelName, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CapacityWaitSeconds.WithLabelValues(modelName, outcome).Observe(seconds)
}
