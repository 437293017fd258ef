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

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Monitoring Configuration
// =============================================================================

// MonitoringConfig controls per-model telemetry collection and the
// periodic evaluation loop.
type MonitoringConfig struct {
	// ModelName is the model this monitor watches. Required.
	ModelName string `json:"model_name" validate:"required"`

	// MaxLatencyMs is the real-time latency threshold. A prediction
	// slower than this raises a performance alert; more than twice this
	// escalates to critical.
	MaxLatencyMs float64 `json:"max_latency_ms" validate:"gt=0"`

	// MinConfidence is the real-time confidence floor. Default: 0.5.
	MinConfidence float64 `json:"min_confidence" validate:"gte=0,lte=1"`

	// MaxErrorRate is the trailing-window error-rate threshold checked
	// each evaluation tick. Default: 0.05.
	MaxErrorRate float64 `json:"max_error_rate" validate:"gte=0,lte=1"`

	// SamplingRate is the probability a prediction is stored, in (0, 1].
	// Default: 1.0 (store everything).
	SamplingRate float64 `json:"sampling_rate" validate:"gt=0,lte=1"`

	// EvaluationInterval is the cadence of the background sweep.
	// Default: 30s.
	EvaluationInterval time.Duration `json:"evaluation_interval"`

	// RetentionWindow is the age past which stored metrics are purged.
	// Default: 1h.
	RetentionWindow time.Duration `json:"retention_window"`

	// MaxMetrics caps the in-memory ring buffer. Default: 10000.
	MaxMetrics int `json:"max_metrics"`

	// DriftDetectionEnabled turns on the per-tick feature drift sweep.
	DriftDetectionEnabled bool `json:"drift_detection_enabled"`

	// AlertCooldown suppresses repeat alerts of the same (model, type)
	// within this window. Default: 5m.
	AlertCooldown time.Duration `json:"alert_cooldown"`
}

// MonitoringMetric is one sampled prediction with optional ground truth.
//
// Retained in a bounded ring buffer and purged by age on the periodic
// sweep; never exposed for mutation outside the monitor.
type MonitoringMetric struct {
	RequestID  string             `json:"request_id"`
	ModelName  string             `json:"model_name"`
	Timestamp  time.Time          `json:"timestamp"`
	LatencyMs  float64            `json:"latency_ms"`
	Prediction any                `json:"prediction,omitempty"`
	Confidence *float64           `json:"confidence,omitempty"`
	Features   map[string]float64 `json:"features,omitempty"`
	Actual     any                `json:"actual,omitempty"`
	HasOutcome bool               `json:"has_outcome"`
	Correct    bool               `json:"correct"`
	ErrorCode  string             `json:"error_code,omitempty"`
	UserID     string             `json:"user_id,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
}

// =============================================================================
// Alerts
// =============================================================================

// AlertType categorizes what tripped an alert.
type AlertType string

const (
	AlertPerformance AlertType = "performance"
	AlertDrift       AlertType = "drift"
	AlertError       AlertType = "error"
	AlertThroughput  AlertType = "throughput"
)

// AlertSeverity orders alerts for routing and health rollups.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Rank maps a severity to an ordinal for comparisons. Unknown
// severities rank lowest.
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Alert is a condition raised by threshold checks or drift sweeps.
type Alert struct {
	ID         uuid.UUID      `json:"id"`
	Type       AlertType      `json:"type"`
	Severity   AlertSeverity  `json:"severity"`
	ModelName  string         `json:"model_name"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// Drift
// =============================================================================

// DriftFinding reports a per-feature distribution comparison.
//
// Score is the KS statistic in [0, 1]; Confidence is 1 - pValue.
type DriftFinding struct {
	Feature      string  `json:"feature"`
	Score        float64 `json:"score"`
	PValue       float64 `json:"p_value"`
	Confidence   float64 `json:"confidence"`
	Drifted      bool    `json:"drifted"`
	BaselineSize int     `json:"baseline_size"`
	SampleSize   int     `json:"sample_size"`
}

// DriftTrend summarizes the direction of drift for health reporting.
type DriftTrend string

const (
	DriftStable     DriftTrend = "stable"
	DriftIncreasing DriftTrend = "increasing"
)

// DriftStatus is the drift portion of a health report.
type DriftStatus struct {
	MaxScore float64        `json:"max_score"`
	Trend    DriftTrend     `json:"trend"`
	Findings []DriftFinding `json:"findings,omitempty"`
}

// =============================================================================
// Health
// =============================================================================

// HealthState is the overall model health rollup.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthWarning  HealthState = "warning"
	HealthDegraded HealthState = "degraded"
	HealthCritical HealthState = "critical"
)

// WindowMetrics aggregates the current retention window.
type WindowMetrics struct {
	Requests     int      `json:"requests"`
	AvgLatencyMs float64  `json:"avg_latency_ms"`
	Throughput   float64  `json:"throughput_rps"`
	ErrorRate    float64  `json:"error_rate"`
	Accuracy     *float64 `json:"accuracy,omitempty"`
}

// ModelHealthStatus is the full health report for one model.
type ModelHealthStatus struct {
	ModelName        string        `json:"model_name"`
	Status           HealthState   `json:"status"`
	Window           WindowMetrics `json:"window"`
	Drift            DriftStatus   `json:"drift"`
	UnresolvedAlerts []Alert       `json:"unresolved_alerts"`
	Recommendations  []string      `json:"recommendations,omitempty"`
	CheckedAt        time.Time     `json:"checked_at"`
}
