// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the modelplane
// control plane: experiments, telemetry, alerts, and scaling state.
//
// Types here are plain data with JSON tags so they can cross the HTTP
// boundary unchanged. Behavior lives in the engine packages
// (experiment, monitoring, balancer).
package datatypes

import "time"

// =============================================================================
// Experiment Configuration
// =============================================================================

// ExperimentStatus represents the lifecycle state of an experiment.
type ExperimentStatus string

const (
	// ExperimentRunning means the experiment is accepting traffic.
	ExperimentRunning ExperimentStatus = "running"

	// ExperimentStopped means the experiment was stopped explicitly.
	ExperimentStopped ExperimentStatus = "stopped"

	// ExperimentCompleted means the experiment reached its MaxDuration.
	ExperimentCompleted ExperimentStatus = "completed"

	// ExperimentFailed means the experiment was aborted due to error.
	ExperimentFailed ExperimentStatus = "failed"
)

// VariantConfig describes one arm of an experiment.
//
// # Fields
//
//   - ID: Stable identifier used in assignments and results. Required.
//   - Name: Human-readable label.
//   - ModelName: Model registered with the balancer that serves this arm.
//   - Percentage: Share of traffic in [0, 100].
type VariantConfig struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	ModelName  string  `json:"model_name"`
	Percentage float64 `json:"percentage"`
}

// ExperimentConfig is the caller-supplied definition of an A/B test.
//
// # Description
//
// The control arm plus at least one challenger variant. Percentages
// across Control and Variants must sum to 100 within ±0.01. The engine
// rejects invalid configs before creating any state.
type ExperimentConfig struct {
	// Name is a human-readable experiment name.
	Name string `json:"name"`

	// Description explains what is being tested.
	Description string `json:"description,omitempty"`

	// Control is the baseline arm.
	Control VariantConfig `json:"control"`

	// Variants are the challenger arms, in declared order. The order is
	// significant: sticky bucketing maps hash ranges to Control first,
	// then Variants in this order.
	Variants []VariantConfig `json:"variants"`

	// SuccessMetrics names the business metrics attached to outcomes.
	SuccessMetrics []string `json:"success_metrics,omitempty"`

	// MinSampleSize is the minimum total observations before the engine
	// will call significance. Must be >= 1.
	MinSampleSize int `json:"min_sample_size"`

	// SignificanceLevel is the alpha for the two-proportion test,
	// e.g. 0.05. Must be in (0, 1).
	SignificanceLevel float64 `json:"significance_level"`

	// MaxDuration, when > 0, schedules an automatic stop.
	MaxDuration time.Duration `json:"max_duration,omitempty"`
}

// Experiment is the engine's view of a started experiment.
type Experiment struct {
	ID         string           `json:"id"`
	Config     ExperimentConfig `json:"config"`
	Status     ExperimentStatus `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    *time.Time       `json:"ended_at,omitempty"`
	StopReason string           `json:"stop_reason,omitempty"`
}

// =============================================================================
// Prediction Ledger
// =============================================================================

// Outcome is the ground-truth result attached to a prediction after the
// fact, typically by a conversion callback.
type Outcome struct {
	Success       bool               `json:"success"`
	Value         float64            `json:"value,omitempty"`
	CustomMetrics map[string]float64 `json:"custom_metrics,omitempty"`
	RecordedAt    time.Time          `json:"recorded_at"`
}

// PredictionRecord is one entry in an experiment's outcome ledger.
//
// Created at prediction time, mutated exactly once when an outcome
// arrives (first write wins), and aggregated into VariantPerformance
// on read. Err is set when the underlying model failed; failed calls
// still count toward variant error rates.
type PredictionRecord struct {
	RequestID    string     `json:"request_id"`
	ExperimentID string     `json:"experiment_id"`
	VariantID    string     `json:"variant_id"`
	Prediction   any        `json:"prediction,omitempty"`
	Confidence   *float64   `json:"confidence,omitempty"`
	LatencyMs    float64    `json:"latency_ms"`
	Timestamp    time.Time  `json:"timestamp"`
	Outcome      *Outcome   `json:"outcome,omitempty"`
	Err          string     `json:"error,omitempty"`
}

// =============================================================================
// Derived Results
// =============================================================================

// VariantPerformance is the on-demand aggregation of one variant's
// ledger entries. It is derived, never stored.
type VariantPerformance struct {
	VariantID     string  `json:"variant_id"`
	Name          string  `json:"name"`
	Requests      int     `json:"requests"`
	Outcomes      int     `json:"outcomes"`
	Successes     int     `json:"successes"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	AvgConfidence float64 `json:"avg_confidence"`
	Errors        int     `json:"errors"`
	ErrorRate     float64 `json:"error_rate"`
}

// StatisticalResult carries the two-proportion z-test between control
// and the best challenger by conversion rate.
type StatisticalResult struct {
	IsSignificant      bool       `json:"is_significant"`
	PValue             float64    `json:"p_value"`
	ZScore             float64    `json:"z_score"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`
	WinningVariant     string     `json:"winning_variant,omitempty"`
	LiftPercent        float64    `json:"lift_percent"`
	RequiredSampleSize int        `json:"required_sample_size"`
	AchievedSampleSize int        `json:"achieved_sample_size"`
	Power              float64    `json:"power"`
}

// RecommendationAction is the engine's suggested next step.
type RecommendationAction string

const (
	// ActionContinue keeps the experiment running as-is.
	ActionContinue RecommendationAction = "continue"

	// ActionStopAndDeploy stops and promotes the winning challenger.
	ActionStopAndDeploy RecommendationAction = "stop_and_deploy"

	// ActionStopAndRevert stops and keeps the control model.
	ActionStopAndRevert RecommendationAction = "stop_and_revert"

	// ActionExtendTest extends the experiment for more data.
	ActionExtendTest RecommendationAction = "extend_test"
)

// Recommendation pairs an action with the rule that produced it.
type Recommendation struct {
	Action RecommendationAction `json:"action"`
	Reason string               `json:"reason"`
}

// ExperimentResults is the full analysis returned by Results and by
// StopExperiment.
type ExperimentResults struct {
	ExperimentID   string               `json:"experiment_id"`
	Name           string               `json:"name"`
	Status         ExperimentStatus     `json:"status"`
	TotalRequests  int                  `json:"total_requests"`
	Variants       []VariantPerformance `json:"variants"`
	Stats          StatisticalResult    `json:"stats"`
	Recommendation Recommendation       `json:"recommendation"`
	Insights       []string             `json:"insights,omitempty"`
	GeneratedAt    time.Time            `json:"generated_at"`
}
