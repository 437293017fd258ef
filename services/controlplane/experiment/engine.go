// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment runs A/B tests over registered models: sticky
// variant assignment, an append-only prediction ledger, significance
// analysis, and rollout recommendations.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/modelplane/services/controlplane/clock"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
	"github.com/AleutianAI/modelplane/services/controlplane/observability"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Invoker executes a prediction against a named model. The balancer
// satisfies this through a thin adapter; tests plug functions in
// directly.
type Invoker interface {
	Invoke(ctx context.Context, modelName string, input any) (model.Output, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, modelName string, input any) (model.Output, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, modelName string, input any) (model.Output, error) {
	return f(ctx, modelName, input)
}

// Telemetry receives a monitoring sample per prediction. Optional;
// failures there must never affect the request path.
type Telemetry interface {
	Record(metric datatypes.MonitoringMetric)
}

// Mirror receives best-effort copies of assignments and outcomes for
// durable external storage. Optional.
type Mirror interface {
	SaveAssignment(ctx context.Context, experimentID, userID, variantID string) error
	SaveOutcome(ctx context.Context, experimentID, requestID string, outcome datatypes.Outcome) error
}

// =============================================================================
// Engine
// =============================================================================

// Options carries the Engine's collaborators. Invoker is required.
type Options struct {
	Invoker   Invoker
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Telemetry Telemetry
	Mirror    Mirror
}

// Engine owns the registry of active experiments.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The registry lock covers
// experiment lookup only; each experiment guards its own ledger, so
// traffic on one experiment never contends with another.
type Engine struct {
	invoker   Invoker
	clk       clock.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	telemetry Telemetry
	mirror    Mirror

	mu          sync.RWMutex
	experiments map[string]*experimentState
}

type experimentState struct {
	mu          sync.RWMutex
	exp         datatypes.Experiment
	assignments assignmentTable
	records     []*datatypes.PredictionRecord
	byRequest   map[string]*datatypes.PredictionRecord
	requests    map[string]int
	stopTimer   clock.Timer
}

// NewEngine creates an Engine. Panics if opts.Invoker is nil: the
// engine is useless without a way to execute predictions.
func NewEngine(opts Options) *Engine {
	if opts.Invoker == nil {
		panic("experiment: Options.Invoker is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		invoker:     opts.Invoker,
		clk:         opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		telemetry:   opts.Telemetry,
		mirror:      opts.Mirror,
		experiments: make(map[string]*experimentState),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// StartExperiment validates the config, registers the experiment with
// zeroed per-variant counters, and schedules the automatic stop when
// MaxDuration is set.
func (e *Engine) StartExperiment(cfg datatypes.ExperimentConfig) (string, error) {
	if err := validateExperimentConfig(cfg); err != nil {
		return "", err
	}

	id := uuid.NewString()
	state := &experimentState{
		exp: datatypes.Experiment{
			ID:        id,
			Config:    cfg,
			Status:    datatypes.ExperimentRunning,
			StartedAt: e.clk.Now(),
		},
		byRequest: make(map[string]*datatypes.PredictionRecord),
		requests:  make(map[string]int, len(cfg.Variants)+1),
	}
	state.requests[cfg.Control.ID] = 0
	for _, v := range cfg.Variants {
		state.requests[v.ID] = 0
	}

	e.mu.Lock()
	e.experiments[id] = state
	e.mu.Unlock()

	if cfg.MaxDuration > 0 {
		state.stopTimer = e.clk.AfterFunc(cfg.MaxDuration, func() {
			e.expire(id)
		})
	}

	e.logger.Info("experiment started",
		"experiment_id", id,
		"name", cfg.Name,
		"variants", len(cfg.Variants)+1,
	)
	return id, nil
}

// validateExperimentConfig rejects malformed configs before any state
// exists.
func validateExperimentConfig(cfg datatypes.ExperimentConfig) error {
	if len(cfg.Variants) < 1 {
		return fmt.Errorf("%w: at least one challenger variant is required", ErrInvalidConfig)
	}
	if cfg.Control.ID == "" {
		return fmt.Errorf("%w: control variant id is required", ErrInvalidConfig)
	}
	seen := map[string]bool{cfg.Control.ID: true}
	total := cfg.Control.Percentage
	for _, v := range cfg.Variants {
		if v.ID == "" {
			return fmt.Errorf("%w: variant id is required", ErrInvalidConfig)
		}
		if seen[v.ID] {
			return fmt.Errorf("%w: duplicate variant id %q", ErrInvalidConfig, v.ID)
		}
		seen[v.ID] = true
		total += v.Percentage
	}
	if math.Abs(total-100) > 0.01 {
		return fmt.Errorf("%w: traffic split sums to %.2f, expected 100", ErrInvalidConfig, total)
	}
	if cfg.MinSampleSize < 1 {
		return fmt.Errorf("%w: min_sample_size must be >= 1", ErrInvalidConfig)
	}
	if cfg.SignificanceLevel <= 0 || cfg.SignificanceLevel >= 1 {
		return fmt.Errorf("%w: significance_level must be in (0, 1)", ErrInvalidConfig)
	}
	return nil
}

// expire is the MaxDuration callback: the experiment completes rather
// than stops.
func (e *Engine) expire(id string) {
	state, err := e.state(id)
	if err != nil {
		return
	}
	state.mu.Lock()
	if state.exp.Status == datatypes.ExperimentRunning {
		now := e.clk.Now()
		state.exp.Status = datatypes.ExperimentCompleted
		state.exp.EndedAt = &now
		state.exp.StopReason = "max duration reached"
	}
	state.mu.Unlock()
	e.logger.Info("experiment completed", "experiment_id", id, "reason", "max duration reached")
}

// StopExperiment idempotently stops the experiment and returns the
// finalized analysis. Calling it on an already stopped experiment
// returns the frozen results unchanged.
func (e *Engine) StopExperiment(id, reason string) (datatypes.ExperimentResults, error) {
	state, err := e.state(id)
	if err != nil {
		return datatypes.ExperimentResults{}, err
	}

	state.mu.Lock()
	if state.exp.Status == datatypes.ExperimentRunning {
		now := e.clk.Now()
		state.exp.Status = datatypes.ExperimentStopped
		state.exp.EndedAt = &now
		state.exp.StopReason = reason
		if state.stopTimer != nil {
			state.stopTimer.Stop()
		}
	}
	state.mu.Unlock()

	e.logger.Info("experiment stopped", "experiment_id", id, "reason", reason)
	return e.Results(id)
}

// Experiment returns a snapshot of one experiment.
func (e *Engine) Experiment(id string) (datatypes.Experiment, error) {
	state, err := e.state(id)
	if err != nil {
		return datatypes.Experiment{}, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.exp, nil
}

// Experiments lists all experiments, newest first.
func (e *Engine) Experiments() []datatypes.Experiment {
	e.mu.RLock()
	out := make([]datatypes.Experiment, 0, len(e.experiments))
	for _, state := range e.experiments {
		state.mu.RLock()
		out = append(out, state.exp)
		state.mu.RUnlock()
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Close cancels all auto-stop timers. In-memory state remains readable.
func (e *Engine) Close() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, state := range e.experiments {
		state.mu.Lock()
		if state.stopTimer != nil {
			state.stopTimer.Stop()
		}
		state.mu.Unlock()
	}
}

func (e *Engine) state(id string) (*experimentState, error) {
	e.mu.RLock()
	state, ok := e.experiments[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("experiment %q: %w", id, ErrExperimentNotFound)
	}
	return state, nil
}

// =============================================================================
// Prediction Path
// =============================================================================

// PredictRequest is one inbound prediction routed through an
// experiment.
type PredictRequest struct {
	// RequestID is assigned when empty.
	RequestID string `json:"request_id,omitempty"`

	// UserID drives sticky assignment. An empty user id gets a one-off
	// random bucket.
	UserID string `json:"user_id"`

	// SessionID is carried through to telemetry.
	SessionID string `json:"session_id,omitempty"`

	// Input is passed to the variant's model unchanged.
	Input any `json:"input"`

	// Features are numeric inputs sampled for drift monitoring.
	Features map[string]float64 `json:"features,omitempty"`
}

// PredictResponse is the successful result of a routed prediction.
type PredictResponse struct {
	RequestID  string   `json:"request_id"`
	VariantID  string   `json:"variant_id"`
	Variant    string   `json:"variant"`
	ModelName  string   `json:"model_name"`
	Prediction any      `json:"prediction"`
	Confidence *float64 `json:"confidence,omitempty"`
	LatencyMs  float64  `json:"latency_ms"`
}

// Predict resolves the caller's sticky variant, invokes that variant's
// model, and appends the result to the experiment's ledger.
//
// Model failures propagate to the caller unmodified; the failed call
// is still recorded so variant error rates reflect reality.
func (e *Engine) Predict(ctx context.Context, experimentID string, req PredictRequest) (PredictResponse, error) {
	state, err := e.state(experimentID)
	if err != nil {
		return PredictResponse{}, err
	}

	state.mu.RLock()
	status := state.exp.Status
	cfg := state.exp.Config
	state.mu.RUnlock()
	if status != datatypes.ExperimentRunning {
		return PredictResponse{}, fmt.Errorf("experiment %q is %s: %w",
			experimentID, status, ErrExperimentNotRunning)
	}

	userID := req.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	variantID, created := state.assignments.assign(experimentID, userID, &cfg)
	variant := variantByID(&cfg, variantID)
	if created {
		e.metrics.RecordAssignment(experimentID, variantID)
		e.mirrorAssignment(experimentID, userID, variantID)
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	start := e.clk.Now()
	out, invokeErr := e.invoker.Invoke(ctx, variant.ModelName, req.Input)
	latencyMs := float64(e.clk.Since(start)) / float64(time.Millisecond)

	rec := &datatypes.PredictionRecord{
		RequestID:    requestID,
		ExperimentID: experimentID,
		VariantID:    variantID,
		Prediction:   out.Value,
		Confidence:   out.Confidence,
		LatencyMs:    latencyMs,
		Timestamp:    start,
	}
	if invokeErr != nil {
		rec.Err = invokeErr.Error()
	}

	state.mu.Lock()
	state.records = append(state.records, rec)
	state.byRequest[requestID] = rec
	state.requests[variantID]++
	state.mu.Unlock()

	e.metrics.RecordPrediction(experimentID, variantID, invokeErr == nil)
	e.recordTelemetry(variant.ModelName, userID, req, rec)

	if invokeErr != nil {
		return PredictResponse{}, invokeErr
	}
	return PredictResponse{
		RequestID:  requestID,
		VariantID:  variantID,
		Variant:    variant.Name,
		ModelName:  variant.ModelName,
		Prediction: out.Value,
		Confidence: out.Confidence,
		LatencyMs:  latencyMs,
	}, nil
}

// recordTelemetry forwards the sample to the monitoring plane.
func (e *Engine) recordTelemetry(modelName, userID string, req PredictRequest, rec *datatypes.PredictionRecord) {
	if e.telemetry == nil {
		return
	}
	errCode := ""
	if rec.Err != "" {
		errCode = "model_failure"
	}
	e.telemetry.Record(datatypes.MonitoringMetric{
		RequestID:  rec.RequestID,
		ModelName:  modelName,
		Timestamp:  rec.Timestamp,
		LatencyMs:  rec.LatencyMs,
		Prediction: rec.Prediction,
		Confidence: rec.Confidence,
		Features:   req.Features,
		ErrorCode:  errCode,
		UserID:     userID,
		SessionID:  req.SessionID,
	})
}

func (e *Engine) mirrorAssignment(experimentID, userID, variantID string) {
	if e.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.mirror.SaveAssignment(ctx, experimentID, userID, variantID); err != nil {
			e.logger.Debug("assignment mirror write failed",
				"experiment_id", experimentID, "error", err)
		}
	}()
}

func variantByID(cfg *datatypes.ExperimentConfig, id string) datatypes.VariantConfig {
	if cfg.Control.ID == id {
		return cfg.Control
	}
	for _, v := range cfg.Variants {
		if v.ID == id {
			return v
		}
	}
	return cfg.Control
}

// =============================================================================
// Outcomes
// =============================================================================

// RecordOutcome attaches ground truth to a prior prediction. The first
// write wins; a second outcome for the same request returns
// ErrOutcomeRecorded and leaves the ledger unchanged.
//
// Outcomes are accepted after an experiment stops, since conversions
// arrive late by nature.
func (e *Engine) RecordOutcome(experimentID, requestID string, success bool, value float64, custom map[string]float64) error {
	state, err := e.state(experimentID)
	if err != nil {
		return err
	}

	outcome := datatypes.Outcome{
		Success:       success,
		Value:         value,
		CustomMetrics: custom,
		RecordedAt:    e.clk.Now(),
	}

	state.mu.Lock()
	rec, ok := state.byRequest[requestID]
	if !ok {
		state.mu.Unlock()
		return fmt.Errorf("request %q: %w", requestID, ErrRequestNotFound)
	}
	if rec.Outcome != nil {
		state.mu.Unlock()
		return fmt.Errorf("request %q: %w", requestID, ErrOutcomeRecorded)
	}
	rec.Outcome = &outcome
	variantID := rec.VariantID
	state.mu.Unlock()

	e.metrics.RecordOutcome(experimentID, variantID, success)
	if e.mirror != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.mirror.SaveOutcome(ctx, experimentID, requestID, outcome); err != nil {
				e.logger.Debug("outcome mirror write failed",
					"experiment_id", experimentID, "error", err)
			}
		}()
	}
	return nil
}
