// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitoring tracks per-model prediction telemetry, evaluates
// performance thresholds and distribution drift, and raises alerts.
package monitoring

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/modelplane/services/controlplane/clock"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/drift"
	"github.com/AleutianAI/modelplane/services/controlplane/observability"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultEvaluationInterval is the background sweep cadence.
	DefaultEvaluationInterval = 30 * time.Second

	// DefaultRetentionWindow is the age past which metrics are purged.
	DefaultRetentionWindow = time.Hour

	// DefaultMaxMetrics caps the in-memory metric buffer.
	DefaultMaxMetrics = 10000

	// DefaultAlertCooldown suppresses repeat alerts of the same type.
	DefaultAlertCooldown = 5 * time.Minute

	// conceptDriftMinOutcomes is the outcome count required before the
	// accuracy-drop check runs.
	conceptDriftMinOutcomes = 100

	// conceptDriftWindow is the size of each accuracy comparison window.
	conceptDriftWindow = 25

	// minHealthVolume is the request count below which health reports
	// flag insufficient volume.
	minHealthVolume = 10
)

// =============================================================================
// Monitor
// =============================================================================

// Options carries the injectable collaborators for a Monitor. Zero
// values get production defaults.
type Options struct {
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Dispatcher *Dispatcher

	// Rand is the sampling source in [0, 1). Tests pin it; production
	// leaves it nil for math/rand.
	Rand func() float64
}

// Monitor watches one model: sampled telemetry, real-time threshold
// checks, concept-drift on outcomes, feature-drift sweeps, and health
// rollups.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Telemetry appends and
// aggregate reads share one RWMutex; aggregate reads operate on a
// snapshot and tolerate in-flight writes.
type Monitor struct {
	cfg        datatypes.MonitoringConfig
	clk        clock.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
	dispatcher *Dispatcher
	detector   *drift.Detector
	randFn     func() float64

	mu        sync.RWMutex
	buf       []*datatypes.MonitoringMetric
	byRequest map[string]*datatypes.MonitoringMetric
	outcomes  []*datatypes.MonitoringMetric
	alerts    []*datatypes.Alert
	lastAlert map[datatypes.AlertType]time.Time
	findings  []datatypes.DriftFinding
	startedAt time.Time

	loopMu  sync.Mutex
	done    chan struct{}
	running bool
}

// NewMonitor creates a Monitor for cfg.ModelName. The evaluation loop
// does not run until Start is called.
func NewMonitor(cfg datatypes.MonitoringConfig, opts Options) (*Monitor, error) {
	cfg = withDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}

	return &Monitor{
		cfg:        cfg,
		clk:        opts.Clock,
		logger:     opts.Logger.With("model", cfg.ModelName),
		metrics:    opts.Metrics,
		dispatcher: opts.Dispatcher,
		detector:   drift.NewDetector(),
		randFn:     opts.Rand,
		byRequest:  make(map[string]*datatypes.MonitoringMetric),
		lastAlert:  make(map[datatypes.AlertType]time.Time),
		startedAt:  opts.Clock.Now(),
	}, nil
}

func withDefaults(cfg datatypes.MonitoringConfig) datatypes.MonitoringConfig {
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.MaxErrorRate == 0 {
		cfg.MaxErrorRate = 0.05
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
	if cfg.EvaluationInterval <= 0 {
		cfg.EvaluationInterval = DefaultEvaluationInterval
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}
	if cfg.MaxMetrics <= 0 {
		cfg.MaxMetrics = DefaultMaxMetrics
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = DefaultAlertCooldown
	}
	return cfg
}

func validateConfig(cfg datatypes.MonitoringConfig) error {
	switch {
	case cfg.ModelName == "":
		return fmt.Errorf("%w: model_name is required", ErrInvalidConfig)
	case cfg.MaxLatencyMs <= 0:
		return fmt.Errorf("%w: max_latency_ms must be > 0", ErrInvalidConfig)
	case cfg.SamplingRate <= 0 || cfg.SamplingRate > 1:
		return fmt.Errorf("%w: sampling_rate must be in (0, 1]", ErrInvalidConfig)
	case cfg.MaxErrorRate < 0 || cfg.MaxErrorRate > 1:
		return fmt.Errorf("%w: max_error_rate must be in [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// ModelName returns the monitored model.
func (m *Monitor) ModelName() string { return m.cfg.ModelName }

// Config returns the effective config after defaulting.
func (m *Monitor) Config() datatypes.MonitoringConfig { return m.cfg }

// =============================================================================
// Telemetry Ingest
// =============================================================================

// RecordPrediction stores one prediction sample, subject to the
// configured sampling rate, and immediately evaluates the real-time
// latency and confidence thresholds.
//
// Alerting side effects are best-effort and never return an error to
// the caller.
func (m *Monitor) RecordPrediction(metric datatypes.MonitoringMetric) {
	if m.cfg.SamplingRate < 1 && m.randFn() >= m.cfg.SamplingRate {
		return
	}
	if metric.Timestamp.IsZero() {
		metric.Timestamp = m.clk.Now()
	}
	metric.ModelName = m.cfg.ModelName

	m.mu.Lock()
	stored := &metric
	m.buf = append(m.buf, stored)
	if metric.RequestID != "" {
		m.byRequest[metric.RequestID] = stored
	}
	m.enforceCapLocked()
	m.mu.Unlock()

	m.checkRealtime(&metric)
}

// enforceCapLocked drops the oldest samples past MaxMetrics. Caller
// holds m.mu.
func (m *Monitor) enforceCapLocked() {
	excess := len(m.buf) - m.cfg.MaxMetrics
	if excess <= 0 {
		return
	}
	for _, old := range m.buf[:excess] {
		if old.RequestID != "" {
			delete(m.byRequest, old.RequestID)
		}
	}
	m.buf = append([]*datatypes.MonitoringMetric(nil), m.buf[excess:]...)
}

// checkRealtime applies the per-request thresholds.
func (m *Monitor) checkRealtime(metric *datatypes.MonitoringMetric) {
	if metric.LatencyMs > m.cfg.MaxLatencyMs {
		severity := datatypes.SeverityHigh
		if metric.LatencyMs > 2*m.cfg.MaxLatencyMs {
			severity = datatypes.SeverityCritical
		}
		m.raiseAlert(datatypes.AlertPerformance, severity,
			fmt.Sprintf("latency %.1fms exceeds threshold %.1fms",
				metric.LatencyMs, m.cfg.MaxLatencyMs),
			map[string]any{
				"request_id": metric.RequestID,
				"latency_ms": metric.LatencyMs,
			})
	}

	if metric.Confidence != nil && *metric.Confidence < m.cfg.MinConfidence {
		m.raiseAlert(datatypes.AlertPerformance, datatypes.SeverityMedium,
			fmt.Sprintf("confidence %.3f below floor %.2f",
				*metric.Confidence, m.cfg.MinConfidence),
			map[string]any{
				"request_id": metric.RequestID,
				"confidence": *metric.Confidence,
			})
	}
}

// RecordOutcome attaches ground truth to a stored metric and, once
// enough outcomes exist, runs the concept-drift accuracy check.
func (m *Monitor) RecordOutcome(requestID string, actual any) error {
	m.mu.Lock()
	metric, ok := m.byRequest[requestID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("request %q: %w", requestID, ErrMetricNotFound)
	}
	metric.Actual = actual
	metric.Correct = outcomeMatches(metric.Prediction, actual)
	if !metric.HasOutcome {
		metric.HasOutcome = true
		m.outcomes = append(m.outcomes, metric)
		// Bound the outcome history; the drift check only ever looks at
		// the last two comparison windows.
		if len(m.outcomes) > 8*conceptDriftWindow {
			m.outcomes = append([]*datatypes.MonitoringMetric(nil),
				m.outcomes[len(m.outcomes)-8*conceptDriftWindow:]...)
		}
	}
	total := len(m.outcomes)
	var recent, prior []*datatypes.MonitoringMetric
	if total >= conceptDriftMinOutcomes {
		recent = m.outcomes[total-conceptDriftWindow:]
		prior = m.outcomes[total-2*conceptDriftWindow : total-conceptDriftWindow]
	}
	m.mu.Unlock()

	if recent != nil {
		m.checkConceptDrift(recent, prior)
	}
	return nil
}

// checkConceptDrift compares accuracy across the two most recent
// outcome windows and alerts on a material drop.
func (m *Monitor) checkConceptDrift(recent, prior []*datatypes.MonitoringMetric) {
	drop := accuracy(prior) - accuracy(recent)
	if drop <= 0.10 {
		return
	}
	severity := datatypes.SeverityHigh
	if drop > 0.20 {
		severity = datatypes.SeverityCritical
	}
	m.raiseAlert(datatypes.AlertDrift, severity,
		fmt.Sprintf("accuracy dropped %.2f between recent outcome windows", drop),
		map[string]any{
			"accuracy_drop":   drop,
			"recent_accuracy": accuracy(recent),
			"prior_accuracy":  accuracy(prior),
		})
}

func accuracy(window []*datatypes.MonitoringMetric) float64 {
	if len(window) == 0 {
		return 0
	}
	correct := 0
	for _, metric := range window {
		if metric.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(window))
}

// outcomeMatches compares a prediction to ground truth. Numeric values
// compare with a small tolerance; everything else uses deep equality.
func outcomeMatches(prediction, actual any) bool {
	pf, pok := toFloat(prediction)
	af, aok := toFloat(actual)
	if pok && aok {
		return math.Abs(pf-af) < 1e-9
	}
	return reflect.DeepEqual(prediction, actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// =============================================================================
// Drift Delegation
// =============================================================================

// SetBaseline replaces the per-feature reference distribution used by
// drift detection, starting a new baseline epoch.
func (m *Monitor) SetBaseline(training map[string][]float64) {
	m.detector.SetBaseline(training)
	m.mu.Lock()
	m.findings = nil
	m.mu.Unlock()
	m.logger.Info("drift baseline replaced", "features", len(training))
}

// DetectDrift compares recent samples against the baseline and records
// the findings for health reporting.
func (m *Monitor) DetectDrift(recent map[string][]float64) []datatypes.DriftFinding {
	findings := m.detector.Detect(recent)
	m.mu.Lock()
	m.findings = findings
	m.mu.Unlock()
	return findings
}

// =============================================================================
// Evaluation Loop
// =============================================================================

// Start launches the periodic evaluation loop. Safe to call multiple
// times; subsequent calls are no-ops while running.
func (m *Monitor) Start() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.done = make(chan struct{})

	// Ticker is created before the goroutine starts so a caller can
	// advance a fake clock immediately after Start returns.
	ticker := m.clk.NewTicker(m.cfg.EvaluationInterval)
	go func(done chan struct{}) {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				m.evaluate()
			}
		}
	}(m.done)
	m.logger.Info("monitoring started", "interval", m.cfg.EvaluationInterval)
}

// Stop cancels the evaluation loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.done)
	m.logger.Info("monitoring stopped")
}

// evaluate runs one background sweep: age purge, aggregate threshold
// checks over the trailing window, and the feature drift sweep.
func (m *Monitor) evaluate() {
	m.purgeExpired()

	window := m.windowMetrics()
	if window.Requests > 0 && window.ErrorRate > m.cfg.MaxErrorRate {
		severity := datatypes.SeverityHigh
		if window.ErrorRate > 2*m.cfg.MaxErrorRate {
			severity = datatypes.SeverityCritical
		}
		m.raiseAlert(datatypes.AlertError, severity,
			fmt.Sprintf("error rate %.3f exceeds threshold %.3f",
				window.ErrorRate, m.cfg.MaxErrorRate),
			map[string]any{"error_rate": window.ErrorRate})
	}
	if window.Requests > 0 && window.AvgLatencyMs > m.cfg.MaxLatencyMs {
		m.raiseAlert(datatypes.AlertPerformance, datatypes.SeverityHigh,
			fmt.Sprintf("window average latency %.1fms exceeds threshold %.1fms",
				window.AvgLatencyMs, m.cfg.MaxLatencyMs),
			map[string]any{"avg_latency_ms": window.AvgLatencyMs})
	}

	if m.cfg.DriftDetectionEnabled && m.detector.HasBaseline() {
		m.sweepDrift()
	}
}

// purgeExpired drops samples older than the retention window.
func (m *Monitor) purgeExpired() {
	cutoff := m.clk.Now().Add(-m.cfg.RetentionWindow)
	m.mu.Lock()
	defer m.mu.Unlock()

	firstLive := len(m.buf)
	for i, metric := range m.buf {
		if metric.Timestamp.After(cutoff) {
			firstLive = i
			break
		}
	}
	if firstLive == 0 {
		return
	}
	for _, old := range m.buf[:firstLive] {
		if old.RequestID != "" {
			delete(m.byRequest, old.RequestID)
		}
	}
	m.buf = append([]*datatypes.MonitoringMetric(nil), m.buf[firstLive:]...)
}

// sweepDrift runs the KS sweep over the buffered feature values and
// alerts on each drifted feature.
func (m *Monitor) sweepDrift() {
	m.mu.RLock()
	recent := make(map[string][]float64)
	for _, metric := range m.buf {
		for feature, value := range metric.Features {
			recent[feature] = append(recent[feature], value)
		}
	}
	m.mu.RUnlock()
	if len(recent) == 0 {
		return
	}

	findings := m.DetectDrift(recent)
	for _, f := range findings {
		if !f.Drifted {
			continue
		}
		m.raiseAlert(datatypes.AlertDrift, datatypes.SeverityHigh,
			fmt.Sprintf("feature %q drifted from baseline (score %.3f)",
				f.Feature, f.Score),
			map[string]any{
				"feature":     f.Feature,
				"drift_score": f.Score,
				"p_value":     f.PValue,
			})
	}
}

// =============================================================================
// Alerts
// =============================================================================

// raiseAlert records an alert unless the per-type cooldown suppresses
// it, then dispatches it to the configured sinks.
func (m *Monitor) raiseAlert(typ datatypes.AlertType, severity datatypes.AlertSeverity, message string, metadata map[string]any) {
	now := m.clk.Now()

	m.mu.Lock()
	if last, ok := m.lastAlert[typ]; ok && now.Sub(last) < m.cfg.AlertCooldown {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed by cooldown", "type", typ)
		return
	}
	m.lastAlert[typ] = now
	alert := &datatypes.Alert{
		ID:        uuid.New(),
		Type:      typ,
		Severity:  severity,
		ModelName: m.cfg.ModelName,
		Message:   message,
		Timestamp: now,
		Metadata:  metadata,
	}
	m.alerts = append(m.alerts, alert)
	dispatched := *alert
	m.mu.Unlock()

	m.logger.Warn("alert raised",
		"type", typ,
		"severity", severity,
		"message", message,
	)
	m.metrics.RecordAlert(m.cfg.ModelName, string(typ), string(severity))
	m.dispatcher.Dispatch(dispatched)
}

// Alerts returns a snapshot of alerts, optionally including resolved
// ones, newest last.
func (m *Monitor) Alerts(includeResolved bool) []datatypes.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]datatypes.Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if !includeResolved && alert.Resolved {
			continue
		}
		out = append(out, *alert)
	}
	return out
}

// ResolveAlert marks an alert resolved. Resolving twice is a no-op.
func (m *Monitor) ResolveAlert(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, alert := range m.alerts {
		if alert.ID != id {
			continue
		}
		if !alert.Resolved {
			alert.Resolved = true
			now := m.clk.Now()
			alert.ResolvedAt = &now
		}
		return nil
	}
	return fmt.Errorf("alert %s: %w", id, ErrAlertNotFound)
}

// =============================================================================
// Health
// =============================================================================

// Health aggregates the trailing window, drift findings, and unresolved
// alerts into one status report.
func (m *Monitor) Health() datatypes.ModelHealthStatus {
	window := m.windowMetrics()

	m.mu.RLock()
	var maxScore float64
	for _, f := range m.findings {
		if f.Score > maxScore {
			maxScore = f.Score
		}
	}
	findings := append([]datatypes.DriftFinding(nil), m.findings...)
	var unresolved []datatypes.Alert
	for _, alert := range m.alerts {
		if !alert.Resolved {
			unresolved = append(unresolved, *alert)
		}
	}
	m.mu.RUnlock()

	trend := datatypes.DriftStable
	if maxScore > 0.5 {
		trend = datatypes.DriftIncreasing
	}

	status := datatypes.ModelHealthStatus{
		ModelName: m.cfg.ModelName,
		Window:    window,
		Drift: datatypes.DriftStatus{
			MaxScore: maxScore,
			Trend:    trend,
			Findings: findings,
		},
		UnresolvedAlerts: unresolved,
		CheckedAt:        m.clk.Now(),
	}
	status.Status = overallStatus(unresolved, maxScore)
	status.Recommendations = m.recommendations(window, maxScore)
	return status
}

// overallStatus applies the severity rollup rules.
func overallStatus(unresolved []datatypes.Alert, maxDriftScore float64) datatypes.HealthState {
	worst := 0
	for _, alert := range unresolved {
		if r := alert.Severity.Rank(); r > worst {
			worst = r
		}
	}
	switch {
	case worst >= datatypes.SeverityCritical.Rank():
		return datatypes.HealthCritical
	case worst >= datatypes.SeverityHigh.Rank():
		return datatypes.HealthDegraded
	case len(unresolved) > 0 || maxDriftScore > 0.5:
		return datatypes.HealthWarning
	default:
		return datatypes.HealthHealthy
	}
}

func (m *Monitor) recommendations(window datatypes.WindowMetrics, maxDriftScore float64) []string {
	var recs []string
	if window.ErrorRate > m.cfg.MaxErrorRate {
		recs = append(recs, "investigate high error rate")
	}
	if maxDriftScore > 0.5 {
		recs = append(recs, "model drift detected - consider retraining")
	}
	if window.Requests < minHealthVolume {
		recs = append(recs, "insufficient request volume")
	}
	if window.AvgLatencyMs > m.cfg.MaxLatencyMs {
		recs = append(recs, "average latency above threshold - consider scaling up")
	}
	return recs
}

// windowMetrics aggregates the current buffer.
func (m *Monitor) windowMetrics() datatypes.WindowMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := datatypes.WindowMetrics{Requests: len(m.buf)}
	if window.Requests == 0 {
		return window
	}

	var latencySum float64
	errored := 0
	outcomes, correct := 0, 0
	oldest := m.buf[0].Timestamp
	for _, metric := range m.buf {
		latencySum += metric.LatencyMs
		if metric.ErrorCode != "" {
			errored++
		}
		if metric.HasOutcome {
			outcomes++
			if metric.Correct {
				correct++
			}
		}
		if metric.Timestamp.Before(oldest) {
			oldest = metric.Timestamp
		}
	}

	window.AvgLatencyMs = latencySum / float64(window.Requests)
	window.ErrorRate = float64(errored) / float64(window.Requests)
	elapsed := m.clk.Since(oldest).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	window.Throughput = float64(window.Requests) / elapsed
	if outcomes > 0 {
		acc := float64(correct) / float64(outcomes)
		window.Accuracy = &acc
	}
	return window
}
