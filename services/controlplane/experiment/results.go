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
	"fmt"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// =============================================================================
// Results Aggregation
// =============================================================================

// Results aggregates the experiment's ledger into per-variant
// performance, the control-vs-best-challenger significance test, a
// recommendation, and free-text insights.
//
// Everything here is derived on demand from the ledger snapshot;
// nothing is cached, so results always reflect the latest outcomes.
func (e *Engine) Results(experimentID string) (datatypes.ExperimentResults, error) {
	state, err := e.state(experimentID)
	if err != nil {
		return datatypes.ExperimentResults{}, err
	}

	state.mu.RLock()
	exp := state.exp
	records := make([]datatypes.PredictionRecord, 0, len(state.records))
	for _, rec := range state.records {
		records = append(records, *rec)
	}
	state.mu.RUnlock()

	cfg := exp.Config
	variants := aggregateVariants(&cfg, records)
	total := 0
	for _, v := range variants {
		total += v.Requests
	}

	stats := e.analyze(&cfg, variants, total)

	results := datatypes.ExperimentResults{
		ExperimentID:   exp.ID,
		Name:           cfg.Name,
		Status:         exp.Status,
		TotalRequests:  total,
		Variants:       variants,
		Stats:          stats,
		Recommendation: recommend(&cfg, stats, total),
		Insights:       insights(&cfg, variants, stats),
		GeneratedAt:    e.clk.Now(),
	}
	return results, nil
}

// aggregateVariants recomputes VariantPerformance for every declared
// variant, control first. Zero-traffic variants report empty rather
// than being omitted.
func aggregateVariants(cfg *datatypes.ExperimentConfig, records []datatypes.PredictionRecord) []datatypes.VariantPerformance {
	order := make([]datatypes.VariantConfig, 0, len(cfg.Variants)+1)
	order = append(order, cfg.Control)
	order = append(order, cfg.Variants...)

	byID := make(map[string]*datatypes.VariantPerformance, len(order))
	out := make([]datatypes.VariantPerformance, len(order))
	for i, vc := range order {
		out[i] = datatypes.VariantPerformance{VariantID: vc.ID, Name: vc.Name}
		byID[vc.ID] = &out[i]
	}

	type sums struct {
		latency    float64
		confidence float64
		confCount  int
	}
	accum := make(map[string]*sums, len(order))

	for _, rec := range records {
		perf, ok := byID[rec.VariantID]
		if !ok {
			continue
		}
		s := accum[rec.VariantID]
		if s == nil {
			s = &sums{}
			accum[rec.VariantID] = s
		}
		perf.Requests++
		s.latency += rec.LatencyMs
		if rec.Confidence != nil {
			s.confidence += *rec.Confidence
			s.confCount++
		}
		if rec.Err != "" {
			perf.Errors++
		}
		if rec.Outcome != nil {
			perf.Outcomes++
			if rec.Outcome.Success {
				perf.Successes++
			}
		}
	}

	for id, perf := range byID {
		if perf.Requests == 0 {
			continue
		}
		s := accum[id]
		perf.AvgLatencyMs = s.latency / float64(perf.Requests)
		if s.confCount > 0 {
			perf.AvgConfidence = s.confidence / float64(s.confCount)
		}
		perf.ErrorRate = float64(perf.Errors) / float64(perf.Requests)
		if perf.Outcomes > 0 {
			perf.SuccessRate = float64(perf.Successes) / float64(perf.Outcomes)
		}
	}
	return out
}

// analyze runs the two-proportion z-test between control and the best
// challenger by conversion rate.
func (e *Engine) analyze(cfg *datatypes.ExperimentConfig, variants []datatypes.VariantPerformance, totalRequests int) datatypes.StatisticalResult {
	stats := datatypes.StatisticalResult{
		PValue:             1,
		AchievedSampleSize: totalRequests,
	}

	control := variants[0]
	challenger, found := bestChallenger(variants[1:])
	if !found || control.Outcomes == 0 {
		return stats
	}

	test := twoProportionZ(
		control.SuccessRate, control.Outcomes,
		challenger.SuccessRate, challenger.Outcomes,
		cfg.SignificanceLevel,
	)
	stats.ZScore = test.zScore
	stats.PValue = test.pValue
	stats.ConfidenceInterval = [2]float64{test.ciLow, test.ciHigh}
	stats.Power = test.power
	stats.RequiredSampleSize = requiredSampleSize(
		control.SuccessRate, challenger.SuccessRate, cfg.SignificanceLevel)

	if control.SuccessRate > 0 {
		stats.LiftPercent = (challenger.SuccessRate - control.SuccessRate) /
			control.SuccessRate * 100
	}

	// Below the minimum sample size the test is forced inconclusive;
	// power is still reported so callers see how far off they are.
	if totalRequests < cfg.MinSampleSize {
		return stats
	}

	stats.IsSignificant = test.pValue < cfg.SignificanceLevel
	if stats.IsSignificant {
		if challenger.SuccessRate > control.SuccessRate {
			stats.WinningVariant = challenger.VariantID
		} else {
			stats.WinningVariant = control.VariantID
		}
	}
	return stats
}

// bestChallenger picks the challenger with the highest conversion rate
// among those with recorded outcomes.
func bestChallenger(challengers []datatypes.VariantPerformance) (datatypes.VariantPerformance, bool) {
	best := datatypes.VariantPerformance{}
	found := false
	for _, v := range challengers {
		if v.Outcomes == 0 {
			continue
		}
		if !found || v.SuccessRate > best.SuccessRate {
			best = v
			found = true
		}
	}
	return best, found
}

// recommend applies the decision cascade.
func recommend(cfg *datatypes.ExperimentConfig, stats datatypes.StatisticalResult, totalRequests int) datatypes.Recommendation {
	switch {
	case stats.IsSignificant && stats.WinningVariant != "" &&
		stats.WinningVariant != cfg.Control.ID:
		return datatypes.Recommendation{
			Action: datatypes.ActionStopAndDeploy,
			Reason: fmt.Sprintf("variant %s outperforms control with statistical significance (p=%.4f)",
				stats.WinningVariant, stats.PValue),
		}
	case totalRequests < cfg.MinSampleSize:
		return datatypes.Recommendation{
			Action: datatypes.ActionContinue,
			Reason: fmt.Sprintf("observed %d of %d minimum requests",
				totalRequests, cfg.MinSampleSize),
		}
	case stats.IsSignificant:
		return datatypes.Recommendation{
			Action: datatypes.ActionStopAndRevert,
			Reason: "control outperforms all challengers with statistical significance",
		}
	case stats.Power > 0 && stats.Power < 0.8:
		return datatypes.Recommendation{
			Action: datatypes.ActionExtendTest,
			Reason: fmt.Sprintf("test is underpowered (%.0f%%); more data needed for a conclusion",
				stats.Power*100),
		}
	default:
		return datatypes.Recommendation{
			Action: datatypes.ActionContinue,
			Reason: "no significant difference observed yet",
		}
	}
}

// insights emits free-text observations about the variant spread.
func insights(cfg *datatypes.ExperimentConfig, variants []datatypes.VariantPerformance, stats datatypes.StatisticalResult) []string {
	var out []string

	var latencySum float64
	active := 0
	for _, v := range variants {
		if v.Requests > 0 {
			latencySum += v.AvgLatencyMs
			active++
		}
	}
	if active > 0 {
		mean := latencySum / float64(active)
		for _, v := range variants {
			if v.Requests > 0 && mean > 0 && v.AvgLatencyMs > 1.5*mean {
				out = append(out, fmt.Sprintf(
					"variant %s average latency %.1fms is well above the experiment mean %.1fms",
					v.VariantID, v.AvgLatencyMs, mean))
			}
		}
	}

	for _, v := range variants {
		if v.Requests > 0 && v.ErrorRate > 0.05 {
			out = append(out, fmt.Sprintf(
				"variant %s error rate %.1f%% exceeds 5%%", v.VariantID, v.ErrorRate*100))
		}
	}

	if stats.Power > 0 && stats.Power < 0.8 {
		out = append(out, fmt.Sprintf(
			"statistical power %.0f%% is below the customary 80%%", stats.Power*100))
	}

	if stats.WinningVariant != "" && stats.WinningVariant != cfg.Control.ID {
		out = append(out, fmt.Sprintf(
			"variant %s shows %.1f%% lift over control", stats.WinningVariant, stats.LiftPercent))
	}
	return out
}
