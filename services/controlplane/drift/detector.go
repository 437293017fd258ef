// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drift implements per-feature statistical distribution
// comparison using the two-sample Kolmogorov-Smirnov test.
//
// # Description
//
// A Detector holds one immutable baseline distribution per feature,
// captured when monitoring is set up. Detect compares recent samples
// against those baselines and reports a finding per feature: the KS
// statistic as a 0-1 drift score, an approximate p-value, and a drift
// flag when p < 0.05.
//
// The p-value uses the asymptotic approximation
//
//	p = 2 * exp(-2 * lambda^2),  lambda = sqrt(n1*n2/(n1+n2)) * D
//
// which is coarse for small samples but cheap and monotone in D. A
// table-based KS distribution would shift alert sensitivity; the
// approximation is kept deliberately.
//
// # Thread Safety
//
// Detector is safe for concurrent use. SetBaseline replaces the whole
// reference set atomically and starts a new baseline epoch.
package drift

import (
	"math"
	"sort"
	"sync"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// driftAlpha is the p-value threshold below which a feature is flagged.
const driftAlpha = 0.05

// Detector compares recent feature samples against a baseline epoch.
type Detector struct {
	mu        sync.RWMutex
	baselines map[string][]float64
	epoch     int
}

// NewDetector returns a Detector with no baselines. Detect reports
// nothing until SetBaseline is called.
func NewDetector() *Detector {
	return &Detector{baselines: make(map[string][]float64)}
}

// SetBaseline replaces the reference distribution for every feature.
//
// # Description
//
// Values are copied and sorted once here so repeated Detect calls do
// not re-sort the baseline. Calling SetBaseline again discards the
// previous epoch entirely.
//
// # Inputs
//
//   - training: Historical numeric values keyed by feature name.
//     Features with no values are ignored.
func (d *Detector) SetBaseline(training map[string][]float64) {
	next := make(map[string][]float64, len(training))
	for feature, values := range training {
		if len(values) == 0 {
			continue
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		next[feature] = sorted
	}

	d.mu.Lock()
	d.baselines = next
	d.epoch++
	d.mu.Unlock()
}

// Epoch returns the current baseline epoch, starting at 0 before the
// first SetBaseline.
func (d *Detector) Epoch() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.epoch
}

// HasBaseline reports whether any feature has a reference distribution.
func (d *Detector) HasBaseline() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.baselines) > 0
}

// Detect runs the KS test for every feature that has both a baseline
// and at least one recent sample.
//
// # Inputs
//
//   - recent: Current numeric values keyed by feature name.
//
// # Outputs
//
//   - []datatypes.DriftFinding: One finding per comparable feature, in
//     no particular order. Empty when nothing is comparable.
func (d *Detector) Detect(recent map[string][]float64) []datatypes.DriftFinding {
	d.mu.RLock()
	baselines := d.baselines
	d.mu.RUnlock()

	var findings []datatypes.DriftFinding
	for feature, samples := range recent {
		baseline, ok := baselines[feature]
		if !ok || len(samples) == 0 {
			continue
		}
		sorted := append([]float64(nil), samples...)
		sort.Float64s(sorted)

		stat, p := ksTest(baseline, sorted)
		findings = append(findings, datatypes.DriftFinding{
			Feature:      feature,
			Score:        stat,
			PValue:       p,
			Confidence:   1 - p,
			Drifted:      p < driftAlpha,
			BaselineSize: len(baseline),
			SampleSize:   len(sorted),
		})
	}
	return findings
}

// ksTest computes the two-sample KS statistic and its asymptotic
// p-value. Both inputs must be sorted ascending.
func ksTest(a, b []float64) (stat, pValue float64) {
	n1, n2 := len(a), len(b)
	if n1 == 0 || n2 == 0 {
		return 0, 1
	}

	// Walk both empirical CDFs over the pooled order and track the
	// maximum absolute divergence. Equal-value runs are consumed from
	// both sides before comparing, so ties do not inflate the statistic.
	var i, j int
	var maxDiff float64
	for i < n1 && j < n2 {
		v := math.Min(a[i], b[j])
		for i < n1 && a[i] == v {
			i++
		}
		for j < n2 && b[j] == v {
			j++
		}
		diff := math.Abs(float64(i)/float64(n1) - float64(j)/float64(n2))
		if diff > maxDiff {
			maxDiff = diff
		}
	}

	lambda := math.Sqrt(float64(n1)*float64(n2)/float64(n1+n2)) * maxDiff
	p := 2 * math.Exp(-2*lambda*lambda)
	if p > 1 {
		p = 1
	}
	return maxDiff, p
}
