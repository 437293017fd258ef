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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalCDF(t *testing.T) {
	assert.InDelta(t, 0.5, normalCDF(0), 1e-9)
	assert.InDelta(t, 0.975, normalCDF(1.959964), 1e-4)
	assert.InDelta(t, 0.025, normalCDF(-1.959964), 1e-4)
	assert.InDelta(t, 1.0, normalCDF(8), 1e-9)
}

func TestNormalQuantile(t *testing.T) {
	assert.InDelta(t, 0, normalQuantile(0.5), 1e-9)
	assert.InDelta(t, 1.959964, normalQuantile(0.975), 1e-4)
	assert.InDelta(t, -1.959964, normalQuantile(0.025), 1e-4)
	assert.InDelta(t, 0.841621, normalQuantile(0.8), 1e-4)

	// Round trip across the usable range.
	for _, p := range []float64{0.001, 0.05, 0.3, 0.7, 0.95, 0.999} {
		assert.InDelta(t, p, normalCDF(normalQuantile(p)), 1e-6, "p=%v", p)
	}
}

func TestTwoProportionZ_KnownCase(t *testing.T) {
	// 10% vs 15% conversion over 1000 observations each: a textbook
	// significant difference.
	res := twoProportionZ(0.10, 1000, 0.15, 1000, 0.05)

	assert.InDelta(t, 3.38, res.zScore, 0.02)
	assert.Less(t, res.pValue, 0.001)
	assert.InDelta(t, 0.0211, res.ciLow, 0.001)
	assert.InDelta(t, 0.0789, res.ciHigh, 0.001)
	assert.InDelta(t, 0.92, res.power, 0.01)
}

func TestTwoProportionZ_Degenerate(t *testing.T) {
	// Empty groups.
	res := twoProportionZ(0, 0, 0.5, 100, 0.05)
	assert.Zero(t, res.zScore)
	assert.Equal(t, 1.0, res.pValue)

	// Identical all-zero proportions have zero variance.
	res = twoProportionZ(0, 50, 0, 50, 0.05)
	assert.Zero(t, res.zScore)
	assert.Equal(t, 1.0, res.pValue)
	assert.Zero(t, res.power)
}

func TestTwoProportionZ_DirectionPreserved(t *testing.T) {
	// Challenger below control yields a negative z.
	res := twoProportionZ(0.20, 500, 0.10, 500, 0.05)
	assert.Negative(t, res.zScore)
	assert.Less(t, res.pValue, 0.05)
	assert.Negative(t, res.ciHigh)
}

func TestRequiredSampleSize(t *testing.T) {
	// Detecting 10% vs 15% at alpha 0.05 with 80% power needs about
	// 680 observations per group.
	n := requiredSampleSize(0.10, 0.15, 0.05)
	assert.InDelta(t, 683, n, 3)

	assert.Zero(t, requiredSampleSize(0.10, 0.10, 0.05))

	// Larger effects need fewer observations.
	assert.Less(t, requiredSampleSize(0.10, 0.30, 0.05), n)
}
