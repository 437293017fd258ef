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

import "math"

// =============================================================================
// Normal Distribution Primitives
// =============================================================================

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normalQuantile is the inverse of normalCDF, via Acklam's rational
// approximation (relative error below 1.15e-9 across the open unit
// interval).
func normalQuantile(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}

	a := [6]float64{
		-3.969683028665376e+01, 2.209460984245205e+02,
		-2.759285104469687e+02, 1.383577518672690e+02,
		-3.066479806614716e+01, 2.506628277459239e+00,
	}
	b := [5]float64{
		-5.447609879822406e+01, 1.615858368580409e+02,
		-1.556989798598866e+02, 6.680131188771972e+01,
		-1.328068155288572e+01,
	}
	c := [6]float64{
		-7.784894002430293e-03, -3.223964580411365e-01,
		-2.400758277161838e+00, -2.549732539343734e+00,
		4.374664141464968e+00, 2.938163982698783e+00,
	}
	d := [4]float64{
		7.784695709041462e-03, 3.224671290700398e-01,
		2.445134137142996e+00, 3.754408661907416e+00,
	}

	const pLow = 0.02425
	switch {
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p > 1-pLow:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}

// =============================================================================
// Two-Proportion Test
// =============================================================================

// zTestResult carries the raw two-proportion comparison between a
// control rate p1 (over n1) and a challenger rate p2 (over n2).
type zTestResult struct {
	zScore float64
	pValue float64
	// ciLow/ciHigh bound the difference p2-p1 at 95% confidence using
	// the unpooled standard error.
	ciLow, ciHigh float64
	power         float64
}

// twoProportionZ runs the pooled two-proportion z-test.
//
// The pooled proportion feeds the test statistic; the confidence
// interval on the difference uses the unpooled standard error. Power
// is evaluated against alpha from the same unpooled inputs. Degenerate
// inputs (empty groups, zero variance) yield z=0, p=1.
func twoProportionZ(p1 float64, n1 int, p2 float64, n2 int, alpha float64) zTestResult {
	res := zTestResult{pValue: 1}
	if n1 == 0 || n2 == 0 {
		return res
	}

	f1, f2 := float64(n1), float64(n2)
	pooled := (p1*f1 + p2*f2) / (f1 + f2)
	pooledSE := math.Sqrt(pooled * (1 - pooled) * (1/f1 + 1/f2))
	if pooledSE > 0 {
		res.zScore = (p2 - p1) / pooledSE
		res.pValue = 2 * (1 - normalCDF(math.Abs(res.zScore)))
	}

	diff := p2 - p1
	unpooledSE := math.Sqrt(p1*(1-p1)/f1 + p2*(1-p2)/f2)
	zCrit := normalQuantile(1 - alpha/2)
	res.ciLow = diff - 1.96*unpooledSE
	res.ciHigh = diff + 1.96*unpooledSE
	if unpooledSE > 0 {
		res.power = normalCDF(math.Abs(diff)/unpooledSE - zCrit)
	}
	return res
}

// requiredSampleSize estimates the per-group sample size for detecting
// the observed difference at alpha with 80% power. Returns 0 when the
// rates are indistinguishable.
func requiredSampleSize(p1, p2, alpha float64) int {
	diff := p2 - p1
	if diff == 0 {
		return 0
	}
	zAlpha := normalQuantile(1 - alpha/2)
	zBeta := normalQuantile(0.80)
	n := (zAlpha + zBeta) * (zAlpha + zBeta) *
		(p1*(1-p1) + p2*(1-p2)) / (diff * diff)
	return int(math.Ceil(n))
}
