// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the capability interface the control plane
// requires from a served model, plus adapters for common providers.
//
// # Description
//
// The control plane never trains or persists models. Anything that can
// answer Predict can be pooled, balanced, and experimented on:
//
//	m := model.NewFunc("risk-v2", func(ctx context.Context, input any) (model.Output, error) {
//	    return model.Output{Value: score(input)}, nil
//	})
//
// Remote OpenAI-compatible inference endpoints are wrapped by
// NewOpenAI. Embedders supply their own implementations for anything
// else (gRPC backends, in-process runtimes).
package model

import "context"

// Output is the result of a single prediction.
type Output struct {
	// Value is the prediction payload. Opaque to the control plane.
	Value any `json:"value"`

	// Confidence, when non-nil, is the model's self-reported confidence
	// in [0, 1]. Monitoring uses it for low-confidence alerts.
	Confidence *float64 `json:"confidence,omitempty"`
}

// Model is the capability contract for a servable model.
//
// # Thread Safety
//
// The balancer serializes calls per instance (an instance is busy
// while predicting), so implementations need not be re-entrant. A
// Factory must return independent instances.
type Model interface {
	// Name returns the model identifier.
	Name() string

	// Predict executes one inference. Implementations should honor ctx
	// cancellation; the balancer treats the call as potentially
	// blocking.
	Predict(ctx context.Context, input any) (Output, error)
}

// Factory creates one pool instance of a model. Called by the balancer
// at registration and on every scale-up.
type Factory func() (Model, error)

// Confidence is a convenience for building *float64 confidence values.
func Confidence(v float64) *float64 {
	return &v
}
