// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package balancer

import (
	"errors"
	"fmt"
)

// Sentinel errors for the balancer package.
var (
	// ErrModelNotFound indicates the model was never registered.
	ErrModelNotFound = errors.New("model not found")

	// ErrAlreadyRegistered indicates a duplicate model registration.
	ErrAlreadyRegistered = errors.New("model already registered")

	// ErrInvalidPolicy indicates the scaling policy failed validation.
	ErrInvalidPolicy = errors.New("invalid scaling policy")

	// ErrNoCapacity indicates no ready instance appeared within the
	// caller's timeout.
	ErrNoCapacity = errors.New("no capacity available")

	// ErrAtMaxInstances indicates a scale-up would exceed MaxInstances.
	ErrAtMaxInstances = errors.New("already at maximum instances")

	// ErrAtMinInstances indicates a scale-down would drop below
	// MinInstances.
	ErrAtMinInstances = errors.New("already at minimum instances")
)

// ModelError wraps a failure of the wrapped model itself. It is never
// swallowed: callers of Predict see the true failure so downstream
// analytics observe real error rates.
type ModelError struct {
	Model      string
	InstanceID string
	Err        error
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	return fmt.Sprintf("model %q instance %s: %v", e.Model, e.InstanceID, e.Err)
}

// Unwrap exposes the underlying model failure.
func (e *ModelError) Unwrap() error {
	return e.Err
}
