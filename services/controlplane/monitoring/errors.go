// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitoring

import "errors"

var (
	// ErrInvalidConfig indicates a monitoring config that fails
	// validation. Nothing is mutated when this is returned.
	ErrInvalidConfig = errors.New("invalid monitoring config")

	// ErrModelNotMonitored indicates no monitor exists for the model.
	ErrModelNotMonitored = errors.New("model is not monitored")

	// ErrAlreadyMonitored indicates a monitor already exists for the
	// model.
	ErrAlreadyMonitored = errors.New("model is already monitored")

	// ErrMetricNotFound indicates an outcome referenced a request id
	// with no stored metric (never sampled, purged, or never recorded).
	ErrMetricNotFound = errors.New("metric not found for request")

	// ErrAlertNotFound indicates an unknown alert id.
	ErrAlertNotFound = errors.New("alert not found")
)
