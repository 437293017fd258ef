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

import "errors"

var (
	// ErrInvalidConfig indicates an experiment config that fails
	// validation. Nothing is created when this is returned.
	ErrInvalidConfig = errors.New("invalid experiment config")

	// ErrExperimentNotFound indicates an unknown experiment id.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrExperimentNotRunning indicates an operation that requires a
	// running experiment hit one that is stopped or completed.
	ErrExperimentNotRunning = errors.New("experiment is not running")

	// ErrRequestNotFound indicates an outcome referenced a request id
	// with no prediction record in the experiment's ledger.
	ErrRequestNotFound = errors.New("request not found in experiment")

	// ErrOutcomeRecorded indicates a second outcome for the same
	// request. The first write wins; the ledger entry is unchanged.
	ErrOutcomeRecorded = errors.New("outcome already recorded")
)
