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
	"hash/fnv"
	"sync"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// =============================================================================
// Sticky Variant Assignment
// =============================================================================

// assignmentTable maps userID to variantID for one experiment.
//
// The first writer wins: concurrent first-time requests for the same
// user converge on one variant via LoadOrStore, so per-user assignment
// is linearizable without a table-wide lock on the request path.
type assignmentTable struct {
	m sync.Map // userID -> variantID
}

// assign returns the user's variant, computing and storing it on first
// use. The second return reports whether this call created the
// assignment.
func (t *assignmentTable) assign(experimentID, userID string, cfg *datatypes.ExperimentConfig) (string, bool) {
	if existing, ok := t.m.Load(userID); ok {
		return existing.(string), false
	}
	computed := variantForBucket(cfg, bucketFor(userID, experimentID))
	actual, loaded := t.m.LoadOrStore(userID, computed)
	return actual.(string), !loaded
}

// lookup returns the stored assignment without creating one.
func (t *assignmentTable) lookup(userID string) (string, bool) {
	v, ok := t.m.Load(userID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// snapshot copies the table for reporting.
func (t *assignmentTable) snapshot() map[string]string {
	out := make(map[string]string)
	t.m.Range(func(k, v any) bool {
		out[k.(string)] = v.(string)
		return true
	})
	return out
}

// bucketFor hashes userID:experimentID into [0, 100) with FNV-1a. The
// hash is stable across processes, so assignment survives restarts as
// long as the experiment id does.
func bucketFor(userID, experimentID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(experimentID))
	return float64(h.Sum32() % 100)
}

// variantForBucket walks the cumulative percentage ranges: control
// first, then variants in declared order. Accumulated float error is
// absorbed by the final range.
func variantForBucket(cfg *datatypes.ExperimentConfig, bucket float64) string {
	cumulative := cfg.Control.Percentage
	if bucket < cumulative {
		return cfg.Control.ID
	}
	for i, variant := range cfg.Variants {
		cumulative += variant.Percentage
		if bucket < cumulative || i == len(cfg.Variants)-1 {
			return variant.ID
		}
	}
	return cfg.Control.ID
}
