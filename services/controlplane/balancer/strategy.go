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
	"math/rand"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// Strategy selects which ready instance serves a request.
type Strategy string

const (
	// StrategyLeastConnections picks the instance minimizing
	// requestCount + avgLatencyMs/1000. Default.
	StrategyLeastConnections Strategy = "least_connections"

	// StrategyRoundRobin picks the instance with the lowest request
	// count, which round-robins under even load.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyFastest picks the instance with the lowest observed
	// average latency.
	StrategyFastest Strategy = "fastest"

	// StrategyWeightedRandom picks randomly with weight
	// 1/(avgLatencyMs+1).
	StrategyWeightedRandom Strategy = "weighted_random"
)

// pickReady selects a ready instance per the strategy. Caller must
// hold the pool lock. Returns nil when no instance is ready.
func pickReady(instances []*instance, strategy Strategy) *instance {
	var ready []*instance
	for _, inst := range instances {
		if inst.status == datatypes.InstanceReady {
			ready = append(ready, inst)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	switch strategy {
	case StrategyRoundRobin:
		best := ready[0]
		for _, inst := range ready[1:] {
			if inst.requestCount < best.requestCount {
				best = inst
			}
		}
		return best

	case StrategyFastest:
		best := ready[0]
		for _, inst := range ready[1:] {
			if inst.avgLatencyMs < best.avgLatencyMs {
				best = inst
			}
		}
		return best

	case StrategyWeightedRandom:
		var total float64
		weights := make([]float64, len(ready))
		for i, inst := range ready {
			weights[i] = 1 / (inst.avgLatencyMs + 1)
			total += weights[i]
		}
		r := rand.Float64() * total
		for i, inst := range ready {
			r -= weights[i]
			if r <= 0 {
				return inst
			}
		}
		return ready[len(ready)-1]

	default: // StrategyLeastConnections
		best := ready[0]
		bestScore := float64(best.requestCount) + best.avgLatencyMs/1000
		for _, inst := range ready[1:] {
			score := float64(inst.requestCount) + inst.avgLatencyMs/1000
			if score < bestScore {
				best, bestScore = inst, score
			}
		}
		return best
	}
}
