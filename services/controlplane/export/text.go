// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// RenderText formats health snapshots as key=value lines, one line per
// model, suitable for scraping by an external collector. Output is
// ordered by the input slice, so callers pass sorted snapshots.
func RenderText(statuses []datatypes.ModelHealthStatus) string {
	var b strings.Builder
	for _, status := range statuses {
		fmt.Fprintf(&b,
			"model=%s status=%s requests=%d avg_latency_ms=%.2f throughput_rps=%.2f error_rate=%.4f drift_score=%.4f alerts=%d\n",
			status.ModelName,
			status.Status,
			status.Window.Requests,
			status.Window.AvgLatencyMs,
			status.Window.Throughput,
			status.Window.ErrorRate,
			status.Drift.MaxScore,
			len(status.UnresolvedAlerts),
		)
	}
	return b.String()
}
