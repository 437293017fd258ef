// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/modelplane/services/controlplane/export"
	"github.com/AleutianAI/modelplane/services/controlplane/monitoring"
)

// ExportMetrics renders one key=value line per monitored model:
// request volume, latency, throughput, error rate, drift score and
// unresolved alert count. Plain text for curl and cron consumers; the
// Prometheus exposition lives at /metrics.
//
// GET /v1/export/metrics
func ExportMetrics(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, export.RenderText(registry.Health()))
	}
}
