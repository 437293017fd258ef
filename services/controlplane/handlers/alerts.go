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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/modelplane/services/controlplane/monitoring"
)

// ListAlerts returns alerts across every monitored model, oldest
// first. Resolved alerts are included with ?include_resolved=true.
//
// GET /v1/alerts
func ListAlerts(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeResolved := c.Query("include_resolved") == "true"
		c.JSON(http.StatusOK, gin.H{"alerts": registry.Alerts(includeResolved)})
	}
}

// ResolveAlert marks an alert resolved. Alert ids are unique across
// models, so the handler asks each monitor in turn.
//
// POST /v1/alerts/:alertId/resolve
func ResolveAlert(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("alertId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		for _, name := range registry.Models() {
			mon, err := registry.Monitor(name)
			if err != nil {
				continue
			}
			switch err := mon.ResolveAlert(id); {
			case err == nil:
				slog.Info("alert resolved", "alert_id", id, "model", name)
				c.JSON(http.StatusOK, gin.H{"alert_id": id, "status": "resolved"})
				return
			case errors.Is(err, monitoring.ErrAlertNotFound):
				continue
			default:
				slog.Error("failed to resolve alert", "alert_id", id, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve alert"})
				return
			}
		}

		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	}
}
