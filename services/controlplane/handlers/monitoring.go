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

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/monitoring"
)

// StartMonitoring begins monitoring a model.
//
// POST /v1/monitoring
func StartMonitoring(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg datatypes.MonitoringConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		if _, err := registry.StartMonitoring(cfg); err != nil {
			switch {
			case errors.Is(err, monitoring.ErrInvalidConfig):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, monitoring.ErrAlreadyMonitored):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				slog.Error("failed to start monitoring", "model", cfg.ModelName, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start monitoring"})
			}
			return
		}

		slog.Info("monitoring started", "model", cfg.ModelName)
		c.JSON(http.StatusCreated, gin.H{"model": cfg.ModelName})
	}
}

// StopMonitoring stops monitoring a model and discards its buffers.
//
// DELETE /v1/monitoring/:modelName
func StopMonitoring(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelName := c.Param("modelName")
		if err := registry.StopMonitoring(modelName); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		slog.Info("monitoring stopped", "model", modelName)
		c.JSON(http.StatusOK, gin.H{"model": modelName, "status": "stopped"})
	}
}

// ListMonitored returns the monitored model names.
//
// GET /v1/monitoring
func ListMonitored(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": registry.Models()})
	}
}

// GetHealth returns health rollups for every monitored model.
//
// GET /v1/monitoring/health
func GetHealth(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": registry.Health()})
	}
}

// GetModelHealth returns the health rollup for one model.
//
// GET /v1/monitoring/:modelName/health
func GetModelHealth(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		mon, err := registry.Monitor(c.Param("modelName"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, mon.Health())
	}
}

// featureRequest carries per-feature numeric samples.
type featureRequest struct {
	Features map[string][]float64 `json:"features" binding:"required"`
}

// SetBaseline installs the training-time feature distributions used as
// the drift reference. Replacing the baseline clears prior findings.
//
// PUT /v1/monitoring/:modelName/baseline
func SetBaseline(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelName := c.Param("modelName")
		mon, err := registry.Monitor(modelName)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		var req featureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		mon.SetBaseline(req.Features)
		slog.Info("drift baseline replaced", "model", modelName, "features", len(req.Features))
		c.JSON(http.StatusOK, gin.H{"model": modelName, "features": len(req.Features)})
	}
}

// DetectDrift compares the submitted feature samples against the
// model's baseline and returns per-feature findings.
//
// POST /v1/monitoring/:modelName/drift
func DetectDrift(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		mon, err := registry.Monitor(c.Param("modelName"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		var req featureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"findings": mon.DetectDrift(req.Features)})
	}
}
