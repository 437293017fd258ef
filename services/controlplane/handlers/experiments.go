// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the Gin HTTP handlers for the control
// plane: experiment lifecycle and prediction routing, model pool
// administration, monitoring, alerts, and metric export.
//
// Handlers are constructor functions that close over their
// collaborators and return a gin.HandlerFunc, so routes.SetupRoutes
// can wire them without package-level state.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/experiment"
)

// StartExperiment creates and starts an A/B experiment.
//
// POST /v1/experiments
//
// The body is a datatypes.ExperimentConfig. Traffic percentages must
// sum to 100 across control and variants.
func StartExperiment(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg datatypes.ExperimentConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		id, err := engine.StartExperiment(cfg)
		if err != nil {
			if errors.Is(err, experiment.ErrInvalidConfig) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("failed to start experiment", "name", cfg.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start experiment"})
			return
		}

		slog.Info("experiment started", "experiment_id", id, "name", cfg.Name)
		c.JSON(http.StatusCreated, gin.H{"experiment_id": id})
	}
}

// ListExperiments returns all known experiments, newest first.
//
// GET /v1/experiments
func ListExperiments(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"experiments": engine.Experiments()})
	}
}

// GetExperiment returns one experiment's configuration and status.
//
// GET /v1/experiments/:experimentId
func GetExperiment(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		exp, err := engine.Experiment(c.Param("experimentId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, exp)
	}
}

// PredictExperiment routes one prediction through an experiment's
// sticky traffic split.
//
// POST /v1/experiments/:experimentId/predict
func PredictExperiment(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("experimentId")

		var req experiment.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		resp, err := engine.Predict(c.Request.Context(), experimentID, req)
		if err != nil {
			switch {
			case errors.Is(err, experiment.ErrExperimentNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, experiment.ErrExperimentNotRunning):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				// Model failure. The record is already in the ledger;
				// surface the failure to the caller.
				slog.Warn("experiment prediction failed",
					"experiment_id", experimentID, "error", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// outcomeRequest is the body for recording a prediction outcome.
type outcomeRequest struct {
	RequestID     string             `json:"request_id" binding:"required"`
	Success       bool               `json:"success"`
	Value         float64            `json:"value,omitempty"`
	CustomMetrics map[string]float64 `json:"custom_metrics,omitempty"`
}

// RecordOutcome attaches a ground-truth outcome to a prior prediction.
// The first outcome for a request wins; duplicates are rejected.
//
// POST /v1/experiments/:experimentId/outcomes
func RecordOutcome(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("experimentId")

		var req outcomeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		err := engine.RecordOutcome(experimentID, req.RequestID, req.Success, req.Value, req.CustomMetrics)
		if err != nil {
			switch {
			case errors.Is(err, experiment.ErrExperimentNotFound),
				errors.Is(err, experiment.ErrRequestNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, experiment.ErrOutcomeRecorded):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				slog.Error("failed to record outcome",
					"experiment_id", experimentID, "request_id", req.RequestID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record outcome"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "recorded"})
	}
}

// GetResults computes and returns the experiment's statistical
// analysis and recommendation.
//
// GET /v1/experiments/:experimentId/results
func GetResults(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := engine.Results(c.Param("experimentId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

// stopRequest carries the optional operator-supplied stop reason.
type stopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StopExperiment stops a running experiment and returns its final
// results. Stopping an already-stopped experiment is a no-op that
// returns the frozen results.
//
// POST /v1/experiments/:experimentId/stop
func StopExperiment(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("experimentId")

		var req stopRequest
		// The body is optional.
		_ = c.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "stopped by operator"
		}

		results, err := engine.StopExperiment(experimentID, req.Reason)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		slog.Info("experiment stopped", "experiment_id", experimentID, "reason", req.Reason)
		c.JSON(http.StatusOK, results)
	}
}
