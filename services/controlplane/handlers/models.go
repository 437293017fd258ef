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

	"github.com/AleutianAI/modelplane/pkg/validation"
	"github.com/AleutianAI/modelplane/services/controlplane/balancer"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
)

// openAISpec is the remote-endpoint portion of a model registration.
type openAISpec struct {
	APIKey       string   `json:"api_key"`
	BaseURL      string   `json:"base_url,omitempty"`
	Model        string   `json:"model" binding:"required"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
}

// registerModelRequest describes a model to pool.
//
// Only OpenAI-compatible remote endpoints can be registered over HTTP;
// in-process models are registered programmatically by the embedding
// service through balancer.RegisterModel.
type registerModelRequest struct {
	Name         string                  `json:"name" binding:"required"`
	Type         string                  `json:"type" binding:"required"`
	Policy       datatypes.ScalingPolicy `json:"policy"`
	OpenAI       *openAISpec             `json:"openai,omitempty"`
	WarmupInputs []any                   `json:"warmup_inputs,omitempty"`
}

// RegisterModel registers a remote model with the balancer and spawns
// its initial instances.
//
// POST /v1/models
func RegisterModel(b *balancer.Balancer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerModelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		if err := validation.ValidateModelName(req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Type != "openai" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "unsupported model type: " + req.Type + " (only \"openai\" can be registered over HTTP)",
			})
			return
		}
		if req.OpenAI == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "openai section is required for type \"openai\""})
			return
		}

		factory := model.OpenAIFactory(model.OpenAIConfig{
			Name:         req.Name,
			APIKey:       req.OpenAI.APIKey,
			BaseURL:      req.OpenAI.BaseURL,
			Model:        req.OpenAI.Model,
			SystemPrompt: req.OpenAI.SystemPrompt,
			Temperature:  req.OpenAI.Temperature,
		})

		err := b.RegisterModel(c.Request.Context(), balancer.Registration{
			Name:         req.Name,
			Factory:      factory,
			Policy:       req.Policy,
			WarmupInputs: req.WarmupInputs,
		})
		if err != nil {
			switch {
			case errors.Is(err, balancer.ErrAlreadyRegistered):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, balancer.ErrInvalidPolicy):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				slog.Error("failed to register model", "model", req.Name, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register model"})
			}
			return
		}

		slog.Info("model registered", "model", req.Name, "upstream", req.OpenAI.Model)
		c.JSON(http.StatusCreated, gin.H{"model": req.Name})
	}
}

// ListModels returns the names of all registered models.
//
// GET /v1/models
func ListModels(b *balancer.Balancer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": b.Models()})
	}
}

// GetInstances returns instance snapshots for one model's pool.
//
// GET /v1/models/:modelName/instances
func GetInstances(b *balancer.Balancer) gin.HandlerFunc {
	return func(c *gin.Context) {
		instances, err := b.Instances(c.Param("modelName"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"instances": instances})
	}
}

// scaleRequest asks for a manual capacity change.
type scaleRequest struct {
	Direction string `json:"direction" binding:"required,oneof=up down"`
	Count     int    `json:"count"`
}

// ScaleModel manually adds or removes instances, within the model's
// policy bounds. Manual scaling stamps the cooldown tracker so the
// automatic loop does not immediately fight the operator.
//
// POST /v1/models/:modelName/scale
func ScaleModel(b *balancer.Balancer) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelName := c.Param("modelName")

		var req scaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if req.Count <= 0 {
			req.Count = 1
		}

		var err error
		if req.Direction == "up" {
			err = b.ScaleUp(c.Request.Context(), modelName, req.Count)
		} else {
			err = b.ScaleDown(modelName, req.Count)
		}
		if err != nil {
			switch {
			case errors.Is(err, balancer.ErrModelNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, balancer.ErrAtMaxInstances),
				errors.Is(err, balancer.ErrAtMinInstances):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				slog.Error("manual scaling failed",
					"model", modelName, "direction", req.Direction, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "scaling failed"})
			}
			return
		}

		instances, _ := b.Instances(modelName)
		c.JSON(http.StatusOK, gin.H{"model": modelName, "instances": len(instances)})
	}
}

// UpdatePolicy replaces a model's scaling policy.
//
// PUT /v1/models/:modelName/policy
func UpdatePolicy(b *balancer.Balancer) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelName := c.Param("modelName")

		var policy datatypes.ScalingPolicy
		if err := c.ShouldBindJSON(&policy); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		if err := b.UpdatePolicy(modelName, policy); err != nil {
			switch {
			case errors.Is(err, balancer.ErrModelNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, balancer.ErrInvalidPolicy):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				slog.Error("policy update failed", "model", modelName, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "policy update failed"})
			}
			return
		}

		slog.Info("scaling policy updated", "model", modelName,
			"min", policy.MinInstances, "max", policy.MaxInstances)
		c.JSON(http.StatusOK, gin.H{"model": modelName, "policy": policy})
	}
}
