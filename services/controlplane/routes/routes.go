// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the control plane's HTTP surface onto a Gin
// router.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/modelplane/services/controlplane/balancer"
	"github.com/AleutianAI/modelplane/services/controlplane/experiment"
	"github.com/AleutianAI/modelplane/services/controlplane/handlers"
	"github.com/AleutianAI/modelplane/services/controlplane/middleware"
	"github.com/AleutianAI/modelplane/services/controlplane/monitoring"
)

// Options carries the engines the routes expose.
type Options struct {
	// Engine serves the experiment endpoints. Required.
	Engine *experiment.Engine

	// Balancer serves the model pool endpoints. Required.
	Balancer *balancer.Balancer

	// Registry serves the monitoring, alert, and export endpoints.
	// Required.
	Registry *monitoring.Registry

	// AlertHub, when set, enables the live alert stream at
	// /v1/alerts/ws. The same hub should be registered as a dispatcher
	// channel so raised alerts reach it.
	AlertHub *handlers.AlertHub

	// AuthProvider authenticates /v1 requests.
	// Default: middleware.NopAuthProvider.
	AuthProvider middleware.AuthProvider
}

// SetupRoutes registers every endpoint on router.
//
// /health and /metrics are unauthenticated so probes and scrapers need
// no credentials; everything under /v1 passes the auth middleware.
func SetupRoutes(router *gin.Engine, opts Options) {
	if opts.AuthProvider == nil {
		opts.AuthProvider = middleware.NopAuthProvider{}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))

	experiments := v1.Group("/experiments")
	{
		experiments.POST("", handlers.StartExperiment(opts.Engine))
		experiments.GET("", handlers.ListExperiments(opts.Engine))
		experiments.GET("/:experimentId", handlers.GetExperiment(opts.Engine))
		experiments.POST("/:experimentId/predict", handlers.PredictExperiment(opts.Engine))
		experiments.POST("/:experimentId/outcomes", handlers.RecordOutcome(opts.Engine))
		experiments.GET("/:experimentId/results", handlers.GetResults(opts.Engine))
		experiments.POST("/:experimentId/stop", handlers.StopExperiment(opts.Engine))
	}

	models := v1.Group("/models")
	{
		models.POST("", handlers.RegisterModel(opts.Balancer))
		models.GET("", handlers.ListModels(opts.Balancer))
		models.GET("/:modelName/instances", handlers.GetInstances(opts.Balancer))
		models.POST("/:modelName/scale", handlers.ScaleModel(opts.Balancer))
		models.PUT("/:modelName/policy", handlers.UpdatePolicy(opts.Balancer))
	}

	mon := v1.Group("/monitoring")
	{
		mon.POST("", handlers.StartMonitoring(opts.Registry))
		mon.GET("", handlers.ListMonitored(opts.Registry))
		mon.GET("/health", handlers.GetHealth(opts.Registry))
		mon.DELETE("/:modelName", handlers.StopMonitoring(opts.Registry))
		mon.GET("/:modelName/health", handlers.GetModelHealth(opts.Registry))
		mon.PUT("/:modelName/baseline", handlers.SetBaseline(opts.Registry))
		mon.POST("/:modelName/drift", handlers.DetectDrift(opts.Registry))
	}

	alerts := v1.Group("/alerts")
	{
		alerts.GET("", handlers.ListAlerts(opts.Registry))
		alerts.POST("/:alertId/resolve", handlers.ResolveAlert(opts.Registry))
		if opts.AlertHub != nil {
			alerts.GET("/ws", handlers.StreamAlerts(opts.AlertHub))
		}
	}

	v1.GET("/export/metrics", handlers.ExportMetrics(opts.Registry))
}
