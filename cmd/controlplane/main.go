// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command controlplane starts the modelplane control plane HTTP server.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables (with an optional YAML file)
// and starts the server.
//
// # Environment Variables
//
//   - CONTROLPLANE_PORT: HTTP server port (default: 12310)
//   - CONTROLPLANE_CONFIG: path to a YAML config file (optional; env vars override)
//   - CONTROLPLANE_POLICY_FILE: scaling policy YAML, hot-reloaded (optional)
//   - CONTROLPLANE_STORE_PATH: Badger mirror directory (optional; empty disables)
//   - CONTROLPLANE_ALERT_WEBHOOK: webhook URL for high-severity alerts (optional)
//   - CONTROLPLANE_LOG_DIR: directory for JSON log files (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: modelplane-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o controlplane ./cmd/controlplane
//
//	# Run
//	./controlplane
//
//	# Or via container
//	podman-compose up controlplane
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/modelplane/pkg/logging"
	"github.com/AleutianAI/modelplane/services/controlplane"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "controlplane",
		LogDir:  os.Getenv("CONTROLPLANE_LOG_DIR"),
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := buildConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.Info("Starting control plane",
		"port", cfg.Port,
		"policy_file", cfg.PolicyFile,
		"store_path", cfg.StorePath,
	)

	svc, err := controlplane.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create control plane: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Control plane error: %v", err)
	}
}

// buildConfig loads the optional YAML file and applies environment
// variable overrides on top.
func buildConfig() (controlplane.Config, error) {
	cfg := controlplane.DefaultConfig()
	if path := os.Getenv("CONTROLPLANE_CONFIG"); path != "" {
		loaded, err := controlplane.LoadConfig(path)
		if err != nil {
			return controlplane.Config{}, err
		}
		cfg = loaded
	}

	cfg.Port = getEnvInt("CONTROLPLANE_PORT", cfg.Port)
	cfg.PolicyFile = getEnvString("CONTROLPLANE_POLICY_FILE", cfg.PolicyFile)
	cfg.StorePath = getEnvString("CONTROLPLANE_STORE_PATH", cfg.StorePath)
	cfg.AlertWebhookURL = getEnvString("CONTROLPLANE_ALERT_WEBHOOK", cfg.AlertWebhookURL)
	cfg.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	return cfg, nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
