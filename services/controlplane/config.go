// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package controlplane

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/modelplane/pkg/validation"
	"github.com/AleutianAI/modelplane/services/controlplane/export"
)

// Config configures the control plane service.
//
// Every optional integration is off until its field is set: an empty
// AlertWebhookURL means no webhook channel, an empty Influx URL means
// no Influx export, an empty StorePath (with StoreInMemory false)
// means no durable mirror, an empty PolicyFile means no hot reload.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// EnableMetrics registers the Prometheus collectors and serves
	// them at /metrics. Leave false in embedded/test use, the default
	// registry is process-global.
	EnableMetrics bool `yaml:"enable_metrics"`

	// EnableTracing turns on the OTLP trace exporter and the otelgin
	// request middleware.
	EnableTracing bool `yaml:"enable_tracing"`

	// OTelEndpoint is the OTLP gRPC collector address.
	OTelEndpoint string `yaml:"otel_endpoint"`

	// ScalingInterval is the balancer's evaluation loop cadence.
	// Zero uses the balancer default.
	ScalingInterval time.Duration `yaml:"scaling_interval"`

	// PolicyFile, when set, is a YAML file mapping model names to
	// scaling policies, hot-reloaded on change.
	PolicyFile string `yaml:"policy_file"`

	// StorePath, when set, enables the embedded Badger mirror of
	// assignments and outcomes at this path.
	StorePath string `yaml:"store_path"`

	// StoreInMemory enables the mirror without touching disk.
	// Used by tests and ephemeral deployments.
	StoreInMemory bool `yaml:"store_in_memory"`

	// AlertWebhookURL, when set, adds a webhook alert channel
	// receiving high and critical alerts.
	AlertWebhookURL string `yaml:"alert_webhook_url"`

	// AlertRatePerSecond caps dispatched alerts per second.
	// Zero uses the dispatcher default.
	AlertRatePerSecond float64 `yaml:"alert_rate_per_second" validate:"gte=0"`

	// AlertBurst is the dispatcher's burst allowance.
	AlertBurst int `yaml:"alert_burst" validate:"gte=0"`

	// Influx configures the optional health-point export. Disabled
	// while Influx.URL is empty.
	Influx export.InfluxConfig `yaml:"influx"`

	// ExportInterval is the cadence of the Influx health export.
	ExportInterval time.Duration `yaml:"export_interval"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Port:           12310,
		EnableMetrics:  true,
		OTelEndpoint:   "modelplane-otel-collector:4317",
		ExportInterval: time.Minute,
	}
}

// applyConfigDefaults fills zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "modelplane-otel-collector:4317"
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = time.Minute
	}
	return cfg
}

// LoadConfig reads a YAML config file, applies defaults, and validates
// the result.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg = applyConfigDefaults(cfg)
	if err := validation.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
