// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export publishes model health and performance summaries to
// external collectors: an optional InfluxDB mirror and a scrape-ready
// text exposition.
package export

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// InfluxConfig locates the telemetry bucket. An empty URL disables
// the export, so every field validates as optional.
type InfluxConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether the config points at a collector.
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// InfluxExporter mirrors health snapshots into InfluxDB. Best-effort:
// callers log failures and move on.
type InfluxExporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
}

// NewInfluxExporter connects a blocking write API for the configured
// bucket. The connection is lazy; a bad URL surfaces on first write.
func NewInfluxExporter(cfg InfluxConfig, logger *slog.Logger) *InfluxExporter {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxExporter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
	}
}

// NewInfluxExporterWithWriter injects a write API directly. Tests use
// this to capture points without a running InfluxDB.
func NewInfluxExporterWithWriter(w api.WriteAPIBlocking, logger *slog.Logger) *InfluxExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxExporter{writeAPI: w, logger: logger}
}

// ExportHealth writes one point per model health snapshot.
func (e *InfluxExporter) ExportHealth(ctx context.Context, statuses []datatypes.ModelHealthStatus) error {
	for _, status := range statuses {
		point := influxdb2.NewPointWithMeasurement("model_health").
			AddTag("model", status.ModelName).
			AddTag("status", string(status.Status)).
			AddField("avg_latency_ms", status.Window.AvgLatencyMs).
			AddField("throughput_rps", status.Window.Throughput).
			AddField("error_rate", status.Window.ErrorRate).
			AddField("requests", status.Window.Requests).
			AddField("drift_score", status.Drift.MaxScore).
			AddField("unresolved_alerts", len(status.UnresolvedAlerts)).
			SetTime(status.CheckedAt)
		if err := e.writeAPI.WritePoint(ctx, point); err != nil {
			return fmt.Errorf("write health point for %s: %w", status.ModelName, err)
		}
	}
	return nil
}

// Close releases the underlying client, if one was created here.
func (e *InfluxExporter) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
