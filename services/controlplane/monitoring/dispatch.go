// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

// =============================================================================
// Alert Channels
// =============================================================================

// Channel is an alert sink. Implementations must be safe for concurrent
// Send calls.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string

	// MinSeverity is the lowest severity this channel accepts.
	MinSeverity() datatypes.AlertSeverity

	// Send delivers one alert. Errors are logged by the dispatcher and
	// never propagate to the request path.
	Send(ctx context.Context, alert datatypes.Alert) error
}

// ConsoleChannel writes alerts to the structured logger.
type ConsoleChannel struct {
	logger *slog.Logger
	min    datatypes.AlertSeverity
}

// NewConsoleChannel creates a console sink accepting alerts at or above
// min.
func NewConsoleChannel(logger *slog.Logger, min datatypes.AlertSeverity) *ConsoleChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleChannel{logger: logger, min: min}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) MinSeverity() datatypes.AlertSeverity { return c.min }

func (c *ConsoleChannel) Send(_ context.Context, alert datatypes.Alert) error {
	c.logger.Warn("model alert",
		"alert_id", alert.ID,
		"model", alert.ModelName,
		"type", alert.Type,
		"severity", alert.Severity,
		"message", alert.Message,
	)
	return nil
}

// WebhookChannel POSTs alerts as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	min    datatypes.AlertSeverity
	client *http.Client
}

// NewWebhookChannel creates a webhook sink. A nil client gets a 10s
// timeout default.
func NewWebhookChannel(url string, min datatypes.AlertSeverity, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, min: min, client: client}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) MinSeverity() datatypes.AlertSeverity { return w.min }

func (w *WebhookChannel) Send(ctx context.Context, alert datatypes.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// Dispatcher
// =============================================================================

// DefaultDispatchTimeout bounds a single channel delivery.
const DefaultDispatchTimeout = 10 * time.Second

// Dispatcher fans alerts out to channels filtered by minimum severity.
//
// # Description
//
// Dispatch is best-effort and asynchronous: delivery failures are
// logged, never returned, so alerting can never abort the request path.
// A token-bucket rate limiter drops excess alerts during storms before
// they reach any sink.
//
// # Thread Safety
//
// Safe for concurrent use. Channels are fixed at construction.
type Dispatcher struct {
	channels []Channel
	limiter  *rate.Limiter
	logger   *slog.Logger
	timeout  time.Duration
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Channels are the alert sinks. May be empty.
	Channels []Channel

	// RatePerSecond caps dispatched alerts per second. Default: 5.
	RatePerSecond float64

	// Burst is the limiter burst size. Default: 10.
	Burst int

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Timeout bounds each channel delivery. Default: 10s.
	Timeout time.Duration
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		channels: opts.Channels,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		logger:   opts.Logger,
		timeout:  opts.Timeout,
	}
}

// Dispatch delivers the alert to every channel whose minimum severity
// it meets. Returns immediately; delivery runs in the background.
func (d *Dispatcher) Dispatch(alert datatypes.Alert) {
	if d == nil || len(d.channels) == 0 {
		return
	}
	if !d.limiter.Allow() {
		d.logger.Debug("alert dropped by rate limiter",
			"model", alert.ModelName,
			"type", alert.Type,
		)
		return
	}

	for _, ch := range d.channels {
		if alert.Severity.Rank() < ch.MinSeverity().Rank() {
			continue
		}
		go func(ch Channel) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := ch.Send(ctx, alert); err != nil {
				d.logger.Error("alert delivery failed",
					"channel", ch.Name(),
					"model", alert.ModelName,
					"error", err,
				)
			}
		}(ch)
	}
}
