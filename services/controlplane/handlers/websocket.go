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
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// AlertHub broadcasts alerts to connected websocket clients.
//
// # Description
//
// The hub implements monitoring.Channel, so it plugs into the alert
// dispatcher like any other sink: pass it to NewDispatcher and every
// alert at or above MinSeverity fans out to all connected clients as
// one JSON message per alert.
//
// # Thread Safety
//
// Safe for concurrent use. The hub lock serializes writes per
// connection, which gorilla/websocket requires.
type AlertHub struct {
	logger *slog.Logger
	min    datatypes.AlertSeverity

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewAlertHub creates a hub forwarding alerts at or above min.
func NewAlertHub(logger *slog.Logger, min datatypes.AlertSeverity) *AlertHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertHub{
		logger: logger,
		min:    min,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Name identifies the hub in dispatcher logs.
func (h *AlertHub) Name() string { return "websocket" }

// MinSeverity is the lowest severity the hub forwards.
func (h *AlertHub) MinSeverity() datatypes.AlertSeverity { return h.min }

// Send broadcasts one alert to every connected client. Clients whose
// write fails are dropped; the broadcast itself never errors.
func (h *AlertHub) Send(_ context.Context, alert datatypes.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.conns {
		if err := ws.WriteJSON(alert); err != nil {
			h.logger.Warn("dropping websocket alert client", "error", err)
			_ = ws.Close()
			delete(h.conns, ws)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *AlertHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *AlertHub) add(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[ws] = struct{}{}
}

func (h *AlertHub) remove(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, ws)
}

// StreamAlerts upgrades the connection and streams alerts until the
// client disconnects. The stream is write-only; inbound messages are
// read and discarded so close frames are processed.
//
// GET /v1/alerts/ws
func StreamAlerts(hub *AlertHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		hub.add(ws)
		defer hub.remove(ws)
		slog.Info("alert stream client connected", "remote", ws.RemoteAddr())

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				slog.Info("alert stream client disconnected", "remote", ws.RemoteAddr())
				return
			}
		}
	}
}
