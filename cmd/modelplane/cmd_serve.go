// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/modelplane/pkg/logging"
	"github.com/AleutianAI/modelplane/services/controlplane"
)

func runServe(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "controlplane",
		LogDir:  "~/.modelplane/logs",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := controlplane.DefaultConfig()
	if configPath != "" {
		loaded, err := controlplane.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", configPath, err)
		}
		cfg = loaded
	}

	svc, err := controlplane.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create control plane: %v", err)
	}

	slog.Info("Serving control plane", "port", cfg.Port)
	if err := svc.Run(); err != nil {
		log.Fatalf("Control plane error: %v", err)
	}
}
