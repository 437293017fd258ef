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
	"github.com/AleutianAI/modelplane/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL   string
	plainOutput bool
	configPath  string
	authToken   string

	rootCmd = &cobra.Command{
		Use:   "modelplane",
		Short: "A cli to manage the modelplane ML serving control plane",
		Long: `Modelplane runs and inspects a control plane for ML model serving:
					load-balanced model pools, A/B experiments, and drift monitoring.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plainOutput {
				ux.SetPlain(true)
			}
		},
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the control plane HTTP server",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Inspection ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show health rollups for every monitored model",
		Run:   runStatus, // Defined in cmd_status.go
	}
	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "List registered models and their instance counts",
		Run:   runModels, // Defined in cmd_status.go
	}
	experimentsCmd = &cobra.Command{
		Use:   "experiments",
		Short: "List experiments and their status",
		Run:   runExperiments, // Defined in cmd_status.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:12310", "Control plane base URL")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token for authenticated deployments")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(experimentsCmd)
}
