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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/modelplane/pkg/ux"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
)

var cliClient = &http.Client{Timeout: 10 * time.Second}

// getJSON fetches a control plane endpoint and decodes the body into out.
func getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := cliClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runStatus(cmd *cobra.Command, args []string) {
	var resp struct {
		Models map[string]datatypes.ModelHealthStatus `json:"models"`
	}
	if err := getJSON("/v1/monitoring/health", &resp); err != nil {
		log.Fatalf("Failed to fetch health: %v", err)
	}

	if len(resp.Models) == 0 {
		ux.Info("No models are being monitored.")
		return
	}

	names := make([]string, 0, len(resp.Models))
	for name := range resp.Models {
		names = append(names, name)
	}
	sort.Strings(names)

	ux.Title("Model Health")
	for _, name := range names {
		h := resp.Models[name]
		fmt.Printf("  %-24s %-10s requests=%d avg_latency=%.1fms error_rate=%.2f%% alerts=%d\n",
			name,
			ux.HealthBadge(string(h.Status)),
			h.Window.Requests,
			h.Window.AvgLatencyMs,
			h.Window.ErrorRate*100,
			len(h.UnresolvedAlerts),
		)
		for _, f := range h.Drift.Findings {
			if f.Drifted {
				ux.Warning(fmt.Sprintf("  %s: input drift on feature %q (score %.3f)", name, f.Feature, f.Score))
			}
		}
	}
}

func runModels(cmd *cobra.Command, args []string) {
	var resp struct {
		Models []string `json:"models"`
	}
	if err := getJSON("/v1/models", &resp); err != nil {
		log.Fatalf("Failed to fetch models: %v", err)
	}

	if len(resp.Models) == 0 {
		ux.Info("No models are registered.")
		return
	}
	sort.Strings(resp.Models)

	ux.Title("Registered Models")
	for _, name := range resp.Models {
		var inst struct {
			Instances []datatypes.ModelInstance `json:"instances"`
		}
		if err := getJSON("/v1/models/"+name+"/instances", &inst); err != nil {
			fmt.Printf("  %s %s (instances unavailable: %v)\n", ux.IconError.Render(), name, err)
			continue
		}
		fmt.Printf("  %s %s: %d instance(s)\n", ux.IconBullet.Render(), name, len(inst.Instances))
	}
}

func runExperiments(cmd *cobra.Command, args []string) {
	var resp struct {
		Experiments []*datatypes.Experiment `json:"experiments"`
	}
	if err := getJSON("/v1/experiments", &resp); err != nil {
		log.Fatalf("Failed to fetch experiments: %v", err)
	}

	if len(resp.Experiments) == 0 {
		ux.Info("No experiments found.")
		return
	}

	sort.Slice(resp.Experiments, func(i, j int) bool {
		return resp.Experiments[i].StartedAt.Before(resp.Experiments[j].StartedAt)
	})

	ux.Title("Experiments")
	for _, exp := range resp.Experiments {
		icon := ux.IconPending
		switch exp.Status {
		case datatypes.ExperimentRunning:
			icon = ux.IconSuccess
		case datatypes.ExperimentStopped:
			icon = ux.IconWarning
		}
		fmt.Printf("  %s %s %s [%s] arms=%d started=%s\n",
			icon.Render(),
			exp.ID,
			exp.Config.Name,
			exp.Status,
			len(exp.Config.Variants)+1,
			exp.StartedAt.Format(time.RFC3339),
		)
	}
}
