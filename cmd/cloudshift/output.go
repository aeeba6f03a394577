// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	sigyaml "sigs.k8s.io/yaml"

	"cloudshift/internal/config"
	"cloudshift/internal/migration"
	"cloudshift/internal/pipeline"
	"cloudshift/internal/plan"
	"cloudshift/internal/wave"
)

type dryRunUnit struct {
	ID        string   `json:"id"`
	OSFamily  string   `json:"osFamily"`
	SizeClass string   `json:"sizeClass"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

type dryRunWave struct {
	Index          int          `json:"index"`
	MaxConcurrency int          `json:"maxConcurrency"`
	Independent    bool         `json:"independent,omitempty"`
	Units          []dryRunUnit `json:"units"`
}

// printDryRun outputs the wave schedule in YAML without touching any tool
// or cloud API.
func printDryRun(cmd *cobra.Command, cfg *config.Config, p *plan.Plan) error {
	waves, err := pipeline.Waves(cfg, p)
	if err != nil {
		return fmt.Errorf("scheduling waves: %w", err)
	}
	units := map[string]*migration.Unit{}
	for _, u := range p.MigrationUnits() {
		units[u.ID] = u
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "--- Dry Run ---")
	fmt.Fprintf(out, "Environment: %s (%s)\n", p.Environment, p.Location)
	fmt.Fprintf(out, "Units: %d in %d waves\n", len(p.Units), len(waves))
	fmt.Fprintf(out, "Declared resources: %d\n\n", len(p.AllResources()))

	for _, w := range waves {
		dw := dryRunWave{Index: w.Index, MaxConcurrency: w.MaxConcurrency, Independent: w.Independent}
		for _, id := range w.UnitIDs {
			u := units[id]
			dw.Units = append(dw.Units, dryRunUnit{
				ID:        u.ID,
				OSFamily:  string(u.OSFamily),
				SizeClass: u.SizeClass,
				DependsOn: u.DependsOn,
			})
		}
		data, err := sigyaml.Marshal(dw)
		if err != nil {
			return fmt.Errorf("marshaling wave %d: %w", w.Index, err)
		}
		fmt.Fprintf(out, "# Wave %d\n", w.Index)
		fmt.Fprintln(out, string(data))
		fmt.Fprintln(out, "---")
	}
	return nil
}

// printSummary outputs the run summary and the final state of every unit.
func printSummary(cmd *cobra.Command, cfg *config.Config, runID string, report wave.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out, "Migration Summary")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "Run:          %s\n", runID)
	fmt.Fprintf(out, "Environment:  %s\n", cfg.Environment)
	fmt.Fprintf(out, "Status:       %s\n", report.Status)
	fmt.Fprintf(out, "Waves:        %d\n", len(report.Waves))
	fmt.Fprintf(out, "Completed:    %d\n", report.Completed)
	fmt.Fprintf(out, "Rolled back:  %d\n", report.RolledBack)
	fmt.Fprintf(out, "Skipped:      %d\n", report.Skipped)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	for _, u := range report.Units {
		line := fmt.Sprintf("%-20s %-12s retries=%d", u.ID, u.Phase(), u.TotalRetries())
		if err := u.LastError(); err != nil && u.Phase() != migration.PhaseCompleted {
			line += "  " + err.Error()
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, strings.Repeat("=", 50))
}
