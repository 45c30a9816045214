// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command advisorctl is the operator CLI for the course advisor.
//
// It builds knowledge-graph snapshots from normalized handbook JSON,
// manages stored snapshots, and can ask one-shot questions against a
// running advisor server.
//
// Usage:
//
//	advisorctl graph build --courses courses.json --programs programs.json --dataset 2026-handbook
//	advisorctl snapshot list --dataset 2026-handbook
//	advisorctl snapshot delete <snapshot-id>
//	advisorctl ask "What do I need before COMP3121?"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Flag values shared across subcommands.
var (
	dataDirFlag  string
	datasetFlag  string
	coursesFlag  string
	programsFlag string
	labelFlag    string
	limitFlag    int
	serverFlag   string
	programFlag  string
	termFlag     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "advisorctl",
		Short: "Operator CLI for the course advisor",
		Long: "advisorctl builds and manages course knowledge-graph snapshots\n" +
			"and asks one-shot questions against a running advisor server.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "./data/advisor", "BadgerDB data directory")

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Knowledge-graph operations",
	}

	graphBuildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build a graph snapshot from normalized course and program JSON",
		Run:   runGraphBuildCommand,
	}
	graphBuildCmd.Flags().StringVar(&coursesFlag, "courses", "", "path to the courses JSON file (required)")
	graphBuildCmd.Flags().StringVar(&programsFlag, "programs", "", "path to the programs JSON file")
	graphBuildCmd.Flags().StringVar(&datasetFlag, "dataset", "handbook", "dataset label for the snapshot")
	graphBuildCmd.Flags().StringVar(&labelFlag, "label", "", "optional human-readable snapshot label")
	if err := graphBuildCmd.MarkFlagRequired("courses"); err != nil {
		fmt.Fprintf(os.Stderr, "flag setup: %v\n", err)
		os.Exit(1)
	}
	graphCmd.AddCommand(graphBuildCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage stored graph snapshots",
	}

	snapshotListCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots for a dataset",
		Run:   runSnapshotListCommand,
	}
	snapshotListCmd.Flags().StringVar(&datasetFlag, "dataset", "handbook", "dataset label to list")
	snapshotListCmd.Flags().IntVar(&limitFlag, "limit", 20, "maximum snapshots to show")
	snapshotCmd.AddCommand(snapshotListCmd)

	snapshotDeleteCmd := &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshotDeleteCommand,
	}
	snapshotCmd.AddCommand(snapshotDeleteCmd)

	askCmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a one-shot question against a running advisor server",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}
	askCmd.Flags().StringVar(&serverFlag, "server", "", "advisor server base URL (default $ADVISOR_URL or http://localhost:8090)")
	askCmd.Flags().StringVar(&programFlag, "program", "", "student program code, e.g. COMPIH")
	askCmd.Flags().StringVar(&termFlag, "term", "", "target enrollment term, e.g. 2026T1")

	rootCmd.AddCommand(graphCmd, snapshotCmd, askCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
