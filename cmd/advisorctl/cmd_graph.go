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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
)

// maxSourceFileSize caps how much normalized JSON a build will read.
// A full handbook year is a few megabytes; anything past this is almost
// certainly the wrong file.
const maxSourceFileSize = 256 << 20

func runGraphBuildCommand(_ *cobra.Command, _ []string) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var courses []graph.CourseRecord
	if err := readJSONFile(coursesFlag, &courses); err != nil {
		log.Fatalf("reading courses: %v", err)
	}
	fmt.Printf("Loaded %d course records from %s\n", len(courses), coursesFlag)

	var programs []graph.ProgramRecord
	if programsFlag != "" {
		if err := readJSONFile(programsFlag, &programs); err != nil {
			log.Fatalf("reading programs: %v", err)
		}
		fmt.Printf("Loaded %d program records from %s\n", len(programs), programsFlag)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	builder := graph.NewBuilder(logger)
	g, err := builder.Build(ctx, datasetFlag, courses, programs)
	if err != nil {
		log.Fatalf("graph build failed: %v", err)
	}
	fmt.Printf("Built graph: %d nodes, %d edges\n", g.NodeCount(), g.EdgeCount())

	store, db := openSnapshotStore(logger)
	defer closeDB(db)

	meta, err := store.Save(ctx, g, labelFlag)
	if err != nil {
		log.Fatalf("saving snapshot: %v", err)
	}

	fmt.Printf("Saved snapshot %s (dataset %q, %d bytes compressed)\n",
		meta.SnapshotID, meta.Dataset, meta.CompressedSize)
}

func runSnapshotListCommand(_ *cobra.Command, _ []string) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, db := openSnapshotStore(logger)
	defer closeDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	metas, err := store.List(ctx, datasetFlag, limitFlag)
	if err != nil {
		log.Fatalf("listing snapshots: %v", err)
	}
	if len(metas) == 0 {
		fmt.Printf("No snapshots found for dataset %q in %s\n", datasetFlag, dataDirFlag)
		return
	}

	fmt.Printf("%-18s %-24s %8s %8s  %s\n", "SNAPSHOT", "CREATED", "NODES", "EDGES", "LABEL")
	for _, m := range metas {
		created := time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339)
		fmt.Printf("%-18s %-24s %8d %8d  %s\n", m.SnapshotID, created, m.NodeCount, m.EdgeCount, m.Label)
	}
}

func runSnapshotDeleteCommand(_ *cobra.Command, args []string) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, db := openSnapshotStore(logger)
	defer closeDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snapshotID := args[0]
	if err := store.Delete(ctx, snapshotID); err != nil {
		log.Fatalf("deleting snapshot %s: %v", snapshotID, err)
	}
	fmt.Printf("Deleted snapshot %s\n", snapshotID)
}

// openSnapshotStore opens BadgerDB at --data-dir and wraps it in a store.
// Callers own closing the returned db.
func openSnapshotStore(logger *slog.Logger) (*graph.SnapshotStore, *badger.DB) {
	db, err := badger.Open(badger.DefaultOptions(dataDirFlag).WithLogger(nil))
	if err != nil {
		log.Fatalf("opening badger at %s: %v (is the advisor server holding the lock?)", dataDirFlag, err)
	}
	store, err := graph.NewSnapshotStore(db, logger)
	if err != nil {
		log.Fatalf("snapshot store: %v", err)
	}
	return store, db
}

func closeDB(db *badger.DB) {
	if err := db.Close(); err != nil {
		slog.Error("failed to close badger", "error", err)
	}
}

func readJSONFile(path string, out any) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxSourceFileSize {
		return fmt.Errorf("%s is %d bytes, larger than the %d byte limit", path, info.Size(), int64(maxSourceFileSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
