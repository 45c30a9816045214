// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
)

// newTestDB creates an in-memory BadgerDB for testing.
func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestSnapshotStore(t *testing.T) *SnapshotStore {
	t.Helper()
	store, err := NewSnapshotStore(newTestDB(t), testLogger())
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	return store
}

func TestNewSnapshotStore_NilArgs(t *testing.T) {
	if _, err := NewSnapshotStore(nil, testLogger()); err == nil {
		t.Error("expected error for nil DB")
	}
	if _, err := NewSnapshotStore(newTestDB(t), nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()
	g := buildTestGraph(t)

	meta, err := store.Save(ctx, g, "first build")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.SnapshotID == "" {
		t.Error("snapshot ID should not be empty")
	}
	if meta.Dataset != "2026-test" {
		t.Errorf("dataset = %q, want 2026-test", meta.Dataset)
	}
	if meta.NodeCount != g.NodeCount() || meta.EdgeCount != g.EdgeCount() {
		t.Errorf("counts = %d/%d, want %d/%d", meta.NodeCount, meta.EdgeCount, g.NodeCount(), g.EdgeCount())
	}
	if meta.Label != "first build" {
		t.Errorf("label = %q, want %q", meta.Label, "first build")
	}
	if meta.CompressedSize <= 0 {
		t.Error("compressed size should be > 0")
	}
	if meta.SchemaVersion != GraphSchemaVersion {
		t.Errorf("schema version = %q, want %q", meta.SchemaVersion, GraphSchemaVersion)
	}

	loaded, loadedMeta, err := store.Load(ctx, meta.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NodeCount() != g.NodeCount() {
		t.Errorf("loaded node count = %d, want %d", loaded.NodeCount(), g.NodeCount())
	}
	if loadedMeta.SnapshotID != meta.SnapshotID {
		t.Errorf("loaded snapshot ID = %q, want %q", loadedMeta.SnapshotID, meta.SnapshotID)
	}
	if loaded.CourseByCode("COMP1511") == nil {
		t.Error("loaded graph should contain COMP1511")
	}
}

func TestSnapshotStore_SaveRejectsUnfrozen(t *testing.T) {
	store := newTestSnapshotStore(t)
	g := NewGraph("test")
	if _, err := store.Save(context.Background(), g, ""); err == nil {
		t.Error("saving an unfrozen graph should fail")
	}
}

func TestSnapshotStore_LoadLatest(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()

	g1 := buildTestGraph(t)
	if _, err := store.Save(ctx, g1, "old"); err != nil {
		t.Fatalf("Save g1: %v", err)
	}

	// Same dataset, later build time, different content.
	g2 := NewGraph("2026-test")
	if err := g2.AddCourse(&CourseNode{Code: "COMP1511", Name: "x", Credits: 6}); err != nil {
		t.Fatalf("AddCourse: %v", err)
	}
	if err := g2.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	g2.BuiltAtMilli = g1.BuiltAtMilli + 1
	meta2, err := store.Save(ctx, g2, "new")
	if err != nil {
		t.Fatalf("Save g2: %v", err)
	}

	loaded, meta, err := store.LoadLatest(ctx, "2026-test")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if meta.SnapshotID != meta2.SnapshotID {
		t.Errorf("latest = %q, want %q", meta.SnapshotID, meta2.SnapshotID)
	}
	if loaded.NodeCount() != 1 {
		t.Errorf("latest node count = %d, want 1", loaded.NodeCount())
	}

	if _, _, err := store.LoadLatest(ctx, "no-such-dataset"); err == nil {
		t.Error("LoadLatest on unknown dataset should fail")
	}
}

func TestSnapshotStore_List(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()

	g := buildTestGraph(t)
	meta, err := store.Save(ctx, g, "only")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	metas, err := store.List(ctx, "2026-test", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("list length = %d, want 1", len(metas))
	}
	if metas[0].SnapshotID != meta.SnapshotID {
		t.Errorf("listed snapshot = %q, want %q", metas[0].SnapshotID, meta.SnapshotID)
	}

	metas, err = store.List(ctx, "no-such-dataset", 0)
	if err != nil {
		t.Fatalf("List empty: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("unknown dataset list length = %d, want 0", len(metas))
	}
}

func TestSnapshotStore_Delete(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()

	g := buildTestGraph(t)
	meta, err := store.Save(ctx, g, "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.Delete(ctx, meta.SnapshotID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Load(ctx, meta.SnapshotID); err == nil {
		t.Error("Load after Delete should fail")
	}
	// The latest pointer went with it.
	if _, _, err := store.LoadLatest(ctx, "2026-test"); err == nil {
		t.Error("LoadLatest after deleting the only snapshot should fail")
	}
}
