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
	"reflect"
	"testing"
)

func TestSerializationRoundTrip(t *testing.T) {
	g := buildTestGraph(t)

	sg := g.ToSerializable()
	if sg.SchemaVersion != GraphSchemaVersion {
		t.Errorf("schema version = %q, want %q", sg.SchemaVersion, GraphSchemaVersion)
	}
	if sg.GraphHash == "" {
		t.Error("graph hash should not be empty")
	}

	restored, err := FromSerializable(sg)
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}

	if restored.NodeCount() != g.NodeCount() {
		t.Errorf("restored node count = %d, want %d", restored.NodeCount(), g.NodeCount())
	}
	if restored.EdgeCount() != g.EdgeCount() {
		t.Errorf("restored edge count = %d, want %d", restored.EdgeCount(), g.EdgeCount())
	}
	if restored.Dataset != g.Dataset {
		t.Errorf("restored dataset = %q, want %q", restored.Dataset, g.Dataset)
	}
	if restored.BuiltAtMilli != g.BuiltAtMilli {
		t.Errorf("restored BuiltAtMilli = %d, want %d", restored.BuiltAtMilli, g.BuiltAtMilli)
	}
	if !restored.Frozen() {
		t.Error("restored graph should be frozen")
	}

	// Queries survive the round trip.
	got := courseCodes(restored.DirectPrerequisites("COMP3121"))
	want := courseCodes(g.DirectPrerequisites("COMP3121"))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("restored prerequisites = %v, want %v", got, want)
	}

	// Raw expressions survive, including references outside the dataset.
	expr := restored.PrerequisiteExpr("COMP3121")
	if expr == nil {
		t.Fatal("restored graph should keep raw expressions")
	}
	if expr.String() != g.PrerequisiteExpr("COMP3121").String() {
		t.Errorf("restored expression = %q, want %q", expr.String(), g.PrerequisiteExpr("COMP3121").String())
	}
}

func TestSerializationRederivesUnlocks(t *testing.T) {
	g := buildTestGraph(t)
	sg := g.ToSerializable()

	// Unlocks edges are derived, never serialized.
	for _, e := range sg.Edges {
		if e.Type == EdgeUnlocks.String() {
			t.Fatalf("serialized form should not contain UNLOCKS edge %s->%s", e.FromID, e.ToID)
		}
	}

	restored, err := FromSerializable(sg)
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}
	got := courseCodes(restored.UnlockedBy("COMP1511"))
	want := courseCodes(g.UnlockedBy("COMP1511"))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("restored unlocks = %v, want %v", got, want)
	}
}

func TestSerializationPreservesIncompatibilityMirror(t *testing.T) {
	g := buildTestGraph(t)
	restored, err := FromSerializable(g.ToSerializable())
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}

	a := courseCodes(restored.Incompatibilities("COMP1911"))
	b := courseCodes(restored.Incompatibilities("COMP1511"))
	if !reflect.DeepEqual(a, []string{"COMP1511"}) {
		t.Errorf("Incompatibilities(COMP1911) = %v, want [COMP1511]", a)
	}
	if !reflect.DeepEqual(b, []string{"COMP1911"}) {
		t.Errorf("Incompatibilities(COMP1511) = %v, want [COMP1911]", b)
	}
}

func TestSerializationHashIsDeterministic(t *testing.T) {
	g := buildTestGraph(t)

	h1 := g.ToSerializable().GraphHash
	h2 := g.ToSerializable().GraphHash
	if h1 != h2 {
		t.Errorf("hash should be deterministic: %q != %q", h1, h2)
	}

	// A structurally different graph hashes differently.
	other := NewGraph("2026-test")
	if err := other.AddCourse(&CourseNode{Code: "COMP1511", Name: "x", Credits: 6}); err != nil {
		t.Fatalf("AddCourse: %v", err)
	}
	if err := other.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if other.ToSerializable().GraphHash == h1 {
		t.Error("different graphs should not share a hash")
	}
}

func TestFromSerializable_Errors(t *testing.T) {
	if _, err := FromSerializable(nil); err == nil {
		t.Error("nil input should fail")
	}

	if _, err := FromSerializable(&SerializableGraph{SchemaVersion: "0.9"}); err == nil {
		t.Error("unsupported schema version should fail")
	}

	bad := &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		Nodes:         []SerializableNode{{ID: "GHOST"}},
	}
	if _, err := FromSerializable(bad); err == nil {
		t.Error("node without payload should fail")
	}
}
