// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// buildToolTestGraph builds the small handbook graph the tool tests share.
func buildToolTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	courses := []graph.CourseRecord{
		{Code: "COMP1511", Name: "Programming Fundamentals", Credits: 6, Terms: []string{"T1", "T2", "T3"}},
		{Code: "COMP1911", Name: "Computing 1A", Credits: 6, Terms: []string{"T1"},
			Incompatible: graph.Course("COMP1511")},
		{Code: "COMP2521", Name: "Data Structures and Algorithms", Credits: 6, Terms: []string{"T1", "T2", "T3"},
			Prerequisite: graph.Or(graph.Course("COMP1511"), graph.Course("COMP1911"))},
		{Code: "MATH1081", Name: "Discrete Mathematics", Credits: 6, Terms: []string{"T1", "T2", "T3"}},
		{Code: "COMP3121", Name: "Algorithm Design", Credits: 6, Terms: []string{"T1", "T2"},
			Prerequisite: graph.And(graph.Course("COMP2521"), graph.Course("MATH1081"))},
		{Code: "COMP3311", Name: "Database Systems", Credits: 6, Terms: []string{"T1", "T3"},
			Prerequisite: graph.Course("COMP2521"),
			Corequisite:  graph.Course("MATH1081")},
	}
	programs := []graph.ProgramRecord{
		{Code: "COMPIH", Title: "Computer Science (Honours)", Credits: 192, StudyLevel: "undergraduate",
			Groups: []graph.GroupRecord{
				{Title: "Core Courses", Credits: 96, GroupType: "core",
					Courses: []string{"COMP1511", "COMP2521", "COMP3121", "COMP3311", "MATH1081"}},
				{Title: "Level 1 Electives", Credits: 12, GroupType: "elective",
					Courses: []string{"COMP1911"}},
			}},
	}
	g, err := graph.NewBuilder(testLogger()).Build(context.Background(), "2026-tools-test", courses, programs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

// fakeClient is a canned llm.Client for tool and router tests.
type fakeClient struct {
	reply      string
	chatErr    error
	toolResult *llm.ChatWithToolsResult
	toolErr    error
	chatCalls  int
	toolCalls  int
}

func (f *fakeClient) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	f.chatCalls++
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.reply, nil
}

func (f *fakeClient) ChatWithTools(_ context.Context, _ []llm.ChatMessage, _ llm.GenerationParams, _ []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	f.toolCalls++
	if f.toolErr != nil {
		return nil, f.toolErr
	}
	if f.toolResult != nil {
		return f.toolResult, nil
	}
	return &llm.ChatWithToolsResult{Content: f.reply}, nil
}

// stubTool is a minimal Tool for registry tests.
type stubTool struct {
	name string
	def  ToolDefinition
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Definition() ToolDefinition { return s.def }
func (s *stubTool) Execute(context.Context, map[string]any) (*Result, error) {
	return &Result{Success: true, OutputText: s.name}, nil
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(nil); err == nil {
		t.Error("Register(nil) should fail")
	}
	if err := r.Register(&stubTool{name: "alpha"}); err != nil {
		t.Fatalf("Register(alpha): %v", err)
	}
	if err := r.Register(&stubTool{name: "alpha"}); err == nil {
		t.Error("duplicate registration should fail")
	}

	if got := r.Get("alpha"); got == nil {
		t.Error("Get(alpha) = nil, want tool")
	}
	if got := r.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v, want nil", got)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&stubTool{name: name}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	want := []string{"alpha", "mid", "zeta"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&stubTool{
		name: "pick",
		def: ToolDefinition{
			Name:        "pick",
			Description: "Pick a color.",
			Parameters: map[string]ParamDef{
				"color": {Type: ParamTypeString, Required: true, Enum: []string{"red", "blue"}},
				"count": {Type: ParamTypeInt},
			},
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("len(defs) = %d, want 1", len(defs))
	}
	def := defs[0]
	if def.Type != "function" {
		t.Errorf("def.Type = %q, want function", def.Type)
	}
	if def.Function.Name != "pick" {
		t.Errorf("function name = %q, want pick", def.Function.Name)
	}
	if def.Function.Parameters.Type != "object" {
		t.Errorf("parameters type = %q, want object", def.Function.Parameters.Type)
	}
	if !reflect.DeepEqual(def.Function.Parameters.Required, []string{"color"}) {
		t.Errorf("required = %v, want [color]", def.Function.Parameters.Required)
	}
	color, ok := def.Function.Parameters.Properties["color"]
	if !ok {
		t.Fatal("color property missing")
	}
	if !reflect.DeepEqual(color.Enum, []any{"red", "blue"}) {
		t.Errorf("color enum = %v, want [red blue]", color.Enum)
	}
	if count := def.Function.Parameters.Properties["count"]; count.Type != "integer" {
		t.Errorf("count type = %q, want integer", count.Type)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		raw    any
		want   int
		wantOK bool
	}{
		{3, 3, true},
		{float64(4), 4, true},
		{"5", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseIntParam(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseIntParam(%v) = (%d, %v), want (%d, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseStringSliceParam(t *testing.T) {
	if got, ok := parseStringSliceParam([]any{"a", "b"}); !ok || !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("[]any coercion = (%v, %v)", got, ok)
	}
	if got, ok := parseStringSliceParam([]string{"x"}); !ok || !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("[]string passthrough = (%v, %v)", got, ok)
	}
	if _, ok := parseStringSliceParam([]any{"a", 7}); ok {
		t.Error("mixed slice should fail")
	}
	if _, ok := parseStringSliceParam("a,b"); ok {
		t.Error("plain string should fail")
	}
}

func TestParseFloatParam(t *testing.T) {
	if got, ok := parseFloatParam(2); !ok || got != 2.0 {
		t.Errorf("parseFloatParam(2) = (%v, %v), want (2, true)", got, ok)
	}
	if got, ok := parseFloatParam(1.5); !ok || got != 1.5 {
		t.Errorf("parseFloatParam(1.5) = (%v, %v), want (1.5, true)", got, ok)
	}
	if _, ok := parseFloatParam(fmt.Sprint(1.5)); ok {
		t.Error("string should fail")
	}
}
