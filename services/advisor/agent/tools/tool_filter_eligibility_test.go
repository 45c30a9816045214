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
	"strings"
	"testing"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/eligibility"
)

func testProfile() datatypes.StudentProfile {
	return datatypes.StudentProfile{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			{CourseCode: "COMP1511", Term: "2025T1"},
			{CourseCode: "COMP2521", Term: "2025T2"},
			{CourseCode: "MATH1081", Term: "2025T2"},
		},
	}
}

func newFilterTool(t *testing.T, profile datatypes.StudentProfile) Tool {
	t.Helper()
	filter, err := eligibility.NewFilter(buildToolTestGraph(t), testLogger())
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	return NewFilterEligibilityTool(filter, profile)
}

func TestFilterEligibility_ProfileDefaults(t *testing.T) {
	tool := newFilterTool(t, testProfile())

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}

	report, ok := res.Output.(*eligibility.Report)
	if !ok {
		t.Fatalf("Output type = %T, want *eligibility.Report", res.Output)
	}
	if report.Program != "COMPIH" {
		t.Errorf("program = %q, want COMPIH", report.Program)
	}
	if report.TargetTerm != "2026T1" {
		t.Errorf("target term = %q, want profile default 2026T1", report.TargetTerm)
	}

	// COMP1511, COMP2521, and MATH1081 are done, so the level 3 courses
	// open up (COMP3311's MATH1081 corequisite is satisfied by membership).
	for _, code := range []string{"COMP3121", "COMP3311"} {
		found := false
		for _, c := range report.Enrollable {
			if c.Code == code {
				found = true
			}
		}
		if !found {
			t.Errorf("%s should be enrollable", code)
		}
	}
	if !strings.Contains(res.OutputText, "Enrollable") || !strings.Contains(res.OutputText, "Program progress") {
		t.Errorf("text should render the report sections, got:\n%s", res.OutputText)
	}
}

func TestFilterEligibility_TermOverride(t *testing.T) {
	tool := newFilterTool(t, testProfile())

	res, err := tool.Execute(context.Background(), map[string]any{"target_term": "2026T3"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	report := res.Output.(*eligibility.Report)
	if report.TargetTerm != "2026T3" {
		t.Errorf("target term = %q, want override 2026T3", report.TargetTerm)
	}

	// COMP3121 runs in T1 and T2 only.
	found := false
	for _, c := range report.Blocked {
		if c.Code == "COMP3121" {
			found = true
			if !strings.Contains(c.Reason(), "not offered") {
				t.Errorf("COMP3121 reason = %q, want offering block", c.Reason())
			}
		}
	}
	if !found {
		t.Error("COMP3121 should be blocked in T3")
	}
}

func TestFilterEligibility_LevelAndExcludeParams(t *testing.T) {
	tool := newFilterTool(t, testProfile())

	res, err := tool.Execute(context.Background(), map[string]any{
		"min_level": float64(3),
		"exclude":   []any{"COMP3311"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	report := res.Output.(*eligibility.Report)

	for _, c := range report.Enrollable {
		if c.Code != "COMP3121" {
			t.Errorf("unexpected enrollable %s with min_level 3 and COMP3311 excluded", c.Code)
		}
	}
	found := false
	for _, code := range report.Excluded {
		if code == "COMP3311" {
			found = true
		}
	}
	if !found {
		t.Errorf("COMP3311 should appear in Excluded, got %v", report.Excluded)
	}
}

func TestFilterEligibility_GroupTypes(t *testing.T) {
	profile := datatypes.StudentProfile{Program: "COMPIH", TargetTerm: "2026T1"}
	tool := newFilterTool(t, profile)

	res, err := tool.Execute(context.Background(), map[string]any{
		"group_types": []any{"elective"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	report := res.Output.(*eligibility.Report)

	total := len(report.Enrollable) + len(report.Blocked)
	if total != 1 {
		t.Fatalf("elective universe = %d courses, want 1", total)
	}
	code := ""
	if len(report.Enrollable) == 1 {
		code = report.Enrollable[0].Code
	} else {
		code = report.Blocked[0].Code
	}
	if code != "COMP1911" {
		t.Errorf("elective course = %s, want COMP1911", code)
	}
}

func TestFilterEligibility_UnknownProgramNote(t *testing.T) {
	profile := datatypes.StudentProfile{Program: "NOPE", TargetTerm: "2026T1"}
	tool := newFilterTool(t, profile)

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	if !strings.Contains(res.OutputText, "could not be evaluated") {
		t.Errorf("text = %q, want the note rendering", res.OutputText)
	}
}

func TestFilterEligibility_ParamsToMap(t *testing.T) {
	p := FilterEligibilityParams{
		TargetTerm: "2026T2",
		Exclude:    []string{"COMP1911"},
		MinLevel:   2,
		GroupTypes: []string{"core"},
	}
	m := p.ToMap()
	if m["target_term"] != "2026T2" {
		t.Errorf("target_term = %v", m["target_term"])
	}
	if _, ok := m["max_level"]; ok {
		t.Error("zero max_level should be omitted")
	}
	if len(m) != 4 {
		t.Errorf("map size = %d, want 4", len(m))
	}
}
