// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eligibility

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestFilter(t *testing.T) *Filter {
	t.Helper()

	courses := []graph.CourseRecord{
		{Code: "COMP1511", Name: "Programming Fundamentals", Credits: 6, Terms: []string{"T1", "T2", "T3"}},
		{Code: "COMP1911", Name: "Computing 1A", Credits: 6, Terms: []string{"T1"},
			Incompatible: graph.Course("COMP1511")},
		{Code: "COMP1521", Name: "Computer Systems Fundamentals", Credits: 6, Terms: []string{"T1", "T2", "T3"},
			Prerequisite: graph.Course("COMP1511")},
		{Code: "COMP2521", Name: "Data Structures and Algorithms", Credits: 6, Terms: []string{"T1", "T2", "T3"},
			Prerequisite: graph.Or(graph.Course("COMP1511"), graph.Course("COMP1911"))},
		{Code: "MATH1081", Name: "Discrete Mathematics", Credits: 6, Terms: []string{"T1", "T2", "T3"}},
		{Code: "COMP3121", Name: "Algorithm Design", Credits: 6, Terms: []string{"T2"},
			Prerequisite: graph.And(graph.Course("COMP2521"), graph.Course("MATH1081"))},
		{Code: "COMP3311", Name: "Database Systems", Credits: 6, Terms: []string{"T1", "T3"},
			Prerequisite: graph.Course("COMP2521"),
			Corequisite:  graph.Course("MATH1081")},
		{Code: "SENG4920", Name: "Ethics and Management", Credits: 6, Terms: []string{"T1", "T2", "T3"},
			Prerequisite: graph.UOC(18)},
	}
	programs := []graph.ProgramRecord{
		{Code: "COMPIH", Title: "Computer Science (Honours)", Credits: 192, StudyLevel: "undergraduate",
			Groups: []graph.GroupRecord{
				{Title: "Core Courses", Credits: 96, GroupType: "core",
					Courses: []string{"COMP1511", "COMP1521", "COMP2521", "COMP3121", "COMP3311", "MATH1081", "SENG4920"}},
				{Title: "Level 1 Electives", Credits: 12, GroupType: "elective",
					Courses: []string{"COMP1911"}},
			}},
	}

	g, err := graph.NewBuilder(testLogger()).Build(context.Background(), "filter-test", courses, programs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	f, err := NewFilter(g, testLogger())
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	return f
}

func completion(code, term string) datatypes.CompletionRecord {
	return datatypes.CompletionRecord{CourseCode: code, Term: term}
}

func statusCodes(statuses []CourseStatus) []string {
	codes := make([]string, 0, len(statuses))
	for _, s := range statuses {
		codes = append(codes, s.Code)
	}
	return codes
}

func contains(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func findStatus(statuses []CourseStatus, code string) *CourseStatus {
	for i := range statuses {
		if statuses[i].Code == code {
			return &statuses[i]
		}
	}
	return nil
}

func TestNewFilter_NilGraph(t *testing.T) {
	if _, err := NewFilter(nil, testLogger()); err == nil {
		t.Error("expected error for nil graph")
	}
}

func TestEvaluate_UnknownProgram(t *testing.T) {
	f := newTestFilter(t)
	report, err := f.Evaluate(context.Background(), Request{Program: "NOPE", TargetTerm: "2026T1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Note == "" {
		t.Error("unknown program should set Note")
	}
	if len(report.Enrollable)+len(report.Blocked) != 0 {
		t.Error("unknown program should yield an empty partition")
	}
}

func TestEvaluate_MalformedTerm(t *testing.T) {
	f := newTestFilter(t)
	report, err := f.Evaluate(context.Background(), Request{Program: "COMPIH", TargetTerm: "Term One"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Note == "" {
		t.Error("malformed term should set Note")
	}
}

func TestEvaluate_PrerequisiteTimeOrdering(t *testing.T) {
	f := newTestFilter(t)

	// Completed in earlier terms: strict ordering holds.
	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2024T1"),
			completion("COMP1521", "2024T2"),
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	enrollable := statusCodes(report.Enrollable)
	if !contains(enrollable, "COMP2521") {
		t.Errorf("COMP2521 should be enrollable, got enrollable %v", enrollable)
	}
	if !contains(report.Completed, "COMP1511") || !contains(report.Completed, "COMP1521") {
		t.Errorf("completed = %v, want COMP1511 and COMP1521", report.Completed)
	}
}

func TestEvaluate_SameTermCompletionDoesNotSatisfyPrerequisite(t *testing.T) {
	f := newTestFilter(t)

	// COMP1511 finished in the target term itself: COMP1521's prerequisite
	// must not count it.
	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2026T1"),
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	blocked := findStatus(report.Blocked, "COMP1521")
	if blocked == nil {
		t.Fatalf("COMP1521 should be blocked, enrollable = %v", statusCodes(report.Enrollable))
	}
	if !strings.Contains(blocked.Reason(), "prerequisite") {
		t.Errorf("reason = %q, want prerequisite failure", blocked.Reason())
	}
	if !strings.Contains(blocked.Reason(), "COMP1511") {
		t.Errorf("reason = %q, should name the missing course", blocked.Reason())
	}
}

func TestEvaluate_TermAvailability(t *testing.T) {
	f := newTestFilter(t)

	// COMP3121 runs in T2 only. Prerequisites are met, offering is not.
	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2024T1"),
			completion("COMP2521", "2024T3"),
			completion("MATH1081", "2025T1"),
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	blocked := findStatus(report.Blocked, "COMP3121")
	if blocked == nil {
		t.Fatalf("COMP3121 should be blocked at T1, enrollable = %v", statusCodes(report.Enrollable))
	}
	if !strings.Contains(blocked.Reason(), "not offered") {
		t.Errorf("reason = %q, want offering failure", blocked.Reason())
	}
}

func TestEvaluate_CorequisiteNeedsMembershipOnly(t *testing.T) {
	f := newTestFilter(t)

	// MATH1081 recorded for the target term itself still satisfies
	// COMP3311's corequisite: corequisite leaves skip time ordering.
	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2024T1"),
			completion("COMP2521", "2024T3"),
			completion("MATH1081", "2026T1"),
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if !contains(statusCodes(report.Enrollable), "COMP3311") {
		t.Errorf("COMP3311 should be enrollable, blocked = %v", statusCodes(report.Blocked))
	}
}

func TestEvaluate_MissingCorequisiteBlocks(t *testing.T) {
	f := newTestFilter(t)

	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2024T1"),
			completion("COMP2521", "2024T3"),
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	blocked := findStatus(report.Blocked, "COMP3311")
	if blocked == nil {
		t.Fatalf("COMP3311 should be blocked without MATH1081")
	}
	if !strings.Contains(blocked.Reason(), "corequisite") {
		t.Errorf("reason = %q, want corequisite failure", blocked.Reason())
	}
}

func TestEvaluate_IncompatibilityBlocks(t *testing.T) {
	f := newTestFilter(t)

	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2024T1"),
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	blocked := findStatus(report.Blocked, "COMP1911")
	if blocked == nil {
		t.Fatalf("COMP1911 should be blocked after COMP1511")
	}
	if !strings.Contains(blocked.Reason(), "incompatible") {
		t.Errorf("reason = %q, want incompatibility failure", blocked.Reason())
	}
	if !strings.Contains(blocked.Reason(), "COMP1511") {
		t.Errorf("reason = %q, should name the conflicting course", blocked.Reason())
	}
}

func TestEvaluate_UOCFloor(t *testing.T) {
	f := newTestFilter(t)

	// Two completions are 12 credits, below SENG4920's 18 UOC floor.
	req := Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2024T1"),
			completion("MATH1081", "2024T2"),
		},
	}
	report, err := f.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if findStatus(report.Blocked, "SENG4920") == nil {
		t.Error("SENG4920 should be blocked below the UOC floor")
	}

	// An explicit credit total overrides the derived sum.
	req.Credits = 24
	report, err = f.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !contains(statusCodes(report.Enrollable), "SENG4920") {
		t.Error("SENG4920 should be enrollable with 24 credited UOC")
	}
}

func TestEvaluate_ExcludeAndLevelBounds(t *testing.T) {
	f := newTestFilter(t)

	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Exclude:    []string{"math1081"},
		MinLevel:   1,
		MaxLevel:   2,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if !contains(report.Excluded, "MATH1081") {
		t.Errorf("excluded = %v, want MATH1081", report.Excluded)
	}
	for _, code := range []string{"COMP3121", "COMP3311", "SENG4920"} {
		if !contains(report.Excluded, code) {
			t.Errorf("level bound should exclude %s, excluded = %v", code, report.Excluded)
		}
	}
}

func TestEvaluate_GroupTypeRestriction(t *testing.T) {
	f := newTestFilter(t)

	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		GroupTypes: []string{"elective"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	universe := append(statusCodes(report.Enrollable), statusCodes(report.Blocked)...)
	universe = append(universe, report.Completed...)
	universe = append(universe, report.Excluded...)
	if len(universe) != 1 || universe[0] != "COMP1911" {
		t.Errorf("elective universe = %v, want [COMP1911]", universe)
	}
	if len(report.Groups) != 1 {
		t.Errorf("group statuses = %d, want 1", len(report.Groups))
	}
}

func TestEvaluate_PartitionIsExact(t *testing.T) {
	f := newTestFilter(t)

	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2024T1"),
			completion("COMP2521", "2024T3"),
		},
		Exclude: []string{"SENG4920"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	seen := map[string]int{}
	for _, code := range statusCodes(report.Enrollable) {
		seen[code]++
	}
	for _, code := range statusCodes(report.Blocked) {
		seen[code]++
	}
	for _, code := range report.Completed {
		seen[code]++
	}
	for _, code := range report.Excluded {
		seen[code]++
	}

	// 8 universe courses, each in exactly one bucket.
	if len(seen) != 8 {
		t.Errorf("partition covers %d courses, want 8: %v", len(seen), seen)
	}
	for code, n := range seen {
		if n != 1 {
			t.Errorf("course %s appears in %d buckets", code, n)
		}
	}
}

func TestEvaluate_Progress(t *testing.T) {
	f := newTestFilter(t)

	report, err := f.Evaluate(context.Background(), Request{
		Program:    "COMPIH",
		TargetTerm: "2026T1",
		Completed: []datatypes.CompletionRecord{
			completion("COMP1511", "2024T1"),
			completion("COMP1521", "2024T2"),
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if report.Progress.TotalCredits != 192 {
		t.Errorf("total credits = %d, want 192", report.Progress.TotalCredits)
	}
	if report.Progress.CompletedCredits != 12 {
		t.Errorf("completed credits = %d, want 12", report.Progress.CompletedCredits)
	}
	if report.Progress.RemainingCredits != 180 {
		t.Errorf("remaining credits = %d, want 180", report.Progress.RemainingCredits)
	}

	var core *GroupStatus
	for i := range report.Groups {
		if report.Groups[i].Title == "Core Courses" {
			core = &report.Groups[i]
		}
	}
	if core == nil {
		t.Fatal("core group status missing")
	}
	if core.CompletedCredits != 12 || core.Satisfied {
		t.Errorf("core group = %+v, want 12 completed and unsatisfied", core)
	}
}
