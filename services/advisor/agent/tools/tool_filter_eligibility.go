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
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/eligibility"
)

// =============================================================================
// filter_eligibility Tool
// =============================================================================

var filterEligibilityTracer = otel.Tracer("advisor.tools.filter_eligibility")

// FilterEligibilityParams contains the validated input parameters. The
// student's program, completions, credits, and WAM always come from the
// conversation profile, never from the model.
type FilterEligibilityParams struct {
	// TargetTerm overrides the profile's target term when set.
	TargetTerm string

	// Exclude lists course codes to leave out.
	Exclude []string

	// MinLevel and MaxLevel bound candidate course levels (0 = unbounded).
	MinLevel int
	MaxLevel int

	// GroupTypes restricts the universe to matching requirement groups.
	GroupTypes []string
}

// ToMap renders the params back to the wire form, for trail metadata.
func (p FilterEligibilityParams) ToMap() map[string]any {
	m := map[string]any{}
	if p.TargetTerm != "" {
		m["target_term"] = p.TargetTerm
	}
	if len(p.Exclude) > 0 {
		m["exclude"] = p.Exclude
	}
	if p.MinLevel > 0 {
		m["min_level"] = p.MinLevel
	}
	if p.MaxLevel > 0 {
		m["max_level"] = p.MaxLevel
	}
	if len(p.GroupTypes) > 0 {
		m["group_types"] = p.GroupTypes
	}
	return m
}

// filterEligibilityTool wraps eligibility.Filter.Evaluate.
//
// Description:
//
//	Answers "what can I take next term" style questions with the full
//	deterministic eligibility report. The profile is injected at
//	construction so the model cannot fabricate a different student.
//
// Thread Safety: safe for concurrent use.
type filterEligibilityTool struct {
	filter  *eligibility.Filter
	profile datatypes.StudentProfile
	logger  *slog.Logger
}

// NewFilterEligibilityTool creates the filter_eligibility tool bound to one
// student profile.
//
// Inputs:
//
//	filter - The eligibility filter. Must not be nil.
//	profile - The student's academic context for this conversation.
func NewFilterEligibilityTool(filter *eligibility.Filter, profile datatypes.StudentProfile) Tool {
	return &filterEligibilityTool{
		filter:  filter,
		profile: profile,
		logger:  slog.Default(),
	}
}

func (t *filterEligibilityTool) Name() string {
	return "filter_eligibility"
}

func (t *filterEligibilityTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "filter_eligibility",
		Description: "Compute the full list of courses the student can and cannot enroll in " +
			"for a target term, given their program and completed courses. " +
			"Use for questions like 'what can I take next term?', 'am I eligible for level 3 courses?', " +
			"or 'what electives are open to me?'. " +
			"Returns enrollable and blocked courses with per-course reasons, plus program progress.",
		Parameters: map[string]ParamDef{
			"target_term": {
				Type:        ParamTypeString,
				Description: "Term to evaluate, e.g. '2026T1'. Defaults to the student's target term.",
			},
			"exclude": {
				Type:        ParamTypeArray,
				Description: "Course codes to leave out of the evaluation.",
			},
			"min_level": {
				Type:        ParamTypeInt,
				Description: "Minimum course level to consider, e.g. 3 for level-3-and-above.",
			},
			"max_level": {
				Type:        ParamTypeInt,
				Description: "Maximum course level to consider.",
			},
			"group_types": {
				Type:        ParamTypeArray,
				Description: "Restrict to requirement groups of these types, e.g. ['core'] or ['elective'].",
			},
		},
		SideEffects: false,
		Timeout:     5 * time.Second,
	}
}

// Execute runs the eligibility evaluation.
func (t *filterEligibilityTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p := t.parseParams(params)

	ctx, span := filterEligibilityTracer.Start(ctx, "filterEligibilityTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "filter_eligibility"),
			attribute.String("program", t.profile.Program),
			attribute.String("target_term", p.TargetTerm),
		),
	)
	defer span.End()

	req := eligibility.Request{
		Program:    t.profile.Program,
		TargetTerm: p.TargetTerm,
		Completed:  t.profile.Completed,
		Credits:    t.profile.Credits,
		WAM:        t.profile.WAM,
		Exclude:    p.Exclude,
		MinLevel:   p.MinLevel,
		MaxLevel:   p.MaxLevel,
		GroupTypes: p.GroupTypes,
	}

	report, err := t.filter.Evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("eligibility evaluation failed: %v", err),
			Duration: time.Since(start),
		}, nil
	}

	span.SetAttributes(
		attribute.Int("enrollable", len(report.Enrollable)),
		attribute.Int("blocked", len(report.Blocked)),
	)

	return &Result{
		Success:    true,
		Output:     report,
		OutputText: formatReport(report),
		Duration:   time.Since(start),
	}, nil
}

// parseParams extracts typed parameters, defaulting the term to the profile.
func (t *filterEligibilityTool) parseParams(params map[string]any) FilterEligibilityParams {
	p := FilterEligibilityParams{TargetTerm: t.profile.TargetTerm}

	if raw, ok := params["target_term"]; ok {
		if term, ok := parseStringParam(raw); ok && term != "" {
			p.TargetTerm = term
		}
	}
	if raw, ok := params["exclude"]; ok {
		if codes, ok := parseStringSliceParam(raw); ok {
			p.Exclude = codes
		}
	}
	if raw, ok := params["min_level"]; ok {
		if v, ok := parseIntParam(raw); ok && v > 0 {
			p.MinLevel = v
		}
	}
	if raw, ok := params["max_level"]; ok {
		if v, ok := parseIntParam(raw); ok && v > 0 {
			p.MaxLevel = v
		}
	}
	if raw, ok := params["group_types"]; ok {
		if types, ok := parseStringSliceParam(raw); ok {
			p.GroupTypes = types
		}
	}
	return p
}

// formatReport renders an eligibility report as model-readable text.
func formatReport(r *eligibility.Report) string {
	var sb strings.Builder

	if r.Note != "" {
		fmt.Fprintf(&sb, "Eligibility for %s in %s could not be evaluated: %s\n", r.Program, r.TargetTerm, r.Note)
		return sb.String()
	}

	fmt.Fprintf(&sb, "Eligibility for program %s, term %s:\n\n", r.Program, r.TargetTerm)

	fmt.Fprintf(&sb, "Enrollable (%d):\n", len(r.Enrollable))
	for _, c := range r.Enrollable {
		fmt.Fprintf(&sb, "  - %s %s (%d UOC", c.Code, c.Name, c.Credits)
		if len(c.Terms) > 0 {
			fmt.Fprintf(&sb, ", offered %s", strings.Join(c.Terms, "/"))
		}
		sb.WriteString(")\n")
	}

	fmt.Fprintf(&sb, "\nBlocked (%d):\n", len(r.Blocked))
	for _, c := range r.Blocked {
		fmt.Fprintf(&sb, "  - %s %s: %s\n", c.Code, c.Name, c.Reason())
	}

	if len(r.Completed) > 0 {
		fmt.Fprintf(&sb, "\nAlready completed: %s\n", strings.Join(r.Completed, ", "))
	}
	if len(r.Groups) > 0 {
		sb.WriteString("\nRequirement groups:\n")
		for _, g := range r.Groups {
			fmt.Fprintf(&sb, "  - %s: %d/%d UOC (%.0f%%)\n", g.Title, g.CompletedCredits, g.RequiredCredits, g.Percentage)
		}
	}
	fmt.Fprintf(&sb, "\nProgram progress: %d/%d UOC (%.0f%%)\n",
		r.Progress.CompletedCredits, r.Progress.TotalCredits, r.Progress.Percentage)
	if r.TermCreditCap > 0 {
		fmt.Fprintf(&sb, "Per-term credit cap: %d UOC\n", r.TermCreditCap)
	}
	return sb.String()
}
