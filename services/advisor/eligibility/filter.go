// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eligibility implements the hard-rule course eligibility filter: a
// constraint evaluator over prerequisites, time ordering, term availability,
// and credit limits, run against the frozen knowledge graph plus
// caller-supplied completion data.
package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
)

var filterTracer = otel.Tracer("advisor.eligibility")

// Request is the input to one eligibility evaluation.
type Request struct {
	// Program is the target program code. Required.
	Program string `json:"program"`

	// TargetTerm is the enrollment term under consideration, e.g. "2026T1".
	// Required.
	TargetTerm string `json:"target_term"`

	// Completed lists the student's completed courses.
	Completed []datatypes.CompletionRecord `json:"completed,omitempty"`

	// Credits is the current completed credit-point total, if known.
	// When zero it is recomputed from the completed courses' credit values.
	Credits int `json:"credits,omitempty"`

	// WAM is the weighted average mark, if known.
	WAM float64 `json:"wam,omitempty"`

	// TermCreditCap is an optional per-term credit-point cap, surfaced to
	// the caller as planning advice.
	TermCreditCap int `json:"term_credit_cap,omitempty"`

	// Exclude lists course codes to leave out of the evaluation.
	Exclude []string `json:"exclude,omitempty"`

	// MinLevel and MaxLevel bound the candidate course level (0 = no bound).
	MinLevel int `json:"min_level,omitempty"`
	MaxLevel int `json:"max_level,omitempty"`

	// GroupTypes restricts the course universe to requirement groups with
	// these group-type labels. Empty means all groups.
	GroupTypes []string `json:"group_types,omitempty"`
}

// CourseStatus describes one course's evaluation outcome.
type CourseStatus struct {
	// Code is the course code.
	Code string `json:"code"`

	// Name is the short course name.
	Name string `json:"name,omitempty"`

	// Credits is the course's credit-point value.
	Credits int `json:"credits"`

	// Terms lists the course's offering term labels.
	Terms []string `json:"terms,omitempty"`

	// Reasons lists one human-readable string per failed condition.
	// Empty for enrollable courses.
	Reasons []string `json:"reasons,omitempty"`
}

// Reason returns the concatenated reason string for a blocked course.
func (c *CourseStatus) Reason() string {
	return strings.Join(c.Reasons, "; ")
}

// GroupStatus reports completion progress against one requirement group.
type GroupStatus struct {
	// Title is the group title.
	Title string `json:"title"`

	// GroupType is the group-type label.
	GroupType string `json:"group_type,omitempty"`

	// RequiredCredits is the group's credit-point target.
	RequiredCredits int `json:"required_credits"`

	// CompletedCredits is the credit points completed within the group.
	CompletedCredits int `json:"completed_credits"`

	// Percentage is completed/required, capped at 100.
	Percentage float64 `json:"percentage"`

	// Satisfied reports whether the group's target is met.
	Satisfied bool `json:"satisfied"`
}

// Progress reports overall program progress.
type Progress struct {
	// TotalCredits is the program's total required credit points.
	TotalCredits int `json:"total_credits"`

	// CompletedCredits is the credit points completed so far.
	CompletedCredits int `json:"completed_credits"`

	// RemainingCredits is the credit points still required.
	RemainingCredits int `json:"remaining_credits"`

	// Percentage is completed/total, capped at 100.
	Percentage float64 `json:"percentage"`
}

// Report is the full output of one eligibility evaluation.
//
// Description:
//
//	Enrollable, Blocked, Completed, and Excluded partition the program's
//	course universe exactly, with no overlaps. Both enrollable and blocked
//	lists are fully detailed, never truncated.
type Report struct {
	// Program is the evaluated program code.
	Program string `json:"program"`

	// TargetTerm is the evaluated term label.
	TargetTerm string `json:"target_term"`

	// Enrollable lists courses the student can enroll in.
	Enrollable []CourseStatus `json:"enrollable"`

	// Blocked lists courses with at least one failed condition.
	Blocked []CourseStatus `json:"blocked"`

	// Completed lists universe courses already completed.
	Completed []string `json:"completed,omitempty"`

	// Excluded lists universe courses left out by the request's exclude
	// list or level bounds.
	Excluded []string `json:"excluded,omitempty"`

	// Groups reports per-requirement-group completion status.
	Groups []GroupStatus `json:"groups,omitempty"`

	// Progress reports overall program progress.
	Progress Progress `json:"progress"`

	// TermCreditCap echoes the request's per-term cap for planners.
	TermCreditCap int `json:"term_credit_cap,omitempty"`

	// Note explains an empty result for malformed input, e.g. an unknown
	// program code. A missing program is a normal user-facing condition,
	// not a system fault.
	Note string `json:"note,omitempty"`
}

// Filter evaluates course eligibility against a frozen knowledge graph.
//
// Thread Safety: safe for concurrent use; the filter is a pure function
// over the immutable graph snapshot and caller-supplied data.
type Filter struct {
	graph  *graph.Graph
	logger *slog.Logger
}

// NewFilter creates a Filter.
//
// Inputs:
//
//	g - The frozen knowledge graph. Must not be nil.
//	logger - Logger for diagnostic output. Nil uses slog.Default().
func NewFilter(g *graph.Graph, logger *slog.Logger) (*Filter, error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{graph: g, logger: logger}, nil
}

// Evaluate runs the hard-rule filter for one request.
//
// Description:
//
//	Expands the program's course universe from its requirement groups and
//	partitions it into enrollable, blocked, completed, and excluded. A
//	course is enrollable iff it is offered in the target term AND its
//	prerequisite expression is satisfied AND its corequisite expression is
//	satisfied AND no incompatible course has been completed. Prerequisite
//	course leaves require the completion term to strictly precede the
//	target term; a course completed in or after the target term does not
//	satisfy its own prerequisite. Corequisite leaves need membership only.
//
// Outputs:
//
//	*Report - Always non-nil. Malformed input yields an empty report with
//	Note set rather than an error.
//	error - Non-nil only for programming errors (nil ctx).
func (f *Filter) Evaluate(ctx context.Context, req Request) (*Report, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	_, span := filterTracer.Start(ctx, "Filter.Evaluate",
		trace.WithAttributes(
			attribute.String("program", req.Program),
			attribute.String("target_term", req.TargetTerm),
			attribute.Int("completed_count", len(req.Completed)),
		),
	)
	defer span.End()

	report := &Report{
		Program:       strings.ToUpper(strings.TrimSpace(req.Program)),
		TargetTerm:    strings.ToUpper(strings.TrimSpace(req.TargetTerm)),
		Enrollable:    []CourseStatus{},
		Blocked:       []CourseStatus{},
		TermCreditCap: req.TermCreditCap,
	}

	program := f.graph.ProgramByCode(report.Program)
	if program == nil {
		report.Note = fmt.Sprintf("unknown program code %q", req.Program)
		return report, nil
	}

	targetTerm, err := ParseTerm(report.TargetTerm)
	if err != nil {
		report.Note = err.Error()
		return report, nil
	}

	completed := make(map[string]datatypes.CompletionRecord, len(req.Completed))
	for _, rec := range req.Completed {
		completed[strings.ToUpper(strings.TrimSpace(rec.CourseCode))] = rec
	}
	excluded := make(map[string]bool, len(req.Exclude))
	for _, code := range req.Exclude {
		excluded[strings.ToUpper(strings.TrimSpace(code))] = true
	}
	allowedTypes := make(map[string]bool, len(req.GroupTypes))
	for _, t := range req.GroupTypes {
		allowedTypes[strings.ToLower(strings.TrimSpace(t))] = true
	}

	credits := req.Credits
	if credits == 0 {
		credits = f.completedCredits(completed)
	}

	// Expand the course universe from the program's requirement groups.
	groups := f.graph.Groups(report.Program)
	universe := make(map[string]*graph.CourseNode)
	for _, grp := range groups {
		if len(allowedTypes) > 0 && !allowedTypes[strings.ToLower(grp.GroupType)] {
			continue
		}
		for _, course := range f.graph.GroupCourses(grp.ProgramCode, grp.Title) {
			universe[course.Code] = course
		}
	}

	codes := make([]string, 0, len(universe))
	for code := range universe {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		course := universe[code]
		switch {
		case completed[code].CourseCode != "":
			report.Completed = append(report.Completed, code)
			continue
		case excluded[code]:
			report.Excluded = append(report.Excluded, code)
			continue
		case req.MinLevel > 0 && course.Level < req.MinLevel,
			req.MaxLevel > 0 && course.Level > req.MaxLevel:
			report.Excluded = append(report.Excluded, code)
			continue
		}

		status := CourseStatus{
			Code:    code,
			Name:    course.Name,
			Credits: course.Credits,
			Terms:   sortedTerms(course.Terms),
		}
		status.Reasons = f.evaluateCourse(course, completed, targetTerm, credits, req.WAM)

		if len(status.Reasons) == 0 {
			report.Enrollable = append(report.Enrollable, status)
		} else {
			report.Blocked = append(report.Blocked, status)
		}
	}

	report.Groups = f.groupStatuses(groups, allowedTypes, completed)
	report.Progress = f.progress(program, completed)

	span.SetAttributes(
		attribute.Int("enrollable", len(report.Enrollable)),
		attribute.Int("blocked", len(report.Blocked)),
	)
	f.logger.Debug("eligibility evaluated",
		slog.String("program", report.Program),
		slog.String("target_term", report.TargetTerm),
		slog.Int("enrollable", len(report.Enrollable)),
		slog.Int("blocked", len(report.Blocked)),
	)
	return report, nil
}

// evaluateCourse returns one reason string per failed condition, empty when
// the course is enrollable.
func (f *Filter) evaluateCourse(course *graph.CourseNode, completed map[string]datatypes.CompletionRecord, targetTerm Term, credits int, wam float64) []string {
	var reasons []string

	if !course.OfferedIn(targetTerm.OfferingLabel()) {
		reasons = append(reasons, fmt.Sprintf("not offered in %s (offered: %s)",
			targetTerm.OfferingLabel(), strings.Join(sortedTerms(course.Terms), ", ")))
	}

	// Prerequisite leaves require strict time ordering: the completion term
	// must precede the target term.
	prereq := f.graph.PrerequisiteExpr(course.Code)
	prereqCtx := graph.EvalContext{
		CourseSatisfied: func(code string) bool {
			rec, ok := completed[code]
			if !ok {
				return false
			}
			doneTerm, err := ParseTerm(rec.Term)
			if err != nil {
				return false
			}
			return doneTerm.Before(targetTerm)
		},
		UOC: credits,
		WAM: wam,
	}
	if !prereq.SatisfiedBy(prereqCtx) {
		missing := missingCourses(prereq, prereqCtx)
		reason := fmt.Sprintf("prerequisite not satisfied: requires %s", prereq.String())
		if len(missing) > 0 {
			reason += fmt.Sprintf(" (missing: %s)", strings.Join(missing, ", "))
		}
		reasons = append(reasons, reason)
	}

	// Corequisites need membership only, no time ordering.
	coreq := f.graph.CorequisiteExpr(course.Code)
	coreqCtx := graph.EvalContext{
		CourseSatisfied: func(code string) bool {
			_, ok := completed[code]
			return ok
		},
		UOC: credits,
		WAM: wam,
	}
	if !coreq.SatisfiedBy(coreqCtx) {
		reasons = append(reasons, fmt.Sprintf("corequisite not satisfied: requires %s", coreq.String()))
	}

	// Incompatibility: any referenced course in the completed set conflicts.
	if incompat := f.graph.IncompatibleExpr(course.Code); incompat != nil {
		var conflicts []string
		for _, code := range incompat.Flatten() {
			if _, ok := completed[code]; ok {
				conflicts = append(conflicts, code)
			}
		}
		if len(conflicts) > 0 {
			reasons = append(reasons, fmt.Sprintf("incompatible with completed course %s", strings.Join(conflicts, ", ")))
		}
	}

	return reasons
}

// groupStatuses computes per-group completion progress.
func (f *Filter) groupStatuses(groups []*graph.GroupNode, allowedTypes map[string]bool, completed map[string]datatypes.CompletionRecord) []GroupStatus {
	var statuses []GroupStatus
	for _, grp := range groups {
		if len(allowedTypes) > 0 && !allowedTypes[strings.ToLower(grp.GroupType)] {
			continue
		}
		done := 0
		for _, course := range f.graph.GroupCourses(grp.ProgramCode, grp.Title) {
			if _, ok := completed[course.Code]; ok {
				done += course.Credits
			}
		}
		status := GroupStatus{
			Title:            grp.Title,
			GroupType:        grp.GroupType,
			RequiredCredits:  grp.Credits,
			CompletedCredits: done,
		}
		if grp.Credits > 0 {
			status.Percentage = min(100, float64(done)/float64(grp.Credits)*100)
			status.Satisfied = done >= grp.Credits
		} else {
			status.Percentage = 100
			status.Satisfied = true
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// progress computes overall program progress from the completed courses'
// credit values.
func (f *Filter) progress(program *graph.ProgramNode, completed map[string]datatypes.CompletionRecord) Progress {
	done := f.completedCredits(completed)
	p := Progress{
		TotalCredits:     program.TotalCredits,
		CompletedCredits: done,
	}
	if program.TotalCredits > 0 {
		p.RemainingCredits = max(0, program.TotalCredits-done)
		p.Percentage = min(100, float64(done)/float64(program.TotalCredits)*100)
	}
	return p
}

// completedCredits sums credit points over the completed courses that exist
// in the graph. Unknown codes contribute 0.
func (f *Filter) completedCredits(completed map[string]datatypes.CompletionRecord) int {
	total := 0
	for code := range completed {
		if course := f.graph.CourseByCode(code); course != nil {
			total += course.Credits
		}
	}
	return total
}

// missingCourses lists the course leaves of an expression that the
// evaluation context does not satisfy.
func missingCourses(e *graph.Expr, ctx graph.EvalContext) []string {
	var missing []string
	for _, code := range e.Flatten() {
		if ctx.CourseSatisfied == nil || !ctx.CourseSatisfied(code) {
			missing = append(missing, code)
		}
	}
	return missing
}

// sortedTerms renders a term-label set in sorted order.
func sortedTerms(terms map[string]bool) []string {
	out := make([]string, 0, len(terms))
	for t := range terms {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
