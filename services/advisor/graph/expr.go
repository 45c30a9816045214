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
	"fmt"
	"sort"
	"strings"
)

// ExprKind identifies the variant of a requirement expression node.
type ExprKind string

// Expression variants. AND/OR are composite; the rest are leaves.
const (
	ExprAnd    ExprKind = "AND"
	ExprOr     ExprKind = "OR"
	ExprCourse ExprKind = "course"
	ExprUOC    ExprKind = "uoc"
	ExprWAM    ExprKind = "wam"
)

// Expr is a recursive requirement expression.
//
// Description:
//
//	A small tagged union covering the expression shapes found in course
//	requirement data: AND/OR composition, a single course reference, a
//	units-of-credit floor, and a WAM floor. Exactly the fields relevant
//	to Kind are populated; the rest stay zero.
//
// Thread Safety: treat as immutable after construction.
type Expr struct {
	// Kind selects the variant.
	Kind ExprKind `json:"kind"`

	// Args holds the operands for AND/OR expressions.
	Args []*Expr `json:"args,omitempty"`

	// Code is the referenced course code for course expressions.
	Code string `json:"code,omitempty"`

	// Amount is the required units of credit for uoc expressions.
	Amount int `json:"amount,omitempty"`

	// Threshold is the required WAM for wam expressions.
	Threshold float64 `json:"threshold,omitempty"`
}

// And builds an AND expression over the given operands.
func And(args ...*Expr) *Expr { return &Expr{Kind: ExprAnd, Args: args} }

// Or builds an OR expression over the given operands.
func Or(args ...*Expr) *Expr { return &Expr{Kind: ExprOr, Args: args} }

// Course builds a course-reference leaf.
func Course(code string) *Expr { return &Expr{Kind: ExprCourse, Code: strings.ToUpper(code)} }

// UOC builds a units-of-credit leaf.
func UOC(amount int) *Expr { return &Expr{Kind: ExprUOC, Amount: amount} }

// WAM builds a WAM-threshold leaf.
func WAM(threshold float64) *Expr { return &Expr{Kind: ExprWAM, Threshold: threshold} }

// Flatten returns the set of course codes referenced anywhere in the
// expression, recursing through AND/OR. The result is sorted for
// deterministic output. A nil expression flattens to no codes.
func (e *Expr) Flatten() []string {
	seen := make(map[string]bool)
	e.flattenInto(seen)

	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (e *Expr) flattenInto(seen map[string]bool) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ExprCourse:
		if e.Code != "" {
			seen[e.Code] = true
		}
	case ExprAnd, ExprOr:
		for _, arg := range e.Args {
			arg.flattenInto(seen)
		}
	}
}

// EvalContext supplies the leaf predicates for expression evaluation.
//
// Description:
//
//	Callers decide what "having completed a course" means: the graph's
//	enrollability scan uses plain set membership, while the eligibility
//	filter closes over term ordering so a same-term completion does not
//	satisfy its own prerequisite.
type EvalContext struct {
	// CourseSatisfied reports whether a course-reference leaf is met.
	CourseSatisfied func(code string) bool

	// UOC is the student's completed units of credit.
	UOC int

	// WAM is the student's weighted average mark.
	WAM float64
}

// SatisfiedBy evaluates the expression against the given context.
//
// Description:
//
//	AND requires all operands true, OR at least one. An empty AND/OR is
//	vacuously true (no constraint). A nil expression is satisfied.
//	Unknown kinds evaluate to true rather than blocking: malformed
//	requirement data is a data problem, not grounds to lock a student
//	out of every course.
func (e *Expr) SatisfiedBy(ctx EvalContext) bool {
	if e == nil {
		return true
	}
	switch e.Kind {
	case ExprAnd:
		for _, arg := range e.Args {
			if !arg.SatisfiedBy(ctx) {
				return false
			}
		}
		return true
	case ExprOr:
		if len(e.Args) == 0 {
			return true
		}
		for _, arg := range e.Args {
			if arg.SatisfiedBy(ctx) {
				return true
			}
		}
		return false
	case ExprCourse:
		if ctx.CourseSatisfied == nil {
			return false
		}
		return ctx.CourseSatisfied(e.Code)
	case ExprUOC:
		return ctx.UOC >= e.Amount
	case ExprWAM:
		return ctx.WAM >= e.Threshold
	default:
		return true
	}
}

// String renders the expression in a compact human-readable form, used in
// blocked-course reason strings.
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ExprCourse:
		return e.Code
	case ExprUOC:
		return fmt.Sprintf("%d UOC", e.Amount)
	case ExprWAM:
		return fmt.Sprintf("WAM %.0f", e.Threshold)
	case ExprAnd, ExprOr:
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			parts = append(parts, arg.String())
		}
		sep := " AND "
		if e.Kind == ExprOr {
			sep = " OR "
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return "(" + strings.Join(parts, sep) + ")"
	default:
		return string(e.Kind)
	}
}
