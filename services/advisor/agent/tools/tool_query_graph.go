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

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
)

// =============================================================================
// query_graph Tool
// =============================================================================

var queryGraphTracer = otel.Tracer("advisor.tools.query_graph")

// Graph operations the tool accepts.
const (
	opPrerequisites     = "prerequisites"
	opCorequisites      = "corequisites"
	opIncompatibilities = "incompatibilities"
	opUnlockedBy        = "unlocked_by"
	opChain             = "chain"
	opPath              = "path"
)

var queryGraphOps = []string{
	opPrerequisites, opCorequisites, opIncompatibilities,
	opUnlockedBy, opChain, opPath,
}

// QueryGraphParams contains the validated input parameters.
type QueryGraphParams struct {
	// Operation is one of the queryGraphOps values.
	Operation string

	// Course is the subject course code. Required for all operations.
	Course string

	// Target is the destination course for the path operation.
	Target string

	// Depth bounds chain traversal. Default graph.DefaultChainDepth.
	Depth int
}

// ToMap renders the params back to the wire form, for trail metadata.
func (p QueryGraphParams) ToMap() map[string]any {
	m := map[string]any{
		"operation": p.Operation,
		"course":    p.Course,
	}
	if p.Target != "" {
		m["target"] = p.Target
	}
	if p.Depth > 0 {
		m["depth"] = p.Depth
	}
	return m
}

// queryGraphTool exposes the relationship graph's read operations.
//
// Description:
//
//	One tool with an operation discriminator rather than six separate
//	tools. The model picks the relation it needs; every operation is a
//	read-only lookup against the frozen graph, so results are exact and
//	exhaustive, not retrieval approximations.
//
// Thread Safety: safe for concurrent use.
type queryGraphTool struct {
	graph  *graph.Graph
	logger *slog.Logger
}

// NewQueryGraphTool creates the query_graph tool.
func NewQueryGraphTool(g *graph.Graph) Tool {
	return &queryGraphTool{
		graph:  g,
		logger: slog.Default(),
	}
}

func (t *queryGraphTool) Name() string {
	return "query_graph"
}

func (t *queryGraphTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "query_graph",
		Description: "Query the course relationship graph for exact facts about one course. " +
			"Operations: 'prerequisites' (direct prerequisites), 'corequisites', " +
			"'incompatibilities' (exclusion courses), 'unlocked_by' (courses this one opens up), " +
			"'chain' (the full multi-hop prerequisite tree), " +
			"'path' (prerequisite paths from one course to another). " +
			"Use when the question names a specific course and asks about its relationships. " +
			"Results come from the official handbook data and are exhaustive.",
		Parameters: map[string]ParamDef{
			"operation": {
				Type:        ParamTypeString,
				Description: "The graph operation to run.",
				Required:    true,
				Enum:        queryGraphOps,
			},
			"course": {
				Type:        ParamTypeString,
				Description: "Subject course code, e.g. 'COMP1511'.",
				Required:    true,
			},
			"target": {
				Type:        ParamTypeString,
				Description: "Destination course code. Required for the 'path' operation.",
			},
			"depth": {
				Type:        ParamTypeInt,
				Description: "Maximum traversal depth for 'chain' and 'path'.",
				Default:     graph.DefaultChainDepth,
			},
		},
		SideEffects: false,
		Timeout:     5 * time.Second,
	}
}

// Execute runs the requested graph operation.
func (t *queryGraphTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{
			Success:  false,
			Error:    err.Error(),
			Duration: time.Since(start),
		}, nil
	}

	_, span := queryGraphTracer.Start(ctx, "queryGraphTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "query_graph"),
			attribute.String("operation", p.Operation),
			attribute.String("course", p.Course),
		),
	)
	defer span.End()

	if t.graph.CourseByCode(p.Course) == nil {
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("course %q is not in the graph", p.Course),
			Duration: time.Since(start),
		}, nil
	}

	var output any
	var text string

	switch p.Operation {
	case opPrerequisites:
		courses := t.graph.DirectPrerequisites(p.Course)
		output = courses
		text = t.formatRelation(p.Course, "prerequisites", courses, t.graph.PrerequisiteExpr(p.Course))
	case opCorequisites:
		courses := t.graph.Corequisites(p.Course)
		output = courses
		text = t.formatRelation(p.Course, "corequisites", courses, t.graph.CorequisiteExpr(p.Course))
	case opIncompatibilities:
		courses := t.graph.Incompatibilities(p.Course)
		output = courses
		text = t.formatRelation(p.Course, "incompatible courses", courses, t.graph.IncompatibleExpr(p.Course))
	case opUnlockedBy:
		courses := t.graph.UnlockedBy(p.Course)
		output = courses
		text = t.formatRelation(p.Course, "courses unlocked", courses, nil)
	case opChain:
		chain := t.graph.PrerequisiteChain(p.Course, p.Depth)
		output = chain
		text = formatChain(chain)
	case opPath:
		paths := t.graph.AllPaths(p.Course, p.Target, p.Depth)
		output = paths
		text = formatPaths(p.Course, p.Target, paths)
	default:
		// parseParams already validated the operation.
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("unknown operation %q", p.Operation),
			Duration: time.Since(start),
		}, nil
	}

	return &Result{
		Success:    true,
		Output:     output,
		OutputText: text,
		Duration:   time.Since(start),
	}, nil
}

// parseParams validates and extracts typed parameters from the raw map.
func (t *queryGraphTool) parseParams(params map[string]any) (QueryGraphParams, error) {
	p := QueryGraphParams{Depth: graph.DefaultChainDepth}

	if raw, ok := params["operation"]; ok {
		if op, ok := parseStringParam(raw); ok {
			p.Operation = strings.ToLower(strings.TrimSpace(op))
		}
	}
	valid := false
	for _, op := range queryGraphOps {
		if p.Operation == op {
			valid = true
			break
		}
	}
	if !valid {
		return p, fmt.Errorf("operation must be one of %s", strings.Join(queryGraphOps, ", "))
	}

	if raw, ok := params["course"]; ok {
		if course, ok := parseStringParam(raw); ok {
			p.Course = strings.ToUpper(strings.TrimSpace(course))
		}
	}
	if p.Course == "" {
		return p, fmt.Errorf("course is required, e.g. 'COMP1511'")
	}

	if raw, ok := params["target"]; ok {
		if target, ok := parseStringParam(raw); ok {
			p.Target = strings.ToUpper(strings.TrimSpace(target))
		}
	}
	if p.Operation == opPath && p.Target == "" {
		return p, fmt.Errorf("target is required for the path operation")
	}

	if raw, ok := params["depth"]; ok {
		if depth, ok := parseIntParam(raw); ok && depth > 0 {
			if depth > graph.DefaultPathDepth {
				depth = graph.DefaultPathDepth
			}
			p.Depth = depth
		}
	}
	return p, nil
}

// formatRelation renders a flat relation result, including the requirement
// expression when one exists so AND/OR structure survives.
func (t *queryGraphTool) formatRelation(course, relation string, courses []*graph.CourseNode, expr *graph.Expr) string {
	var sb strings.Builder
	if len(courses) == 0 {
		fmt.Fprintf(&sb, "%s has no %s.\n", course, relation)
	} else {
		fmt.Fprintf(&sb, "%s of %s:\n", strings.ToUpper(relation[:1])+relation[1:], course)
		for _, c := range courses {
			fmt.Fprintf(&sb, "  - %s %s (%d UOC)\n", c.Code, c.Name, c.Credits)
		}
	}
	if expr != nil {
		fmt.Fprintf(&sb, "Requirement rule: %s\n", expr.String())
	}
	return sb.String()
}

// formatChain renders the prerequisite tree with indentation by depth.
func formatChain(chain *graph.ChainNode) string {
	if chain == nil {
		return "Course not found in the graph.\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Prerequisite chain for %s:\n", chain.Code)
	var walk func(node *graph.ChainNode)
	walk = func(node *graph.ChainNode) {
		fmt.Fprintf(&sb, "%s- %s\n", strings.Repeat("  ", node.Depth+1), node.Code)
		for _, pre := range node.Prerequisites {
			walk(pre)
		}
	}
	if len(chain.Prerequisites) == 0 {
		sb.WriteString("  (no prerequisites)\n")
		return sb.String()
	}
	for _, pre := range chain.Prerequisites {
		walk(pre)
	}
	return sb.String()
}

// formatPaths renders prerequisite paths shortest-first.
func formatPaths(from, to string, paths [][]string) string {
	if len(paths) == 0 {
		return fmt.Sprintf("No prerequisite path from %s to %s.\n", from, to)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Prerequisite paths from %s to %s (%d found, shortest first):\n", from, to, len(paths))
	for _, path := range paths {
		fmt.Fprintf(&sb, "  - %s\n", strings.Join(path, " -> "))
	}
	return sb.String()
}
