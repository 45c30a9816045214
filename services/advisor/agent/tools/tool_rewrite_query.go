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
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

// =============================================================================
// rewrite_query Tool
// =============================================================================

var rewriteQueryTracer = otel.Tracer("advisor.tools.rewrite_query")

// RewriteQueryParams contains the validated input parameters.
type RewriteQueryParams struct {
	// Query is the query to rewrite.
	Query string

	// Reason is the model's explanation of why retrieval came up short.
	Reason string
}

// ToMap renders the params back to the wire form, for trail metadata.
func (p RewriteQueryParams) ToMap() map[string]any {
	m := map[string]any{"query": p.Query}
	if p.Reason != "" {
		m["reason"] = p.Reason
	}
	return m
}

// rewriteQueryTool reformulates a query that retrieved nothing useful.
//
// Description:
//
//	Produces exactly one reformulation per turn; the router never offers
//	this tool again once a rewrite exists, which bounds rewrite loops
//	structurally rather than by counting.
//
// Thread Safety: safe for concurrent use.
type rewriteQueryTool struct {
	client llm.Client
	logger *slog.Logger
}

// NewRewriteQueryTool creates the rewrite_query tool.
func NewRewriteQueryTool(client llm.Client) Tool {
	return &rewriteQueryTool{
		client: client,
		logger: slog.Default(),
	}
}

func (t *rewriteQueryTool) Name() string {
	return "rewrite_query"
}

func (t *rewriteQueryTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "rewrite_query",
		Description: "Reformulate the search query when retrieval returned nothing relevant. " +
			"Expands abbreviations, adds the likely course codes or handbook terminology, " +
			"and drops conversational filler. Use only after a retrieval attempt came back empty.",
		Parameters: map[string]ParamDef{
			"query": {
				Type:        ParamTypeString,
				Description: "The query that failed to retrieve useful documents.",
				Required:    true,
			},
			"reason": {
				Type:        ParamTypeString,
				Description: "Why the original query likely failed, e.g. 'slang for course name'.",
			},
		},
		SideEffects: true,
		Timeout:     30 * time.Second,
	}
}

// Execute produces the rewritten query. Output is the bare rewritten string.
func (t *rewriteQueryTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{
			Success:  false,
			Error:    err.Error(),
			Duration: time.Since(start),
		}, nil
	}

	ctx, span := rewriteQueryTracer.Start(ctx, "rewriteQueryTool.Execute",
		trace.WithAttributes(attribute.String("tool", "rewrite_query")))
	defer span.End()

	messages := []datatypes.Message{
		{
			Role: "system",
			Content: "You rewrite search queries for a university course handbook index. " +
				"Rewrite the user's query into the terminology the handbook uses: full course " +
				"codes, official course names, and degree requirement vocabulary. " +
				"Reply with the rewritten query only, no explanation.",
		},
		{
			Role:    "user",
			Content: t.prompt(p),
		},
	}

	temp := float32(0.2)
	maxTokens := 100
	rewritten, err := t.client.Chat(ctx, messages, llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})
	if err != nil {
		span.RecordError(err)
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("query rewrite failed: %v", err),
			Duration: time.Since(start),
		}, nil
	}

	rewritten = strings.TrimSpace(strings.Trim(strings.TrimSpace(rewritten), `"`))
	if rewritten == "" || strings.EqualFold(rewritten, p.Query) {
		return &Result{
			Success:  false,
			Error:    "rewrite produced no change",
			Duration: time.Since(start),
		}, nil
	}

	t.logger.Debug("query rewritten",
		slog.String("original", p.Query),
		slog.String("rewritten", rewritten),
	)
	return &Result{
		Success:    true,
		Output:     rewritten,
		OutputText: rewritten,
		Duration:   time.Since(start),
	}, nil
}

func (t *rewriteQueryTool) prompt(p RewriteQueryParams) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n", p.Query)
	if p.Reason != "" {
		fmt.Fprintf(&sb, "Retrieval problem: %s\n", p.Reason)
	}
	return sb.String()
}

// parseParams validates and extracts typed parameters from the raw map.
func (t *rewriteQueryTool) parseParams(params map[string]any) (RewriteQueryParams, error) {
	var p RewriteQueryParams
	if raw, ok := params["query"]; ok {
		if q, ok := parseStringParam(raw); ok {
			p.Query = strings.TrimSpace(q)
		}
	}
	if p.Query == "" {
		return p, fmt.Errorf("query is required")
	}
	if raw, ok := params["reason"]; ok {
		if reason, ok := parseStringParam(raw); ok {
			p.Reason = strings.TrimSpace(reason)
		}
	}
	return p, nil
}
