// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing decides the advisor's next step each loop iteration. The
// decision is an LLM structured function call constrained by hard rules the
// model cannot override: the round budget, the zero-progress guard, and the
// single-rewrite limit.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

// Route is one of the router's possible next steps.
type Route string

const (
	RouteRetrieveRAG        Route = "retrieve_rag"
	RouteCallTool           Route = "call_tool"
	RouteNeedsClarification Route = "needs_clarification"
	RouteGeneralChat        Route = "general_chat"
	RouteFinish             Route = "finish"
)

// MaxRounds is the hard budget on retrieval/tool rounds per turn.
const MaxRounds = 3

// zeroProgressRounds is the completed-round count after which an empty
// evidence pool forces finish.
const zeroProgressRounds = 2

// RewriteToolName is the rewrite tool's registered name; the router gates
// its availability.
const RewriteToolName = "rewrite_query"

var routeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "advisor_route_decisions_total",
	Help: "Router decisions by route and origin (llm or forced).",
}, []string{"route", "origin"})

// Decision is the router's output for one loop iteration.
type Decision struct {
	// Route is the selected route.
	Route Route `json:"route"`

	// Tool is the tool name when Route is call_tool.
	Tool string `json:"tool,omitempty"`

	// ToolParams are the tool arguments when Route is call_tool.
	ToolParams map[string]any `json:"tool_params,omitempty"`

	// Reasoning is the model- or rule-supplied justification.
	Reasoning string `json:"reasoning,omitempty"`

	// Confidence is the model-reported confidence in [0,1]. Forced
	// decisions report 1.
	Confidence float64 `json:"confidence"`

	// Forced is true when a hard rule made the decision without the model.
	Forced bool `json:"forced"`
}

// selectRouteArgs is the function-call argument schema the model fills in.
type selectRouteArgs struct {
	Route      string         `json:"route"`
	Tool       string         `json:"tool,omitempty"`
	ToolParams map[string]any `json:"tool_params,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// Router selects the next step for a conversation turn.
//
// Description:
//
//	Hard rules run before the model: an exhausted round budget or a
//	zero-progress conversation forces finish with no LLM call. Otherwise
//	the model picks a route through a forced select_route function call,
//	and its choice is post-validated: an unavailable rewrite becomes
//	retrieve_rag, an unknown tool or unparseable selection becomes finish.
//	Every decision, forced or not, lands on the conversation trail.
//
// Thread Safety: safe for concurrent use across conversations; a single
// ChatState must not be routed concurrently.
type Router struct {
	client    llm.Client
	prompts   *PromptBuilder
	toolNames []string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewRouter constructs a Router.
//
// Inputs:
//
//	client - LLM for route selection. Must not be nil.
//	toolNames - Registered tool names offered on the call_tool route.
//	logger - Logger for diagnostic output. Nil uses slog.Default().
func NewRouter(client llm.Client, toolNames []string, logger *slog.Logger) (*Router, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	prompts, err := NewPromptBuilder()
	if err != nil {
		return nil, fmt.Errorf("building prompt templates: %w", err)
	}
	return &Router{
		client:    client,
		prompts:   prompts,
		toolNames: toolNames,
		logger:    logger,
		tracer:    otel.Tracer("advisor.agent.routing"),
	}, nil
}

// Decide picks the next route for the given conversation state and records
// it on the trail.
func (r *Router) Decide(ctx context.Context, state *datatypes.ChatState) (*Decision, error) {
	ctx, span := r.tracer.Start(ctx, "Router.Decide",
		trace.WithAttributes(
			attribute.Int("round", state.Round),
			attribute.Int("documents", len(state.Documents)),
		))
	defer span.End()

	if d := r.forcedDecision(state); d != nil {
		span.SetAttributes(attribute.String("route", string(d.Route)), attribute.Bool("forced", true))
		routeDecisions.WithLabelValues(string(d.Route), "forced").Inc()
		r.record(state, d)
		return d, nil
	}

	d, err := r.llmDecision(ctx, state)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("route", string(d.Route)))
	routeDecisions.WithLabelValues(string(d.Route), "llm").Inc()
	r.record(state, d)
	return d, nil
}

// forcedDecision applies the hard rules. Returns nil when the model should
// decide.
func (r *Router) forcedDecision(state *datatypes.ChatState) *Decision {
	if state.Round >= MaxRounds {
		return &Decision{
			Route:      RouteFinish,
			Reasoning:  fmt.Sprintf("round budget of %d exhausted", MaxRounds),
			Confidence: 1,
			Forced:     true,
		}
	}
	// Zero-progress guard: completed rounds produced no evidence and no
	// rewrite is waiting for its retrieval attempt.
	if state.Round >= zeroProgressRounds && len(state.Documents) == 0 && !rewritePending(state) {
		return &Decision{
			Route:      RouteFinish,
			Reasoning:  "repeated retrieval produced no evidence",
			Confidence: 1,
			Forced:     true,
		}
	}
	return nil
}

// rewritePending reports whether a rewrite happened after the most recent
// retrieval, meaning the rewritten query has not been tried yet.
func rewritePending(state *datatypes.ChatState) bool {
	if !state.HasRewrite() {
		return false
	}
	for i := len(state.Trail) - 1; i >= 0; i-- {
		switch state.Trail[i].Decision {
		case RewriteToolName:
			return true
		case string(RouteRetrieveRAG):
			return false
		}
	}
	return false
}

// llmDecision asks the model for a route via a forced single function call.
func (r *Router) llmDecision(ctx context.Context, state *datatypes.ChatState) (*Decision, error) {
	rewriteAvailable := !state.HasRewrite() && len(state.Documents) == 0

	systemPrompt, err := r.prompts.BuildSystemPrompt(PromptData{
		Query:         state.EffectiveQuery(),
		Profile:       state.Profile,
		Round:         state.Round,
		MaxRounds:     MaxRounds,
		DocumentCount: len(state.Documents),
		RewriteDone:   state.HasRewrite(),
		ToolNames:     r.offeredTools(rewriteAvailable),
		Trail:         state.Trail,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering routing prompt: %w", err)
	}

	messages := []llm.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: r.prompts.BuildUserPrompt(state.EffectiveQuery())},
	}

	result, err := r.client.ChatWithTools(ctx, messages,
		llm.GenerationParams{ToolChoice: "required"},
		[]llm.ToolDef{r.selectRouteDef(rewriteAvailable)})
	if err != nil {
		return nil, fmt.Errorf("routing LLM call: %w", err)
	}

	if !result.HasToolCalls() {
		r.logger.Warn("router returned no function call, finishing")
		return &Decision{
			Route:      RouteFinish,
			Reasoning:  "model produced no route selection",
			Confidence: 0,
		}, nil
	}

	var args selectRouteArgs
	if err := json.Unmarshal(result.ToolCalls[0].Arguments, &args); err != nil {
		r.logger.Warn("unparseable route selection, finishing", slog.String("error", err.Error()))
		return &Decision{
			Route:      RouteFinish,
			Reasoning:  "route selection was not valid JSON",
			Confidence: 0,
		}, nil
	}
	return r.validate(state, args, rewriteAvailable), nil
}

// offeredTools returns the tool names presented to the model, omitting the
// rewrite tool when it is unavailable.
func (r *Router) offeredTools(rewriteAvailable bool) []string {
	names := make([]string, 0, len(r.toolNames))
	for _, name := range r.toolNames {
		if name == RewriteToolName && !rewriteAvailable {
			continue
		}
		names = append(names, name)
	}
	return names
}

// selectRouteDef builds the single function definition the model must call.
func (r *Router) selectRouteDef(rewriteAvailable bool) llm.ToolDef {
	routes := []any{
		string(RouteRetrieveRAG), string(RouteCallTool),
		string(RouteNeedsClarification), string(RouteGeneralChat),
		string(RouteFinish),
	}
	var toolEnum []any
	for _, name := range r.offeredTools(rewriteAvailable) {
		toolEnum = append(toolEnum, name)
	}
	return llm.FuncTool("select_route", "Select the advisor's next step.", llm.ToolParameters{
		Type: "object",
		Properties: map[string]llm.ToolParamDef{
			"route": {
				Type:        "string",
				Description: "The next step.",
				Enum:        routes,
			},
			"tool": {
				Type:        "string",
				Description: "Tool to run when route is call_tool.",
				Enum:        toolEnum,
			},
			"tool_params": {
				Type:        "object",
				Description: "Arguments for the selected tool.",
			},
			"reasoning": {
				Type:        "string",
				Description: "One sentence on why this step is next.",
			},
			"confidence": {
				Type:        "number",
				Description: "Confidence in this selection, 0 to 1.",
			},
		},
		Required: []string{"route", "reasoning"},
	})
}

// validate post-checks the model's selection against the availability rules.
func (r *Router) validate(state *datatypes.ChatState, args selectRouteArgs, rewriteAvailable bool) *Decision {
	d := &Decision{
		Route:      Route(strings.ToLower(strings.TrimSpace(args.Route))),
		Tool:       strings.TrimSpace(args.Tool),
		ToolParams: args.ToolParams,
		Reasoning:  args.Reasoning,
		Confidence: args.Confidence,
	}

	switch d.Route {
	case RouteRetrieveRAG, RouteNeedsClarification, RouteGeneralChat, RouteFinish:
		d.Tool = ""
		d.ToolParams = nil
		return d
	case RouteCallTool:
	default:
		r.logger.Warn("unrecognized route, finishing", slog.String("route", args.Route))
		d.Route = RouteFinish
		d.Tool = ""
		d.ToolParams = nil
		d.Reasoning = fmt.Sprintf("unrecognized route %q", args.Route)
		return d
	}

	// call_tool validation.
	if d.Tool == RewriteToolName && !rewriteAvailable {
		r.logger.Info("rewrite unavailable, overriding to retrieval")
		return &Decision{
			Route:      RouteRetrieveRAG,
			Reasoning:  "rewrite already used this turn, retrying retrieval instead",
			Confidence: d.Confidence,
		}
	}
	known := false
	for _, name := range r.toolNames {
		if d.Tool == name {
			known = true
			break
		}
	}
	if !known {
		r.logger.Warn("unknown tool selection, finishing", slog.String("tool", d.Tool))
		return &Decision{
			Route:      RouteFinish,
			Reasoning:  fmt.Sprintf("model selected unknown tool %q", d.Tool),
			Confidence: 0,
		}
	}
	return d
}

// record appends the decision to the conversation trail.
func (r *Router) record(state *datatypes.ChatState, d *Decision) {
	meta := map[string]string{}
	if d.Tool != "" {
		meta["tool"] = d.Tool
	}
	if d.Forced {
		meta["forced"] = "true"
	}
	decision := string(d.Route)
	if d.Route == RouteCallTool && d.Tool != "" {
		decision = d.Tool
	}
	state.AppendDecision("router", decision, d.Reasoning, d.Confidence, meta)
	state.LastRoute = string(d.Route)
}
