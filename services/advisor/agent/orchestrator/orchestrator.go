// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs the advisor's bounded decision loop: route,
// act, evaluate, repeat until a terminal route or the round budget ends
// the turn.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/evaluate"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/grounding"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/routing"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/tools"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

// Retriever is the document retrieval seam.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]datatypes.RetrievedDocument, error)
}

// apologyNoAnswer is surfaced when the loop ends without usable evidence.
// User-facing failures are apologetic, never raw errors.
const apologyNoAnswer = "I'm sorry, I couldn't find reliable information to answer that. " +
	"Could you rephrase the question, or mention the specific course code you're asking about?"

// apologyUngrounded is surfaced when the drafted answer failed the
// grounding check.
const apologyUngrounded = "I'm sorry, I couldn't verify an accurate answer to that question " +
	"against the handbook data I have. Could you try asking it a different way?"

var (
	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "advisor_turn_duration_seconds",
		Help:    "Wall time per orchestrated turn.",
		Buckets: prometheus.DefBuckets,
	})

	turnRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "advisor_turn_rounds",
		Help:    "Rounds consumed per turn.",
		Buckets: []float64{0, 1, 2, 3},
	})
)

// Orchestrator drives one conversation turn to completion.
//
// Description:
//
//	The loop is structurally bounded: retrieval and tool executions
//	advance the round counter and the router forces finish at the budget,
//	while the single non-advancing action (query rewrite) can occur at
//	most once per turn. Sufficient evidence short-circuits the loop
//	without waiting for the router.
//
// Thread Safety: safe for concurrent use across conversations; a single
// ChatState must be processed by one goroutine at a time.
type Orchestrator struct {
	router    *routing.Router
	retriever Retriever
	evaluator *evaluate.Evaluator
	executors *tools.Registry
	grounding *grounding.Checker
	client    llm.Client
	topK      int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Options configures an Orchestrator.
type Options struct {
	// TopK is the documents requested per retrieval. Zero uses 5.
	TopK int
}

// New constructs an Orchestrator. All dependencies except opts are required.
func New(router *routing.Router, retriever Retriever, evaluator *evaluate.Evaluator,
	registry *tools.Registry, checker *grounding.Checker, client llm.Client,
	logger *slog.Logger, opts Options) (*Orchestrator, error) {

	if router == nil || retriever == nil || evaluator == nil || registry == nil || checker == nil || client == nil {
		return nil, fmt.Errorf("all orchestrator dependencies must be non-nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Orchestrator{
		router:    router,
		retriever: retriever,
		evaluator: evaluator,
		executors: registry,
		grounding: checker,
		client:    client,
		topK:      topK,
		logger:    logger,
		tracer:    otel.Tracer("advisor.agent.orchestrator"),
	}, nil
}

// HandleTurn processes one user turn, mutating state in place and setting
// FinalAnswer before returning.
func (o *Orchestrator) HandleTurn(ctx context.Context, state *datatypes.ChatState) error {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "Orchestrator.HandleTurn",
		trace.WithAttributes(attribute.String("conversation_id", state.ConversationID)))
	defer span.End()
	defer func() {
		turnDuration.Observe(time.Since(start).Seconds())
		turnRounds.Observe(float64(state.Round))
		span.SetAttributes(
			attribute.Int("rounds", state.Round),
			attribute.Bool("grounded", state.Grounded),
		)
	}()

	if state.Query == "" {
		return fmt.Errorf("state has no query")
	}

	exec := &executor{registry: o.executors, logger: o.logger}

	// One iteration per router decision. The round budget bounds the
	// advancing decisions; the iteration cap covers the non-advancing
	// ones (one rewrite, terminal routes) against router regressions.
	maxIterations := routing.MaxRounds*2 + 2
	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		decision, err := o.router.Decide(ctx, state)
		if err != nil {
			o.logger.Error("routing failed", slog.String("error", err.Error()))
			return o.finish(ctx, state)
		}

		switch decision.Route {
		case routing.RouteFinish:
			return o.finish(ctx, state)

		case routing.RouteGeneralChat:
			return o.generalChat(ctx, state)

		case routing.RouteNeedsClarification:
			return o.clarify(ctx, state)

		case routing.RouteRetrieveRAG:
			o.retrieve(ctx, state)

		case routing.RouteCallTool:
			if !exec.execute(ctx, state, decision) {
				// Rewrite applied (or rejected); route again without
				// consuming a round.
				continue
			}

		default:
			o.logger.Error("router returned unknown route", slog.String("route", string(decision.Route)))
			return o.finish(ctx, state)
		}

		// An advancing action ran. Short-circuit when the evidence is
		// already sufficient.
		assessment, err := o.evaluator.Assess(ctx, state.EffectiveQuery(), state.Documents)
		if err != nil {
			o.logger.Warn("evaluation failed", slog.String("error", err.Error()))
			continue
		}
		state.AppendDecision("evaluator", "sufficiency", assessment.Reasoning, assessment.Score,
			map[string]string{"method": assessment.Method})
		if assessment.Sufficient {
			return o.finish(ctx, state)
		}
	}

	o.logger.Error("iteration cap reached without terminal route",
		slog.String("conversation_id", state.ConversationID))
	return o.finish(ctx, state)
}

// retrieve runs one retrieval round. Failures still consume the round.
func (o *Orchestrator) retrieve(ctx context.Context, state *datatypes.ChatState) {
	docs, err := o.retriever.Retrieve(ctx, state.EffectiveQuery(), o.topK)
	state.Round++
	if err != nil {
		o.logger.Warn("retrieval failed", slog.String("error", err.Error()))
		state.AppendDecision("retriever", "retrieve_failed", err.Error(), 0, nil)
		return
	}
	state.AppendDocuments(docs)
	state.AppendDecision("retriever", "retrieved", "", 1,
		map[string]string{"documents": fmt.Sprintf("%d", len(docs))})
}

// finish drafts the answer, checks grounding, and sets the final state.
func (o *Orchestrator) finish(ctx context.Context, state *datatypes.ChatState) error {
	if len(state.Documents) == 0 {
		state.FinalAnswer = apologyNoAnswer
		state.Grounded = true
		state.AppendDecision("orchestrator", "finish", "no evidence accumulated", 1, nil)
		return nil
	}

	answer, err := o.draftAnswer(ctx, state)
	if err != nil {
		o.logger.Error("answer drafting failed", slog.String("error", err.Error()))
		state.FinalAnswer = apologyNoAnswer
		state.Grounded = false
		state.AppendDecision("orchestrator", "finish", "draft failed: "+err.Error(), 0, nil)
		return nil
	}

	grounded, err := o.grounding.Check(ctx, answer, state.Documents)
	if err != nil {
		// The checker fails open internally; an error here is a contract
		// violation, treat it like a pass with a log.
		o.logger.Error("grounding check errored", slog.String("error", err.Error()))
		grounded = true
	}
	state.Grounded = grounded
	if !grounded {
		state.FinalAnswer = apologyUngrounded
		state.AppendDecision("orchestrator", "finish", "answer failed grounding", 0, nil)
		return nil
	}

	state.FinalAnswer = answer
	state.AppendDecision("orchestrator", "finish", "grounded answer surfaced", 1, nil)
	return nil
}

// draftAnswer synthesizes the answer over the evidence pool.
func (o *Orchestrator) draftAnswer(ctx context.Context, state *datatypes.ChatState) (string, error) {
	var evidence strings.Builder
	for i, doc := range state.Documents {
		fmt.Fprintf(&evidence, "[%d] %s\n%s\n\n", i+1, doc.Title, doc.Text)
	}

	messages := make([]datatypes.Message, 0, len(state.History)+2)
	messages = append(messages, datatypes.Message{
		Role: "system",
		Content: "You are a university course advisor. Answer the student's question using only " +
			"the evidence provided. Cite course codes exactly. If the evidence does not cover " +
			"part of the question, say so rather than guessing. Be concise and practical.",
	})
	messages = append(messages, state.History...)
	messages = append(messages, datatypes.Message{
		Role:    "user",
		Content: fmt.Sprintf("Question: %s\n\nEvidence:\n%s", state.Query, evidence.String()),
	})

	answer, err := o.client.Chat(ctx, messages, llm.GenerationParams{})
	if err != nil {
		return "", fmt.Errorf("drafting answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// generalChat answers small talk directly, no evidence or grounding needed.
func (o *Orchestrator) generalChat(ctx context.Context, state *datatypes.ChatState) error {
	messages := make([]datatypes.Message, 0, len(state.History)+2)
	messages = append(messages, datatypes.Message{
		Role: "system",
		Content: "You are a friendly university course advisor. Reply briefly and offer to help " +
			"with course selection, prerequisites, or degree planning.",
	})
	messages = append(messages, state.History...)
	messages = append(messages, datatypes.Message{Role: "user", Content: state.Query})

	reply, err := o.client.Chat(ctx, messages, llm.GenerationParams{})
	if err != nil {
		o.logger.Warn("general chat reply failed", slog.String("error", err.Error()))
		reply = "Hi! I can help with course selection, prerequisites, and degree planning. What would you like to know?"
	}
	state.FinalAnswer = strings.TrimSpace(reply)
	state.Grounded = true
	state.AppendDecision("orchestrator", "general_chat", "", 1, nil)
	return nil
}

// clarify asks the student a clarifying question.
func (o *Orchestrator) clarify(ctx context.Context, state *datatypes.ChatState) error {
	messages := []datatypes.Message{
		{
			Role: "system",
			Content: "The student's question is too ambiguous to act on. Ask exactly one short " +
				"clarifying question that would let a course advisor proceed.",
		},
		{Role: "user", Content: state.Query},
	}

	question, err := o.client.Chat(ctx, messages, llm.GenerationParams{})
	if err != nil {
		o.logger.Warn("clarification drafting failed", slog.String("error", err.Error()))
		question = "Could you tell me a bit more? For example, which course or term are you asking about?"
	}
	state.FinalAnswer = strings.TrimSpace(question)
	state.Grounded = true
	state.AppendDecision("orchestrator", "needs_clarification", "", 1, nil)
	return nil
}
