// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisor assembles the course advisor service: the relationship
// graph, eligibility filter, hybrid retrieval, and the agent loop, exposed
// over HTTP.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/evaluate"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/grounding"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/orchestrator"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/routing"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/tools"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/eligibility"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

// Service wires the advisor subsystems together.
//
// Description:
//
//	The graph and filter are immutable after startup; conversations are
//	tracked in memory and processed strictly sequentially per conversation
//	(a per-state mutex) while different conversations run concurrently.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	graph     *graph.Graph
	filter    *eligibility.Filter
	retriever orchestrator.Retriever
	client    llm.Client
	checker   *grounding.Checker
	evaluator *evaluate.Evaluator
	topK      int
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// session pairs a conversation state with its serialization lock.
type session struct {
	mu    sync.Mutex
	state *datatypes.ChatState
}

// Deps are the Service's constructor dependencies.
type Deps struct {
	Graph     *graph.Graph
	Retriever orchestrator.Retriever
	Client    llm.Client
	Checker   *grounding.Checker
	TopK      int

	// SufficiencyThreshold tunes when retrieved evidence counts as enough
	// to answer. Zero keeps the evaluator's default.
	SufficiencyThreshold float64

	Logger *slog.Logger
}

// NewService constructs the Service and its derived components.
func NewService(deps Deps) (*Service, error) {
	if deps.Graph == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("retriever must not be nil")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("llm client must not be nil")
	}
	if deps.Checker == nil {
		return nil, fmt.Errorf("grounding checker must not be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	filter, err := eligibility.NewFilter(deps.Graph, logger)
	if err != nil {
		return nil, fmt.Errorf("creating eligibility filter: %w", err)
	}

	return &Service{
		graph:     deps.Graph,
		filter:    filter,
		retriever: deps.Retriever,
		client:    deps.Client,
		checker:   deps.Checker,
		evaluator: evaluate.NewEvaluator(deps.Client, logger,
			evaluate.WithSufficientThreshold(deps.SufficiencyThreshold)),
		topK:      deps.TopK,
		logger:    logger,
		sessions:  make(map[string]*session),
	}, nil
}

// Graph returns the loaded relationship graph.
func (s *Service) Graph() *graph.Graph { return s.graph }

// Filter returns the eligibility filter.
func (s *Service) Filter() *eligibility.Filter { return s.filter }

// ChatResult is the outcome of one advisor turn.
type ChatResult struct {
	// ConversationID identifies the conversation for follow-up turns.
	ConversationID string `json:"conversation_id"`

	// Answer is the surfaced answer text.
	Answer string `json:"answer"`

	// Grounded reports whether the answer passed grounding.
	Grounded bool `json:"grounded"`

	// Rounds is the retrieval/tool rounds consumed this turn.
	Rounds int `json:"rounds"`

	// Trail is the decision trail for this turn.
	Trail []datatypes.DecisionRecord `json:"trail,omitempty"`
}

// Chat processes one user turn.
//
// Description:
//
//	An empty conversationID starts a new conversation. The tool registry
//	is rebuilt per turn so filter_eligibility binds to the turn's profile;
//	registry construction is cheap relative to a single LLM call.
func (s *Service) Chat(ctx context.Context, conversationID, query string, profile datatypes.StudentProfile) (*ChatResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	sess := s.getOrCreateSession(conversationID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	state := sess.state
	state.Query = query
	state.RewrittenQuery = ""
	state.Round = 0
	state.Documents = nil
	state.Trail = nil
	state.FinalAnswer = ""
	state.Grounded = false
	if profile.Program != "" {
		state.Profile = profile
	}

	orch, err := s.buildOrchestrator(state.Profile)
	if err != nil {
		return nil, fmt.Errorf("assembling agent: %w", err)
	}

	if err := orch.HandleTurn(ctx, state); err != nil {
		return nil, fmt.Errorf("handling turn: %w", err)
	}

	state.History = append(state.History,
		datatypes.Message{Role: "user", Content: query},
		datatypes.Message{Role: "assistant", Content: state.FinalAnswer},
	)

	return &ChatResult{
		ConversationID: state.ConversationID,
		Answer:         state.FinalAnswer,
		Grounded:       state.Grounded,
		Rounds:         state.Round,
		Trail:          state.Trail,
	}, nil
}

// buildOrchestrator assembles the per-turn agent stack.
func (s *Service) buildOrchestrator(profile datatypes.StudentProfile) (*orchestrator.Orchestrator, error) {
	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.NewFilterEligibilityTool(s.filter, profile),
		tools.NewQueryGraphTool(s.graph),
		tools.NewRewriteQueryTool(s.client),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	router, err := routing.NewRouter(s.client, registry.Names(), s.logger)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(router, s.retriever, s.evaluator, registry, s.checker,
		s.client, s.logger, orchestrator.Options{TopK: s.topK})
}

func (s *Service) getOrCreateSession(conversationID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID != "" {
		if sess, ok := s.sessions[conversationID]; ok {
			return sess
		}
	} else {
		conversationID = uuid.NewString()
	}
	sess := &session{state: &datatypes.ChatState{ConversationID: conversationID}}
	s.sessions[conversationID] = sess
	return sess
}

// Eligibility evaluates a full eligibility request.
func (s *Service) Eligibility(ctx context.Context, req eligibility.Request) (*eligibility.Report, error) {
	return s.filter.Evaluate(ctx, req)
}
