// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes contains the shared conversation, profile, and document
// types passed between the advisor's retrieval, routing, and orchestration
// layers. These are plain data carriers with no behavior beyond small
// accessors; they must not import any other advisor package.
package datatypes

import (
	"time"
)

// Message is a single conversation message.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// DocumentOrigin identifies which pipeline produced a retrieved document.
type DocumentOrigin string

const (
	// OriginVectorSearch marks documents returned by the similarity index.
	OriginVectorSearch DocumentOrigin = "vector_search"

	// OriginKnowledgeGraph marks exact-hit documents built from graph nodes.
	OriginKnowledgeGraph DocumentOrigin = "knowledge_graph"

	// OriginToolResult marks synthetic documents wrapping tool output.
	OriginToolResult DocumentOrigin = "tool_result"
)

// RetrievedDocument is one piece of evidence in the conversation pool.
//
// Description:
//
//	Created once per retrieval round or tool execution and never mutated
//	afterwards; the evidence pool only ever appends. SourceID is unique
//	within a retrieval batch, not globally.
//
// Thread Safety: treat as immutable after creation.
type RetrievedDocument struct {
	// SourceID is the per-batch document identifier.
	SourceID string `json:"source_id"`

	// Title is the document title.
	Title string `json:"title"`

	// SourceURL is the canonical URL of the source, if any.
	SourceURL string `json:"source_url,omitempty"`

	// Text is the raw document text.
	Text string `json:"text"`

	// Snippet is an optional short excerpt.
	Snippet string `json:"snippet,omitempty"`

	// Score is the relevance score assigned by the retriever or reranker.
	// Zero means unscored.
	Score float64 `json:"score,omitempty"`

	// Metadata carries free-form provenance data. The "origin" key always
	// holds a DocumentOrigin value.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Origin returns the document's origin, or "" when unset.
func (d *RetrievedDocument) Origin() DocumentOrigin {
	if d.Metadata == nil {
		return ""
	}
	return DocumentOrigin(d.Metadata["origin"])
}

// CompletionRecord records one completed course.
type CompletionRecord struct {
	// CourseCode is the course identifier, e.g. "COMP1511".
	CourseCode string `json:"course_code"`

	// Term is the completion term label, e.g. "2024T1".
	Term string `json:"term"`

	// Grade is the optional grade label.
	Grade string `json:"grade,omitempty"`
}

// StudentProfile captures the caller-supplied academic context used by the
// eligibility filter and the router prompt.
type StudentProfile struct {
	// Program is the program code, e.g. "COMPIH".
	Program string `json:"program"`

	// Completed lists the student's completed courses.
	Completed []CompletionRecord `json:"completed,omitempty"`

	// TargetTerm is the enrollment term under consideration, e.g. "2026T1".
	TargetTerm string `json:"target_term"`

	// Credits is the current completed credit-point total, if known.
	Credits int `json:"credits,omitempty"`

	// WAM is the weighted average mark, if known.
	WAM float64 `json:"wam,omitempty"`
}

// CompletedSet returns the completed course codes keyed for membership tests.
func (p *StudentProfile) CompletedSet() map[string]CompletionRecord {
	set := make(map[string]CompletionRecord, len(p.Completed))
	for _, rec := range p.Completed {
		set[rec.CourseCode] = rec
	}
	return set
}

// DecisionRecord is one append-only entry in the conversation decision trail.
//
// Description:
//
//	The trail is the sole liveness and debugging record for a conversation.
//	It is never pruned mid-conversation; loop-prevention rules read it to
//	detect repeated rewrites.
type DecisionRecord struct {
	// Node names the component that made the decision, e.g. "router".
	Node string `json:"node"`

	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// Decision is the chosen route or tool name.
	Decision string `json:"decision"`

	// Reasoning is the model- or rule-supplied justification.
	Reasoning string `json:"reasoning,omitempty"`

	// Confidence is the model-reported confidence in [0,1], if any.
	Confidence float64 `json:"confidence,omitempty"`

	// Metadata carries decision-specific detail.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChatState is the per-conversation orchestrator aggregate.
//
// Description:
//
//	Created at the first turn and carried turn to turn by the chat session
//	layer. A ChatState is owned by exactly one conversation; orchestration
//	within a conversation is strictly sequential, so no locking is needed.
//
// Thread Safety: NOT safe for concurrent use. Never share across
// conversations.
type ChatState struct {
	// ConversationID identifies the owning conversation.
	ConversationID string `json:"conversation_id"`

	// History is the message history, oldest first.
	History []Message `json:"history,omitempty"`

	// Query is the current user query.
	Query string `json:"query"`

	// RewrittenQuery is set once a query rewrite has occurred this turn.
	RewrittenQuery string `json:"rewritten_query,omitempty"`

	// Documents is the accumulated evidence pool, append-only.
	Documents []RetrievedDocument `json:"documents,omitempty"`

	// Round counts completed retrieval/tool rounds this turn.
	Round int `json:"round"`

	// LastRoute is the most recent router decision.
	LastRoute string `json:"last_route,omitempty"`

	// Trail is the append-only decision log.
	Trail []DecisionRecord `json:"trail,omitempty"`

	// Profile is the student's academic context.
	Profile StudentProfile `json:"profile"`

	// Grounded reports whether the final answer passed the grounding check.
	Grounded bool `json:"grounded"`

	// FinalAnswer is the surfaced answer text, set on completion.
	FinalAnswer string `json:"final_answer,omitempty"`
}

// EffectiveQuery returns the rewritten query when one exists, else the
// original query.
func (s *ChatState) EffectiveQuery() string {
	if s.RewrittenQuery != "" {
		return s.RewrittenQuery
	}
	return s.Query
}

// HasRewrite reports whether a query rewrite has already occurred this turn.
func (s *ChatState) HasRewrite() bool {
	return s.RewrittenQuery != ""
}

// AppendDecision appends a trail entry stamped with the current time.
func (s *ChatState) AppendDecision(node, decision, reasoning string, confidence float64, meta map[string]string) {
	s.Trail = append(s.Trail, DecisionRecord{
		Node:       node,
		Timestamp:  time.Now().UTC(),
		Decision:   decision,
		Reasoning:  reasoning,
		Confidence: confidence,
		Metadata:   meta,
	})
}

// AppendDocuments appends documents to the evidence pool.
func (s *ChatState) AppendDocuments(docs []RetrievedDocument) {
	s.Documents = append(s.Documents, docs...)
}
