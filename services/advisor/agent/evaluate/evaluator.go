// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluate scores the accumulated evidence pool against the current
// query so the router can decide whether another retrieval round is worth
// the latency.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

// Sufficiency thresholds on the heuristic score. Scores in the gray band
// between them escalate to an LLM judgment.
const (
	SufficientThreshold   = 0.7
	InsufficientThreshold = 0.3
)

// coverageWeight and lengthWeight split the heuristic between document
// coverage and evidence volume.
const (
	coverageWeight = 0.7
	lengthWeight   = 0.3

	// lengthSaturation is the combined matched-document length, in bytes,
	// at which the length component maxes out.
	lengthSaturation = 1500
)

// courseCodePattern matches course codes embedded in a query.
var courseCodePattern = regexp.MustCompile(`[A-Z]{4}[0-9]{4}`)

// stopwords are excluded from query-term coverage. Short function words
// match almost any document and would inflate the score.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "can": true,
	"do": true, "does": true, "for": true, "how": true, "i": true,
	"in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "take": true, "the": true, "to": true, "what": true,
	"when": true, "which": true, "with": true,
}

// Assessment is the evaluator's verdict on the evidence pool.
type Assessment struct {
	// Score is the final sufficiency score in [0,1].
	Score float64 `json:"score"`

	// Sufficient is true when the evidence supports answering now.
	Sufficient bool `json:"sufficient"`

	// Method records how the verdict was reached: "heuristic" or "llm".
	Method string `json:"method"`

	// Reasoning is a short human-readable explanation.
	Reasoning string `json:"reasoning,omitempty"`
}

// Evaluator produces sufficiency assessments.
//
// Description:
//
//	A cheap lexical heuristic settles the clear cases. Only the ambiguous
//	middle band pays for an LLM call, and an LLM failure in that band
//	falls back to the heuristic score at a 0.5 cut rather than blocking
//	the loop.
//
// Thread Safety: safe for concurrent use.
type Evaluator struct {
	client     llm.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	sufficient float64
}

// Option tunes an Evaluator at construction time.
type Option func(*Evaluator)

// WithSufficientThreshold overrides the score at which evidence counts as
// sufficient without an LLM judgment. Values outside (0,1] are ignored and
// the default applies.
func WithSufficientThreshold(threshold float64) Option {
	return func(e *Evaluator) {
		if threshold > 0 && threshold <= 1 {
			e.sufficient = threshold
		}
	}
}

// NewEvaluator constructs an Evaluator. A nil client disables LLM
// escalation; gray-band scores then resolve to insufficient.
func NewEvaluator(client llm.Client, logger *slog.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		client:     client,
		logger:     logger,
		tracer:     otel.Tracer("advisor.agent.evaluate"),
		sufficient: SufficientThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assess scores the evidence pool against the query.
func (e *Evaluator) Assess(ctx context.Context, query string, docs []datatypes.RetrievedDocument) (*Assessment, error) {
	ctx, span := e.tracer.Start(ctx, "Evaluator.Assess",
		trace.WithAttributes(attribute.Int("documents", len(docs))))
	defer span.End()

	if len(docs) == 0 {
		return &Assessment{
			Score:     0,
			Method:    "heuristic",
			Reasoning: "no evidence retrieved",
		}, nil
	}

	score := e.heuristicScore(query, docs)
	span.SetAttributes(attribute.Float64("heuristic_score", score))

	switch {
	case score >= e.sufficient:
		return &Assessment{
			Score:      score,
			Sufficient: true,
			Method:     "heuristic",
			Reasoning:  "query terms well covered by evidence",
		}, nil
	case score < InsufficientThreshold:
		return &Assessment{
			Score:     score,
			Method:    "heuristic",
			Reasoning: "evidence barely overlaps the query",
		}, nil
	}

	// Gray band. Ask the model for a binary judgment.
	return e.llmJudgment(ctx, query, docs, score)
}

// heuristicScore blends document coverage with matched evidence length.
//
// Description:
//
//	A document matches when any query term appears in its title or text.
//	Coverage is the fraction of documents that match; the length component
//	counts only the matching documents, so off-topic evidence neither
//	raises coverage nor pads the pool.
//
// Outputs:
//
//	0 when no document matches any term, otherwise
//	coverageWeight*matchedDocs/docs +
//	lengthWeight*min(matchedLength/lengthSaturation, 1).
func (e *Evaluator) heuristicScore(query string, docs []datatypes.RetrievedDocument) float64 {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return 0
	}

	matched := 0
	matchedLength := 0
	for _, doc := range docs {
		haystack := strings.ToLower(doc.Title) + " " + strings.ToLower(doc.Text)
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched++
				matchedLength += len(haystack)
				break
			}
		}
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(docs))
	length := min(float64(matchedLength)/lengthSaturation, 1.0)
	return coverageWeight*coverage + lengthWeight*length
}

// llmJudgment asks the model for a strict yes/no sufficiency call.
func (e *Evaluator) llmJudgment(ctx context.Context, query string, docs []datatypes.RetrievedDocument, heuristic float64) (*Assessment, error) {
	if e.client == nil {
		return &Assessment{
			Score:     heuristic,
			Method:    "heuristic",
			Reasoning: "ambiguous score and no judgment model configured",
		}, nil
	}

	var evidence strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&evidence, "[%d] %s\n%s\n\n", i+1, doc.Title, truncate(doc.Text, 600))
	}

	messages := []datatypes.Message{
		{
			Role: "system",
			Content: "You judge whether retrieved evidence is sufficient to answer a student's course question. " +
				"Reply with exactly one word: YES or NO.",
		},
		{
			Role:    "user",
			Content: fmt.Sprintf("Question: %s\n\nEvidence:\n%s\nIs this evidence sufficient?", query, evidence.String()),
		},
	}

	temp := float32(0)
	maxTokens := 4
	reply, err := e.client.Chat(ctx, messages, llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})
	if err != nil {
		// The lexical score decides at a 0.5 cut when the model is down.
		e.logger.Warn("sufficiency judgment failed, falling back to heuristic",
			slog.String("error", err.Error()))
		return &Assessment{
			Score:      heuristic,
			Sufficient: heuristic >= 0.5,
			Method:     "heuristic",
			Reasoning:  "judgment call failed, lexical score decided",
		}, nil
	}

	sufficient := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(reply)), "YES")
	score := heuristic
	reasoning := "model judged evidence insufficient"
	if sufficient {
		score = e.sufficient
		reasoning = "model judged evidence sufficient"
	}
	return &Assessment{
		Score:      score,
		Sufficient: sufficient,
		Method:     "llm",
		Reasoning:  reasoning,
	}, nil
}

// queryTerms extracts the match terms for coverage scoring. Course codes in
// the query dominate its meaning, so when any are present they are the only
// terms; otherwise the stopword-filtered tokens are used.
func queryTerms(query string) []string {
	if codes := courseCodePattern.FindAllString(strings.ToUpper(query), -1); len(codes) > 0 {
		terms := make([]string, len(codes))
		for i, c := range codes {
			terms[i] = strings.ToLower(c)
		}
		return terms
	}

	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	terms := fields[:0:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
