// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
)

// courseCodePattern matches course codes embedded in a query, e.g. COMP1511.
var courseCodePattern = regexp.MustCompile(`[A-Z]{4}[0-9]{4}`)

const (
	// DefaultTopK is the number of documents returned per retrieval.
	DefaultTopK = 5

	// minOverFetch is the floor on candidate pool size before reranking.
	minOverFetch = 10

	// overFetchFactor scales topK into the candidate pool size.
	overFetchFactor = 3

	// minRerankScore drops candidates the cross-encoder considers
	// irrelevant even when that leaves fewer than topK documents.
	minRerankScore = 0.1
)

var (
	retrievalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_retrieval_total",
		Help: "Total retrieval invocations by outcome.",
	}, []string{"outcome"})

	retrievalDocs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "advisor_retrieval_documents",
		Help:    "Documents returned per retrieval.",
		Buckets: prometheus.LinearBuckets(0, 2, 8),
	})

	rerankFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advisor_rerank_fallback_total",
		Help: "Retrievals that fell back to pre-rerank ordering.",
	})
)

// HybridRetriever fuses vector search with graph exact-code hits and reranks
// the combined pool.
//
// Description:
//
//	The candidate pool over-fetches to overFetchFactor times the requested
//	topK (minimum minOverFetch) so the reranker has signal to work with.
//	Course codes mentioned in the query produce deterministic
//	knowledge-graph documents that bypass the vector index entirely, which
//	guarantees the handbook entry for an explicitly named course is always
//	in the pool. Rerank failure degrades to pre-rerank ordering instead of
//	failing the retrieval.
//
// Thread Safety: safe for concurrent use.
type HybridRetriever struct {
	searcher VectorSearcher
	reranker Reranker
	graph    *graph.Graph
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewHybridRetriever constructs the retriever.
//
// Inputs:
//
//	searcher - Vector search backend. Must not be nil.
//	reranker - Optional cross-encoder. Nil disables reranking.
//	g - Relationship graph for exact-code hits. Must not be nil.
//	logger - Logger for diagnostic output. Nil uses slog.Default().
func NewHybridRetriever(searcher VectorSearcher, reranker Reranker, g *graph.Graph, logger *slog.Logger) (*HybridRetriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		searcher: searcher,
		reranker: reranker,
		graph:    g,
		logger:   logger,
		tracer:   otel.Tracer("advisor.retrieval"),
	}, nil
}

// Retrieve returns the topK most relevant documents for the query.
//
// Outputs:
//
//	Up to topK documents in descending relevance order. An empty slice with
//	a nil error means retrieval succeeded but found nothing; the caller
//	treats that as a zero-document round, not a failure.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, topK int) ([]datatypes.RetrievedDocument, error) {
	ctx, span := h.tracer.Start(ctx, "HybridRetriever.Retrieve",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	fetchLimit := max(topK*overFetchFactor, minOverFetch)

	vectorDocs, err := h.searcher.Search(ctx, query, fetchLimit)
	if err != nil {
		retrievalTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("vector search: %w", err)
	}

	graphDocs := h.exactCodeHits(query)
	pool := h.dedupe(append(graphDocs, vectorDocs...))

	span.SetAttributes(
		attribute.Int("vector_candidates", len(vectorDocs)),
		attribute.Int("graph_candidates", len(graphDocs)),
		attribute.Int("pool_size", len(pool)),
	)

	if len(pool) == 0 {
		retrievalTotal.WithLabelValues("empty").Inc()
		retrievalDocs.Observe(0)
		return nil, nil
	}

	ranked := h.rank(ctx, query, pool)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	retrievalTotal.WithLabelValues("ok").Inc()
	retrievalDocs.Observe(float64(len(ranked)))
	h.logger.Debug("retrieval complete",
		slog.Int("pool", len(pool)),
		slog.Int("returned", len(ranked)),
	)
	return ranked, nil
}

// exactCodeHits builds knowledge-graph documents for every course code
// mentioned in the query. Unknown codes are skipped silently; a typo'd code
// still flows to vector search, which may recover it semantically.
func (h *HybridRetriever) exactCodeHits(query string) []datatypes.RetrievedDocument {
	codes := courseCodePattern.FindAllString(strings.ToUpper(query), -1)
	seen := make(map[string]bool, len(codes))

	var docs []datatypes.RetrievedDocument
	for _, code := range codes {
		if seen[code] {
			continue
		}
		seen[code] = true

		course := h.graph.CourseByCode(code)
		if course == nil {
			continue
		}
		docs = append(docs, datatypes.RetrievedDocument{
			SourceID: "graph:" + course.Code,
			Title:    fmt.Sprintf("%s %s", course.Code, course.Name),
			Text:     h.courseDocument(course),
			Score:    1.0,
			Metadata: map[string]string{
				"origin":      string(datatypes.OriginKnowledgeGraph),
				"course_code": course.Code,
			},
		})
	}
	return docs
}

// courseDocument renders a course node plus its direct relationships as a
// retrieval passage.
func (h *HybridRetriever) courseDocument(course *graph.CourseNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%d UOC, level %d)\n", course.Code, course.Name, course.Credits, course.Level)
	if course.Overview != "" {
		b.WriteString(course.Overview)
		b.WriteString("\n")
	}
	if len(course.Terms) > 0 {
		terms := make([]string, 0, len(course.Terms))
		for t := range course.Terms {
			terms = append(terms, t)
		}
		sort.Strings(terms)
		fmt.Fprintf(&b, "Offered in: %s\n", strings.Join(terms, ", "))
	}
	if expr := h.graph.PrerequisiteExpr(course.Code); expr != nil {
		fmt.Fprintf(&b, "Prerequisites: %s\n", expr.String())
	}
	if expr := h.graph.CorequisiteExpr(course.Code); expr != nil {
		fmt.Fprintf(&b, "Corequisites: %s\n", expr.String())
	}
	if expr := h.graph.IncompatibleExpr(course.Code); expr != nil {
		fmt.Fprintf(&b, "Incompatible with: %s\n", expr.String())
	}
	if unlocked := h.graph.UnlockedBy(course.Code); len(unlocked) > 0 {
		codes := make([]string, len(unlocked))
		for i, c := range unlocked {
			codes[i] = c.Code
		}
		fmt.Fprintf(&b, "Unlocks: %s\n", strings.Join(codes, ", "))
	}
	return b.String()
}

// dedupe removes duplicate documents, keying on SourceURL when present and
// falling back to lowercased title. First occurrence wins, so graph exact
// hits placed at the head of the pool survive collisions.
func (h *HybridRetriever) dedupe(docs []datatypes.RetrievedDocument) []datatypes.RetrievedDocument {
	seen := make(map[string]bool, len(docs))
	out := docs[:0:0]
	for _, doc := range docs {
		key := doc.SourceURL
		if key == "" {
			key = "title:" + strings.ToLower(doc.Title)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, doc)
	}
	return out
}

// rank applies the cross-encoder when configured, keeping the pre-rerank
// order on any rerank failure.
func (h *HybridRetriever) rank(ctx context.Context, query string, pool []datatypes.RetrievedDocument) []datatypes.RetrievedDocument {
	if h.reranker == nil {
		return pool
	}

	reranked, err := h.reranker.Rerank(ctx, query, pool)
	if err != nil {
		rerankFallbacks.Inc()
		h.logger.Warn("rerank failed, keeping retrieval order", slog.String("error", err.Error()))
		return pool
	}

	kept := reranked[:0:0]
	for _, doc := range reranked {
		if doc.Score >= minRerankScore {
			kept = append(kept, doc)
		}
	}
	if len(kept) == 0 {
		// Everything scored below the floor. Trust the cross-encoder's
		// ordering but keep at least one document for the evaluator.
		kept = reranked[:1]
	}
	return kept
}
