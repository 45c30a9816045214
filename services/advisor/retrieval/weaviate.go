// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements hybrid document retrieval for the
// course advisor: a Weaviate-backed vector store search fused with
// deterministic course-code lookups from the relationship graph, with
// optional cross-encoder reranking on top.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
)

// VectorSearcher retrieves candidate documents for a natural-language query.
type VectorSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]datatypes.RetrievedDocument, error)
}

// WeaviateSearcher performs hybrid (BM25 + vector) search against a
// Weaviate class holding course handbook documents.
//
// Description:
//
//	Each object in the class is expected to carry title, text, snippet,
//	sourceUrl, and courseCode properties. Hybrid search with a balanced
//	alpha keeps exact course-code keyword hits competitive with semantic
//	matches, which matters for queries like "what does COMP3231 cover".
//
// Thread Safety: safe for concurrent use.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
	alpha     float32
	logger    *slog.Logger
	tracer    trace.Tracer
}

// DefaultHybridAlpha balances keyword and vector scoring in Weaviate
// hybrid search. 0 is pure BM25, 1 is pure vector.
const DefaultHybridAlpha = 0.5

// NewWeaviateSearcher constructs a searcher for the given host and class.
//
// Inputs:
//
//	host - Weaviate host, e.g. "localhost:8080". Must not be empty.
//	scheme - "http" or "https". Empty defaults to "http".
//	className - Weaviate class name holding advisor documents.
//	logger - Logger for diagnostic output. Nil uses slog.Default().
func NewWeaviateSearcher(host, scheme, className string, logger *slog.Logger) (*WeaviateSearcher, error) {
	if host == "" {
		return nil, fmt.Errorf("weaviate host must not be empty")
	}
	if className == "" {
		return nil, fmt.Errorf("weaviate class name must not be empty")
	}
	if scheme == "" {
		scheme = "http"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}

	return &WeaviateSearcher{
		client:    client,
		className: className,
		alpha:     DefaultHybridAlpha,
		logger:    logger,
		tracer:    otel.Tracer("advisor.retrieval.weaviate"),
	}, nil
}

// Search implements VectorSearcher via Weaviate hybrid search.
func (w *WeaviateSearcher) Search(ctx context.Context, query string, limit int) ([]datatypes.RetrievedDocument, error) {
	ctx, span := w.tracer.Start(ctx, "WeaviateSearcher.Search",
		trace.WithAttributes(
			attribute.String("class", w.className),
			attribute.Int("limit", limit),
		))
	defer span.End()

	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	hybrid := w.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(w.alpha)

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "text"},
		{Name: "snippet"},
		{Name: "sourceUrl"},
		{Name: "courseCode"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "score"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithHybrid(hybrid).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate hybrid search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql error: %s", result.Errors[0].Message)
	}

	docs := w.parseResults(result.Data)
	span.SetAttributes(attribute.Int("results", len(docs)))
	w.logger.Debug("weaviate search complete",
		slog.String("class", w.className),
		slog.Int("results", len(docs)),
	)
	return docs, nil
}

// parseResults walks the GraphQL response shape Get -> <class> -> objects.
// Unexpected shapes produce an empty slice rather than an error so that a
// partially populated store degrades to "no results".
func (w *WeaviateSearcher) parseResults(data map[string]models.JSONObject) []datatypes.RetrievedDocument {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[w.className].([]interface{})
	if !ok {
		return nil
	}

	docs := make([]datatypes.RetrievedDocument, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		doc := datatypes.RetrievedDocument{
			Title:     stringProp(obj, "title"),
			Text:      stringProp(obj, "text"),
			Snippet:   stringProp(obj, "snippet"),
			SourceURL: stringProp(obj, "sourceUrl"),
			Metadata:  map[string]string{"origin": string(datatypes.OriginVectorSearch)},
		}
		if code := stringProp(obj, "courseCode"); code != "" {
			doc.Metadata["course_code"] = code
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			doc.SourceID = stringProp(additional, "id")
			// Hybrid search reports score as a string.
			if s := stringProp(additional, "score"); s != "" {
				if parsed, err := strconv.ParseFloat(s, 64); err == nil {
					doc.Score = parsed
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

func stringProp(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}
