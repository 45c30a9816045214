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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
)

// Reranker re-scores candidate documents against the query. Implementations
// return the documents in descending relevance order with Score populated.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []datatypes.RetrievedDocument) ([]datatypes.RetrievedDocument, error)
}

// HTTPReranker calls an external cross-encoder rerank service.
//
// Description:
//
//	The service accepts a query plus candidate passages and returns one
//	relevance score per candidate, preserving input indexing. Any service
//	exposing the common {"query": ..., "documents": [...]} rerank contract
//	works, including TEI and Cohere-compatible local gateways.
//
// Thread Safety: safe for concurrent use.
type HTTPReranker struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// NewHTTPReranker creates a reranker client for the given endpoint.
func NewHTTPReranker(endpoint string, logger *slog.Logger) (*HTTPReranker, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("rerank endpoint must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReranker{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Rerank implements Reranker.
//
// Outputs:
//
//	The input documents reordered by descending cross-encoder score, with
//	Score replaced by the cross-encoder value. A score outside the response
//	index range is dropped with a warning rather than failing the batch.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []datatypes.RetrievedDocument) ([]datatypes.RetrievedDocument, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	passages := make([]string, len(docs))
	for i, doc := range docs {
		passages[i] = doc.Text
		if passages[i] == "" {
			passages[i] = doc.Snippet
		}
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: passages})
	if err != nil {
		return nil, fmt.Errorf("rerank: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rerank: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank: service returned status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("rerank: parsing response: %w", err)
	}

	reordered := make([]datatypes.RetrievedDocument, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(docs) {
			r.logger.Warn("rerank result index out of range",
				slog.Int("index", res.Index),
				slog.Int("candidates", len(docs)),
			)
			continue
		}
		doc := docs[res.Index]
		doc.Score = res.Score
		reordered = append(reordered, doc)
	}
	if len(reordered) == 0 {
		return nil, fmt.Errorf("rerank: service returned no usable results")
	}
	return reordered, nil
}
