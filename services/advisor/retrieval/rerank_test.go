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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
)

func TestNewHTTPReranker_EmptyEndpoint(t *testing.T) {
	if _, err := NewHTTPReranker("", testLogger()); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestHTTPReranker_Rerank(t *testing.T) {
	var gotReq rerankRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 1, Score: 0.92},
			{Index: 0, Score: 0.31},
		}})
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL, testLogger())
	if err != nil {
		t.Fatalf("NewHTTPReranker: %v", err)
	}

	docs := []datatypes.RetrievedDocument{
		{SourceID: "a", Text: "passage a"},
		{SourceID: "b", Snippet: "snippet b"},
	}
	out, err := r.Rerank(context.Background(), "query", docs)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}

	if len(gotReq.Documents) != 2 {
		t.Fatalf("request carried %d passages, want 2", len(gotReq.Documents))
	}
	// Snippet substitutes for missing text.
	if gotReq.Documents[1] != "snippet b" {
		t.Errorf("passage[1] = %q, want snippet fallback", gotReq.Documents[1])
	}

	if len(out) != 2 {
		t.Fatalf("result count = %d, want 2", len(out))
	}
	if out[0].SourceID != "b" || out[0].Score != 0.92 {
		t.Errorf("first result = %s score %v, want b score 0.92", out[0].SourceID, out[0].Score)
	}
	if out[1].SourceID != "a" || out[1].Score != 0.31 {
		t.Errorf("second result = %s score %v, want a score 0.31", out[1].SourceID, out[1].Score)
	}
}

func TestHTTPReranker_DropsOutOfRangeIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 7, Score: 0.9},
			{Index: 0, Score: 0.5},
		}})
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL, testLogger())
	if err != nil {
		t.Fatalf("NewHTTPReranker: %v", err)
	}

	out, err := r.Rerank(context.Background(), "query", []datatypes.RetrievedDocument{{SourceID: "a", Text: "x"}})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 1 || out[0].SourceID != "a" {
		t.Errorf("out-of-range index should be dropped, got %v", docIDs(out))
	}
}

func TestHTTPReranker_ErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL, testLogger())
	if err != nil {
		t.Fatalf("NewHTTPReranker: %v", err)
	}
	if _, err := r.Rerank(context.Background(), "query", []datatypes.RetrievedDocument{{Text: "x"}}); err == nil {
		t.Error("non-200 status should fail")
	}
}

func TestHTTPReranker_NoUsableResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{{Index: 42, Score: 0.9}}})
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL, testLogger())
	if err != nil {
		t.Fatalf("NewHTTPReranker: %v", err)
	}
	if _, err := r.Rerank(context.Background(), "query", []datatypes.RetrievedDocument{{Text: "x"}}); err == nil {
		t.Error("empty usable result set should fail")
	}
}

func TestHTTPReranker_EmptyInput(t *testing.T) {
	r, err := NewHTTPReranker("http://localhost:1", testLogger())
	if err != nil {
		t.Fatalf("NewHTTPReranker: %v", err)
	}
	out, err := r.Rerank(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Rerank on empty input: %v", err)
	}
	if out != nil {
		t.Errorf("empty input should return nil, got %v", docIDs(out))
	}
}
