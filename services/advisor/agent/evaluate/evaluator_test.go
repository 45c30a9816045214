// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeClient returns a fixed chat reply, or an error when err is set.
type fakeClient struct {
	reply string
	err   error
	calls int
}

func (f *fakeClient) Chat(context.Context, []datatypes.Message, llm.GenerationParams) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeClient) ChatWithTools(context.Context, []llm.ChatMessage, llm.GenerationParams, []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	return nil, fmt.Errorf("not used")
}

func doc(title, text string) datatypes.RetrievedDocument {
	return datatypes.RetrievedDocument{Title: title, Text: text}
}

// grayDocs is a pool where half the documents match and the matched half is
// short, landing the heuristic between the thresholds.
func grayDocs() []datatypes.RetrievedDocument {
	return []datatypes.RetrievedDocument{
		doc("enrolment guide", "enrolment rules for computing students"),
		doc("campus map", "building locations and walking paths"),
	}
}

func TestAssess_NoDocuments(t *testing.T) {
	e := NewEvaluator(nil, testLogger())
	a, err := e.Assess(context.Background(), "prerequisites of COMP1511", nil)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.Score != 0 || a.Sufficient {
		t.Errorf("empty pool should score 0 and be insufficient, got %+v", a)
	}
}

func TestAssess_ZeroOverlapScoresZero(t *testing.T) {
	e := NewEvaluator(nil, testLogger())
	a, err := e.Assess(context.Background(), "prerequisites of COMP3121 algorithms", []datatypes.RetrievedDocument{
		doc("Unrelated page", "nothing about that topic here"),
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.Score != 0 {
		t.Errorf("zero term overlap should score 0, got %v", a.Score)
	}
	if a.Sufficient {
		t.Error("zero overlap should be insufficient")
	}
}

func TestAssess_StrongCoverageIsSufficientWithoutLLM(t *testing.T) {
	client := &fakeClient{reply: "NO"}
	e := NewEvaluator(client, testLogger())

	longText := "COMP3121 Algorithm Design requires COMP2521. " + strings.Repeat("Detailed handbook content. ", 80)
	a, err := e.Assess(context.Background(), "what does COMP3121 require", []datatypes.RetrievedDocument{
		doc("COMP3121 Algorithm Design", longText),
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !a.Sufficient {
		t.Errorf("full coverage with ample evidence should be sufficient, got %+v", a)
	}
	if a.Method != "heuristic" {
		t.Errorf("method = %q, want heuristic", a.Method)
	}
	if client.calls != 0 {
		t.Errorf("clear case should not call the model, calls = %d", client.calls)
	}
}

func TestAssess_CourseCodesDominateTerms(t *testing.T) {
	e := NewEvaluator(nil, testLogger())

	// The document covers the code but none of the other query words.
	// Codes are the only terms, so the document counts as matched.
	longText := "COMP1511 " + strings.Repeat("introductory material ", 100)
	a, err := e.Assess(context.Background(), "zzz qqq handbook xyzzy COMP1511", []datatypes.RetrievedDocument{
		doc("COMP1511", longText),
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !a.Sufficient {
		t.Errorf("covered course code should dominate scoring, got %+v", a)
	}
}

func TestAssess_CoverageCountsDocumentsNotTerms(t *testing.T) {
	e := NewEvaluator(nil, testLogger())

	// Both documents match on one of the two codes. Every document in the
	// pool is on topic, so coverage is full even though the second code
	// never appears anywhere.
	longText := "COMP1511 Programming Fundamentals. " + strings.Repeat("Handbook entry content. ", 60)
	a, err := e.Assess(context.Background(), "compare COMP1511 and COMP9999", []datatypes.RetrievedDocument{
		doc("COMP1511 course outline", longText),
		doc("COMP1511 assessment guide", longText),
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !a.Sufficient {
		t.Errorf("fully matched pool should be sufficient, got %+v", a)
	}
	if a.Method != "heuristic" {
		t.Errorf("method = %q, want heuristic", a.Method)
	}
	if a.Score < SufficientThreshold {
		t.Errorf("score = %v, want >= %v", a.Score, SufficientThreshold)
	}
}

func TestAssess_GrayBandEscalatesToLLM(t *testing.T) {
	query := "enrolment rules census deadlines"

	yes := &fakeClient{reply: "YES"}
	e := NewEvaluator(yes, testLogger())
	a, err := e.Assess(context.Background(), query, grayDocs())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if yes.calls != 1 {
		t.Fatalf("gray band should call the model once, calls = %d (score %v)", yes.calls, a.Score)
	}
	if !a.Sufficient || a.Method != "llm" {
		t.Errorf("YES judgment should be sufficient via llm, got %+v", a)
	}
	if a.Score < SufficientThreshold {
		t.Errorf("sufficient verdict should lift score to the threshold, got %v", a.Score)
	}

	no := &fakeClient{reply: "NO"}
	e = NewEvaluator(no, testLogger())
	a, err = e.Assess(context.Background(), query, grayDocs())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.Sufficient {
		t.Errorf("NO judgment should be insufficient, got %+v", a)
	}
}

func TestAssess_LLMFailureFallsBackToHeuristic(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("model unavailable")}
	e := NewEvaluator(client, testLogger())

	t.Run("low gray score stays insufficient", func(t *testing.T) {
		a, err := e.Assess(context.Background(), "enrolment rules census deadlines", grayDocs())
		if err != nil {
			t.Fatalf("Assess should absorb judgment failures: %v", err)
		}
		if a.Sufficient {
			t.Error("lexical score below 0.5 should stay insufficient")
		}
		if a.Score >= 0.5 || a.Score < InsufficientThreshold {
			t.Errorf("score = %v, want the lexical gray-band score below 0.5", a.Score)
		}
		if a.Method != "heuristic" {
			t.Errorf("method = %q, want heuristic", a.Method)
		}
	})

	t.Run("high gray score becomes sufficient", func(t *testing.T) {
		// Two of three documents match with a few hundred characters of
		// matched text, landing the score in [0.5, 0.7).
		pool := []datatypes.RetrievedDocument{
			doc("enrolment guide", "enrolment procedures. "+strings.Repeat("enrolment steps explained. ", 8)),
			doc("census dates", "census information. "+strings.Repeat("census week details. ", 8)),
			doc("campus map", "building locations and walking paths"),
		}
		a, err := e.Assess(context.Background(), "enrolment and census deadlines", pool)
		if err != nil {
			t.Fatalf("Assess should absorb judgment failures: %v", err)
		}
		if !a.Sufficient {
			t.Errorf("lexical score at or above 0.5 should be sufficient, got %+v", a)
		}
		if a.Score < 0.5 || a.Score >= SufficientThreshold {
			t.Errorf("score = %v, want the lexical gray-band score in [0.5, 0.7)", a.Score)
		}
	})
}

func TestAssess_NilClientGrayBandInsufficient(t *testing.T) {
	e := NewEvaluator(nil, testLogger())
	a, err := e.Assess(context.Background(), "enrolment rules census deadlines", grayDocs())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.Sufficient {
		t.Error("gray band without a judgment model should stay insufficient")
	}
	if a.Method != "heuristic" {
		t.Errorf("method = %q, want heuristic", a.Method)
	}
}

func TestAssess_SufficientThresholdOverride(t *testing.T) {
	client := &fakeClient{reply: "NO"}
	e := NewEvaluator(client, testLogger(), WithSufficientThreshold(0.35))

	a, err := e.Assess(context.Background(), "enrolment rules census deadlines", grayDocs())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !a.Sufficient || a.Method != "heuristic" {
		t.Errorf("lowered threshold should settle heuristically, got %+v", a)
	}
	if client.calls != 0 {
		t.Errorf("cleared threshold should not call the model, calls = %d", client.calls)
	}
}

func TestWithSufficientThreshold_IgnoresOutOfRange(t *testing.T) {
	e := NewEvaluator(nil, testLogger(),
		WithSufficientThreshold(0), WithSufficientThreshold(1.5))
	if e.sufficient != SufficientThreshold {
		t.Errorf("sufficient = %v, want default %v", e.sufficient, SufficientThreshold)
	}
}

func TestHeuristicScore_MonotonicInCoverage(t *testing.T) {
	e := NewEvaluator(nil, testLogger())
	query := "census date refund deadline"

	low := e.heuristicScore(query, []datatypes.RetrievedDocument{
		doc("page one", "the census information for new students"),
		doc("page two", "library opening hours and study spaces"),
	})
	high := e.heuristicScore(query, []datatypes.RetrievedDocument{
		doc("page one", "the census information for new students"),
		doc("page two", "refund policy after the deadline passes"),
	})
	if high <= low {
		t.Errorf("a larger matched fraction should score higher: low=%v high=%v", low, high)
	}
}

func TestHeuristicScore_UnmatchedDocumentsDoNotPadLength(t *testing.T) {
	e := NewEvaluator(nil, testLogger())

	got := e.heuristicScore("census date", []datatypes.RetrievedDocument{
		doc("census info", "the census date is in week two"),
		doc("parking", strings.Repeat("parking permit information. ", 200)),
	})
	// Half the pool matches and the matched document is tiny, so the
	// length component stays near zero despite kilobytes of off-topic
	// text alongside it.
	if got <= 0.35 || got >= 0.40 {
		t.Errorf("score = %v, want just above 0.35", got)
	}
}

func TestQueryTerms(t *testing.T) {
	got := queryTerms("What are the prerequisites for COMP1511 and MATH1081?")
	want := []string{"comp1511", "math1081"}
	if len(got) != len(want) {
		t.Fatalf("queryTerms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queryTerms[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	got = queryTerms("when is the census date")
	for _, term := range got {
		if stopwords[term] {
			t.Errorf("stopword %q should have been filtered", term)
		}
	}
	if len(got) != 2 {
		t.Errorf("queryTerms = %v, want [census date]", got)
	}
}
