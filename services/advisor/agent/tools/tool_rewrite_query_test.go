// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestRewriteQuery_RequiresQuery(t *testing.T) {
	tool := NewRewriteQueryTool(&fakeClient{})

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("missing query should fail")
	}
	if !strings.Contains(res.Error, "query is required") {
		t.Errorf("error = %q, want query hint", res.Error)
	}
}

func TestRewriteQuery_Success(t *testing.T) {
	client := &fakeClient{reply: `"COMP1511 Programming Fundamentals prerequisites"`}
	tool := NewRewriteQueryTool(client)

	res, err := tool.Execute(context.Background(), map[string]any{
		"query":  "what do i need for the intro coding course",
		"reason": "slang for course name",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	// Wrapping quotes are stripped from the model's reply.
	want := "COMP1511 Programming Fundamentals prerequisites"
	if res.OutputText != want {
		t.Errorf("OutputText = %q, want %q", res.OutputText, want)
	}
	if res.Output != want {
		t.Errorf("Output = %v, want %q", res.Output, want)
	}
	if client.chatCalls != 1 {
		t.Errorf("chat calls = %d, want 1", client.chatCalls)
	}
}

func TestRewriteQuery_NoChangeFails(t *testing.T) {
	query := "COMP1511 prerequisites"
	client := &fakeClient{reply: strings.ToLower(query)}
	tool := NewRewriteQueryTool(client)

	res, err := tool.Execute(context.Background(), map[string]any{"query": query})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("case-only rewrite should fail")
	}
	if !strings.Contains(res.Error, "no change") {
		t.Errorf("error = %q, want no-change message", res.Error)
	}
}

func TestRewriteQuery_EmptyReplyFails(t *testing.T) {
	tool := NewRewriteQueryTool(&fakeClient{reply: `""`})

	res, err := tool.Execute(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("empty rewrite should fail")
	}
}

func TestRewriteQuery_ClientError(t *testing.T) {
	tool := NewRewriteQueryTool(&fakeClient{chatErr: fmt.Errorf("upstream 503")})

	res, err := tool.Execute(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("client failure should yield a failed result")
	}
	if !strings.Contains(res.Error, "query rewrite failed") {
		t.Errorf("error = %q, want rewrite failure message", res.Error)
	}
}
