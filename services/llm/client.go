// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
)

// GenerationParams holds per-request generation options.
type GenerationParams struct {
	// Temperature controls randomness. Nil uses the provider default.
	Temperature *float32

	// MaxTokens limits the response length. Nil uses the provider default.
	MaxTokens *int

	// TopP is the nucleus sampling parameter. Nil uses the provider default.
	TopP *float32

	// Stop lists stop sequences.
	Stop []string

	// ModelOverride selects a model for this request only.
	ModelOverride string

	// ToolChoice is "auto" (default) or "required". "required" forces the
	// model to select a tool, used for structured routing decisions.
	ToolChoice string
}

// Client is the chat capability consumed by the advisor core.
//
// Description:
//
//	Chat covers free-form judgments (grounding, sufficiency, answer
//	synthesis); ChatWithTools covers structured single-tool selection.
//	Implementations must bound concurrency and retry transient upstream
//	failures internally so callers see either a result or a final error.
//
// Thread Safety: implementations must be safe for concurrent use.
type Client interface {
	// Chat sends messages and returns the assistant's response text.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatWithTools sends a chat request with tool definitions and returns
	// content and/or tool calls.
	ChatWithTools(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)
}
