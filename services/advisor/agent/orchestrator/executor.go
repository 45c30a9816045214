// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/routing"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/tools"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
)

// toolResultTitle is the synthetic document title for wrapped tool output.
const toolResultTitle = "tool execution result"

// executor dispatches call_tool decisions against the registry and folds
// results back into conversation state.
type executor struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// execute runs one tool decision.
//
// Description:
//
//	A successful rewrite updates RewrittenQuery only; it produces no
//	evidence and does not advance the round counter. Every other tool
//	execution advances the round whether it succeeds or fails, and a
//	success appends one synthetic document carrying the tool's text
//	output to the evidence pool.
//
// Outputs:
//
//	progressed is true when the execution consumed a round.
func (e *executor) execute(ctx context.Context, state *datatypes.ChatState, decision *routing.Decision) (progressed bool) {
	tool := e.registry.Get(decision.Tool)
	if tool == nil {
		// The router validates tool names; reaching here means the
		// registry changed underneath it.
		state.AppendDecision("executor", decision.Tool, "tool not registered", 0, nil)
		state.Round++
		return true
	}

	timeout := tool.Definition().Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := tool.Execute(ctx, decision.ToolParams)
	if err != nil {
		e.logger.Warn("tool execution error",
			slog.String("tool", decision.Tool),
			slog.String("error", err.Error()),
		)
		state.AppendDecision("executor", decision.Tool, fmt.Sprintf("execution error: %v", err), 0, nil)
		state.Round++
		return true
	}

	if decision.Tool == routing.RewriteToolName {
		return e.applyRewrite(state, result)
	}

	meta := map[string]string{"duration": result.Duration.String()}
	if !result.Success {
		e.logger.Info("tool reported failure",
			slog.String("tool", decision.Tool),
			slog.String("error", result.Error),
		)
		state.AppendDecision("executor", decision.Tool, "failed: "+result.Error, 0, meta)
		state.Round++
		return true
	}

	state.AppendDocuments([]datatypes.RetrievedDocument{{
		SourceID: fmt.Sprintf("tool:%s:%d", decision.Tool, time.Now().UnixMilli()),
		Title:    toolResultTitle,
		Text:     result.OutputText,
		Score:    1.0,
		Metadata: map[string]string{
			"origin": string(datatypes.OriginToolResult),
			"tool":   decision.Tool,
		},
	}})
	state.AppendDecision("executor", decision.Tool, "succeeded", 1, meta)
	state.Round++
	return true
}

// applyRewrite folds a rewrite result into the state without consuming a
// round.
func (e *executor) applyRewrite(state *datatypes.ChatState, result *tools.Result) bool {
	if !result.Success {
		state.AppendDecision("executor", routing.RewriteToolName, "failed: "+result.Error, 0, nil)
		return false
	}
	rewritten, _ := result.Output.(string)
	if rewritten == "" {
		rewritten = result.OutputText
	}
	state.RewrittenQuery = rewritten
	state.AppendDecision("executor", routing.RewriteToolName, "query rewritten", 1,
		map[string]string{"rewritten_query": rewritten})
	e.logger.Debug("applied query rewrite", slog.String("rewritten", rewritten))
	return false
}
