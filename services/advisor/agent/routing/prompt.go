// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
)

// =============================================================================
// Prompt Builder
// =============================================================================

// PromptBuilder renders the routing system prompt.
//
// Description:
//
//	The prompt lists the available routes and tools, summarizes the
//	conversation state (round number, evidence pool, prior decisions), and
//	instructs the model to answer through the select_route function call.
//
// Thread Safety: safe for concurrent use.
type PromptBuilder struct {
	tmpl *template.Template
}

// PromptData is the template input.
type PromptData struct {
	// Query is the effective user query.
	Query string

	// Profile summarizes the student's academic context.
	Profile datatypes.StudentProfile

	// Round is the number of completed retrieval/tool rounds.
	Round int

	// MaxRounds is the round budget.
	MaxRounds int

	// DocumentCount is the size of the accumulated evidence pool.
	DocumentCount int

	// RewriteDone is true once the query has been rewritten this turn.
	RewriteDone bool

	// ToolNames lists the dispatchable tools.
	ToolNames []string

	// Trail summarizes prior decisions this turn, oldest first.
	Trail []datatypes.DecisionRecord
}

const systemPromptTemplate = `You route a university course advisor's next step. Select exactly one route via the select_route function.

## Routes
- retrieve_rag: search the course handbook index for documents relevant to the query. Use when the question needs course content, requirement text, or general handbook knowledge that is not yet in the evidence.
- call_tool: run one structured tool. Available tools: {{join .ToolNames ", "}}. Use query_graph for exact relationship facts about a named course, filter_eligibility for "what can I take" questions{{if not .RewriteDone}}, rewrite_query only after a retrieval attempt found nothing{{end}}.
- needs_clarification: the query is too ambiguous to act on. Asks the student a clarifying question.
- general_chat: greeting or small talk with no information need.
- finish: the accumulated evidence is sufficient, or no further action can improve the answer.

## State
- Query: {{.Query}}
{{- if .Profile.Program}}
- Student: program {{.Profile.Program}}, target term {{.Profile.TargetTerm}}, {{len .Profile.Completed}} completed courses
{{- end}}
- Round {{.Round}} of {{.MaxRounds}}
- Evidence documents accumulated: {{.DocumentCount}}
{{- if .RewriteDone}}
- The query has already been rewritten once; rewrite_query is no longer available.
{{- end}}
{{- if .Trail}}

## Decisions so far (do not repeat a step that already succeeded)
{{- range .Trail}}
- {{.Node}}: {{.Decision}}{{if .Reasoning}} ({{.Reasoning}}){{end}}
{{- end}}
{{- end}}

## Rules
1. Never select the same retrieval or tool step twice in a row when it produced nothing new.
2. If the evidence already answers the question, select finish.
3. When unsure between continuing and finishing, select finish.`

// NewPromptBuilder parses the routing prompt template.
func NewPromptBuilder() (*PromptBuilder, error) {
	tmpl, err := template.New("routing").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(systemPromptTemplate)
	if err != nil {
		return nil, err
	}
	return &PromptBuilder{tmpl: tmpl}, nil
}

// BuildSystemPrompt renders the routing system prompt.
func (p *PromptBuilder) BuildSystemPrompt(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildUserPrompt renders the user message containing the query.
func (p *PromptBuilder) BuildUserPrompt(query string) string {
	return "Student query: " + query + "\n\nSelect the next route via select_route."
}
