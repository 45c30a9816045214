// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the closed set of advisor tools the router may
// dispatch to, plus the registry that exposes them to the LLM as function
// definitions.
package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

// ParamType identifies a tool parameter's JSON schema type.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "integer"
	ParamTypeNumber ParamType = "number"
	ParamTypeArray  ParamType = "array"
)

// ParamDef describes one tool parameter.
type ParamDef struct {
	// Type is the parameter's JSON schema type.
	Type ParamType

	// Description explains the parameter to the model.
	Description string

	// Required marks the parameter as mandatory.
	Required bool

	// Default is the value used when an optional parameter is absent.
	Default any

	// Enum restricts string parameters to a fixed value set.
	Enum []string
}

// ToolDefinition is the tool's self-description: what it does, its
// parameters, and how the model should choose it.
type ToolDefinition struct {
	// Name is the tool identifier presented to the model.
	Name string

	// Description tells the model what the tool does and when to use it.
	Description string

	// Parameters maps parameter name to definition.
	Parameters map[string]ParamDef

	// SideEffects is true for tools that mutate conversation state.
	SideEffects bool

	// Timeout bounds a single execution.
	Timeout time.Duration
}

// Result is the outcome of one tool execution.
type Result struct {
	// Success is false when the tool rejected its input or failed.
	Success bool

	// Error holds the failure description when Success is false.
	Error string

	// Output is the structured result for serialization.
	Output any

	// OutputText is the human-readable rendering fed to the model.
	OutputText string

	// Duration is the execution wall time.
	Duration time.Duration
}

// Tool is one dispatchable advisor capability.
//
// Description:
//
//	Execute returns a non-nil Result for tool-level failures (bad
//	parameters, unknown course) so the model sees the failure text and can
//	adjust; the error return is reserved for infrastructure failures such
//	as context cancellation.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Registry holds the closed tool set keyed by name.
//
// Thread Safety: safe for concurrent reads after construction. Register is
// not safe to call concurrently with reads.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds a tool, rejecting duplicates.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool must not be nil")
	}
	name := t.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.byName[name] = t
	return nil
}

// Get returns the named tool, or nil when unknown.
func (r *Registry) Get(name string) Tool {
	return r.byName[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the LLM function definitions for all registered
// tools, sorted by name for deterministic prompts.
func (r *Registry) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.byName))
	for _, name := range r.Names() {
		defs = append(defs, toLLMDef(r.byName[name].Definition()))
	}
	return defs
}

// toLLMDef converts a ToolDefinition into the OpenAI function schema.
func toLLMDef(def ToolDefinition) llm.ToolDef {
	props := make(map[string]llm.ToolParamDef, len(def.Parameters))
	var required []string
	for name, p := range def.Parameters {
		var enum []any
		for _, v := range p.Enum {
			enum = append(enum, v)
		}
		props[name] = llm.ToolParamDef{
			Type:        string(p.Type),
			Description: p.Description,
			Enum:        enum,
		}
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return llm.FuncTool(def.Name, def.Description, llm.ToolParameters{
		Type:       "object",
		Properties: props,
		Required:   required,
	})
}

// parseStringParam coerces a raw parameter to string.
func parseStringParam(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

// parseIntParam coerces a raw parameter to int, accepting the float64 that
// JSON decoding produces.
func parseIntParam(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// parseFloatParam coerces a raw parameter to float64.
func parseFloatParam(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// parseStringSliceParam coerces a raw parameter to []string, accepting the
// []any that JSON decoding produces.
func parseStringSliceParam(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
