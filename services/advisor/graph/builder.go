// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var builderTracer = otel.Tracer("advisor.graph.builder")

// FlexInt is an integer that unmarshals from a JSON number or a numeric
// string. Source data carries credit points in both forms; non-parseable
// values degrade to 0 rather than failing the whole build.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*f = 0
		return nil
	}
	// Accept "6.0" style values by parsing as float first.
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(int(v))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(f))
}

// CourseRecord is one normalized course source record.
type CourseRecord struct {
	// Code is the course code, e.g. "COMP1511".
	Code string `json:"code"`

	// Name is the short course name.
	Name string `json:"name"`

	// Credits is the credit-point value. May arrive as a numeric string.
	Credits FlexInt `json:"credits"`

	// Overview is the free-text course overview.
	Overview string `json:"overview,omitempty"`

	// Terms lists the offering term labels, e.g. ["T1","T3"].
	Terms []string `json:"terms,omitempty"`

	// Prerequisite is the prerequisite expression, if any.
	Prerequisite *Expr `json:"prerequisite,omitempty"`

	// Corequisite is the corequisite expression, if any.
	Corequisite *Expr `json:"corequisite,omitempty"`

	// Incompatible is the incompatibility expression, if any.
	Incompatible *Expr `json:"incompatible,omitempty"`
}

// GroupRecord is one requirement group within a program source record.
type GroupRecord struct {
	// Title is the group title.
	Title string `json:"title"`

	// Credits is the credit points required from this group.
	Credits FlexInt `json:"credits"`

	// GroupType is the group-type label, e.g. "core".
	GroupType string `json:"group_type,omitempty"`

	// Description is the free-text group description.
	Description string `json:"description,omitempty"`

	// Courses lists the course codes that satisfy this group.
	Courses []string `json:"courses,omitempty"`
}

// ProgramRecord is one normalized program source record.
type ProgramRecord struct {
	// Code is the program code, e.g. "COMPIH".
	Code string `json:"code"`

	// Title is the program title.
	Title string `json:"title"`

	// Faculty is the owning faculty or school.
	Faculty string `json:"faculty,omitempty"`

	// Credits is the total required credit points.
	Credits FlexInt `json:"credits"`

	// StudyLevel is "undergraduate" or "postgraduate".
	StudyLevel string `json:"study_level,omitempty"`

	// Groups lists the program's requirement groups.
	Groups []GroupRecord `json:"groups,omitempty"`
}

// Builder constructs a frozen knowledge graph from normalized source
// records.
//
// Description:
//
//	Build is a two-pass process: all nodes first, then edges, so a
//	requirement can reference any course in the dataset regardless of
//	record order. Requirement edges whose referenced code is not in the
//	dataset are dropped with a debug log; a missing course is a data gap,
//	not a build failure. Unlocks derivation happens inside Freeze.
//
// Thread Safety: NOT safe for concurrent use. Build once, share the result.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build constructs and freezes a graph from the given records.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	dataset - Label for the source data release.
//	courses - Normalized course records.
//	programs - Normalized program records.
//
// Outputs:
//
//	*Graph - The frozen graph. Never nil on success.
//	error - Non-nil if a structural step fails.
func (b *Builder) Build(ctx context.Context, dataset string, courses []CourseRecord, programs []ProgramRecord) (*Graph, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	_, span := builderTracer.Start(ctx, "Builder.Build")
	defer span.End()

	g := NewGraph(dataset)

	// Pass 1: nodes.
	for i := range courses {
		rec := &courses[i]
		code := strings.ToUpper(strings.TrimSpace(rec.Code))
		if code == "" {
			b.logger.Warn("skipping course record without code", slog.Int("index", i))
			continue
		}
		terms := make(map[string]bool, len(rec.Terms))
		for _, t := range rec.Terms {
			terms[strings.ToUpper(strings.TrimSpace(t))] = true
		}
		if err := g.AddCourse(&CourseNode{
			Code:     code,
			Name:     rec.Name,
			Level:    CourseLevel(code),
			Credits:  int(rec.Credits),
			Overview: rec.Overview,
			Terms:    terms,
		}); err != nil {
			return nil, fmt.Errorf("adding course %s: %w", code, err)
		}
	}

	for i := range programs {
		rec := &programs[i]
		code := strings.ToUpper(strings.TrimSpace(rec.Code))
		if code == "" {
			b.logger.Warn("skipping program record without code", slog.Int("index", i))
			continue
		}
		if err := g.AddProgram(&ProgramNode{
			Code:         code,
			Title:        rec.Title,
			Faculty:      rec.Faculty,
			TotalCredits: int(rec.Credits),
			StudyLevel:   rec.StudyLevel,
		}); err != nil {
			return nil, fmt.Errorf("adding program %s: %w", code, err)
		}
		for j := range rec.Groups {
			grp := &rec.Groups[j]
			if strings.TrimSpace(grp.Title) == "" {
				continue
			}
			if err := g.AddGroup(&GroupNode{
				ProgramCode: code,
				Title:       grp.Title,
				Credits:     int(grp.Credits),
				GroupType:   grp.GroupType,
				Description: grp.Description,
			}); err != nil {
				return nil, fmt.Errorf("adding group %q of %s: %w", grp.Title, code, err)
			}
		}
	}

	// Pass 2: edges.
	for i := range courses {
		rec := &courses[i]
		code := strings.ToUpper(strings.TrimSpace(rec.Code))
		if code == "" {
			continue
		}
		if err := g.SetRequirements(code, rec.Prerequisite, rec.Corequisite, rec.Incompatible); err != nil {
			return nil, fmt.Errorf("recording requirements for %s: %w", code, err)
		}
		b.addRequirementEdges(g, code, rec.Prerequisite, EdgeRequires)
		b.addRequirementEdges(g, code, rec.Corequisite, EdgeCorequisiteOf)
		b.addRequirementEdges(g, code, rec.Incompatible, EdgeIncompatibleWith)
	}

	for i := range programs {
		rec := &programs[i]
		code := strings.ToUpper(strings.TrimSpace(rec.Code))
		if code == "" {
			continue
		}
		for j := range rec.Groups {
			grp := &rec.Groups[j]
			if strings.TrimSpace(grp.Title) == "" {
				continue
			}
			groupID := GroupKey(code, grp.Title)
			if err := g.AddEdge(groupID, code, EdgeBelongsTo, nil); err != nil {
				return nil, fmt.Errorf("linking group %s to program: %w", groupID, err)
			}
			for _, member := range grp.Courses {
				member = strings.ToUpper(strings.TrimSpace(member))
				if g.CourseByCode(member) == nil {
					b.logger.Debug("dropping unknown group member",
						slog.String("program", code),
						slog.String("course", member),
					)
					continue
				}
				if err := g.AddEdge(member, groupID, EdgeSatisfies, nil); err != nil {
					return nil, fmt.Errorf("linking %s to group %s: %w", member, groupID, err)
				}
				if err := g.AddEdge(member, code, EdgePartOf, nil); err != nil {
					return nil, fmt.Errorf("linking %s to program %s: %w", member, code, err)
				}
			}
		}
	}

	if err := g.Freeze(); err != nil {
		return nil, fmt.Errorf("freezing graph: %w", err)
	}

	span.SetAttributes(
		attribute.Int("graph.nodes", g.NodeCount()),
		attribute.Int("graph.edges", g.EdgeCount()),
	)
	b.logger.Info("knowledge graph built",
		slog.String("dataset", dataset),
		slog.Int("node_count", g.NodeCount()),
		slog.Int("edge_count", g.EdgeCount()),
	)
	return g, nil
}

// addRequirementEdges flattens an expression to referenced course codes and
// adds one edge per code, from the referenced course to the dependent.
// Incompatibility is symmetric, so the mirror edge is inserted too.
func (b *Builder) addRequirementEdges(g *Graph, dependent string, expr *Expr, t EdgeType) {
	if expr == nil {
		return
	}
	var payload *Expr
	if t == EdgeRequires {
		payload = expr
	}
	for _, ref := range expr.Flatten() {
		if ref == dependent {
			continue
		}
		if g.CourseByCode(ref) == nil {
			b.logger.Debug("dropping requirement edge to unknown course",
				slog.String("dependent", dependent),
				slog.String("referenced", ref),
				slog.String("type", t.String()),
			)
			continue
		}
		if err := g.AddEdge(ref, dependent, t, payload); err != nil {
			b.logger.Warn("failed to add requirement edge",
				slog.String("from", ref),
				slog.String("to", dependent),
				slog.String("error", err.Error()),
			)
			continue
		}
		if t == EdgeIncompatibleWith {
			if err := g.AddEdge(dependent, ref, t, nil); err != nil {
				b.logger.Warn("failed to mirror incompatibility edge",
					slog.String("from", dependent),
					slog.String("to", ref),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
