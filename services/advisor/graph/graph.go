// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the course knowledge graph: a directed multigraph
// of course, program, and requirement-group nodes connected by typed edges,
// with read-only traversal queries over a frozen snapshot.
package graph

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// NodeKind identifies the type of a graph node.
type NodeKind int

const (
	// KindCourse is a course node.
	KindCourse NodeKind = iota

	// KindProgram is a program node.
	KindProgram

	// KindGroup is a requirement-group node.
	KindGroup
)

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	switch k {
	case KindCourse:
		return "course"
	case KindProgram:
		return "program"
	case KindGroup:
		return "requirement_group"
	default:
		return "unknown"
	}
}

// EdgeType identifies the relationship an edge encodes.
type EdgeType int

const (
	// EdgeRequires points from a prerequisite course to the course that
	// depends on it.
	EdgeRequires EdgeType = iota

	// EdgeCorequisiteOf points from a corequisite course to the dependent.
	EdgeCorequisiteOf

	// EdgeIncompatibleWith marks mutual exclusion. Inserted in both
	// directions at build time.
	EdgeIncompatibleWith

	// EdgePartOf points from a course to a program whose requirement
	// groups list it.
	EdgePartOf

	// EdgeSatisfies points from a course to a requirement group it counts
	// toward.
	EdgeSatisfies

	// EdgeBelongsTo points from a requirement group to its program.
	EdgeBelongsTo

	// EdgeUnlocks is the derived inverse of EdgeRequires: it points from a
	// prerequisite to each course that completing it unlocks. Never
	// independently authored; DeriveUnlocks rebuilds the full set.
	EdgeUnlocks
)

// String returns the string representation of the EdgeType.
func (t EdgeType) String() string {
	switch t {
	case EdgeRequires:
		return "REQUIRES"
	case EdgeCorequisiteOf:
		return "COREQUISITE_OF"
	case EdgeIncompatibleWith:
		return "INCOMPATIBLE_WITH"
	case EdgePartOf:
		return "PART_OF"
	case EdgeSatisfies:
		return "SATISFIES"
	case EdgeBelongsTo:
		return "BELONGS_TO"
	case EdgeUnlocks:
		return "UNLOCKS"
	default:
		return "unknown"
	}
}

// EdgeTypeFromString returns the EdgeType for its string form.
func EdgeTypeFromString(s string) (EdgeType, error) {
	switch s {
	case "REQUIRES":
		return EdgeRequires, nil
	case "COREQUISITE_OF":
		return EdgeCorequisiteOf, nil
	case "INCOMPATIBLE_WITH":
		return EdgeIncompatibleWith, nil
	case "PART_OF":
		return EdgePartOf, nil
	case "SATISFIES":
		return EdgeSatisfies, nil
	case "BELONGS_TO":
		return EdgeBelongsTo, nil
	case "UNLOCKS":
		return EdgeUnlocks, nil
	default:
		return 0, fmt.Errorf("unknown edge type %q", s)
	}
}

// CourseNode is the payload of a course node. Immutable once built; the
// graph is rebuilt wholesale when source data changes.
type CourseNode struct {
	// Code is the course code, e.g. "COMP1511". Unique key.
	Code string `json:"code"`

	// Name is the short course name.
	Name string `json:"name"`

	// Level is the numeric course level: the first digit found in the code.
	Level int `json:"level"`

	// Credits is the credit-point value.
	Credits int `json:"credits"`

	// Overview is the free-text course overview.
	Overview string `json:"overview,omitempty"`

	// Terms is the set of offering term labels, e.g. {"T1","T3"}.
	Terms map[string]bool `json:"terms,omitempty"`
}

// OfferedIn reports whether the course runs in the given term label.
func (c *CourseNode) OfferedIn(term string) bool {
	return c.Terms[term]
}

// ProgramNode is the payload of a program node.
type ProgramNode struct {
	// Code is the program code, e.g. "COMPIH".
	Code string `json:"code"`

	// Title is the program title.
	Title string `json:"title"`

	// Faculty is the owning faculty or school.
	Faculty string `json:"faculty,omitempty"`

	// TotalCredits is the total required credit points.
	TotalCredits int `json:"total_credits"`

	// StudyLevel is "undergraduate" or "postgraduate".
	StudyLevel string `json:"study_level,omitempty"`
}

// GroupNode is the payload of a requirement-group node.
type GroupNode struct {
	// ProgramCode is the owning program's code.
	ProgramCode string `json:"program_code"`

	// Title is the group title, normalized for keying.
	Title string `json:"title"`

	// Credits is the credit points required from this group.
	Credits int `json:"credits"`

	// GroupType is the group-type label, e.g. "core" or "elective".
	GroupType string `json:"group_type,omitempty"`

	// Description is the free-text group description.
	Description string `json:"description,omitempty"`
}

// GroupKey builds the composite key for a requirement group.
func GroupKey(programCode, title string) string {
	return programCode + "/" + NormalizeTitle(title)
}

// NormalizeTitle lowercases a group title and collapses whitespace runs to
// single underscores so equivalent titles key identically.
func NormalizeTitle(title string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(title)))
	return strings.Join(fields, "_")
}

// Node is one node in the knowledge graph. Exactly one payload pointer is
// non-nil, matching Kind.
type Node struct {
	// ID is the unique node identifier: course code, program code, or
	// GroupKey result.
	ID string `json:"id"`

	// Kind selects the payload.
	Kind NodeKind `json:"kind"`

	// Course is the payload for KindCourse nodes.
	Course *CourseNode `json:"course,omitempty"`

	// Program is the payload for KindProgram nodes.
	Program *ProgramNode `json:"program,omitempty"`

	// Group is the payload for KindGroup nodes.
	Group *GroupNode `json:"group,omitempty"`
}

// Edge is one typed directed edge. Multiple edges between the same pair of
// nodes are allowed when their types differ.
type Edge struct {
	// FromID is the source node ID.
	FromID string `json:"from_id"`

	// ToID is the target node ID.
	ToID string `json:"to_id"`

	// Type is the relationship.
	Type EdgeType `json:"type"`

	// Expr carries the original requirement expression for EdgeRequires
	// edges, kept for traceability. Nil for other edge types.
	Expr *Expr `json:"expr,omitempty"`
}

// Graph is the course knowledge graph.
//
// Description:
//
//	A directed multigraph with both out- and in-adjacency indexes so every
//	single-hop query is O(node degree). Built once by the Builder, frozen,
//	and then shared read-only between conversations.
//
// Thread Safety:
//
//	NOT safe for concurrent use while building. After Freeze, safe for
//	unbounded concurrent readers.
type Graph struct {
	// Dataset labels the source data release this graph was built from.
	Dataset string

	// BuiltAtMilli is when the graph was frozen (Unix milliseconds UTC).
	BuiltAtMilli int64

	nodes     map[string]*Node
	out       map[string][]*Edge
	in        map[string][]*Edge
	edgeCount int
	frozen    bool

	// Raw requirement expressions per course code. Kept alongside the edge
	// view because an expression with no resolvable course reference (for
	// example a bare UOC floor) produces no edges but still gates
	// enrollment.
	prereqs  map[string]*Expr
	coreqs   map[string]*Expr
	incompat map[string]*Expr
}

// NewGraph creates an empty, unfrozen graph for the given dataset label.
func NewGraph(dataset string) *Graph {
	return &Graph{
		Dataset:  dataset,
		nodes:    make(map[string]*Node),
		out:      make(map[string][]*Edge),
		in:       make(map[string][]*Edge),
		prereqs:  make(map[string]*Expr),
		coreqs:   make(map[string]*Expr),
		incompat: make(map[string]*Expr),
	}
}

// SetRequirements records a course's raw requirement expressions. Nil
// expressions mean "no requirement of that kind".
func (g *Graph) SetRequirements(code string, prereq, coreq, incompatible *Expr) error {
	if g.frozen {
		return fmt.Errorf("graph is frozen")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if g.nodes[code] == nil {
		return fmt.Errorf("unknown course %q", code)
	}
	if prereq != nil {
		g.prereqs[code] = prereq
	}
	if coreq != nil {
		g.coreqs[code] = coreq
	}
	if incompatible != nil {
		g.incompat[code] = incompatible
	}
	return nil
}

// PrerequisiteExpr returns a course's raw prerequisite expression, or nil.
func (g *Graph) PrerequisiteExpr(code string) *Expr {
	return g.prereqs[strings.ToUpper(strings.TrimSpace(code))]
}

// CorequisiteExpr returns a course's raw corequisite expression, or nil.
func (g *Graph) CorequisiteExpr(code string) *Expr {
	return g.coreqs[strings.ToUpper(strings.TrimSpace(code))]
}

// IncompatibleExpr returns a course's raw incompatibility expression, or nil.
func (g *Graph) IncompatibleExpr(code string) *Expr {
	return g.incompat[strings.ToUpper(strings.TrimSpace(code))]
}

// AddCourse adds a course node. Replaces any existing node with the same ID.
func (g *Graph) AddCourse(c *CourseNode) error {
	if g.frozen {
		return fmt.Errorf("graph is frozen")
	}
	if c == nil || c.Code == "" {
		return fmt.Errorf("course must have a code")
	}
	g.nodes[c.Code] = &Node{ID: c.Code, Kind: KindCourse, Course: c}
	return nil
}

// AddProgram adds a program node.
func (g *Graph) AddProgram(p *ProgramNode) error {
	if g.frozen {
		return fmt.Errorf("graph is frozen")
	}
	if p == nil || p.Code == "" {
		return fmt.Errorf("program must have a code")
	}
	g.nodes[p.Code] = &Node{ID: p.Code, Kind: KindProgram, Program: p}
	return nil
}

// AddGroup adds a requirement-group node keyed by GroupKey.
func (g *Graph) AddGroup(grp *GroupNode) error {
	if g.frozen {
		return fmt.Errorf("graph is frozen")
	}
	if grp == nil || grp.ProgramCode == "" || grp.Title == "" {
		return fmt.Errorf("group must have a program code and title")
	}
	id := GroupKey(grp.ProgramCode, grp.Title)
	g.nodes[id] = &Node{ID: id, Kind: KindGroup, Group: grp}
	return nil
}

// AddEdge adds a typed edge between two existing nodes.
//
// Description:
//
//	Both endpoints must already exist; requirement data referencing a
//	course outside the dataset is dropped by the builder before it gets
//	here. Duplicate (from, to, type) edges are ignored so rebuild passes
//	stay idempotent.
func (g *Graph) AddEdge(fromID, toID string, t EdgeType, expr *Expr) error {
	if g.frozen {
		return fmt.Errorf("graph is frozen")
	}
	if g.nodes[fromID] == nil {
		return fmt.Errorf("unknown source node %q", fromID)
	}
	if g.nodes[toID] == nil {
		return fmt.Errorf("unknown target node %q", toID)
	}
	for _, e := range g.out[fromID] {
		if e.ToID == toID && e.Type == t {
			return nil
		}
	}
	e := &Edge{FromID: fromID, ToID: toID, Type: t, Expr: expr}
	g.out[fromID] = append(g.out[fromID], e)
	g.in[toID] = append(g.in[toID], e)
	g.edgeCount++
	return nil
}

// DeriveUnlocks rebuilds the EdgeUnlocks set as the inverse relation of
// every EdgeRequires edge.
//
// Description:
//
//	A Requires edge P→C states "C requires P"; its derived inverse is
//	"P unlocks C", stored as an Unlocks edge P→C. Unlocks edges are never
//	independently authored, so any Requires edge added after a previous
//	derivation is picked up by calling this again before Freeze.
func (g *Graph) DeriveUnlocks() error {
	if g.frozen {
		return fmt.Errorf("graph is frozen")
	}
	for _, edges := range g.out {
		for _, e := range edges {
			if e.Type != EdgeRequires {
				continue
			}
			if err := g.AddEdge(e.FromID, e.ToID, EdgeUnlocks, nil); err != nil {
				return fmt.Errorf("deriving unlocks for %s->%s: %w", e.FromID, e.ToID, err)
			}
		}
	}
	return nil
}

// Freeze derives Unlocks edges and marks the graph read-only.
func (g *Graph) Freeze() error {
	if g.frozen {
		return nil
	}
	if err := g.DeriveUnlocks(); err != nil {
		return err
	}
	g.BuiltAtMilli = time.Now().UnixMilli()
	g.frozen = true
	return nil
}

// Frozen reports whether the graph has been frozen.
func (g *Graph) Frozen() bool { return g.frozen }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges, counting each Incompatible
// direction and each derived Unlocks edge separately.
func (g *Graph) EdgeCount() int { return g.edgeCount }

// Node returns the node with the given ID, or nil when absent.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// CourseByCode returns the course payload for a code, or nil when the code
// is unknown or names a non-course node. Lookup is case-insensitive.
func (g *Graph) CourseByCode(code string) *CourseNode {
	n := g.nodes[strings.ToUpper(strings.TrimSpace(code))]
	if n == nil || n.Kind != KindCourse {
		return nil
	}
	return n.Course
}

// ProgramByCode returns the program payload for a code, or nil when absent.
func (g *Graph) ProgramByCode(code string) *ProgramNode {
	n := g.nodes[strings.ToUpper(strings.TrimSpace(code))]
	if n == nil || n.Kind != KindProgram {
		return nil
	}
	return n.Program
}

// outEdges returns the out-edges of a node filtered by type.
func (g *Graph) outEdges(id string, t EdgeType) []*Edge {
	var match []*Edge
	for _, e := range g.out[id] {
		if e.Type == t {
			match = append(match, e)
		}
	}
	return match
}

// inEdges returns the in-edges of a node filtered by type.
func (g *Graph) inEdges(id string, t EdgeType) []*Edge {
	var match []*Edge
	for _, e := range g.in[id] {
		if e.Type == t {
			match = append(match, e)
		}
	}
	return match
}

// CourseLevel extracts the numeric level from a course code: the first
// digit found, or 0 when the code has none.
func CourseLevel(code string) int {
	for _, r := range code {
		if unicode.IsDigit(r) {
			return int(r - '0')
		}
	}
	return 0
}
