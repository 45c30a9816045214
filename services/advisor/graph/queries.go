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
	"sort"
	"strings"
)

// DefaultChainDepth is the default maximum depth for PrerequisiteChain.
const DefaultChainDepth = 5

// DefaultPathDepth is the default maximum depth for AllPaths.
const DefaultPathDepth = 8

// Edge-direction note for readers of this file: a Requires edge points from
// the prerequisite to the dependent course, and the derived Unlocks edge
// points the same way. Prerequisites of C therefore come from C's in-edges
// while unlocks of P come from P's out-edges; mixing those up silently
// returns the opposite relation.

// DirectPrerequisites returns the immediate prerequisites of a course.
// A missing code returns an empty result, never an error.
func (g *Graph) DirectPrerequisites(code string) []*CourseNode {
	return g.neighborCourses(code, EdgeRequires, false)
}

// Corequisites returns the immediate corequisites of a course.
func (g *Graph) Corequisites(code string) []*CourseNode {
	return g.neighborCourses(code, EdgeCorequisiteOf, false)
}

// Incompatibilities returns the courses incompatible with a course.
// Incompatibility edges are symmetric, so the out direction is complete.
func (g *Graph) Incompatibilities(code string) []*CourseNode {
	return g.neighborCourses(code, EdgeIncompatibleWith, true)
}

// UnlockedBy returns the courses that completing the given course unlocks.
func (g *Graph) UnlockedBy(code string) []*CourseNode {
	return g.neighborCourses(code, EdgeUnlocks, true)
}

// neighborCourses collects course neighbors over one edge type. out selects
// out-edges (targets) versus in-edges (sources). Results are sorted by code.
func (g *Graph) neighborCourses(code string, t EdgeType, out bool) []*CourseNode {
	id := strings.ToUpper(strings.TrimSpace(code))
	if g.nodes[id] == nil {
		return nil
	}

	var edges []*Edge
	if out {
		edges = g.outEdges(id, t)
	} else {
		edges = g.inEdges(id, t)
	}

	courses := make([]*CourseNode, 0, len(edges))
	for _, e := range edges {
		other := e.FromID
		if out {
			other = e.ToID
		}
		if n := g.nodes[other]; n != nil && n.Kind == KindCourse {
			courses = append(courses, n.Course)
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Code < courses[j].Code })
	return courses
}

// Groups returns a program's requirement groups, sorted by title. A missing
// program code returns an empty result.
func (g *Graph) Groups(programCode string) []*GroupNode {
	id := strings.ToUpper(strings.TrimSpace(programCode))
	if n := g.nodes[id]; n == nil || n.Kind != KindProgram {
		return nil
	}

	var groups []*GroupNode
	for _, e := range g.inEdges(id, EdgeBelongsTo) {
		if n := g.nodes[e.FromID]; n != nil && n.Kind == KindGroup {
			groups = append(groups, n.Group)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Title < groups[j].Title })
	return groups
}

// GroupCourses returns the courses that satisfy a requirement group, sorted
// by code.
func (g *Graph) GroupCourses(programCode, title string) []*CourseNode {
	id := GroupKey(strings.ToUpper(strings.TrimSpace(programCode)), title)
	if n := g.nodes[id]; n == nil || n.Kind != KindGroup {
		return nil
	}

	var courses []*CourseNode
	for _, e := range g.inEdges(id, EdgeSatisfies) {
		if n := g.nodes[e.FromID]; n != nil && n.Kind == KindCourse {
			courses = append(courses, n.Course)
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Code < courses[j].Code })
	return courses
}

// ChainNode is one node in a multi-hop prerequisite chain.
type ChainNode struct {
	// Code is the course code at this position.
	Code string `json:"code"`

	// Depth is the distance from the root course (root = 0).
	Depth int `json:"depth"`

	// Prerequisites are this course's own prerequisite subtrees, up to the
	// traversal's depth limit.
	Prerequisites []*ChainNode `json:"prerequisites,omitempty"`
}

// PrerequisiteChain traverses a course's prerequisites depth-first up to
// maxDepth hops.
//
// Description:
//
//	The visited set tracks only the current path, so diamond dependencies
//	appear once per branch while cycles are cut. maxDepth <= 0 uses
//	DefaultChainDepth. A missing code returns nil.
//
// Complexity: O(paths) bounded by maxDepth, never a full-graph scan.
func (g *Graph) PrerequisiteChain(code string, maxDepth int) *ChainNode {
	id := strings.ToUpper(strings.TrimSpace(code))
	if g.nodes[id] == nil {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = DefaultChainDepth
	}
	onPath := map[string]bool{id: true}
	return g.chainFrom(id, 0, maxDepth, onPath)
}

func (g *Graph) chainFrom(id string, depth, maxDepth int, onPath map[string]bool) *ChainNode {
	node := &ChainNode{Code: id, Depth: depth}
	if depth >= maxDepth {
		return node
	}
	for _, pre := range g.DirectPrerequisites(id) {
		if onPath[pre.Code] {
			// Cycle on the current path; requirement data does contain
			// mutual-prerequisite pairs.
			continue
		}
		onPath[pre.Code] = true
		node.Prerequisites = append(node.Prerequisites, g.chainFrom(pre.Code, depth+1, maxDepth, onPath))
		delete(onPath, pre.Code)
	}
	return node
}

// EnrollableWith returns the codes of every course whose prerequisite
// expression is satisfied by plain membership in the completed set.
//
// Description:
//
//	This is the graph-level satisfaction scan: O(courses × avg prerequisite
//	size), no term ordering. The eligibility filter layers term
//	availability, time ordering, corequisites, and incompatibility on top.
//	Courses already in the completed set are excluded.
func (g *Graph) EnrollableWith(completed map[string]bool, uoc int, wam float64) []string {
	ctx := EvalContext{
		CourseSatisfied: func(code string) bool { return completed[code] },
		UOC:             uoc,
		WAM:             wam,
	}

	var codes []string
	for id, n := range g.nodes {
		if n.Kind != KindCourse || completed[id] {
			continue
		}
		if g.prereqs[id].SatisfiedBy(ctx) {
			codes = append(codes, id)
		}
	}
	sort.Strings(codes)
	return codes
}

// ShortestPath returns the minimum-hop path from one course to another over
// Requires edges only, or nil when no path exists.
//
// Description:
//
//	BFS from the starting course following Requires edges forward, i.e. in
//	the direction "completing from leads toward to". Used for "how do I
//	get from A to B" explanations.
func (g *Graph) ShortestPath(from, to string) []string {
	fromID := strings.ToUpper(strings.TrimSpace(from))
	toID := strings.ToUpper(strings.TrimSpace(to))
	if g.nodes[fromID] == nil || g.nodes[toID] == nil {
		return nil
	}
	if fromID == toID {
		return []string{fromID}
	}

	parent := map[string]string{fromID: ""}
	queue := []string{fromID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.outEdges(cur, EdgeRequires) {
			next := e.ToID
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == toID {
				return reconstructPath(parent, toID)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// AllPaths returns every simple path from one course to another over
// Requires edges, bounded by maxDepth hops. maxDepth <= 0 uses
// DefaultPathDepth. Paths are returned shortest first.
func (g *Graph) AllPaths(from, to string, maxDepth int) [][]string {
	fromID := strings.ToUpper(strings.TrimSpace(from))
	toID := strings.ToUpper(strings.TrimSpace(to))
	if g.nodes[fromID] == nil || g.nodes[toID] == nil {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = DefaultPathDepth
	}

	var paths [][]string
	onPath := map[string]bool{fromID: true}
	g.pathsFrom(fromID, toID, maxDepth, []string{fromID}, onPath, &paths)

	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		return strings.Join(paths[i], ",") < strings.Join(paths[j], ",")
	})
	return paths
}

func (g *Graph) pathsFrom(cur, target string, maxDepth int, path []string, onPath map[string]bool, out *[][]string) {
	if cur == target {
		found := make([]string, len(path))
		copy(found, path)
		*out = append(*out, found)
		return
	}
	if len(path) > maxDepth {
		return
	}
	for _, e := range g.outEdges(cur, EdgeRequires) {
		next := e.ToID
		if onPath[next] {
			continue
		}
		onPath[next] = true
		g.pathsFrom(next, target, maxDepth, append(path, next), onPath, out)
		delete(onPath, next)
	}
}

// reconstructPath walks parent pointers back from the target.
func reconstructPath(parent map[string]string, target string) []string {
	var rev []string
	for cur := target; cur != ""; cur = parent[cur] {
		rev = append(rev, cur)
	}
	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}
