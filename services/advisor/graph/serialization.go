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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a Graph.
//
// Description:
//
//	Contains all data needed to reconstruct a frozen graph. Nodes and
//	edges are sorted for deterministic output, enabling reliable content
//	hashing. Derived Unlocks edges are not serialized; FromSerializable
//	re-derives them during Freeze so the mirror invariant can never drift
//	between a snapshot and its authored Requires edges.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// Dataset labels the source data release.
	Dataset string `json:"dataset"`

	// BuiltAtMilli is when the source graph was frozen (Unix ms UTC).
	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	// Nodes contains all nodes, sorted by ID.
	Nodes []SerializableNode `json:"nodes"`

	// Edges contains all authored edges, sorted by (from, to, type).
	Edges []SerializableEdge `json:"edges"`
}

// SerializableNode is the JSON form of a Node plus the course's raw
// requirement expressions.
type SerializableNode struct {
	// ID is the unique node identifier.
	ID string `json:"id"`

	// Kind is the human-readable node kind.
	Kind string `json:"kind"`

	// Course is the payload for course nodes.
	Course *CourseNode `json:"course,omitempty"`

	// Program is the payload for program nodes.
	Program *ProgramNode `json:"program,omitempty"`

	// Group is the payload for requirement-group nodes.
	Group *GroupNode `json:"group,omitempty"`

	// Prerequisite is the course's raw prerequisite expression.
	Prerequisite *Expr `json:"prerequisite,omitempty"`

	// Corequisite is the course's raw corequisite expression.
	Corequisite *Expr `json:"corequisite,omitempty"`

	// Incompatible is the course's raw incompatibility expression.
	Incompatible *Expr `json:"incompatible,omitempty"`
}

// SerializableEdge is the JSON form of an Edge.
type SerializableEdge struct {
	// FromID is the source node ID.
	FromID string `json:"from_id"`

	// ToID is the target node ID.
	ToID string `json:"to_id"`

	// Type is the human-readable edge type string.
	Type string `json:"type"`

	// Expr is the requirement expression payload for REQUIRES edges.
	Expr *Expr `json:"expr,omitempty"`
}

// ToSerializable converts a Graph to its JSON-serializable representation.
//
// Complexity: O(V log V + E log E); sorting dominates.
func (g *Graph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Nodes:         []SerializableNode{},
			Edges:         []SerializableEdge{},
		}
	}

	nodeIDs := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	nodes := make([]SerializableNode, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		n := g.nodes[id]
		nodes = append(nodes, SerializableNode{
			ID:           id,
			Kind:         n.Kind.String(),
			Course:       n.Course,
			Program:      n.Program,
			Group:        n.Group,
			Prerequisite: g.prereqs[id],
			Corequisite:  g.coreqs[id],
			Incompatible: g.incompat[id],
		})
	}

	var edges []SerializableEdge
	for _, id := range nodeIDs {
		for _, e := range g.out[id] {
			if e.Type == EdgeUnlocks {
				continue
			}
			edges = append(edges, SerializableEdge{
				FromID: e.FromID,
				ToID:   e.ToID,
				Type:   e.Type.String(),
				Expr:   e.Expr,
			})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromID != edges[j].FromID {
			return edges[i].FromID < edges[j].FromID
		}
		if edges[i].ToID != edges[j].ToID {
			return edges[i].ToID < edges[j].ToID
		}
		return edges[i].Type < edges[j].Type
	})
	if edges == nil {
		edges = []SerializableEdge{}
	}

	sg := &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		Dataset:       g.Dataset,
		BuiltAtMilli:  g.BuiltAtMilli,
		Nodes:         nodes,
		Edges:         edges,
	}
	sg.GraphHash = sg.computeHash()
	return sg
}

// FromSerializable reconstructs a frozen Graph from its serialized form.
//
// Description:
//
//	Rebuilds nodes, requirement expressions, and authored edges, then
//	freezes the graph (re-deriving Unlocks). The original BuiltAtMilli is
//	preserved so a reloaded snapshot identifies as its source build.
func FromSerializable(sg *SerializableGraph) (*Graph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (want %s)", sg.SchemaVersion, GraphSchemaVersion)
	}

	g := NewGraph(sg.Dataset)

	for i := range sg.Nodes {
		sn := &sg.Nodes[i]
		var err error
		switch {
		case sn.Course != nil:
			err = g.AddCourse(sn.Course)
		case sn.Program != nil:
			err = g.AddProgram(sn.Program)
		case sn.Group != nil:
			err = g.AddGroup(sn.Group)
		default:
			err = fmt.Errorf("node %q has no payload", sn.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("restoring node %q: %w", sn.ID, err)
		}
		if sn.Course != nil {
			if err := g.SetRequirements(sn.ID, sn.Prerequisite, sn.Corequisite, sn.Incompatible); err != nil {
				return nil, fmt.Errorf("restoring requirements for %q: %w", sn.ID, err)
			}
		}
	}

	for i := range sg.Edges {
		se := &sg.Edges[i]
		t, err := EdgeTypeFromString(se.Type)
		if err != nil {
			return nil, fmt.Errorf("restoring edge %s->%s: %w", se.FromID, se.ToID, err)
		}
		if t == EdgeUnlocks {
			// Derived type; ignore if an older snapshot carries them.
			continue
		}
		if err := g.AddEdge(se.FromID, se.ToID, t, se.Expr); err != nil {
			return nil, fmt.Errorf("restoring edge %s->%s: %w", se.FromID, se.ToID, err)
		}
	}

	if err := g.Freeze(); err != nil {
		return nil, fmt.Errorf("freezing restored graph: %w", err)
	}
	if sg.BuiltAtMilli != 0 {
		g.BuiltAtMilli = sg.BuiltAtMilli
	}
	return g, nil
}

// computeHash returns the hex SHA-256 of the sorted node and edge lists.
func (sg *SerializableGraph) computeHash() string {
	payload := struct {
		Nodes []SerializableNode `json:"nodes"`
		Edges []SerializableEdge `json:"edges"`
	}{sg.Nodes, sg.Edges}

	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
