// Package tree builds the command hierarchy from API paths.
//
// Nodes live in a flat arena owned by the Tree; parent and child links are
// indices into it. A Builder accumulates paths and Build freezes the result.
package tree

import (
	"maps"
	"slices"

	"github.com/ggonzalez94/swagcli/internal/spec"
)

type NodeID int

const (
	RootID   NodeID = 0
	NoParent NodeID = -1
)

type Node struct {
	ID          NodeID
	Name        string
	FullPath    string
	IsCommand   bool
	Parent      NodeID
	Children    []NodeID
	Arguments   []string
	Parameters  []spec.Parameter
	Method      string
	RequestURL  string
	Responses   map[string]string
	Summary     string
	Description string
	OperationID string
}

// IsGroup reports whether the node has children to dispatch to.
func (n Node) IsGroup() bool { return len(n.Children) > 0 }

func (n Node) clone() Node {
	out := n
	out.Children = slices.Clone(n.Children)
	out.Arguments = slices.Clone(n.Arguments)
	out.Parameters = slices.Clone(n.Parameters)
	out.Responses = maps.Clone(n.Responses)
	return out
}

// Tree is an immutable command hierarchy.
type Tree struct {
	nodes  []Node
	byPath map[string]NodeID
}

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Root() Node { return t.nodes[RootID] }

// Node returns the node with the given id. It panics on an out of range id,
// which only happens when ids from another tree are mixed in.
func (t *Tree) Node(id NodeID) Node { return t.nodes[id] }

func (t *Tree) Lookup(fullPath string) (Node, bool) {
	id, ok := t.byPath[fullPath]
	if !ok {
		return Node{}, false
	}
	return t.nodes[id], true
}

func (t *Tree) Children(id NodeID) []Node {
	out := make([]Node, 0, len(t.nodes[id].Children))
	for _, child := range t.nodes[id].Children {
		out = append(out, t.nodes[child])
	}
	return out
}

// Walk visits nodes in pre-order starting at the root. Returning false from
// fn skips the node's subtree.
func (t *Tree) Walk(fn func(n Node, depth int) bool) {
	var visit func(id NodeID, depth int)
	visit = func(id NodeID, depth int) {
		if !fn(t.nodes[id], depth) {
			return
		}
		for _, child := range t.nodes[id].Children {
			visit(child, depth+1)
		}
	}
	visit(RootID, 0)
}

// Commands returns every invokable node in pre-order.
func (t *Tree) Commands() []Node {
	var out []Node
	t.Walk(func(n Node, _ int) bool {
		if n.IsCommand {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Ancestors returns the names from the first level below the root down to
// and including id.
func (t *Tree) Ancestors(id NodeID) []string {
	var names []string
	for cur := id; cur != RootID && cur != NoParent; cur = t.nodes[cur].Parent {
		names = append(names, t.nodes[cur].Name)
	}
	slices.Reverse(names)
	return names
}

// Snapshot deep-copies the arena.
func (t *Tree) Snapshot() []Node {
	out := make([]Node, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.clone()
	}
	return out
}
