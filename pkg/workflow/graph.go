package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidGraph marks reference-closure failures.
	ErrInvalidGraph = errors.New("invalid workflow graph")
	// ErrCycleFound marks a cyclic node wiring.
	ErrCycleFound = errors.New("cycle detected")
)

// GraphError wraps graph validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

// NodeRef points at an output slot of another node in the same graph.
// It marshals to the ComfyUI wire form ["node-id", slot].
type NodeRef struct {
	ID   string
	Slot int
}

func (r NodeRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.ID, r.Slot})
}

// Node is a single operation in a generation graph. Inputs hold either
// scalar parameters or NodeRef edges.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is a generation request: a DAG of named nodes keyed by stable
// string ids, with inline edges referencing other nodes by id and slot.
// Nodes keep insertion order; the graph is built once and never mutated
// after submission.
type Graph struct {
	order []string
	nodes map[string]Node
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]Node)}
}

// Add registers a node under id, preserving insertion order. Re-adding an
// existing id replaces the node in place.
func (g *Graph) Add(id string, node Node) {
	if _, ok := g.nodes[id]; !ok {
		g.order = append(g.order, id)
	}
	g.nodes[id] = node
}

// Node returns the node registered under id.
func (g *Graph) Node(id string) (Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// IDs returns node ids in insertion order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len reports the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// MarshalJSON renders the ComfyUI API format: a mapping of node id to
// node descriptor.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.nodes)
}

// Validate checks reference closure and acyclicity: every NodeRef must
// resolve to a node present in the graph, no node may reference itself,
// and the edge relation must contain no cycle.
func (g *Graph) Validate() error {
	if len(g.nodes) == 0 {
		return invalidf("no nodes")
	}

	for _, id := range g.order {
		for key, input := range g.nodes[id].Inputs {
			ref, ok := input.(NodeRef)
			if !ok {
				continue
			}
			if ref.ID == id {
				return invalidf("node %q input %q references itself", id, key)
			}
			if _, ok := g.nodes[ref.ID]; !ok {
				return invalidf("node %q input %q references unknown node %q", id, key, ref.ID)
			}
			if ref.Slot < 0 {
				return invalidf("node %q input %q has negative slot %d", id, key, ref.Slot)
			}
		}
	}

	return g.validateAcyclic()
}

// validateAcyclic runs Kahn's algorithm over the edge relation; any node
// left unresolved belongs to a cycle.
func (g *Graph) validateAcyclic() error {
	indeg := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, id := range g.order {
		indeg[id] = 0
	}
	for _, id := range g.order {
		for _, input := range g.nodes[id].Inputs {
			if ref, ok := input.(NodeRef); ok {
				indeg[id]++
				dependents[ref.ID] = append(dependents[ref.ID], id)
			}
		}
	}

	var ready []string
	for _, id := range g.order {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}

	resolved := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		resolved++
		for _, dep := range dependents[id] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if resolved != len(g.nodes) {
		return &GraphError{Kind: ErrCycleFound, Msg: fmt.Sprintf("%d node(s) unreachable from a source", len(g.nodes)-resolved)}
	}
	return nil
}
