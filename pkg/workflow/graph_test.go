package workflow

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestGraphValidate(t *testing.T) {
	g := NewGraph()
	g.Add("a", Node{ClassType: "Loader", Inputs: map[string]any{"name": "m.safetensors"}})
	g.Add("b", Node{ClassType: "Encode", Inputs: map[string]any{"model": NodeRef{ID: "a"}}})

	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
}

func TestGraphValidateUnknownReference(t *testing.T) {
	g := NewGraph()
	g.Add("a", Node{ClassType: "Encode", Inputs: map[string]any{"model": NodeRef{ID: "missing"}}})

	err := g.Validate()
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestGraphValidateSelfReference(t *testing.T) {
	g := NewGraph()
	g.Add("a", Node{ClassType: "Encode", Inputs: map[string]any{"model": NodeRef{ID: "a"}}})

	if err := g.Validate(); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestGraphValidateCycle(t *testing.T) {
	g := NewGraph()
	g.Add("a", Node{ClassType: "X", Inputs: map[string]any{"in": NodeRef{ID: "b"}}})
	g.Add("b", Node{ClassType: "Y", Inputs: map[string]any{"in": NodeRef{ID: "a"}}})

	err := g.Validate()
	if !errors.Is(err, ErrCycleFound) {
		t.Fatalf("expected ErrCycleFound, got %v", err)
	}
}

func TestGraphValidateEmpty(t *testing.T) {
	if err := NewGraph().Validate(); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph for empty graph, got %v", err)
	}
}

func TestGraphMarshalWireFormat(t *testing.T) {
	g := NewGraph()
	g.Add("1", Node{ClassType: "Loader", Inputs: map[string]any{"name": "m"}})
	g.Add("2", Node{ClassType: "Decode", Inputs: map[string]any{"samples": NodeRef{ID: "1", Slot: 0}}})

	raw, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal graph: %v", err)
	}

	var decoded map[string]struct {
		ClassType string                     `json:"class_type"`
		Inputs    map[string]json.RawMessage `json:"inputs"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal graph: %v", err)
	}
	if decoded["2"].ClassType != "Decode" {
		t.Fatalf("unexpected class_type: %s", decoded["2"].ClassType)
	}
	if got := string(decoded["2"].Inputs["samples"]); got != `["1",0]` {
		t.Fatalf("node reference not encoded as id/slot pair: %s", got)
	}
}
