package graph

import (
	"context"
	"errors"
	"testing"
)

// testState is the minimal Faulter state used across engine tests.
type testState struct {
	Value   string   `json:"value"`
	Count   int      `json:"count"`
	Visited []string `json:"visited"`
	Fail    string   `json:"fail,omitempty"`
}

func (s testState) Fault() error {
	if s.Fail == "" {
		return nil
	}
	return errors.New(s.Fail)
}

func visit(name string) Node[testState] {
	return NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
		s.Visited = append(s.Visited, name)
		s.Count++
		return NodeResult[testState]{State: s}
	})
}

func TestBuilder_Compile(t *testing.T) {
	t.Run("valid linear graph", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", visit("a"))
		b.AddNode("b", visit("b"))
		b.AddEdge("a", "b")
		b.SetEntry("a")
		b.SetFinish("b")

		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if g.Entry() != "a" || g.Finish() != "b" {
			t.Errorf("entry/finish = %q/%q, want a/b", g.Entry(), g.Finish())
		}
	})

	t.Run("missing entry", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", visit("a"))
		b.SetFinish("a")

		_, err := b.Compile()
		var ve *GraphValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected GraphValidationError, got %v", err)
		}
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", visit("a"))
		b.AddEdge("a", "ghost")
		b.SetEntry("a")
		b.SetFinish("a")

		if _, err := b.Compile(); err == nil {
			t.Fatal("expected validation error for unknown edge target")
		}
	})

	t.Run("conditional target unknown", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", visit("a"))
		b.AddNode("b", visit("b"))
		b.AddConditionalEdge("a", func(testState) string { return "x" },
			map[string]string{"x": "ghost"}, "")
		b.AddEdge("a", "b")
		b.SetEntry("a")
		b.SetFinish("b")

		if _, err := b.Compile(); err == nil {
			t.Fatal("expected validation error for unknown conditional target")
		}
	})

	t.Run("conditional with no targets and no default", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", visit("a"))
		b.AddNode("b", visit("b"))
		b.AddConditionalEdge("a", func(testState) string { return "x" }, nil, "")
		b.SetEntry("a")
		b.SetFinish("b")

		if _, err := b.Compile(); err == nil {
			t.Fatal("expected validation error for empty conditional edge")
		}
	})

	t.Run("finish unreachable", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", visit("a"))
		b.AddNode("island", visit("island"))
		b.SetEntry("a")
		b.SetFinish("island")

		_, err := b.Compile()
		var ve *GraphValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected GraphValidationError for unreachable finish, got %v", err)
		}
	})

	t.Run("duplicate conditional edge", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", visit("a"))
		b.AddNode("b", visit("b"))
		router := func(testState) string { return "go" }
		b.AddConditionalEdge("a", router, map[string]string{"go": "b"}, "")
		b.AddConditionalEdge("a", router, map[string]string{"go": "b"}, "")
		b.SetEntry("a")
		b.SetFinish("b")

		if _, err := b.Compile(); err == nil {
			t.Fatal("expected validation error for duplicate conditional edge")
		}
	})
}

func TestCompiled_Routing(t *testing.T) {
	b := NewBuilder[testState]()
	b.AddNode("start", visit("start"))
	b.AddNode("left", visit("left"))
	b.AddNode("right", visit("right"))
	b.AddNode("end", visit("end"))
	b.AddConditionalEdge("start", func(s testState) string { return s.Value },
		map[string]string{"l": "left", "r": "right"}, "")
	b.AddEdge("left", "end")
	b.AddEdge("right", "end")
	b.SetEntry("start")
	b.SetFinish("end")

	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	t.Run("label routes to target", func(t *testing.T) {
		to, label, err := g.nextAfter("start", testState{Value: "l"})
		if err != nil {
			t.Fatalf("nextAfter failed: %v", err)
		}
		if to != "left" || label != "l" {
			t.Errorf("route = %q label %q, want left/l", to, label)
		}
	})

	t.Run("unmatched label without default errors", func(t *testing.T) {
		_, _, err := g.nextAfter("start", testState{Value: "nope"})
		var re *RoutingError
		if !errors.As(err, &re) {
			t.Fatalf("expected RoutingError, got %v", err)
		}
		if re.Node != "start" || re.Label != "nope" {
			t.Errorf("RoutingError = %+v", re)
		}
	})

	t.Run("static edge", func(t *testing.T) {
		to, label, err := g.nextAfter("left", testState{})
		if err != nil {
			t.Fatalf("nextAfter failed: %v", err)
		}
		if to != "end" || label != "" {
			t.Errorf("route = %q label %q, want end with empty label", to, label)
		}
	})
}

func TestCompiled_DefaultTarget(t *testing.T) {
	b := NewBuilder[testState]()
	b.AddNode("a", visit("a"))
	b.AddNode("fallback", visit("fallback"))
	b.AddConditionalEdge("a", func(testState) string { return "unknown" },
		map[string]string{}, "fallback")
	b.SetEntry("a")
	b.SetFinish("fallback")

	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	to, _, err := g.nextAfter("a", testState{})
	if err != nil {
		t.Fatalf("nextAfter failed: %v", err)
	}
	if to != "fallback" {
		t.Errorf("route = %q, want fallback", to)
	}
}
