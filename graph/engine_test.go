package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func linearGraph(t *testing.T, names ...string) *Compiled[testState] {
	t.Helper()
	b := NewBuilder[testState]()
	for _, n := range names {
		b.AddNode(n, visit(n))
	}
	for i := 0; i+1 < len(names); i++ {
		b.AddEdge(names[i], names[i+1])
	}
	b.SetEntry(names[0])
	b.SetFinish(names[len(names)-1])
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return g
}

func TestEngine_Run(t *testing.T) {
	t.Run("linear execution visits nodes in order", func(t *testing.T) {
		g := linearGraph(t, "a", "b", "c")

		final, err := New(g).Run(context.Background(), "run-1", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		want := []string{"a", "b", "c"}
		if len(final.Visited) != len(want) {
			t.Fatalf("visited = %v, want %v", final.Visited, want)
		}
		for i, n := range want {
			if final.Visited[i] != n {
				t.Errorf("visited[%d] = %q, want %q", i, final.Visited[i], n)
			}
		}
	})

	t.Run("conditional loop until label flips", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("work", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			s.Count++
			return NodeResult[testState]{State: s}
		}))
		b.AddNode("end", visit("end"))
		b.AddConditionalEdge("work", func(s testState) string {
			if s.Count < 3 {
				return "again"
			}
			return "done"
		}, map[string]string{"again": "work", "done": "end"}, "")
		b.SetEntry("work")
		b.SetFinish("end")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		final, err := New(g).Run(context.Background(), "run-loop", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		// three work iterations plus the finish node
		if final.Count != 4 {
			t.Errorf("count = %d, want 4", final.Count)
		}
	})

	t.Run("step budget exceeded", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("spin", visit("spin"))
		b.AddNode("end", visit("end"))
		b.AddConditionalEdge("spin", func(testState) string { return "again" },
			map[string]string{"again": "spin", "done": "end"}, "")
		b.SetEntry("spin")
		b.SetFinish("end")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		_, err = New(g, WithMaxSteps[testState](5)).Run(context.Background(), "run-budget", testState{})
		if !errors.Is(err, ErrStepBudgetExceeded) {
			t.Fatalf("expected ErrStepBudgetExceeded, got %v", err)
		}
	})

	t.Run("routing error terminates run", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", visit("a"))
		b.AddNode("b", visit("b"))
		b.AddNode("end", visit("end"))
		b.AddConditionalEdge("a", func(testState) string { return "nowhere" },
			map[string]string{"go": "b"}, "")
		b.AddEdge("b", "end")
		b.SetEntry("a")
		b.SetFinish("end")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		_, err = New(g).Run(context.Background(), "run-route", testState{})
		var re *RoutingError
		if !errors.As(err, &re) {
			t.Fatalf("expected RoutingError, got %v", err)
		}
	})

	t.Run("explicit route overrides edges", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			s.Visited = append(s.Visited, "a")
			return NodeResult[testState]{State: s, Route: Goto("c")}
		}))
		b.AddNode("b", visit("b"))
		b.AddNode("c", visit("c"))
		b.AddEdge("a", "b")
		b.AddEdge("b", "c")
		b.SetEntry("a")
		b.SetFinish("c")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		final, err := New(g).Run(context.Background(), "run-goto", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(final.Visited) != 2 || final.Visited[1] != "c" {
			t.Errorf("visited = %v, want [a c]", final.Visited)
		}
	})

	t.Run("terminal route stops before finish node", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("a", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			s.Visited = append(s.Visited, "a")
			return NodeResult[testState]{State: s, Route: Stop()}
		}))
		b.AddNode("end", visit("end"))
		b.AddEdge("a", "end")
		b.SetEntry("a")
		b.SetFinish("end")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		final, err := New(g).Run(context.Background(), "run-stop", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(final.Visited) != 1 {
			t.Errorf("visited = %v, want [a]", final.Visited)
		}
	})

	t.Run("node panic becomes engine error", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("boom", NodeFunc[testState](func(context.Context, testState) NodeResult[testState] {
			panic("handler bug")
		}))
		b.AddNode("end", visit("end"))
		b.AddEdge("boom", "end")
		b.SetEntry("boom")
		b.SetFinish("end")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		_, err = New(g).Run(context.Background(), "run-panic", testState{})
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "NODE_PANIC" {
			t.Fatalf("expected NODE_PANIC engine error, got %v", err)
		}
	})
}

func TestEngine_FaultRouting(t *testing.T) {
	build := func(t *testing.T) *Compiled[testState] {
		t.Helper()
		b := NewBuilder[testState]()
		b.AddNode("work", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			s.Visited = append(s.Visited, "work")
			if s.Count == 0 {
				s.Fail = "transient"
			}
			s.Count++
			return NodeResult[testState]{State: s}
		}))
		b.AddNode("recover", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			s.Visited = append(s.Visited, "recover")
			s.Fail = ""
			return NodeResult[testState]{State: s, Route: Goto("work")}
		}))
		b.AddNode("end", visit("end"))
		b.AddEdge("work", "end")
		b.AddEdge("recover", "work")
		b.SetEntry("work")
		b.SetFinish("end")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		return g
	}

	t.Run("fault routes to error node before static edge", func(t *testing.T) {
		g := build(t)
		final, err := New(g, WithErrorNode[testState]("recover")).Run(context.Background(), "run-fault", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		want := []string{"work", "recover", "work", "end"}
		if len(final.Visited) != len(want) {
			t.Fatalf("visited = %v, want %v", final.Visited, want)
		}
		for i, n := range want {
			if final.Visited[i] != n {
				t.Errorf("visited[%d] = %q, want %q", i, final.Visited[i], n)
			}
		}
	})

	t.Run("without error node faults are ignored", func(t *testing.T) {
		g := build(t)
		final, err := New(g).Run(context.Background(), "run-nofault", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if final.Visited[len(final.Visited)-1] != "end" {
			t.Errorf("expected run to reach end, visited %v", final.Visited)
		}
	})

	t.Run("unregistered error node disables fault routing", func(t *testing.T) {
		g := build(t)
		final, err := New(g, WithErrorNode[testState]("ghost")).Run(context.Background(), "run-ghost", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		for _, n := range final.Visited {
			if n == "ghost" {
				t.Fatal("routed to unregistered error node")
			}
		}
	})
}

func TestEngine_Stream(t *testing.T) {
	t.Run("updates then final, channel closes", func(t *testing.T) {
		g := linearGraph(t, "a", "b", "c")

		var kinds []UpdateKind
		for u := range New(g).Stream(context.Background(), "run-stream", testState{}) {
			kinds = append(kinds, u.Kind)
		}
		if len(kinds) != 3 {
			t.Fatalf("got %d updates, want 3: %v", len(kinds), kinds)
		}
		if kinds[0] != KindUpdate || kinds[1] != KindUpdate || kinds[2] != KindFinal {
			t.Errorf("kinds = %v", kinds)
		}
	})

	t.Run("message chunks interleave", func(t *testing.T) {
		b := NewBuilder[testState]()
		b.AddNode("talk", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			PublishChunk(ctx, "narrator", "hello")
			PublishChunk(ctx, "narrator", "world")
			return NodeResult[testState]{State: s}
		}))
		b.AddNode("end", visit("end"))
		b.AddEdge("talk", "end")
		b.SetEntry("talk")
		b.SetFinish("end")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		var chunks []string
		for u := range New(g).Stream(context.Background(), "run-msg", testState{}) {
			if u.Kind == KindMessage {
				chunks = append(chunks, u.Chunk)
			}
		}
		if len(chunks) != 2 || chunks[0] != "hello" || chunks[1] != "world" {
			t.Errorf("chunks = %v", chunks)
		}
	})

	t.Run("cancellation yields cancelled update", func(t *testing.T) {
		started := make(chan struct{})
		b := NewBuilder[testState]()
		b.AddNode("slow", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			close(started)
			<-ctx.Done()
			return NodeResult[testState]{Err: ctx.Err()}
		}))
		b.AddNode("end", visit("end"))
		b.AddEdge("slow", "end")
		b.SetEntry("slow")
		b.SetFinish("end")
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		ch := New(g).Stream(ctx, "run-cancel", testState{})
		<-started
		cancel()

		var last Update[testState]
		for u := range ch {
			last = u
		}
		if last.Kind != KindCancelled {
			t.Errorf("last kind = %v, want %v", last.Kind, KindCancelled)
		}
	})

	t.Run("state snapshots are isolated", func(t *testing.T) {
		g := linearGraph(t, "a", "b")
		var first *testState
		for u := range New(g).Stream(context.Background(), "run-iso", testState{}) {
			if u.Kind == KindUpdate && first == nil {
				s := u.State
				first = &s
			}
		}
		if first == nil {
			t.Fatal("no update received")
		}
		if len(first.Visited) != 1 || first.Visited[0] != "a" {
			t.Errorf("first snapshot visited = %v, want [a]", first.Visited)
		}
	})
}

func TestEngine_PauseChecker(t *testing.T) {
	g := linearGraph(t, "a", "b", "c")
	var calls int
	pause := func(_ context.Context, runID string) (bool, error) {
		calls++
		return calls > 1, nil // pause before the second node
	}

	_, err := New(g, WithPauseChecker[testState](pause)).Run(context.Background(), "run-pause", testState{})
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

func TestEngine_CancelChecker(t *testing.T) {
	g := linearGraph(t, "a", "b", "c")
	var calls int
	cancelled := func(_ context.Context, runID string) (bool, error) {
		calls++
		return calls > 1, nil // cancel before the second node
	}

	var last Update[testState]
	for u := range New(g, WithCancelChecker[testState](cancelled)).Stream(context.Background(), "run-cancel-check", testState{}) {
		last = u
	}
	if last.Kind != KindCancelled {
		t.Fatalf("last kind = %v, want %v", last.Kind, KindCancelled)
	}
	if !errors.Is(last.Err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", last.Err)
	}
	if len(last.State.Visited) != 1 || last.State.Visited[0] != "a" {
		t.Errorf("state visited = %v, want [a]", last.State.Visited)
	}
}

func TestEngine_Checkpointer(t *testing.T) {
	t.Run("saves after every node", func(t *testing.T) {
		g := linearGraph(t, "a", "b")

		var mu sync.Mutex
		saved := map[string]testState{}
		cp := CheckpointerFunc[testState](func(_ context.Context, runID, node string, state testState) error {
			mu.Lock()
			defer mu.Unlock()
			saved[node] = state
			return nil
		})

		if _, err := New(g, WithCheckpointer[testState](cp)).Run(context.Background(), "run-cp", testState{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(saved) != 2 {
			t.Fatalf("saved %d checkpoints, want 2", len(saved))
		}
		if len(saved["a"].Visited) != 1 || len(saved["b"].Visited) != 2 {
			t.Errorf("checkpoint states wrong: %+v", saved)
		}
	})

	t.Run("save failure does not abort the run", func(t *testing.T) {
		g := linearGraph(t, "a", "b")
		cp := CheckpointerFunc[testState](func(context.Context, string, string, testState) error {
			return errors.New("disk full")
		})

		final, err := New(g, WithCheckpointer[testState](cp)).Run(context.Background(), "run-cpfail", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(final.Visited) != 2 {
			t.Errorf("visited = %v, want [a b]", final.Visited)
		}
	})
}

func TestEngine_ResumeFrom(t *testing.T) {
	g := linearGraph(t, "a", "b", "c")

	var last Update[testState]
	for u := range New(g).ResumeFrom(context.Background(), "run-resume", "b",
		testState{Visited: []string{"a"}, Count: 1}) {
		if u.Kind != KindMessage {
			last = u
		}
	}
	if last.Err != nil {
		t.Fatalf("resume failed: %v", last.Err)
	}
	want := []string{"a", "b", "c"}
	if len(last.State.Visited) != len(want) {
		t.Fatalf("visited = %v, want %v", last.State.Visited, want)
	}
	for i, n := range want {
		if last.State.Visited[i] != n {
			t.Errorf("visited[%d] = %q, want %q", i, last.State.Visited[i], n)
		}
	}
}

func TestEngine_WaitRouting(t *testing.T) {
	b := NewBuilder[testState]()
	b.AddNode("pick", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
		s.Count++
		return NodeResult[testState]{State: s}
	}))
	b.AddNode("end", visit("end"))
	b.AddConditionalEdge("pick", func(s testState) string {
		if s.Count < 2 {
			return "wait"
		}
		return "done"
	}, map[string]string{"wait": "pick", "done": "end"}, "")
	b.SetEntry("pick")
	b.SetFinish("end")
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	e := New(g, WithWait[testState]("wait", 5*time.Millisecond))
	sawWaiting := false
	for u := range e.Stream(context.Background(), "run-wait", testState{}) {
		if u.Kind == KindWaiting {
			sawWaiting = true
			if u.Label != "wait" {
				t.Errorf("waiting label = %q, want wait", u.Label)
			}
		}
	}
	if !sawWaiting {
		t.Error("expected a waiting update")
	}
}

func TestEngine_NodeTimeout(t *testing.T) {
	b := NewBuilder[testState]()
	b.AddNode("hang", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return NodeResult[testState]{State: s}
	}))
	b.AddNode("end", visit("end"))
	b.AddEdge("hang", "end")
	b.SetEntry("hang")
	b.SetFinish("end")
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	_, err = New(g, WithNodeTimeout[testState](20*time.Millisecond)).Run(context.Background(), "run-timeout", testState{})
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "NODE_TIMEOUT" {
		t.Fatalf("expected NODE_TIMEOUT, got %v", err)
	}
}
